// Package ui holds the live run dashboard: a bubbletea view fed by the
// orchestrator's task-done callback.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"adlaunch/internal/model"
	"adlaunch/internal/orchestrator"
	appprogress "adlaunch/internal/progress"
)

// TaskDoneMsg is sent after every terminal task transition.
type TaskDoneMsg struct {
	Outcome orchestrator.TaskOutcome
	Stats   appprogress.Stats
}

// RunFinishedMsg is sent once the whole batch is done.
type RunFinishedMsg struct {
	Summary *orchestrator.Summary
}

// Styles groups the dashboard's lipgloss styles.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
}

// DefaultStyles returns the standard dashboard styling.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Bold:    lipgloss.NewStyle().Bold(true),
	}
}

// DashboardModel is the state of the live run view.
type DashboardModel struct {
	width  int
	height int

	sessionID string
	bar       progress.Model
	viewport  viewport.Model
	lines     []string
	stats     appprogress.Stats
	done      bool
	styles    Styles
}

// NewDashboard creates the dashboard for one run.
func NewDashboard(sessionID string) DashboardModel {
	bar := progress.New(progress.WithDefaultGradient())
	vp := viewport.New(80, 16)
	vp.SetContent("")
	return DashboardModel{
		sessionID: sessionID,
		bar:       bar,
		viewport:  vp,
		styles:    DefaultStyles(),
		width:     80,
		height:    24,
	}
}

// Init implements tea.Model.
func (m DashboardModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 6
		m.bar.Width = msg.Width - 4

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Quitting the view interrupts the run; the orchestrator sees the
			// canceled context and stops dequeuing.
			return m, tea.Quit
		case "k", "up":
			m.viewport.LineUp(1)
		case "j", "down":
			m.viewport.LineDown(1)
		}

	case TaskDoneMsg:
		m.stats = msg.Stats
		m.lines = append(m.lines, m.renderOutcome(msg.Outcome))
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()

	case RunFinishedMsg:
		m.done = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m DashboardModel) View() string {
	if m.done {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render(fmt.Sprintf(" adlaunch · %s ", m.sessionID)))
	sb.WriteString("\n\n")

	ratio := 0.0
	if m.stats.Total > 0 {
		ratio = float64(m.stats.Processed()) / float64(m.stats.Total)
	}
	sb.WriteString(m.bar.ViewAs(ratio))
	sb.WriteString("\n")
	sb.WriteString(m.styles.Muted.Render(m.statusLine()))
	sb.WriteString("\n\n")
	sb.WriteString(m.viewport.View())
	return sb.String()
}

func (m DashboardModel) statusLine() string {
	s := m.stats
	line := fmt.Sprintf("%d/%d done · %d failed · %d skipped · elapsed %s",
		s.Processed(), s.Total, s.Failed, s.Skipped, appprogress.FormatDuration(s.Elapsed))
	if s.ETAKnown {
		line += fmt.Sprintf(" · eta %s", appprogress.FormatDuration(s.ETA))
	} else {
		line += " · eta calculating"
	}
	return line
}

func (m DashboardModel) renderOutcome(out orchestrator.TaskOutcome) string {
	switch out.Status {
	case model.StatusSucceeded:
		return fmt.Sprintf("%s %s entity=%s ads=%d (%s)",
			m.styles.Success.Render("✓"), out.Key, out.EntityID, out.AdsUploaded,
			appprogress.FormatDuration(out.Duration))
	case model.StatusFailed:
		return fmt.Sprintf("%s %s %s", m.styles.Error.Render("✗"), out.Key,
			m.styles.Error.Render(string(out.Reason)))
	case model.StatusSkipped:
		return m.styles.Muted.Render(fmt.Sprintf("○ %s already done", out.Key))
	default:
		return fmt.Sprintf("▶ %s", out.Key)
	}
}
