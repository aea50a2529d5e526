// Package report renders the end-of-run summary the operator acts on: what
// was created, what failed and why, and which creatives were stripped along
// the way.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"adlaunch/internal/model"
	"adlaunch/internal/orchestrator"
	"adlaunch/internal/progress"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func statusIcon(s model.Status) string {
	switch s {
	case model.StatusSucceeded:
		return successStyle.Render("✓")
	case model.StatusFailed:
		return failStyle.Render("✗")
	case model.StatusSkipped:
		return skipStyle.Render("○")
	default:
		return "▶"
	}
}

// Render produces the final run summary.
func Render(summary *orchestrator.Summary, stats progress.Stats) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Run %s", summary.SessionID)))
	b.WriteString("\n\n")

	for _, out := range summary.Outcomes {
		b.WriteString(fmt.Sprintf("  %s %-32s", statusIcon(out.Status), out.Key))
		switch out.Status {
		case model.StatusSucceeded:
			b.WriteString(fmt.Sprintf(" entity=%s ads=%d (%s)",
				out.EntityID, out.AdsUploaded, progress.FormatDuration(out.Duration)))
		case model.StatusFailed:
			b.WriteString(failStyle.Render(fmt.Sprintf(" %s", out.Reason)))
		case model.StatusSkipped:
			if out.EntityID != "" {
				b.WriteString(skipStyle.Render(fmt.Sprintf(" already done, entity=%s", out.EntityID)))
			} else {
				b.WriteString(skipStyle.Render(" already done"))
			}
		}
		b.WriteString("\n")

		if out.Status == model.StatusFailed && out.Error != "" {
			b.WriteString(detailStyle.Render(fmt.Sprintf("      %s", out.Error)))
			b.WriteString("\n")
		}
		if len(out.StrippedIDs) > 0 {
			b.WriteString(warnStyle.Render(fmt.Sprintf("      stripped creatives: %s",
				strings.Join(out.StrippedIDs, ", "))))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s succeeded, %s failed, %s skipped in %s\n",
		successStyle.Render(fmt.Sprintf("%d", summary.Succeeded)),
		failStyle.Render(fmt.Sprintf("%d", summary.Failed)),
		skipStyle.Render(fmt.Sprintf("%d", summary.Skipped)),
		progress.FormatDuration(summary.Elapsed)))

	if stats.Completed > 0 {
		b.WriteString(detailStyle.Render(fmt.Sprintf("  avg %s per campaign, %.1f/min\n",
			progress.FormatDuration(stats.AverageDuration), stats.ThroughputPerMinute)))
	}
	if summary.Interrupted {
		b.WriteString(warnStyle.Render("  interrupted: remaining tasks stay pending, rerun to resume\n"))
	}

	return b.String()
}

// RenderPlan produces the dry-run plan.
func RenderPlan(plan []orchestrator.PlannedTask) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Dry run plan"))
	b.WriteString("\n\n")

	for _, p := range plan {
		marker := successStyle.Render("+")
		note := fmt.Sprintf("clone of %s", p.CloneSource)
		if p.WouldSkip {
			marker = skipStyle.Render("○")
			note = "already done, would skip"
		}
		b.WriteString(fmt.Sprintf("  %s %-32s %s\n", marker, p.Key, p.CampaignName))
		b.WriteString(detailStyle.Render(fmt.Sprintf("      %s", note)))
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("\n  %d tasks planned, no remote calls made\n", len(plan)))
	return b.String()
}
