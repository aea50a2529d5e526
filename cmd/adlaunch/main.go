package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"adlaunch/cmd/adlaunch/ui"
	"adlaunch/internal/checkpoint"
	"adlaunch/internal/config"
	"adlaunch/internal/input"
	"adlaunch/internal/logging"
	"adlaunch/internal/model"
	"adlaunch/internal/orchestrator"
	"adlaunch/internal/progress"
	"adlaunch/internal/remote"
	"adlaunch/internal/report"
	"adlaunch/internal/tracker"
)

var version = "1.2.0"

var (
	// Global flags
	cfgPath string
	verbose bool

	// run flags
	inputPath     string
	creativesPath string
	sessionID     string
	retryFailed   bool
	fresh         bool
	workers       int
	noHeadless    bool
	dryRun        bool
	dashboard     bool

	// history flags
	historyLimit int

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "adlaunch",
	Short: "Batch campaign creation on the ad platform",
	Long: `adlaunch turns a campaign table (CSV) into configured campaigns on the
ad platform: one campaign per device variant per set, cloned from template
campaigns and loaded with the creative source.

Every task transition is checkpointed, so an interrupted batch resumes
where it left off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch from a campaign table",
	Long: `Expands the campaign table into variant tasks and executes them against
the platform. Reruns with the same --session resume from the checkpoint:
succeeded tasks are skipped, failed tasks are skipped unless --retry-failed
is given, and interrupted tasks are reattempted.`,
	RunE: runBatch,
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage stored checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored checkpoints, newest first",
	RunE:  listCheckpoints,
}

var checkpointsRmCmd = &cobra.Command{
	Use:   "rm [session-id]",
	Short: "Delete a session's checkpoint and worker shards",
	Args:  cobra.ExactArgs(1),
	RunE:  removeCheckpoint,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent entries from the run ledger",
	RunE:  showHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the adlaunch version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("adlaunch %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Campaign table CSV (required)")
	runCmd.Flags().StringVarP(&creativesPath, "creatives", "c", "", "Creative source CSV (required)")
	runCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (default: derived from the input file name)")
	runCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Reattempt tasks that failed in a previous run")
	runCmd.Flags().BoolVar(&fresh, "fresh", false, "Discard the session's checkpoint and start over")
	runCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Parallel browser workers (default: from config)")
	runCmd.Flags().BoolVar(&noHeadless, "no-headless", false, "Show the browser window")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without touching the platform")
	runCmd.Flags().BoolVar(&dashboard, "dashboard", false, "Show the live progress dashboard")
	_ = runCmd.MarkFlagRequired("input")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "How many entries to show")

	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsRmCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "adlaunch.yaml"
	}
	return filepath.Join(home, ".adlaunch", "config.yaml")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Run.Workers = workers
	}
	if noHeadless {
		cfg.Browser.Headless = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(cfg.DataDir, logging.Options{
		Debug:      cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return err
	}
	defer logging.CloseAll()

	sets, err := input.ReadSets(inputPath)
	if err != nil {
		return err
	}
	if creativesPath != "" {
		creatives, err := input.ReadCreatives(creativesPath)
		if err != nil {
			return err
		}
		for i := range sets {
			sets[i].Creatives = creatives
		}
	}

	session := sessionID
	if session == "" {
		session = deriveSessionID(inputPath)
	}

	store, err := checkpoint.NewStore(cfg.CheckpointDir())
	if err != nil {
		return err
	}

	opts := orchestrator.Options{
		SessionID:      session,
		InputFile:      inputPath,
		RetryFailed:    retryFailed,
		Fresh:          fresh,
		CleaningPasses: cfg.Run.CleaningPasses,
		Templates:      cfg.TemplateIDs(),
		NameParams:     cfg.NameParams(),
	}

	if dryRun {
		orch := orchestrator.New(store, nil, opts)
		plan, err := orch.Plan(sets)
		if err != nil {
			return err
		}
		fmt.Print(report.RenderPlan(plan))
		return nil
	}

	if creativesPath == "" {
		return fmt.Errorf("--creatives is required (only --dry-run works without it)")
	}

	ledger, err := tracker.Open(cfg.LedgerPath())
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting batch",
		zap.String("session", session),
		zap.Int("sets", len(sets)),
		zap.Int("workers", cfg.Run.Workers))

	services, shutdown, err := startBrowsers(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	var summary *orchestrator.Summary
	if dashboard {
		summary, err = runWithDashboard(ctx, stop, store, ledger, opts, sets, services, session)
	} else {
		orch := orchestrator.New(store, ledger, opts)
		summary, err = orch.Run(ctx, sets, services)
	}
	if err != nil {
		return err
	}

	stats := progress.Stats{}
	if len(summary.Outcomes) > 0 {
		// Stats come from the run itself; re-render them for the footer.
		stats = summaryStats(summary)
	}
	fmt.Print(report.Render(summary, stats))

	if summary.Failed > 0 {
		return fmt.Errorf("%d task(s) failed; see the report above", summary.Failed)
	}
	return nil
}

// runWithDashboard runs the orchestrator in the background and feeds the
// bubbletea view. Quitting the view cancels the run context.
func runWithDashboard(ctx context.Context, cancel context.CancelFunc,
	store *checkpoint.Store, ledger *tracker.Ledger, opts orchestrator.Options,
	sets []model.CampaignSet, services []remote.Service, session string) (*orchestrator.Summary, error) {

	prog := tea.NewProgram(ui.NewDashboard(session))
	opts.OnTaskDone = func(out orchestrator.TaskOutcome, stats progress.Stats) {
		prog.Send(ui.TaskDoneMsg{Outcome: out, Stats: stats})
	}
	orch := orchestrator.New(store, ledger, opts)

	type result struct {
		summary *orchestrator.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := orch.Run(ctx, sets, services)
		done <- result{summary, err}
		prog.Send(ui.RunFinishedMsg{Summary: summary})
	}()

	if _, err := prog.Run(); err != nil {
		return nil, fmt.Errorf("dashboard failed: %w", err)
	}
	// View quit first (q / ctrl+c): stop the run and wait for the
	// in-flight task to checkpoint.
	cancel()
	res := <-done
	return res.summary, res.err
}

// startBrowsers launches one browser per worker. On any failure the already
// started ones are shut down.
func startBrowsers(ctx context.Context, cfg *config.Config) ([]remote.Service, func(), error) {
	var browsers []*remote.Browser
	shutdown := func() {
		for _, b := range browsers {
			b.Stop()
		}
	}

	for w := 0; w < cfg.Run.Workers; w++ {
		b := remote.NewBrowser(remote.Config{
			BaseURL:           cfg.Platform.BaseURL,
			SessionFile:       cfg.Platform.SessionFile,
			Headless:          cfg.Browser.Headless,
			BrowserBin:        cfg.Browser.Bin,
			SlowMo:            cfg.GetSlowMo(),
			NavigationTimeout: cfg.GetNavigationTimeout(),
			ActionTimeout:     cfg.GetActionTimeout(),
		})
		if err := b.Start(ctx); err != nil {
			shutdown()
			return nil, nil, fmt.Errorf("starting browser worker %d: %w", w, err)
		}
		browsers = append(browsers, b)
	}

	services := make([]remote.Service, len(browsers))
	for i, b := range browsers {
		services[i] = b
	}
	return services, shutdown, nil
}

func listCheckpoints(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(cfg.CheckpointDir())
	if err != nil {
		return err
	}

	metas, err := store.List()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("No checkpoints stored.")
		return nil
	}

	fmt.Printf("%-32s %-8s %-20s %s\n", "SESSION", "TASKS", "LAST UPDATE", "INPUT")
	for _, m := range metas {
		fmt.Printf("%-32s %-8d %-20s %s\n",
			m.SessionID, m.TaskCount, m.LastUpdatedAt.Local().Format("2006-01-02 15:04:05"), m.InputFile)
	}
	return nil
}

func removeCheckpoint(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(cfg.CheckpointDir())
	if err != nil {
		return err
	}

	session := args[0]
	if err := store.Delete(session); err != nil {
		return err
	}
	metas, err := store.List()
	if err != nil {
		return err
	}
	for _, m := range metas {
		if checkpoint.IsShardOf(session, m.SessionID) {
			if err := store.Delete(m.SessionID); err != nil {
				return err
			}
		}
	}
	fmt.Printf("Deleted checkpoint %s\n", session)
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	ledger, err := tracker.Open(cfg.LedgerPath())
	if err != nil {
		return err
	}
	defer ledger.Close()

	rows, err := ledger.RecentRows(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("Ledger is empty.")
		return nil
	}

	fmt.Printf("%-20s %-28s %-10s %-12s %-12s %s\n",
		"FINISHED", "SET/VARIANT", "STATUS", "ENTITY", "ADS", "DETAIL")
	for _, r := range rows {
		detail := r.Error
		if r.Reason != model.ReasonNone && r.Reason != "" {
			detail = fmt.Sprintf("[%s] %s", r.Reason, r.Error)
		}
		fmt.Printf("%-20s %-28s %-10s %-12s %-12d %s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%s/%s", r.SetName, r.Variant),
			r.Status, r.EntityID, r.AdsUploaded, detail)
	}
	return nil
}

// deriveSessionID turns "batches/june_wave2.csv" into "june_wave2"; when the
// name is unusable a random id keeps sessions from colliding.
func deriveSessionID(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, base)
	if base == "" || base == "-" {
		return uuid.NewString()[:8]
	}
	return base
}

// summaryStats rebuilds a Stats footer from the summary when the live
// tracker is gone (dashboard path hands the tracker to the TUI).
func summaryStats(summary *orchestrator.Summary) progress.Stats {
	s := progress.Stats{
		Total:     len(summary.Outcomes),
		Completed: summary.Succeeded,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
		Elapsed:   summary.Elapsed,
	}
	var total time.Duration
	var n int
	for _, out := range summary.Outcomes {
		if out.Status == model.StatusSucceeded && out.Duration > 0 {
			total += out.Duration
			n++
		}
	}
	if n > 0 {
		s.AverageDuration = total / time.Duration(n)
	}
	if minutes := s.Elapsed.Minutes(); minutes > 0 {
		s.ThroughputPerMinute = float64(s.Completed) / minutes
	}
	return s
}
