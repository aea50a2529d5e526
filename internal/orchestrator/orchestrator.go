// Package orchestrator schedules variant tasks against the remote platform:
// dependency ordering, checkpoint-driven resume, the bounded
// validation-recovery loop, and the parallel worker model.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"adlaunch/internal/checkpoint"
	"adlaunch/internal/extract"
	"adlaunch/internal/logging"
	"adlaunch/internal/model"
	"adlaunch/internal/progress"
	"adlaunch/internal/remote"
	"adlaunch/internal/tracker"
)

// Options are the per-run knobs, resolved by the CLI from flags and config.
type Options struct {
	SessionID string
	InputFile string

	// RetryFailed reattempts tasks whose checkpoint status is Failed.
	// Succeeded tasks are never reattempted.
	RetryFailed bool

	// Fresh discards any existing checkpoint for the session before running.
	Fresh bool

	// CleaningPasses bounds the validation-recovery loop: how many times a
	// task may strip rejected creatives and resubmit. Zero means the default
	// of one pass.
	CleaningPasses int

	// Templates maps non-android variants to the platform campaign id they
	// clone from. Android always clones its set's ios campaign instead.
	Templates map[model.Variant]string

	NameParams model.NameParams

	// OnTaskDone, when set, is called after every terminal task transition
	// with the outcome and a progress snapshot. Used by the dashboard.
	OnTaskDone func(TaskOutcome, progress.Stats)
}

// TaskOutcome is the run-local result of one task.
type TaskOutcome struct {
	Key          model.TaskKey
	CampaignName string
	Status       model.Status
	EntityID     string
	AdsUploaded  int
	Error        string
	Reason       model.FailureReason
	StrippedIDs  []string
	Duration     time.Duration
}

// Summary is what one run produced, for the final report.
type Summary struct {
	SessionID   string
	Outcomes    []TaskOutcome
	Succeeded   int
	Failed      int
	Skipped     int
	Elapsed     time.Duration
	Interrupted bool
}

// PlannedTask is one entry of a dry-run plan.
type PlannedTask struct {
	Key          model.TaskKey
	CampaignName string
	CloneSource  string // template id, or "ios campaign of <set>" for android
	WouldSkip    bool
}

// Orchestrator owns one batch run. All collaborators are injected; the
// orchestrator itself keeps no global state.
type Orchestrator struct {
	store    *checkpoint.Store
	ledger   *tracker.Ledger // optional
	progress *progress.Tracker
	opts     Options
	log      *logging.Logger

	mu       sync.Mutex
	outcomes []TaskOutcome
}

// New creates an orchestrator. The ledger may be nil; ledger writes are
// best-effort and never fail a task.
func New(store *checkpoint.Store, ledger *tracker.Ledger, opts Options) *Orchestrator {
	if opts.CleaningPasses <= 0 {
		opts.CleaningPasses = 1
	}
	return &Orchestrator{
		store:  store,
		ledger: ledger,
		opts:   opts,
		log:    logging.Get(logging.CategoryOrchestrator),
	}
}

// Plan expands the input and reports what a run would do, consulting the
// checkpoint for skip decisions but making no remote calls and writing
// nothing.
func (o *Orchestrator) Plan(sets []model.CampaignSet) ([]PlannedTask, error) {
	tasks, err := model.Expand(sets)
	if err != nil {
		return nil, err
	}
	setIndex := indexSets(sets)

	prior, err := o.loadPrior()
	if err != nil {
		return nil, err
	}

	plan := make([]PlannedTask, 0, len(tasks))
	for _, task := range tasks {
		set := setIndex[task.Key.Set]
		source := o.opts.Templates[task.Key.Variant]
		if task.DependsOn != nil {
			source = fmt.Sprintf("ios campaign of %s", task.Key.Set)
		}
		plan = append(plan, PlannedTask{
			Key:          task.Key,
			CampaignName: model.CampaignName(set, task.Key.Variant, o.opts.NameParams),
			CloneSource:  source,
			WouldSkip:    prior.ShouldSkip(task.Key, o.opts.RetryFailed),
		})
	}
	return plan, nil
}

// Run executes the batch. One remote service per worker; tasks are
// partitioned by campaign set so a set's ios and android always land on the
// same worker. Cancellation via ctx stops dequeuing; the task in flight
// finishes its checkpoint write, everything else stays pending for resume.
func (o *Orchestrator) Run(ctx context.Context, sets []model.CampaignSet, services []remote.Service) (*Summary, error) {
	if len(services) == 0 {
		return nil, errors.New("no remote services provided")
	}

	tasks, err := model.Expand(sets)
	if err != nil {
		return nil, err
	}
	setIndex := indexSets(sets)

	if o.opts.Fresh {
		if err := o.discardCheckpoints(); err != nil {
			return nil, err
		}
	}

	prior, err := o.loadPrior()
	if err != nil {
		return nil, err
	}

	o.progress = progress.NewTracker(len(tasks))
	o.outcomes = nil
	started := time.Now()

	o.log.Info("run %s: %d tasks, %d workers, retryFailed=%v",
		o.opts.SessionID, len(tasks), len(services), o.opts.RetryFailed)

	if len(services) == 1 {
		rec, err := o.store.LoadOrCreate(o.opts.SessionID, o.opts.InputFile)
		if err != nil {
			return nil, err
		}
		o.runWorker(ctx, tasks, setIndex, prior, rec, services[0])
	} else {
		if err := o.runParallel(ctx, tasks, setIndex, prior, services); err != nil {
			return nil, err
		}
	}

	return o.buildSummary(started, ctx.Err() != nil), nil
}

// runParallel partitions sets round-robin across workers. The partition is
// deterministic in input order, so resuming with the same worker count
// reassigns every set to the worker holding its shard checkpoint. The prior
// view is merged across all shards, so progress survives a worker-count
// change too.
func (o *Orchestrator) runParallel(ctx context.Context, tasks []*model.VariantTask,
	setIndex map[string]*model.CampaignSet, prior *checkpoint.Record, services []remote.Service) error {

	workers := len(services)
	setWorker := make(map[string]int)
	next := 0
	for _, task := range tasks {
		if _, ok := setWorker[task.Key.Set]; !ok {
			setWorker[task.Key.Set] = next % workers
			next++
		}
	}

	byWorker := make([][]*model.VariantTask, workers)
	for _, task := range tasks {
		w := setWorker[task.Key.Set]
		byWorker[w] = append(byWorker[w], task)
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		if len(byWorker[w]) == 0 {
			continue
		}
		rec, err := o.store.LoadOrCreate(checkpoint.ShardSessionID(o.opts.SessionID, w), o.opts.InputFile)
		if err != nil {
			return err
		}
		g.Go(func() error {
			o.runWorker(gctx, byWorker[w], setIndex, prior, rec, services[w])
			return nil
		})
	}
	return g.Wait()
}

// runWorker processes its task list in order. A remote failure fails the
// task, not the batch; only context cancellation stops the loop.
func (o *Orchestrator) runWorker(ctx context.Context, tasks []*model.VariantTask,
	setIndex map[string]*model.CampaignSet, prior *checkpoint.Record,
	rec *checkpoint.Record, service remote.Service) {

	// Entity ids of ios campaigns created this run, for android clones.
	entities := make(map[model.TaskKey]string)

	for _, task := range tasks {
		if ctx.Err() != nil {
			o.log.Info("run interrupted; %s and later tasks stay pending", task.Key)
			return
		}
		o.runTask(ctx, task, setIndex[task.Key.Set], prior, rec, service, entities)
	}
}

func (o *Orchestrator) runTask(ctx context.Context, task *model.VariantTask,
	set *model.CampaignSet, prior *checkpoint.Record, rec *checkpoint.Record,
	service remote.Service, entities map[model.TaskKey]string) {

	key := task.Key

	if prior.ShouldSkip(key, o.opts.RetryFailed) {
		snap, _ := prior.Task(key)
		outcome := TaskOutcome{Key: key, Status: model.StatusSkipped}
		if snap != nil {
			outcome.EntityID = snap.RemoteEntityID
			outcome.AdsUploaded = snap.ArtifactsCount
			if snap.Status == model.StatusSucceeded {
				entities[key] = snap.RemoteEntityID
			}
		}
		o.log.Info("skip %s: already %s", key, snapStatus(snap))
		o.progress.RecordSkip()
		o.record(outcome)
		return
	}

	name := model.CampaignName(set, key.Variant, o.opts.NameParams)
	req := remote.Request{
		SetName:      key.Set,
		Variant:      key.Variant,
		CampaignName: name,
		Settings:     set.Settings,
		Geo:          set.Geo,
		Keywords:     set.Keywords,
		Creatives:    set.Creatives,
	}

	if task.DependsOn != nil {
		predID := entities[*task.DependsOn]
		if predID == "" {
			if snap, ok := prior.Task(*task.DependsOn); ok && snap.Status == model.StatusSucceeded {
				predID = snap.RemoteEntityID
			}
		}
		if predID == "" {
			// Fail-fast: no remote attempt when the clone source is missing.
			o.fail(ctx, rec, key, name, time.Now(),
				fmt.Sprintf("predecessor %s did not succeed", task.DependsOn),
				model.ReasonPredecessorFailed, nil)
			return
		}
		req.PredecessorEntityID = predID
	} else {
		req.TemplateEntityID = o.opts.Templates[key.Variant]
		if req.TemplateEntityID == "" {
			o.fail(ctx, rec, key, name, time.Now(),
				fmt.Sprintf("no template campaign configured for variant %s", key.Variant),
				model.ReasonFatal, nil)
			return
		}
	}

	if err := o.store.MarkStarted(rec, key); err != nil {
		o.log.Error("checkpoint write failed for %s: %v", key, err)
	}

	started := time.Now()
	var stripped []string

	for pass := 0; ; pass++ {
		result, err := service.Configure(ctx, req)
		if err == nil {
			o.succeed(ctx, rec, key, name, started, result, stripped, entities)
			return
		}

		var vErr *remote.ValidationError
		if !errors.As(err, &vErr) {
			o.fail(ctx, rec, key, name, started, err.Error(), model.ReasonFatal, stripped)
			return
		}
		if pass >= o.opts.CleaningPasses {
			o.fail(ctx, rec, key, name, started,
				fmt.Sprintf("validation failed after %d cleaning pass(es): %s", pass, vErr.Text),
				model.ReasonValidation, stripped)
			return
		}

		ids := extract.InvalidCreativeIDs(vErr.Text)
		if len(ids) == 0 {
			// Nothing extractable to strip; retrying the same payload would
			// fail identically.
			o.fail(ctx, rec, key, name, started, vErr.Text, model.ReasonValidation, stripped)
			return
		}

		req.Creatives = model.FilterCreatives(req.Creatives, ids)
		stripped = append(stripped, ids...)
		o.log.Info("cleaning pass for %s: stripped %v, %d creatives left", key, ids, len(req.Creatives))

		if len(req.Creatives) == 0 {
			o.fail(ctx, rec, key, name, started,
				fmt.Sprintf("all creatives rejected (stripped %v)", stripped),
				model.ReasonNoCreativesLeft, stripped)
			return
		}
	}
}

func (o *Orchestrator) succeed(ctx context.Context, rec *checkpoint.Record, key model.TaskKey,
	name string, started time.Time, result remote.Result, stripped []string,
	entities map[model.TaskKey]string) {

	elapsed := time.Since(started)
	if err := o.store.MarkSucceeded(rec, key, result.EntityID, result.AdsUploaded); err != nil {
		o.log.Error("checkpoint write failed for %s: %v", key, err)
	}
	entities[key] = result.EntityID
	o.progress.RecordCompletion(elapsed)

	o.writeLedger(ctx, tracker.Outcome{
		SessionID: o.opts.SessionID, SetName: key.Set, Variant: key.Variant,
		CampaignName: name, Status: model.StatusSucceeded,
		EntityID: result.EntityID, AdsUploaded: result.AdsUploaded,
		Duration: elapsed,
	})
	o.record(TaskOutcome{
		Key: key, CampaignName: name, Status: model.StatusSucceeded,
		EntityID: result.EntityID, AdsUploaded: result.AdsUploaded,
		StrippedIDs: stripped, Duration: elapsed,
	})
}

func (o *Orchestrator) fail(ctx context.Context, rec *checkpoint.Record, key model.TaskKey,
	name string, started time.Time, detail string, reason model.FailureReason, stripped []string) {

	elapsed := time.Since(started)
	o.log.Error("%s failed (%s): %s", key, reason, detail)
	if err := o.store.MarkFailed(rec, key, detail, reason, stripped); err != nil {
		o.log.Error("checkpoint write failed for %s: %v", key, err)
	}
	o.progress.RecordFailure()

	o.writeLedger(ctx, tracker.Outcome{
		SessionID: o.opts.SessionID, SetName: key.Set, Variant: key.Variant,
		CampaignName: name, Status: model.StatusFailed,
		Error: detail, Reason: reason, Duration: elapsed,
	})
	o.record(TaskOutcome{
		Key: key, CampaignName: name, Status: model.StatusFailed,
		Error: detail, Reason: reason, StrippedIDs: stripped, Duration: elapsed,
	})
}

func (o *Orchestrator) writeLedger(ctx context.Context, out tracker.Outcome) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.RecordOutcome(ctx, out); err != nil {
		o.log.Warn("ledger write failed for %s/%s: %v", out.SetName, out.Variant, err)
	}
}

func (o *Orchestrator) record(out TaskOutcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, out)
	o.mu.Unlock()

	if o.opts.OnTaskDone != nil {
		o.opts.OnTaskDone(out, o.progress.Stats())
	}
}

// Stats exposes the live progress view (nil-safe before Run).
func (o *Orchestrator) Stats() progress.Stats {
	if o.progress == nil {
		return progress.Stats{}
	}
	return o.progress.Stats()
}

func (o *Orchestrator) buildSummary(started time.Time, interrupted bool) *Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := &Summary{
		SessionID:   o.opts.SessionID,
		Outcomes:    append([]TaskOutcome(nil), o.outcomes...),
		Elapsed:     time.Since(started),
		Interrupted: interrupted,
	}
	for _, out := range s.Outcomes {
		switch out.Status {
		case model.StatusSucceeded:
			s.Succeeded++
		case model.StatusFailed:
			s.Failed++
		case model.StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// loadPrior merges the session's main checkpoint and any worker shards into
// one read-only view for skip and predecessor decisions.
func (o *Orchestrator) loadPrior() (*checkpoint.Record, error) {
	var records []*checkpoint.Record

	main, err := o.store.Load(o.opts.SessionID)
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		records = append(records, main)
	}

	metas, err := o.store.List()
	if err != nil {
		return nil, err
	}
	for _, meta := range metas {
		if !checkpoint.IsShardOf(o.opts.SessionID, meta.SessionID) {
			continue
		}
		rec, err := o.store.Load(meta.SessionID)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	return checkpoint.Merge(o.opts.SessionID, records...), nil
}

// discardCheckpoints deletes the session's checkpoint and worker shards.
func (o *Orchestrator) discardCheckpoints() error {
	if err := o.store.Delete(o.opts.SessionID); err != nil {
		return err
	}
	metas, err := o.store.List()
	if err != nil {
		return err
	}
	for _, meta := range metas {
		if checkpoint.IsShardOf(o.opts.SessionID, meta.SessionID) {
			if err := o.store.Delete(meta.SessionID); err != nil {
				return err
			}
		}
	}
	return nil
}

func indexSets(sets []model.CampaignSet) map[string]*model.CampaignSet {
	index := make(map[string]*model.CampaignSet, len(sets))
	for i := range sets {
		index[sets[i].Name] = &sets[i]
	}
	return index
}

func snapStatus(snap *checkpoint.TaskSnapshot) model.Status {
	if snap == nil {
		return model.StatusPending
	}
	return snap.Status
}
