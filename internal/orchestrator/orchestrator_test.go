package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"adlaunch/internal/checkpoint"
	"adlaunch/internal/model"
	"adlaunch/internal/progress"
	"adlaunch/internal/remote"

	"github.com/stretchr/testify/require"
)

// fakeService scripts remote outcomes per task and records every request it
// receives. Safe for concurrent workers.
type fakeService struct {
	mu       sync.Mutex
	calls    []remote.Request
	scripted map[string][]error // key -> errors to return, one per call, then success
	entityN  int
}

func newFakeService() *fakeService {
	return &fakeService{scripted: make(map[string][]error)}
}

func (f *fakeService) failNext(key model.TaskKey, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted[key.String()] = append(f.scripted[key.String()], errs...)
}

func (f *fakeService) Configure(_ context.Context, req remote.Request) (remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)

	k := model.TaskKey{Set: req.SetName, Variant: req.Variant}.String()
	if errs := f.scripted[k]; len(errs) > 0 {
		err := errs[0]
		f.scripted[k] = errs[1:]
		return remote.Result{}, err
	}

	f.entityN++
	return remote.Result{
		EntityID:    fmt.Sprintf("E%d", f.entityN),
		AdsUploaded: len(req.Creatives),
	}, nil
}

func (f *fakeService) callsFor(key model.TaskKey) []remote.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []remote.Request
	for _, c := range f.calls {
		if c.SetName == key.Set && c.Variant == key.Variant {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testSets(names ...string) []model.CampaignSet {
	sets := make([]model.CampaignSet, 0, len(names))
	for _, name := range names {
		sets = append(sets, model.CampaignSet{
			Name:     name,
			Enabled:  true,
			Variants: []model.Variant{model.VariantDesktop, model.VariantIOS, model.VariantAndroid},
			Keywords: []model.Keyword{{Name: name, MatchType: model.MatchBroad}},
			Geo:      []string{"US"},
			Settings: model.DefaultSettings(),
			Creatives: []model.Creative{
				{ID: "77"}, {ID: "88"}, {ID: "99"}, {ID: "100"},
			},
		})
	}
	return sets
}

func testOptions(sessionID string) Options {
	return Options{
		SessionID: sessionID,
		Templates: map[model.Variant]string{
			model.VariantDesktop:   "1013076141",
			model.VariantIOS:       "1013076221",
			model.VariantAllMobile: "1013076221",
		},
		NameParams: model.NameParams{Language: "EN", AdFormat: "NATIVE", BidType: "CPA", Source: "ALL", Initials: "JB"},
	}
}

func newTestOrchestrator(t *testing.T, opts Options) (*Orchestrator, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	return New(store, nil, opts), store
}

func TestRunCreatesAllVariantsWithDependencyOrder(t *testing.T) {
	orch, _ := newTestOrchestrator(t, testOptions("s1"))
	svc := newFakeService()

	summary, err := orch.Run(context.Background(), testSets("Milfs"), []remote.Service{svc})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Succeeded)
	require.Zero(t, summary.Failed)

	// The android clone must use the ios campaign created in this run, not a
	// fixed template.
	iosCalls := svc.callsFor(model.TaskKey{Set: "Milfs", Variant: model.VariantIOS})
	require.Len(t, iosCalls, 1)
	require.Equal(t, "1013076221", iosCalls[0].TemplateEntityID)

	androidCalls := svc.callsFor(model.TaskKey{Set: "Milfs", Variant: model.VariantAndroid})
	require.Len(t, androidCalls, 1)
	require.Empty(t, androidCalls[0].TemplateEntityID)
	require.NotEmpty(t, androidCalls[0].PredecessorEntityID)

	var iosEntity string
	for _, out := range summary.Outcomes {
		if out.Key.Variant == model.VariantIOS {
			iosEntity = out.EntityID
		}
	}
	require.Equal(t, iosEntity, androidCalls[0].PredecessorEntityID)
}

func TestResumeMakesNoRemoteCallsWhenAllDone(t *testing.T) {
	opts := testOptions("s1")
	orch, _ := newTestOrchestrator(t, opts)
	svc := newFakeService()
	sets := testSets("Milfs")

	summary, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Succeeded)
	firstCalls := svc.callCount()

	// Second run over the same input: checkpoint says everything succeeded.
	summary, err = orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Skipped)
	require.Zero(t, summary.Succeeded)
	require.Equal(t, firstCalls, svc.callCount())
}

func TestValidationRecoveryStripsRejectedCreatives(t *testing.T) {
	orch, _ := newTestOrchestrator(t, testOptions("s1"))
	svc := newFakeService()
	key := model.TaskKey{Set: "Milfs", Variant: model.VariantDesktop}
	svc.failNext(key, &remote.ValidationError{Text: "The following creatives are not valid: 77, 88"})

	sets := testSets("Milfs")
	sets[0].Variants = []model.Variant{model.VariantDesktop}

	summary, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)

	calls := svc.callsFor(key)
	require.Len(t, calls, 2)
	require.Len(t, calls[0].Creatives, 4)
	require.Len(t, calls[1].Creatives, 2)
	for _, c := range calls[1].Creatives {
		require.NotContains(t, []string{"77", "88"}, c.ID)
	}
	require.Equal(t, []string{"77", "88"}, summary.Outcomes[0].StrippedIDs)
}

func TestValidationRecoveryIsBounded(t *testing.T) {
	orch, store := newTestOrchestrator(t, testOptions("s1"))
	svc := newFakeService()
	key := model.TaskKey{Set: "Milfs", Variant: model.VariantDesktop}
	svc.failNext(key,
		&remote.ValidationError{Text: "The following creatives are not valid: 77, 88"},
		&remote.ValidationError{Text: "The following creatives are not valid: 99"},
	)

	sets := testSets("Milfs")
	sets[0].Variants = []model.Variant{model.VariantDesktop}

	summary, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)

	// One cleaning pass only: two remote calls, then a terminal failure.
	require.Len(t, svc.callsFor(key), 2)

	out := summary.Outcomes[0]
	require.Equal(t, model.StatusFailed, out.Status)
	require.Equal(t, model.ReasonValidation, out.Reason)
	require.Equal(t, []string{"77", "88"}, out.StrippedIDs)

	rec, err := store.Load("s1")
	require.NoError(t, err)
	snap, ok := rec.Task(key)
	require.True(t, ok)
	require.Equal(t, model.StatusFailed, snap.Status)
	require.Equal(t, []string{"77", "88"}, snap.StrippedIDs)
}

func TestAllCreativesRejectedFailsWithoutResubmit(t *testing.T) {
	orch, _ := newTestOrchestrator(t, testOptions("s1"))
	svc := newFakeService()
	key := model.TaskKey{Set: "Milfs", Variant: model.VariantDesktop}
	svc.failNext(key, &remote.ValidationError{Text: "creatives not valid: 77, 88, 99, 100"})

	sets := testSets("Milfs")
	sets[0].Variants = []model.Variant{model.VariantDesktop}

	summary, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)

	require.Len(t, svc.callsFor(key), 1)
	out := summary.Outcomes[0]
	require.Equal(t, model.StatusFailed, out.Status)
	require.Equal(t, model.ReasonNoCreativesLeft, out.Reason)
}

func TestUnparseableValidationTextFailsWithoutRetry(t *testing.T) {
	orch, _ := newTestOrchestrator(t, testOptions("s1"))
	svc := newFakeService()
	key := model.TaskKey{Set: "Milfs", Variant: model.VariantDesktop}
	svc.failNext(key, &remote.ValidationError{Text: "something went wrong, try again later"})

	sets := testSets("Milfs")
	sets[0].Variants = []model.Variant{model.VariantDesktop}

	summary, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)

	require.Len(t, svc.callsFor(key), 1)
	require.Equal(t, model.ReasonValidation, summary.Outcomes[0].Reason)
}

func TestAndroidFailsFastWhenIOSFailed(t *testing.T) {
	orch, _ := newTestOrchestrator(t, testOptions("s1"))
	svc := newFakeService()
	iosKey := model.TaskKey{Set: "Milfs", Variant: model.VariantIOS}
	svc.failNext(iosKey, &remote.FatalError{Text: "session expired"})

	summary, err := orch.Run(context.Background(), testSets("Milfs"), []remote.Service{svc})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded) // desktop
	require.Equal(t, 2, summary.Failed)    // ios fatal, android fail-fast

	androidKey := model.TaskKey{Set: "Milfs", Variant: model.VariantAndroid}
	require.Empty(t, svc.callsFor(androidKey))

	for _, out := range summary.Outcomes {
		if out.Key == androidKey {
			require.Equal(t, model.ReasonPredecessorFailed, out.Reason)
		}
		if out.Key == iosKey {
			require.Equal(t, model.ReasonFatal, out.Reason)
		}
	}
}

func TestRetryFailedReattemptsOnlyFailures(t *testing.T) {
	opts := testOptions("s1")
	orch, _ := newTestOrchestrator(t, opts)
	svc := newFakeService()
	iosKey := model.TaskKey{Set: "Milfs", Variant: model.VariantIOS}
	svc.failNext(iosKey, &remote.FatalError{Text: "timeout"})

	sets := testSets("Milfs")
	_, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)

	// Without --retry-failed the failures stay put.
	summary, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Skipped)

	// With it, ios reruns and android can finally clone from it. Desktop
	// stays skipped: succeeded is always terminal.
	opts.RetryFailed = true
	orch = New(orch.store, nil, opts)
	summary, err = orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Skipped)

	desktopKey := model.TaskKey{Set: "Milfs", Variant: model.VariantDesktop}
	require.Len(t, svc.callsFor(desktopKey), 1)
}

func TestFreshDiscardsPriorProgress(t *testing.T) {
	opts := testOptions("s1")
	orch, _ := newTestOrchestrator(t, opts)
	svc := newFakeService()
	sets := testSets("Milfs")

	_, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)
	firstCalls := svc.callCount()

	opts.Fresh = true
	orch = New(orch.store, nil, opts)
	summary, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Succeeded)
	require.Zero(t, summary.Skipped)
	require.Equal(t, firstCalls*2, svc.callCount())
}

func TestCancellationLeavesRemainingTasksPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := testOptions("s1")
	first := true
	opts.OnTaskDone = func(out TaskOutcome, _ progress.Stats) {
		if first {
			first = false
			cancel()
		}
	}

	orch, store := newTestOrchestrator(t, opts)
	svc := newFakeService()

	summary, err := orch.Run(ctx, testSets("Milfs"), []remote.Service{svc})
	require.NoError(t, err)
	require.True(t, summary.Interrupted)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, svc.callCount())

	rec, err := store.Load("s1")
	require.NoError(t, err)
	require.Len(t, rec.Tasks, 1)
}

func TestParallelWorkersKeepSetsTogether(t *testing.T) {
	defer goleak.VerifyNone(t)

	orch, _ := newTestOrchestrator(t, testOptions("s1"))
	svcA, svcB := newFakeService(), newFakeService()
	sets := testSets("Milfs", "Teens", "Asian", "Latina")

	summary, err := orch.Run(context.Background(), sets, []remote.Service{svcA, svcB})
	require.NoError(t, err)
	require.Equal(t, 12, summary.Succeeded)
	require.Zero(t, summary.Failed)

	// A set's ios and android must run on the same worker, so every android
	// call sees a predecessor id.
	for _, svc := range []*fakeService{svcA, svcB} {
		seen := make(map[string]bool)
		svc.mu.Lock()
		for _, call := range svc.calls {
			seen[call.SetName] = true
			if call.Variant == model.VariantAndroid {
				require.NotEmpty(t, call.PredecessorEntityID)
			}
		}
		svc.mu.Unlock()
		require.Len(t, seen, 2)
	}
}

func TestParallelResumeSkipsShardProgress(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := testOptions("s1")
	orch, _ := newTestOrchestrator(t, opts)
	svcA, svcB := newFakeService(), newFakeService()
	sets := testSets("Milfs", "Teens")

	_, err := orch.Run(context.Background(), sets, []remote.Service{svcA, svcB})
	require.NoError(t, err)
	total := svcA.callCount() + svcB.callCount()
	require.Equal(t, 6, total)

	// Resuming sequentially still sees the shard checkpoints.
	svcC := newFakeService()
	orch = New(orch.store, nil, opts)
	summary, err := orch.Run(context.Background(), sets, []remote.Service{svcC})
	require.NoError(t, err)
	require.Equal(t, 6, summary.Skipped)
	require.Zero(t, svcC.callCount())
}

func TestPlanReportsWithoutRemoteCalls(t *testing.T) {
	orch, _ := newTestOrchestrator(t, testOptions("s1"))
	sets := testSets("Milfs")

	plan, err := orch.Plan(sets)
	require.NoError(t, err)
	require.Len(t, plan, 3)

	require.Equal(t, model.VariantIOS, plan[1].Key.Variant)
	require.Equal(t, "1013076221", plan[1].CloneSource)
	require.Equal(t, model.VariantAndroid, plan[2].Key.Variant)
	require.Contains(t, plan[2].CloneSource, "ios campaign")
	require.Contains(t, plan[0].CampaignName, "KEY-Milfs")
	for _, p := range plan {
		require.False(t, p.WouldSkip)
	}
}

func TestInvalidDefinitionAbortsBeforeAnyRemoteCall(t *testing.T) {
	orch, _ := newTestOrchestrator(t, testOptions("s1"))
	svc := newFakeService()

	sets := testSets("Milfs", "Milfs") // duplicate set name
	_, err := orch.Run(context.Background(), sets, []remote.Service{svc})
	require.ErrorIs(t, err, model.ErrInvalidDefinition)
	require.Zero(t, svc.callCount())
}
