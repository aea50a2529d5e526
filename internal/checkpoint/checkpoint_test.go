package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"adlaunch/internal/model"

	"github.com/stretchr/testify/require"
)

var (
	iosKey     = model.TaskKey{Set: "Milfs", Variant: model.VariantIOS}
	androidKey = model.TaskKey{Set: "Milfs", Variant: model.VariantAndroid}
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("nope")
	require.True(t, errors.Is(err, ErrNotFound))

	rec, err := store.LoadOrCreate("nope", "input.csv")
	require.NoError(t, err)
	require.Equal(t, "nope", rec.SessionID)
	require.Empty(t, rec.Tasks)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	rec := NewRecord("s1", "input.csv")

	require.NoError(t, store.MarkStarted(rec, iosKey))
	require.NoError(t, store.MarkSucceeded(rec, iosKey, "E1", 12))
	require.NoError(t, store.MarkStarted(rec, androidKey))
	require.NoError(t, store.MarkFailed(rec, androidKey, "creatives not valid: 77,88", model.ReasonValidation, []string{"77", "88"}))

	loaded, err := store.Load("s1")
	require.NoError(t, err)

	ios, ok := loaded.Task(iosKey)
	require.True(t, ok)
	require.Equal(t, model.StatusSucceeded, ios.Status)
	require.Equal(t, "E1", ios.RemoteEntityID)
	require.Equal(t, 12, ios.ArtifactsCount)
	require.Equal(t, 1, ios.AttemptCount)

	android, ok := loaded.Task(androidKey)
	require.True(t, ok)
	require.Equal(t, model.StatusFailed, android.Status)
	require.Equal(t, model.ReasonValidation, android.Reason)
	require.Equal(t, []string{"77", "88"}, android.StrippedIDs)
}

func TestShouldSkip(t *testing.T) {
	rec := NewRecord("s1", "")
	rec.Tasks[iosKey.String()] = &TaskSnapshot{Status: model.StatusSucceeded}
	rec.Tasks[androidKey.String()] = &TaskSnapshot{Status: model.StatusFailed}
	inProgress := model.TaskKey{Set: "Milfs", Variant: model.VariantDesktop}
	rec.Tasks[inProgress.String()] = &TaskSnapshot{Status: model.StatusInProgress}

	require.True(t, rec.ShouldSkip(iosKey, false))
	require.True(t, rec.ShouldSkip(iosKey, true))

	require.True(t, rec.ShouldSkip(androidKey, false))
	require.False(t, rec.ShouldSkip(androidKey, true))

	// An InProgress task found at startup is an interrupted task; reattempt.
	require.False(t, rec.ShouldSkip(inProgress, false))

	// Unknown task has never run.
	require.False(t, rec.ShouldSkip(model.TaskKey{Set: "Other", Variant: model.VariantIOS}, false))
}

func TestCorruptCheckpointQuarantined(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "checkpoint_bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0644))

	_, err = store.Load("bad")
	require.True(t, errors.Is(err, ErrNotFound))

	// Original file is gone but preserved aside for inspection.
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	quarantined, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, quarantined, 1)

	data, err := os.ReadFile(quarantined[0])
	require.NoError(t, err)
	require.Equal(t, "{truncated", string(data))
}

func TestSaveIsAtomic(t *testing.T) {
	// Simulate a crash mid-write: a leftover temp file next to a valid
	// checkpoint must not affect what Load returns.
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	rec := NewRecord("s1", "input.csv")
	require.NoError(t, store.MarkSucceeded(rec, iosKey, "E1", 3))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint_s1.12345.tmp"), []byte("{half-writ"), 0644))

	loaded, err := store.Load("s1")
	require.NoError(t, err)
	snap, ok := loaded.Task(iosKey)
	require.True(t, ok)
	require.Equal(t, model.StatusSucceeded, snap.Status)
	require.Equal(t, "E1", snap.RemoteEntityID)
}

func TestDeleteForFreshStart(t *testing.T) {
	store := newTestStore(t)
	rec := NewRecord("s1", "")
	require.NoError(t, store.MarkSucceeded(rec, iosKey, "E1", 1))

	require.NoError(t, store.Delete("s1"))
	_, err := store.Load("s1")
	require.True(t, errors.Is(err, ErrNotFound))

	// Deleting a missing checkpoint is not an error.
	require.NoError(t, store.Delete("s1"))
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"first", "second"} {
		rec := NewRecord(id, id+".csv")
		require.NoError(t, store.Save(rec))
	}

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, "second", metas[0].SessionID)
	require.Equal(t, "first", metas[1].SessionID)
}

func TestMergeShards(t *testing.T) {
	w1 := NewRecord(ShardSessionID("run", 1), "input.csv")
	w1.Tasks[iosKey.String()] = &TaskSnapshot{Status: model.StatusSucceeded, RemoteEntityID: "E1"}

	w2 := NewRecord(ShardSessionID("run", 2), "input.csv")
	otherKey := model.TaskKey{Set: "Teens", Variant: model.VariantDesktop}
	w2.Tasks[otherKey.String()] = &TaskSnapshot{Status: model.StatusFailed}

	merged := Merge("run", w1, w2)
	require.Equal(t, "run", merged.SessionID)
	require.Len(t, merged.Tasks, 2)
	require.Equal(t, model.StatusSucceeded, merged.Tasks[iosKey.String()].Status)
	require.Equal(t, model.StatusFailed, merged.Tasks[otherKey.String()].Status)

	require.True(t, IsShardOf("run", ShardSessionID("run", 1)))
	require.False(t, IsShardOf("run", "run"))
}
