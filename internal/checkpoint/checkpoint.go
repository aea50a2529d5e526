// Package checkpoint persists per-task progress so a multi-hour run survives
// crashes and interrupts. The record for a session is a single small JSON
// file rewritten atomically (write-to-temp-then-rename) after every task
// transition; a crash mid-write never corrupts a previously valid
// checkpoint. The store is the single source of truth for "has this already
// been done" and is consulted, never bypassed, at the start of every run.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"adlaunch/internal/logging"
	"adlaunch/internal/model"
)

// ErrNotFound is returned by Load when no checkpoint exists for a session.
var ErrNotFound = errors.New("checkpoint not found")

// TaskSnapshot is the durable projection of one VariantTask.
type TaskSnapshot struct {
	Status         model.Status        `json:"status"`
	RemoteEntityID string              `json:"remote_entity_id,omitempty"`
	ArtifactsCount int                 `json:"artifacts_count"`
	Error          string              `json:"error,omitempty"`
	Reason         model.FailureReason `json:"reason,omitempty"`
	StrippedIDs    []string            `json:"stripped_ids,omitempty"`
	AttemptCount   int                 `json:"attempt_count"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Record is the durable projection of all tasks for one session.
type Record struct {
	SessionID     string                   `json:"session_id"`
	InputFile     string                   `json:"input_file,omitempty"`
	StartedAt     time.Time                `json:"started_at"`
	LastUpdatedAt time.Time                `json:"last_updated_at"`
	Tasks         map[string]*TaskSnapshot `json:"tasks"`
}

// NewRecord creates an empty record for a session.
func NewRecord(sessionID, inputFile string) *Record {
	now := time.Now().UTC()
	return &Record{
		SessionID:     sessionID,
		InputFile:     inputFile,
		StartedAt:     now,
		LastUpdatedAt: now,
		Tasks:         make(map[string]*TaskSnapshot),
	}
}

// Task returns the snapshot for a task key, if present.
func (r *Record) Task(key model.TaskKey) (*TaskSnapshot, bool) {
	snap, ok := r.Tasks[key.String()]
	return snap, ok
}

// ShouldSkip reports whether a task needs no work this run: it already
// succeeded, or it failed and the operator did not ask for --retry-failed.
// Pending and InProgress both return false — an InProgress task found at
// startup means a previous run crashed mid-task, and the remote create is
// safe to reattempt from scratch (campaign creation is idempotent by name).
func (r *Record) ShouldSkip(key model.TaskKey, retryFailed bool) bool {
	snap, ok := r.Task(key)
	if !ok {
		return false
	}
	switch snap.Status {
	case model.StatusSucceeded:
		return true
	case model.StatusFailed:
		return !retryFailed
	}
	return false
}

// Meta summarizes one stored checkpoint for listing.
type Meta struct {
	SessionID     string    `json:"session_id"`
	InputFile     string    `json:"input_file,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	TaskCount     int       `json:"task_count"`
	Path          string    `json:"path"`
}

// Store reads and writes checkpoint records under a directory. Mutators
// load-modify-save under a process-local lock; cross-process mutation of the
// same session is not supported (at most one orchestrator owns a checkpoint
// file at a time).
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the checkpoint directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, "checkpoint_"+sessionID+".json")
}

// Load reads the record for a session. A missing file returns ErrNotFound.
// A file that fails to parse is quarantined (renamed aside for inspection),
// logged loudly, and reported as ErrNotFound so the caller starts fresh —
// a corrupt checkpoint is never silently discarded.
func (s *Store) Load(sessionID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(sessionID)
}

func (s *Store) loadLocked(sessionID string) (*Record, error) {
	path := s.path(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405"))
		logging.Get(logging.CategoryCheckpoint).Error(
			"checkpoint for session %s is corrupt (%v); moving to %s and starting fresh", sessionID, err, quarantine)
		fmt.Fprintf(os.Stderr, "WARNING: checkpoint %s is corrupt, quarantined as %s\n", path, quarantine)
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			return nil, fmt.Errorf("failed to quarantine corrupt checkpoint: %w", renameErr)
		}
		return nil, ErrNotFound
	}
	if rec.Tasks == nil {
		rec.Tasks = make(map[string]*TaskSnapshot)
	}
	return &rec, nil
}

// LoadOrCreate returns the stored record for a session or a fresh one when
// none exists (or the stored one was quarantined).
func (s *Store) LoadOrCreate(sessionID, inputFile string) (*Record, error) {
	rec, err := s.Load(sessionID)
	if errors.Is(err, ErrNotFound) {
		return NewRecord(sessionID, inputFile), nil
	}
	return rec, err
}

// Save serializes the full record and writes it atomically. The temp file
// lives in the same directory so the rename never crosses filesystems.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(rec)
}

func (s *Store) saveLocked(rec *Record) error {
	rec.LastUpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	path := s.path(rec.SessionID)
	tmp, err := os.CreateTemp(s.dir, "checkpoint_"+rec.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	logging.CheckpointDebug("saved checkpoint %s (%d tasks)", rec.SessionID, len(rec.Tasks))
	return nil
}

// Delete removes the checkpoint for a session (used by --fresh).
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns metadata for every stored checkpoint, newest first.
func (s *Store) List() ([]Meta, error) {
	entries, err := filepath.Glob(filepath.Join(s.dir, "checkpoint_*.json"))
	if err != nil {
		return nil, err
	}

	var metas []Meta
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		metas = append(metas, Meta{
			SessionID:     rec.SessionID,
			InputFile:     rec.InputFile,
			StartedAt:     rec.StartedAt,
			LastUpdatedAt: rec.LastUpdatedAt,
			TaskCount:     len(rec.Tasks),
			Path:          path,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastUpdatedAt.After(metas[j].LastUpdatedAt)
	})
	return metas, nil
}

// mutate runs fn against the task snapshot for key under the store lock,
// creating the snapshot if needed, and persists the whole record.
func (s *Store) mutate(rec *Record, key model.TaskKey, fn func(*TaskSnapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	snap, ok := rec.Tasks[key.String()]
	if !ok {
		snap = &TaskSnapshot{Status: model.StatusPending, CreatedAt: now}
		rec.Tasks[key.String()] = snap
	}
	fn(snap)
	snap.UpdatedAt = now

	return s.saveLocked(rec)
}

// MarkStarted transitions a task to InProgress and counts the attempt.
func (s *Store) MarkStarted(rec *Record, key model.TaskKey) error {
	logging.CheckpointDebug("mark started: %s", key)
	return s.mutate(rec, key, func(snap *TaskSnapshot) {
		snap.Status = model.StatusInProgress
		snap.AttemptCount++
	})
}

// MarkSucceeded records a successful remote configuration.
func (s *Store) MarkSucceeded(rec *Record, key model.TaskKey, remoteEntityID string, artifactsCount int) error {
	logging.Checkpoint("mark succeeded: %s entity=%s ads=%d", key, remoteEntityID, artifactsCount)
	return s.mutate(rec, key, func(snap *TaskSnapshot) {
		snap.Status = model.StatusSucceeded
		snap.RemoteEntityID = remoteEntityID
		snap.ArtifactsCount = artifactsCount
		snap.Error = ""
		snap.Reason = model.ReasonNone
	})
}

// MarkFailed records a terminal failure with enough detail for operator
// follow-up: the error text, the classified reason, and any creative ids
// stripped across cleaning passes.
func (s *Store) MarkFailed(rec *Record, key model.TaskKey, errorDetail string, reason model.FailureReason, strippedIDs []string) error {
	logging.Checkpoint("mark failed: %s reason=%s: %s", key, reason, errorDetail)
	return s.mutate(rec, key, func(snap *TaskSnapshot) {
		snap.Status = model.StatusFailed
		snap.Error = errorDetail
		snap.Reason = reason
		if len(strippedIDs) > 0 {
			snap.StrippedIDs = append([]string(nil), strippedIDs...)
		}
	})
}

// ShardSessionID derives the per-worker session id used by the
// parallel-worker model so each worker owns a disjoint checkpoint file.
func ShardSessionID(sessionID string, worker int) string {
	return fmt.Sprintf("%s-w%d", sessionID, worker)
}

// IsShardOf reports whether candidate is a worker shard of sessionID.
func IsShardOf(sessionID, candidate string) bool {
	return strings.HasPrefix(candidate, sessionID+"-w")
}

// Merge combines worker shard records into one view for reporting. Shards
// operate on disjoint task sets, so a plain union suffices; on the (buggy)
// event of overlap the most recently updated snapshot wins.
func Merge(sessionID string, records ...*Record) *Record {
	merged := NewRecord(sessionID, "")
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.InputFile != "" {
			merged.InputFile = rec.InputFile
		}
		if !rec.StartedAt.IsZero() && rec.StartedAt.Before(merged.StartedAt) {
			merged.StartedAt = rec.StartedAt
		}
		for k, snap := range rec.Tasks {
			existing, ok := merged.Tasks[k]
			if !ok || snap.UpdatedAt.After(existing.UpdatedAt) {
				merged.Tasks[k] = snap
			}
		}
	}
	return merged
}
