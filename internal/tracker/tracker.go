// Package tracker maintains the run ledger: a SQLite database recording
// every campaign the tool has created or failed to create, across runs. The
// ledger is the long-term record the team reports from; checkpoints are
// per-session and disposable, the ledger is not.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"adlaunch/internal/logging"
	"adlaunch/internal/model"
)

// Outcome is one finished task, terminal status and all.
type Outcome struct {
	SessionID    string
	SetName      string
	Variant      model.Variant
	CampaignName string
	Status       model.Status
	EntityID     string
	AdsUploaded  int
	Error        string
	Reason       model.FailureReason
	Duration     time.Duration
	FinishedAt   time.Time
}

// Row is one ledger entry as read back for reporting.
type Row struct {
	ID           int64
	SessionID    string
	SetName      string
	Variant      model.Variant
	CampaignName string
	Status       model.Status
	EntityID     string
	AdsUploaded  int
	Error        string
	Reason       model.FailureReason
	DurationMS   int64
	FinishedAt   time.Time
}

// Ledger wraps the SQLite database holding campaign run history.
type Ledger struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logging.Logger
}

// Open initializes the ledger database at the given path, creating the file
// and schema on first use.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// Single writer; the modernc driver serializes poorly under contention.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	l := &Ledger{db: db, log: logging.Get(logging.CategoryTracker)}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS campaign_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		set_name TEXT NOT NULL,
		variant TEXT NOT NULL,
		campaign_name TEXT NOT NULL,
		status TEXT NOT NULL,
		entity_id TEXT,
		ads_uploaded INTEGER DEFAULT 0,
		error TEXT,
		reason TEXT,
		duration_ms INTEGER DEFAULT 0,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_session ON campaign_runs(session_id);
	CREATE INDEX IF NOT EXISTS idx_runs_set ON campaign_runs(set_name, variant);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON campaign_runs(status);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordOutcome appends one finished task to the ledger. Ledger writes are
// best-effort from the orchestrator's point of view; a failure here must not
// fail the task, so callers log and continue.
func (l *Ledger) RecordOutcome(ctx context.Context, o Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	finishedAt := o.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO campaign_runs
			(session_id, set_name, variant, campaign_name, status, entity_id,
			 ads_uploaded, error, reason, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SessionID, o.SetName, string(o.Variant), o.CampaignName,
		string(o.Status), o.EntityID, o.AdsUploaded, o.Error, string(o.Reason),
		o.Duration.Milliseconds(), finishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s/%s: %w", o.SetName, o.Variant, err)
	}

	l.log.Info("ledger: %s/%s %s entity=%s ads=%d", o.SetName, o.Variant, o.Status, o.EntityID, o.AdsUploaded)
	return nil
}

// SessionRows returns all ledger entries for one session, oldest first.
func (l *Ledger) SessionRows(ctx context.Context, sessionID string) ([]Row, error) {
	return l.query(ctx, `
		SELECT id, session_id, set_name, variant, campaign_name, status,
		       entity_id, ads_uploaded, error, reason, duration_ms, finished_at
		FROM campaign_runs WHERE session_id = ? ORDER BY id ASC`, sessionID)
}

// RecentRows returns the newest entries across all sessions.
func (l *Ledger) RecentRows(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.query(ctx, `
		SELECT id, session_id, set_name, variant, campaign_name, status,
		       entity_id, ads_uploaded, error, reason, duration_ms, finished_at
		FROM campaign_runs ORDER BY id DESC LIMIT ?`, limit)
}

func (l *Ledger) query(ctx context.Context, q string, args ...interface{}) ([]Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var entityID, errText, reason sql.NullString
		if err := rows.Scan(&r.ID, &r.SessionID, &r.SetName, &r.Variant,
			&r.CampaignName, &r.Status, &entityID, &r.AdsUploaded,
			&errText, &reason, &r.DurationMS, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		r.EntityID = entityID.String
		r.Error = errText.String
		r.Reason = model.FailureReason(reason.String)
		out = append(out, r)
	}
	return out, rows.Err()
}
