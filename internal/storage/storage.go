// Package storage provides durable SQLite storage for per-meter state and cycle history.
// Each meter has exactly one state record that is overwritten on every successful cycle;
// cycle summaries and their per-meter classifications are kept for a bounded number
// of cycles so restarts can report the last outcome.
//
// Timestamps are stored as unix nanoseconds to keep ordering comparisons exact.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/meterbot/internal/models"

	_ "modernc.org/sqlite"
)

// Storage is a SQLite-backed state store
type Storage struct {
	db        *sql.DB
	maxCycles int
}

// New opens or creates the database at dbPath and applies migrations.
// Use ":memory:" for an ephemeral store.
func New(dbPath string, maxCycles int) (*Storage, error) {
	if maxCycles < 1 {
		maxCycles = 1
	}

	memory := dbPath == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Storage{db: db, maxCycles: maxCycles}, nil
}

// Close closes the underlying database
func (s *Storage) Close() error {
	return s.db.Close()
}

const stateColumns = `meter_id, balance, usage_kwh, observed_at, source_time, attempted_at, last_kind`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*models.StateRecord, error) {
	var (
		rec                           models.StateRecord
		observedAt, source, attempted int64
		kind                          string
	)
	if err := row.Scan(&rec.MeterID, &rec.Balance, &rec.Usage, &observedAt, &source, &attempted, &kind); err != nil {
		return nil, err
	}
	rec.ObservedAt = fromNanos(observedAt)
	rec.SourceTime = fromNanos(source)
	rec.AttemptedAt = fromNanos(attempted)

	var err error
	rec.LastKind, err = models.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("decode state of %s: %w", rec.MeterID, err)
	}
	return &rec, nil
}

// GetState returns the state record for a meter, or nil when none exists yet.
func (s *Storage) GetState(ctx context.Context, meterID string) (*models.StateRecord, error) {
	rec, err := scanState(s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM meter_state WHERE meter_id = ?`, meterID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	return rec, nil
}

// PutState inserts or replaces the state record for a meter.
func (s *Storage) PutState(ctx context.Context, rec *models.StateRecord) error {
	if rec.MeterID == "" {
		return errors.New("state record meter ID must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meter_state (`+stateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(meter_id) DO UPDATE SET
			balance = excluded.balance,
			usage_kwh = excluded.usage_kwh,
			observed_at = excluded.observed_at,
			source_time = excluded.source_time,
			attempted_at = excluded.attempted_at,
			last_kind = excluded.last_kind`,
		rec.MeterID, int64(rec.Balance), rec.Usage,
		toNanos(rec.ObservedAt), toNanos(rec.SourceTime), toNanos(rec.AttemptedAt), string(rec.LastKind),
	)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// AllStates returns every stored state record ordered by meter ID.
func (s *Storage) AllStates(ctx context.Context) ([]models.StateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stateColumns+` FROM meter_state ORDER BY meter_id`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	var records []models.StateRecord
	for rows.Next() {
		rec, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// RecordCycle stores a cycle summary with its classifications and prunes the
// oldest cycles beyond the configured limit.
func (s *Storage) RecordCycle(ctx context.Context, report *models.CycleReport) error {
	if report.ID == "" {
		return errors.New("cycle report ID must not be empty")
	}
	sum := report.Summary()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cycle insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cycles (id, started_at, finished_at, meters, succeeded, failed, recharges, anomalies, notified, notify_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, toNanos(sum.StartedAt), toNanos(sum.FinishedAt), sum.Meters, sum.Succeeded, sum.Failed,
		sum.Recharges, sum.Anomalies, boolToInt(sum.Notified), sum.NotifyError,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for _, r := range report.Results {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO classifications (cycle_id, meter_id, kind, previous_balance, current_balance, delta, summary, state_updated)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			report.ID, r.MeterID, string(r.Kind), int64(r.Previous), int64(r.Current), int64(r.Delta),
			r.Summary, boolToInt(r.StateUpdated),
		)
		if err != nil {
			return fmt.Errorf("insert classification for %s: %w", r.MeterID, err)
		}
	}

	// Rotate old cycles; classifications follow via ON DELETE CASCADE
	_, err = tx.ExecContext(ctx,
		`DELETE FROM cycles WHERE id NOT IN (
			SELECT id FROM cycles ORDER BY started_at DESC LIMIT ?
		)`, s.maxCycles)
	if err != nil {
		return fmt.Errorf("rotate cycles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}
	return nil
}

// RecentCycles returns up to n cycle summaries, newest first.
func (s *Storage) RecentCycles(ctx context.Context, n int) ([]models.CycleSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, meters, succeeded, failed, recharges, anomalies, notified, notify_error
		 FROM cycles ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []models.CycleSummary
	for rows.Next() {
		var (
			c                 models.CycleSummary
			started, finished int64
			notified          int
		)
		if err := rows.Scan(&c.ID, &started, &finished, &c.Meters, &c.Succeeded, &c.Failed,
			&c.Recharges, &c.Anomalies, &notified, &c.NotifyError); err != nil {
			return nil, fmt.Errorf("scan cycle row: %w", err)
		}
		c.StartedAt = fromNanos(started)
		c.FinishedAt = fromNanos(finished)
		c.Notified = notified != 0
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// LatestCycle returns the most recent cycle summary, or nil if none was recorded.
func (s *Storage) LatestCycle(ctx context.Context) (*models.CycleSummary, error) {
	cycles, err := s.RecentCycles(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return nil, nil
	}
	return &cycles[0], nil
}

// CycleResults returns the stored classifications of a cycle.
func (s *Storage) CycleResults(ctx context.Context, cycleID string) ([]models.ClassificationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT meter_id, kind, previous_balance, current_balance, delta, summary, state_updated
		 FROM classifications WHERE cycle_id = ? ORDER BY rowid`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	var results []models.ClassificationResult
	for rows.Next() {
		var (
			r       models.ClassificationResult
			kind    string
			updated int
		)
		if err := rows.Scan(&r.MeterID, &kind, &r.Previous, &r.Current, &r.Delta, &r.Summary, &updated); err != nil {
			return nil, fmt.Errorf("scan classification row: %w", err)
		}
		if r.Kind, err = models.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("decode classification of %s: %w", r.MeterID, err)
		}
		r.StateUpdated = updated != 0
		results = append(results, r)
	}
	return results, rows.Err()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
