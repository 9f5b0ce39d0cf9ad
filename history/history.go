// Package history records training runs and their per-epoch metrics in a
// SQLite database.
package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	_ "modernc.org/sqlite"

	"github.com/tsawler/go-regress/training"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started REAL NOT NULL,
		finished REAL,
		name TEXT NOT NULL,
		device TEXT,
		config TEXT,
		status TEXT NOT NULL,
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS epochs(
		run_id INTEGER NOT NULL REFERENCES runs(id),
		epoch INTEGER NOT NULL,
		ts REAL NOT NULL,
		train_loss REAL NOT NULL,
		valid_loss REAL NOT NULL,
		valid_accuracy REAL NOT NULL,
		PRIMARY KEY(run_id, epoch)
	)`,
}

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open history %s", path)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		klog.V(1).Infof("history: WAL not enabled: %v", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "create history schema")
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RunInfo describes a run when it starts.
type RunInfo struct {
	Name   string
	Device string
	Config string // serialized configuration, stored verbatim
}

// RunRecord is a stored run.
type RunRecord struct {
	ID       int64
	Name     string
	Device   string
	Config   string
	Status   string
	Error    string
	Started  time.Time
	Finished time.Time
}

// BeginRun inserts a run in the running state.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (*Run, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs(started, name, device, config, status) VALUES(?,?,?,?,?)",
		timestamp(time.Now()), info.Name, info.Device, info.Config, StatusRunning)
	if err != nil {
		return nil, errors.Wrap(err, "insert run")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "run id")
	}
	klog.V(1).Infof("history: run %d (%s) started", id, info.Name)
	return &Run{store: s, id: id}, nil
}

// Runs returns all runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, device, config, status, error, started, finished FROM runs ORDER BY id DESC")
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                   RunRecord
			device, config, msg sql.NullString
			started             float64
			finished            sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Name, &device, &config, &r.Status, &msg, &started, &finished); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.Device, r.Config, r.Error = device.String, config.String, msg.String
		r.Started = fromTimestamp(started)
		if finished.Valid {
			r.Finished = fromTimestamp(finished.Float64)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "read runs")
}

// Epochs returns the recorded epochs of a run in epoch order.
func (s *Store) Epochs(ctx context.Context, runID int64) ([]training.EpochMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT epoch, train_loss, valid_loss, valid_accuracy FROM epochs WHERE run_id = ? ORDER BY epoch ASC", runID)
	if err != nil {
		return nil, errors.Wrap(err, "query epochs")
	}
	defer rows.Close()

	var out []training.EpochMetrics
	for rows.Next() {
		var m training.EpochMetrics
		if err := rows.Scan(&m.EpochIndex, &m.TrainLoss, &m.ValidLoss, &m.ValidAccuracy); err != nil {
			return nil, errors.Wrap(err, "scan epoch")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "read epochs")
}

// Run is an open run. It is a training.Observer: attach it to a Progress
// to record each epoch as it is emitted.
type Run struct {
	store *Store
	id    int64

	mu  sync.Mutex
	err error
}

// ID returns the run's row id.
func (r *Run) ID() int64 { return r.id }

// OnEpoch records one epoch. Write failures are logged and remembered; the
// first one is returned by Err.
func (r *Run) OnEpoch(m training.EpochMetrics) {
	_, err := r.store.db.Exec(
		"INSERT OR REPLACE INTO epochs(run_id, epoch, ts, train_loss, valid_loss, valid_accuracy) VALUES(?,?,?,?,?,?)",
		r.id, m.EpochIndex, timestamp(time.Now()), m.TrainLoss, m.ValidLoss, m.ValidAccuracy)
	if err != nil {
		klog.Errorf("history: record epoch %d of run %d: %v", m.EpochIndex, r.id, err)
		r.mu.Lock()
		if r.err == nil {
			r.err = errors.Wrapf(err, "record epoch %d", m.EpochIndex)
		}
		r.mu.Unlock()
	}
}

// Err returns the first epoch write failure, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Finish marks the run completed, or failed when runErr is non-nil.
func (r *Run) Finish(ctx context.Context, runErr error) error {
	status, msg := StatusCompleted, sql.NullString{}
	if runErr != nil {
		status = StatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := r.store.db.ExecContext(ctx,
		"UPDATE runs SET finished = ?, status = ?, error = ? WHERE id = ?",
		timestamp(time.Now()), status, msg, r.id)
	if err != nil {
		return errors.Wrapf(err, "finish run %d", r.id)
	}
	klog.V(1).Infof("history: run %d %s", r.id, status)
	return nil
}

func timestamp(t time.Time) float64 { return float64(t.UnixMilli()) / 1000.0 }

func fromTimestamp(ts float64) time.Time { return time.UnixMilli(int64(ts * 1000)) }
