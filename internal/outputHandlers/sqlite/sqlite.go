package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/export"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("run ledger closed")

const (
	createRuns = `CREATE TABLE IF NOT EXISTS runs (
	id integer not null primary key,
	job_id text not null,
	kind text not null,
	target text not null,
	path text,
	format text,
	status text not null,
	error text,
	elapsed_ms integer not null,
	created_at text not null
);`
	insertRun  = "INSERT into runs(job_id, kind, target, path, format, status, error, elapsed_ms, created_at) values(?, ?, ?, ?, ?, ?, ?, ?, ?);"
	selectRuns = "SELECT job_id, kind, target, path, format, status, error, elapsed_ms, created_at FROM runs ORDER BY id DESC LIMIT ?;"
)

// SqliteOutput keeps a history of finished runs in a sqlite database.
//
// The go sqlite driver does not allow for concurrent writes, so all inserts go
// through one writer goroutine. RecordRun is safe to use by multiple go routines.
type SqliteOutput struct {
	Database string
	Logger   *zap.Logger

	db      *sql.DB
	runChan chan export.Record
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ export.Recorder = (*SqliteOutput)(nil)

func (o *SqliteOutput) Init() error {
	if o.Database == "" {
		return errors.New("sqlite database file not set")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", o.Database)
	if err != nil {
		return err
	}
	if _, err := db.Exec(createRuns); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create table runs: %w", err)
	}
	o.db = db

	// Buffered channel as batches finish runs in bursts
	o.runChan = make(chan export.Record, 20)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for r := range o.runChan {
			_, err := db.Exec(insertRun, r.JobID, r.Kind, r.Target, r.Path, r.Format, r.Status, r.Error,
				r.Elapsed.Milliseconds(), r.CreatedAt.UTC().Format(time.RFC3339Nano))
			if err != nil {
				// history only, keep draining
				o.Logger.Warn("failed to insert run", zap.String("job", r.JobID), zap.Error(err))
			}
		}
	}()
	return nil
}

// Cleanup flushes pending records and closes the database.
func (o *SqliteOutput) Cleanup() error {
	o.mu.Lock()
	if o.closed || o.db == nil {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.runChan)
	o.mu.Unlock()

	o.wg.Wait()
	return o.db.Close()
}

// RecordRun queues r for insertion.
func (o *SqliteOutput) RecordRun(ctx context.Context, r export.Record) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed || o.runChan == nil {
		return ErrClosed
	}
	select {
	case o.runChan <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListRuns returns up to limit runs, newest first.
func (o *SqliteOutput) ListRuns(ctx context.Context, limit int) ([]export.Record, error) {
	if o.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := o.db.QueryContext(ctx, selectRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []export.Record
	for rows.Next() {
		var (
			r         export.Record
			path      sql.NullString
			format    sql.NullString
			errText   sql.NullString
			elapsedMs int64
			created   string
		)
		if err := rows.Scan(&r.JobID, &r.Kind, &r.Target, &path, &format, &r.Status, &errText, &elapsedMs, &created); err != nil {
			return nil, err
		}
		r.Path = path.String
		r.Format = format.String
		r.Error = errText.String
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.JobID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
