// Package tracker remembers which files have been ingested and at which
// modification time. A file is eligible for processing when it has never been
// recorded or when its current modification time is strictly newer than the
// recorded one.
//
// Records live in a local SQLite file. The pipeline only ever upserts; rows
// are removed solely by the administrative Forget and Reset operations.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// ErrNotFound is returned by Get when no record exists for a filename.
var ErrNotFound = errors.New("tracker: no record for file")

// Record is one processed file version.
type Record struct {
	bun.BaseModel `bun:"table:processed_files"`

	Filename     string    `bun:"filename,pk" json:"filename"`
	LastModified time.Time `bun:"last_modified,notnull" json:"last_modified"`
}

// Tracker is the processed-file store. It is safe for concurrent use.
type Tracker struct {
	db *bun.DB
}

// Open opens (creating if needed) the tracker database at path and applies migrations.
func Open(path string) (*Tracker, error) {
	sqldb, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("tracker migrations: %w", err)
	}
	return newTracker(sqldb), nil
}

func newTracker(sqldb *sql.DB) *Tracker {
	return &Tracker{db: bun.NewDB(sqldb, sqlitedialect.New())}
}

// Close releases the underlying database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// normalize keeps stored and probed times comparable after a round trip
// through SQLite, which keeps microseconds and drops the monotonic clock.
func normalize(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Microsecond)
}

// ShouldProcess reports whether filename at modifiedAt has not been ingested yet.
func (t *Tracker) ShouldProcess(ctx context.Context, filename string, modifiedAt time.Time) (bool, error) {
	rec, err := t.Get(ctx, filename)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return normalize(rec.LastModified).Before(normalize(modifiedAt)), nil
}

// Record upserts the last ingested modification time for filename.
func (t *Tracker) Record(ctx context.Context, filename string, modifiedAt time.Time) error {
	rec := &Record{Filename: filename, LastModified: normalize(modifiedAt)}

	_, err := t.db.NewInsert().
		Model(rec).
		On("CONFLICT (filename) DO UPDATE").
		Set("last_modified = EXCLUDED.last_modified").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record %s: %w", filename, err)
	}
	return nil
}

// Get returns the record for filename, or ErrNotFound.
func (t *Tracker) Get(ctx context.Context, filename string) (*Record, error) {
	rec := new(Record)
	err := t.db.NewSelect().
		Model(rec).
		Where("filename = ?", filename).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", filename, err)
	}
	return rec, nil
}

// List returns every record ordered by filename.
func (t *Tracker) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	if err := t.db.NewSelect().Model(&recs).Order("filename ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list processed files: %w", err)
	}
	return recs, nil
}

// Forget deletes the record for filename so the next event reprocesses it.
// It reports whether a record existed.
func (t *Tracker) Forget(ctx context.Context, filename string) (bool, error) {
	res, err := t.db.NewDelete().
		Model((*Record)(nil)).
		Where("filename = ?", filename).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("forget %s: %w", filename, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("forget %s: %w", filename, err)
	}
	return n > 0, nil
}

// Reset deletes every record and returns how many were removed.
func (t *Tracker) Reset(ctx context.Context) (int64, error) {
	res, err := t.db.NewDelete().
		Model((*Record)(nil)).
		Where("1 = 1").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset tracker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset tracker: %w", err)
	}
	return n, nil
}
