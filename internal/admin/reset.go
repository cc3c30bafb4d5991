// Package admin provides administrative operations on the processed-file
// tracker. Forgetting a file makes its next event or scan load it again.
// The ingestion pipeline never calls these.
package admin

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"
)

// ResetTimeout is the maximum duration for tracker maintenance operations.
const ResetTimeout = 30 * time.Second

// Store is the tracker surface admin operations need.
type Store interface {
	Forget(ctx context.Context, filename string) (bool, error)
	Reset(ctx context.Context) (int64, error)
}

// ForgetFiles removes the records for names, which may be paths; only the
// base name is tracked. It returns the names that had a record.
func ForgetFiles(ctx context.Context, store Store, names ...string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	var forgotten []string
	for _, name := range names {
		base := filepath.Base(name)
		ok, err := store.Forget(ctx, base)
		if err != nil {
			return forgotten, err
		}
		if ok {
			forgotten = append(forgotten, base)
		}
		slog.Info("tracker record forgotten", "filename", base, "existed", ok)
	}
	return forgotten, nil
}

// ResetAll deletes every tracker record, so every file in the watched
// directory is loaded again on the next scan. Destination tables are
// untouched and will be skipped where they already exist.
func ResetAll(ctx context.Context, store Store) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	n, err := store.Reset(ctx)
	if err != nil {
		return 0, err
	}
	slog.Warn("tracker reset", "records_deleted", n)
	return n, nil
}
