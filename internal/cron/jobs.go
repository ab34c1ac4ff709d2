package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/stellarlinkco/ndsborki/internal/session"
	"github.com/stellarlinkco/ndsborki/internal/store"
)

const (
	JobSessionSweep = "session-sweep"
	JobStoreBackup  = "store-backup"
)

// SessionSweepJob evicts conversations idle for longer than idle.
func SessionSweepJob(m *session.Manager, idle time.Duration) JobFunc {
	return func(ctx context.Context) (string, error) {
		n := m.Sweep(idle)
		return fmt.Sprintf("evicted %d sessions", n), nil
	}
}

// BackupJob snapshots the store into dir, keeping the newest keep copies.
func BackupJob(s store.Store, dir string, keep int, now func() time.Time) JobFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (string, error) {
		path, err := store.Backup(ctx, s, dir, keep, now())
		if err != nil {
			return "", err
		}
		return path, nil
	}
}
