// Package store persists build records.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by Delete when no record matches.
	ErrNotFound = errors.New("build not found")
	// ErrDuplicate is returned by Append when the build's ID is already stored.
	ErrDuplicate = errors.New("build id already exists")
)

// Store defines the build storage interface.
type Store interface {
	// List returns every build in insertion order.
	List(ctx context.Context) ([]catalog.Build, error)

	// Append stores a new build and returns it with ID and timestamp filled in.
	// A build carrying an ID the store already holds fails with ErrDuplicate.
	Append(ctx context.Context, b catalog.Build) (catalog.Build, error)

	// Delete removes exactly one build: by ID when b has one, else the first
	// record whose content equals b.
	Delete(ctx context.Context, b catalog.Build) error

	// Location describes where the data lives, for status output.
	Location() string

	Close() error
}

// Open returns the store selected by cfg.
func Open(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath(), cfg.Browse.Mode)
	case config.StoreBackendJSON, "":
		return NewJSONStore(cfg.BuildsPath(), cfg.Browse.Mode, logger), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Copy appends every build of src to dst, preserving IDs.
func Copy(ctx context.Context, src, dst Store) (added, skipped int, err error) {
	builds, err := src.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list source: %w", err)
	}
	return AppendAll(ctx, dst, builds)
}

// AppendAll appends builds to dst in order. Builds whose ID dst already holds
// are skipped, so loading the same file twice adds nothing.
func AppendAll(ctx context.Context, dst Store, builds []catalog.Build) (added, skipped int, err error) {
	for _, b := range builds {
		if _, err := dst.Append(ctx, b); err != nil {
			if errors.Is(err, ErrDuplicate) {
				skipped++
				continue
			}
			return added, skipped, fmt.Errorf("append %q: %w", b.WeaponName, err)
		}
		added++
	}
	return added, skipped, nil
}

// matchIndex finds the record to delete.
func matchIndex(builds []catalog.Build, target catalog.Build) int {
	if target.ID != "" {
		for i, b := range builds {
			if b.ID == target.ID {
				return i
			}
		}
		return -1
	}
	for i, b := range builds {
		if b.EqualContent(target) {
			return i
		}
	}
	return -1
}
