package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/ndsborki/internal/catalog"
)

// SQLiteStore implements Store on a single SQLite table.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	defaultMode string
	mu          sync.Mutex
	now         func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath, defaultMode string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: dbPath, defaultMode: defaultMode, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS builds (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		weapon_name TEXT NOT NULL,
		role        TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		mode        TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL DEFAULT '',
		modules     TEXT NOT NULL DEFAULT '{}',
		image       TEXT NOT NULL DEFAULT '',
		author      TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_builds_category ON builds(category, type);
	`)
	return err
}

func (s *SQLiteStore) Location() string { return s.path }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) List(ctx context.Context) ([]catalog.Build, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, weapon_name, role, category, mode, type, modules, image, author, created_at
		FROM builds ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	builds := []catalog.Build{}
	for rows.Next() {
		var (
			b       catalog.Build
			cat     string
			modules string
		)
		if err := rows.Scan(&b.ID, &b.WeaponName, &b.Role, &cat, &b.Mode, &b.Type, &modules, &b.Image, &b.Author, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		b.Category = catalog.Category(cat)
		if err := json.Unmarshal([]byte(modules), &b.Modules); err != nil {
			return nil, fmt.Errorf("decode modules of %s: %w", b.ID, err)
		}
		builds = append(builds, catalog.Normalize(b, s.defaultMode))
	}
	return builds, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, b catalog.Build) (catalog.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b = catalog.Normalize(b, s.defaultMode)
	if b.ID == "" {
		b.ID = catalog.NewIDAt(s.now())
	} else {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM builds WHERE id = ?)`, b.ID).Scan(&exists); err != nil {
			return catalog.Build{}, fmt.Errorf("check build id: %w", err)
		}
		if exists {
			return catalog.Build{}, fmt.Errorf("%w: %s", ErrDuplicate, b.ID)
		}
	}
	if b.CreatedAt == "" {
		b.CreatedAt = s.now().UTC().Format(time.RFC3339)
	}
	modules, err := json.Marshal(b.Modules)
	if err != nil {
		return catalog.Build{}, fmt.Errorf("encode modules: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO builds (id, weapon_name, role, category, mode, type, modules, image, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.WeaponName, b.Role, string(b.Category), b.Mode, b.Type, string(modules), b.Image, b.Author, b.CreatedAt)
	if err != nil {
		return catalog.Build{}, fmt.Errorf("insert build: %w", err)
	}
	return b.Clone(), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, target catalog.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target.ID != "" {
		res, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE id = ?`, target.ID)
		if err != nil {
			return fmt.Errorf("delete build: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	}

	builds, err := s.List(ctx)
	if err != nil {
		return err
	}
	idx := matchIndex(builds, target)
	if idx < 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM builds WHERE id = ?`, builds[idx].ID)
	if err != nil {
		return fmt.Errorf("delete build: %w", err)
	}
	return nil
}
