package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"go.uber.org/zap"
)

// JSONStore keeps builds in a single JSON array file. The file is re-read on
// every call; writes go through a mutex and replace the file atomically.
type JSONStore struct {
	path        string
	defaultMode string
	logger      *zap.Logger
	mu          sync.Mutex
	now         func() time.Time
}

var _ Store = (*JSONStore)(nil)

func NewJSONStore(path, defaultMode string, logger *zap.Logger) *JSONStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONStore{
		path:        path,
		defaultMode: defaultMode,
		logger:      logger.Named("store"),
		now:         time.Now,
	}
}

func (s *JSONStore) Location() string { return s.path }

func (s *JSONStore) Close() error { return nil }

// List treats a missing or unreadable file as an empty store.
func (s *JSONStore) List(ctx context.Context) ([]catalog.Build, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	builds, err := s.read()
	if err != nil {
		s.logger.Warn("load builds failed, treating store as empty", zap.String("path", s.path), zap.Error(err))
		return []catalog.Build{}, nil
	}
	return builds, nil
}

func (s *JSONStore) Append(ctx context.Context, b catalog.Build) (catalog.Build, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Build{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	builds, err := s.read()
	if err != nil {
		return catalog.Build{}, fmt.Errorf("read builds: %w", err)
	}

	b = catalog.Normalize(b, s.defaultMode)
	if b.ID == "" {
		b.ID = catalog.NewIDAt(s.now())
	} else {
		for _, existing := range builds {
			if existing.ID == b.ID {
				return catalog.Build{}, fmt.Errorf("%w: %s", ErrDuplicate, b.ID)
			}
		}
	}
	if b.CreatedAt == "" {
		b.CreatedAt = s.now().UTC().Format(time.RFC3339)
	}
	builds = append(builds, b)

	if err := s.write(builds); err != nil {
		return catalog.Build{}, err
	}
	s.logger.Info("build appended", zap.String("id", b.ID), zap.String("weapon", b.WeaponName))
	return b.Clone(), nil
}

func (s *JSONStore) Delete(ctx context.Context, target catalog.Build) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	builds, err := s.read()
	if err != nil {
		return fmt.Errorf("read builds: %w", err)
	}

	idx := matchIndex(builds, target)
	if idx < 0 {
		return ErrNotFound
	}
	builds = append(builds[:idx], builds[idx+1:]...)

	if err := s.write(builds); err != nil {
		return err
	}
	s.logger.Info("build deleted", zap.String("id", target.ID), zap.String("weapon", target.WeaponName))
	return nil
}

func (s *JSONStore) read() ([]catalog.Build, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []catalog.Build{}, nil
		}
		return nil, err
	}
	return parseBuilds(s.path, data, s.defaultMode)
}

// ReadJSONFile loads a builds file strictly: a missing or malformed file is
// an error rather than an empty catalog.
func ReadJSONFile(path, defaultMode string) ([]catalog.Build, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseBuilds(path, data, defaultMode)
}

func parseBuilds(path string, data []byte, defaultMode string) ([]catalog.Build, error) {
	var raw []catalog.Build
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	builds := make([]catalog.Build, 0, len(raw))
	for _, b := range raw {
		builds = append(builds, catalog.Normalize(b, defaultMode))
	}
	return builds, nil
}

// write assigns IDs to legacy records and replaces the file via rename.
func (s *JSONStore) write(builds []catalog.Build) error {
	for i := range builds {
		if builds[i].ID == "" {
			builds[i].ID = catalog.NewIDAt(s.now())
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(builds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal builds: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
