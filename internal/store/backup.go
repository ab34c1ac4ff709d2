package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const backupPrefix = "builds-"

// Backup writes a JSON snapshot of s into dir and keeps only the newest keep
// snapshots. It returns the path of the new snapshot.
func Backup(ctx context.Context, s Store, dir string, keep int, now time.Time) (string, error) {
	builds, err := s.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list builds: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	data, err := json.MarshalIndent(builds, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal builds: %w", err)
	}

	path := filepath.Join(dir, backupPrefix+now.UTC().Format("20060102-150405")+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	if keep > 0 {
		if err := pruneBackups(dir, keep); err != nil {
			return path, fmt.Errorf("prune backups: %w", err)
		}
	}
	return path, nil
}

func pruneBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) <= keep {
		return nil
	}
	// Timestamped names sort chronologically
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
