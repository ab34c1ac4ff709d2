package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/config"
	"github.com/stretchr/testify/require"
)

func sampleBuild(name string, modules int) catalog.Build {
	m := make(map[string]string, modules)
	for i := 0; i < modules; i++ {
		m[fmt.Sprintf("slot%d", i)] = fmt.Sprintf("variant%d", i)
	}
	return catalog.Build{
		WeaponName: name,
		Role:       "ближняя",
		Category:   catalog.CategoryMeta,
		Mode:       "Warzone",
		Type:       "assault",
		Modules:    m,
		Image:      "images/" + name + ".jpg",
		Author:     "Tester",
	}
}

func newJSONStore(t *testing.T) (*JSONStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "database", "builds.json")
	return NewJSONStore(path, "Warzone", nil), path
}

func TestJSONStore_MissingFileIsEmpty(t *testing.T) {
	s, _ := newJSONStore(t)
	builds, err := s.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, builds)
}

func TestJSONStore_CorruptFile(t *testing.T) {
	s, path := newJSONStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("[{broken"), 0644))

	builds, err := s.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, builds)

	// A corrupt file must not be overwritten by an append
	_, err = s.Append(context.Background(), sampleBuild("AK-74", 5))
	require.Error(t, err)
	data, _ := os.ReadFile(path)
	require.Equal(t, "[{broken", string(data))
}

func TestJSONStore_AppendRoundTrip(t *testing.T) {
	s, _ := newJSONStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, sampleBuild("M4", 8))
	require.NoError(t, err)
	stored, err := s.Append(ctx, sampleBuild("AK-74", 5))
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)
	require.NotEmpty(t, stored.CreatedAt)

	builds, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	if diff := cmp.Diff(stored, builds[len(builds)-1]); diff != "" {
		t.Errorf("last build mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 5, builds[1].ModuleCount())
}

func TestJSONStore_NoTempFilesLeft(t *testing.T) {
	s, path := newJSONStore(t)
	_, err := s.Append(context.Background(), sampleBuild("M4", 5))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "builds.json", entries[0].Name())
}

func TestJSONStore_ConcurrentAppends(t *testing.T) {
	s, _ := newJSONStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(ctx, sampleBuild(fmt.Sprintf("gun-%d", i), 5))
			if err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	builds, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 20)
}

func TestJSONStore_DeleteExactlyOne(t *testing.T) {
	s, path := newJSONStore(t)
	ctx := context.Background()

	// Legacy file without IDs: two builds share a weapon name but differ in role
	a := sampleBuild("AK-74", 5)
	b := sampleBuild("AK-74", 5)
	b.Role = "дальняя"
	c := sampleBuild("M4", 8)
	legacy := fmt.Sprintf(`[%s,%s,%s]`, mustJSON(t, a), mustJSON(t, b), mustJSON(t, c))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	before, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, before, 3)

	require.NoError(t, s.Delete(ctx, before[1]))

	after, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, after, 2)
	require.True(t, after[0].EqualContent(before[0]))
	require.True(t, after[1].EqualContent(before[2]))
	// The rewrite assigned IDs to the remaining legacy records
	require.NotEmpty(t, after[0].ID)
	require.NotEmpty(t, after[1].ID)

	// The stale copy is gone now
	require.True(t, errors.Is(s.Delete(ctx, before[1]), ErrNotFound))
}

func TestJSONStore_DeleteByID(t *testing.T) {
	s, _ := newJSONStore(t)
	ctx := context.Background()

	first, err := s.Append(ctx, sampleBuild("AK-74", 5))
	require.NoError(t, err)
	// Identical content, different identity
	second, err := s.Append(ctx, sampleBuild("AK-74", 5))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, second))
	builds, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	require.Equal(t, first.ID, builds[0].ID)
}

func TestJSONStore_NormalizesLegacyRecords(t *testing.T) {
	s, path := newJSONStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	legacy := `[{"weapon_name":"M4","category":"Топовая мета","type":"assault","modules":{"a":"b"},"author":"x"}]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	builds, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, builds, 1)
	require.Equal(t, catalog.CategoryTopMeta, builds[0].Category)
	require.Equal(t, "Warzone", builds[0].Mode)
}

func TestJSONStore_CanceledContext(t *testing.T) {
	s, _ := newJSONStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Append(ctx, sampleBuild("M4", 5))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteStore_RoundTripAndDelete(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "builds.db"), "Warzone")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a, err := s.Append(ctx, sampleBuild("AK-74", 5))
	require.NoError(t, err)
	b, err := s.Append(ctx, sampleBuild("M4", 8))
	require.NoError(t, err)

	builds, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	if diff := cmp.Diff([]catalog.Build{a, b}, builds); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, s.Delete(ctx, a))
	require.ErrorIs(t, s.Delete(ctx, a), ErrNotFound)

	// Content match without an ID
	noID := b.Clone()
	noID.ID = ""
	require.NoError(t, s.Delete(ctx, noID))

	builds, err = s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, builds)
}

func TestCopy_JSONToSQLite(t *testing.T) {
	src, _ := newJSONStore(t)
	ctx := context.Background()
	for _, name := range []string{"AK-74", "M4", "Kastov 762"} {
		_, err := src.Append(ctx, sampleBuild(name, 5))
		require.NoError(t, err)
	}

	dst, err := NewSQLiteStore(filepath.Join(t.TempDir(), "builds.db"), "Warzone")
	require.NoError(t, err)
	defer dst.Close()

	n, skipped, err := Copy(ctx, src, dst)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Zero(t, skipped)

	want, _ := src.List(ctx)
	got, err := dst.List(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("copied builds mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.DataDir = t.TempDir()

	s, err := Open(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &JSONStore{}, s)

	cfg.Store.Backend = config.StoreBackendSQLite
	s, err = Open(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	cfg.Store.Backend = "mongo"
	_, err = Open(cfg, nil)
	require.Error(t, err)
}

func TestBackup_Prunes(t *testing.T) {
	s, _ := newJSONStore(t)
	ctx := context.Background()
	_, err := s.Append(ctx, sampleBuild("M4", 5))
	require.NoError(t, err)

	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	var last string
	for i := 0; i < 4; i++ {
		last, err = Backup(ctx, s, dir, 2, base.Add(time.Duration(i)*24*time.Hour))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "builds-20260104-040000.json", filepath.Base(last))
	require.Equal(t, "builds-20260103-040000.json", entries[0].Name())

	restored := NewJSONStore(last, "Warzone", nil)
	builds, err := restored.List(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 1)
}

func mustJSON(t *testing.T, b catalog.Build) string {
	t.Helper()
	data, err := json.Marshal(b)
	require.NoError(t, err)
	return string(data)
}

func TestAppend_RejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	js, _ := newJSONStore(t)
	db, err := NewSQLiteStore(filepath.Join(t.TempDir(), "builds.db"), "Warzone")
	require.NoError(t, err)
	defer db.Close()

	for name, s := range map[string]Store{"json": js, "sqlite": db} {
		t.Run(name, func(t *testing.T) {
			stored, err := s.Append(ctx, sampleBuild("AK-74", 5))
			require.NoError(t, err)

			again := sampleBuild("M4", 5)
			again.ID = stored.ID
			_, err = s.Append(ctx, again)
			require.ErrorIs(t, err, ErrDuplicate)

			builds, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, builds, 1)
		})
	}
}

func TestCopy_SkipsIDsAlreadyPresent(t *testing.T) {
	ctx := context.Background()
	src, _ := newJSONStore(t)
	for _, name := range []string{"AK-74", "M4"} {
		_, err := src.Append(ctx, sampleBuild(name, 5))
		require.NoError(t, err)
	}
	db, err := NewSQLiteStore(filepath.Join(t.TempDir(), "builds.db"), "Warzone")
	require.NoError(t, err)
	defer db.Close()

	for name, dst := range map[string]Store{"json": src, "sqlite": db} {
		t.Run(name, func(t *testing.T) {
			_, _, err := Copy(ctx, src, dst)
			require.NoError(t, err)
			added, skipped, err := Copy(ctx, src, dst)
			require.NoError(t, err)
			require.Zero(t, added)
			require.Equal(t, 2, skipped)

			builds, err := dst.List(ctx)
			require.NoError(t, err)
			ids := map[string]bool{}
			for _, b := range builds {
				ids[b.ID] = true
			}
			require.Len(t, builds, 2)
			require.Len(t, ids, 2)
		})
	}
}

func TestReadJSONFile_Strict(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadJSONFile(filepath.Join(dir, "missing.json"), "Warzone")
	require.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"weapon_name": "X",`), 0644))
	_, err = ReadJSONFile(bad, "Warzone")
	require.Error(t, err)

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"weapon_name": "X"}]`), 0644))
	builds, err := ReadJSONFile(good, "Warzone")
	require.NoError(t, err)
	require.Len(t, builds, 1)
	require.Equal(t, "Warzone", builds[0].Mode)
}
