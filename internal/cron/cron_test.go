package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/session"
	"github.com/stellarlinkco/ndsborki/internal/store"
)

func TestService_AddJob(t *testing.T) {
	s := NewService("", nil)

	if err := s.AddJob("sweep", "@every 1m", func(ctx context.Context) (string, error) { return "", nil }); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if err := s.AddJob("sweep", "@every 1m", nil); err == nil {
		t.Error("expected error for duplicate job name")
	}
	if err := s.AddJob("bad", "invalid", nil); err == nil {
		t.Error("expected error for invalid schedule")
	}

	status := s.Status()
	if len(status) != 1 || status[0].Name != "sweep" || status[0].Schedule != "@every 1m" {
		t.Errorf("status = %+v", status)
	}
}

func TestService_RunNow_RecordsState(t *testing.T) {
	tmpDir := t.TempDir()
	statePath := filepath.Join(tmpDir, "cron_state.json")
	s := NewService(statePath, nil)
	fixed := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	fail := true
	s.AddJob("flaky", "0 0 4 * * *", func(ctx context.Context) (string, error) {
		if fail {
			return "", fmt.Errorf("disk full")
		}
		return "ok result", nil
	})

	if err := s.RunNow("flaky"); err == nil {
		t.Fatal("expected job error")
	}
	st := s.Status()[0].State
	if st.LastStatus != "error" || st.LastError != "disk full" || st.Runs != 1 {
		t.Errorf("state after failure = %+v", st)
	}

	fail = false
	if err := s.RunNow("flaky"); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}
	st = s.Status()[0].State
	if st.LastStatus != "ok" || st.LastError != "" || st.LastResult != "ok result" || st.Runs != 2 {
		t.Errorf("state after success = %+v", st)
	}
	if !st.LastRunAt.Equal(fixed) {
		t.Errorf("lastRunAt = %v, want %v", st.LastRunAt, fixed)
	}

	// Verify persistence
	data, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var stored map[string]JobState
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stored["flaky"].Runs != 2 {
		t.Errorf("stored runs = %d, want 2", stored["flaky"].Runs)
	}

	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestService_StateSurvivesRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "cron_state.json")

	s1 := NewService(statePath, nil)
	s1.AddJob("backup", "@every 1h", func(ctx context.Context) (string, error) { return "done", nil })
	s1.RunNow("backup")

	s2 := NewService(statePath, nil)
	s2.AddJob("backup", "@every 1h", func(ctx context.Context) (string, error) { return "done", nil })
	if err := s2.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s2.Stop()

	st := s2.Status()[0]
	if st.State.Runs != 1 || st.State.LastStatus != "ok" {
		t.Errorf("loaded state = %+v", st.State)
	}
	if st.Next.IsZero() {
		t.Error("next run should be scheduled after Start")
	}
}

func TestService_CorruptStateIsIgnored(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "cron_state.json")
	os.WriteFile(statePath, []byte("{broken"), 0644)

	s := NewService(statePath, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("Start should not fail on corrupt state: %v", err)
	}
	s.Stop()
}

func TestService_ScheduledExecution(t *testing.T) {
	s := NewService("", nil)

	var count atomic.Int32
	s.AddJob("tick", "* * * * * *", func(ctx context.Context) (string, error) {
		count.Add(1)
		return "tick", nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()

	if count.Load() == 0 {
		t.Fatal("expected at least one scheduled execution")
	}
	after := count.Load()
	time.Sleep(1200 * time.Millisecond)
	if count.Load() != after {
		t.Errorf("job ran after Stop: %d -> %d", after, count.Load())
	}
}

func TestService_StopWithoutStart(t *testing.T) {
	s := NewService("", nil)
	// Should not panic or block
	s.Stop()
}

func TestSessionSweepJob(t *testing.T) {
	m := session.NewManager()
	m.Start(1, 1, session.FlowView, nil)

	job := SessionSweepJob(m, -time.Second)
	result, err := job(context.Background())
	if err != nil {
		t.Fatalf("job error: %v", err)
	}
	if result != "evicted 1 sessions" {
		t.Errorf("result = %q", result)
	}
	if m.Len() != 0 {
		t.Errorf("sessions = %d, want 0", m.Len())
	}
}

func TestBackupJob(t *testing.T) {
	dir := t.TempDir()
	st := store.NewJSONStore(filepath.Join(dir, "builds.json"), "Warzone", nil)
	if _, err := st.Append(context.Background(), catalog.Build{WeaponName: "AK-74", Category: catalog.CategoryMeta}); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := BackupJob(st, filepath.Join(dir, "backups"), 3, func() time.Time { return at })
	path, err := job(context.Background())
	if err != nil {
		t.Fatalf("job error: %v", err)
	}
	if filepath.Base(path) != "builds-20260102-030405.json" {
		t.Errorf("backup path = %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}
