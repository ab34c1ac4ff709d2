package session

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager()
	m.now = clock.now
	return m, clock
}

func TestManager_StartGetEnd(t *testing.T) {
	m, _ := newTestManager()
	if _, ok := m.Get(1); ok {
		t.Fatal("unexpected session before start")
	}

	s := m.Start(1, 10, FlowView, "state")
	if s.Flow != FlowView || s.UserID != 10 {
		t.Errorf("session = %+v", s)
	}
	got, ok := m.Get(1)
	if !ok || got != s {
		t.Fatal("Get should return the started session")
	}

	// Start replaces
	s2 := m.Start(1, 10, FlowAdd, nil)
	got, _ = m.Get(1)
	if got != s2 || got.Flow != FlowAdd {
		t.Error("Start should replace the previous session")
	}

	m.End(1)
	if _, ok := m.Get(1); ok {
		t.Error("session should be gone after End")
	}
	if m.Len() != 0 {
		t.Errorf("len = %d, want 0", m.Len())
	}
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m, _ := newTestManager()
	m.Start(1, 1, FlowView, nil)
	m.Start(2, 2, FlowAdd, nil)
	m.End(1)
	if _, ok := m.Get(2); !ok {
		t.Error("ending chat 1 must not affect chat 2")
	}
	counts := m.Counts()
	if counts[FlowAdd] != 1 || counts[FlowView] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestManager_Sweep(t *testing.T) {
	m, clock := newTestManager()
	m.Start(1, 1, FlowView, nil)
	clock.t = clock.t.Add(20 * time.Minute)
	m.Start(2, 2, FlowAdd, nil)
	clock.t = clock.t.Add(15 * time.Minute)

	if n := m.Sweep(30 * time.Minute); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if _, ok := m.Get(1); ok {
		t.Error("idle session 1 should be evicted")
	}

	// Get refreshes the idle timer
	clock.t = clock.t.Add(10 * time.Minute)
	m.Get(2)
	clock.t = clock.t.Add(25 * time.Minute)
	if n := m.Sweep(30 * time.Minute); n != 0 {
		t.Errorf("swept = %d, want 0 after touch", n)
	}
}
