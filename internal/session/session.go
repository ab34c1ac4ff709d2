// Package session keeps per-chat conversation state in memory.
package session

import (
	"sync"
	"time"
)

// Flow names the conversation a session is in.
type Flow string

const (
	FlowNone    Flow = ""
	FlowAdd     Flow = "add"
	FlowDelete  Flow = "delete"
	FlowView    Flow = "view"
	FlowShowAll Flow = "show_all"
)

// Session is the state of one chat. State holds the flow's own struct.
type Session struct {
	ChatID  int64
	UserID  int64
	Flow    Flow
	Step    int
	State   any
	Started time.Time
	Touched time.Time
}

// Manager owns every live session.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		now:      time.Now,
	}
}

// Get returns the chat's session and refreshes its idle timer.
func (m *Manager) Get(chatID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if ok {
		s.Touched = m.now()
	}
	return s, ok
}

// Start replaces any existing session of the chat with a fresh one.
func (m *Manager) Start(chatID, userID int64, flow Flow, state any) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s := &Session{
		ChatID:  chatID,
		UserID:  userID,
		Flow:    flow,
		State:   state,
		Started: now,
		Touched: now,
	}
	m.sessions[chatID] = s
	return s
}

// End discards the chat's session.
func (m *Manager) End(chatID int64) {
	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
}

// Sweep evicts sessions idle for longer than idle and returns how many.
func (m *Manager) Sweep(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-idle)
	n := 0
	for id, s := range m.sessions {
		if s.Touched.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Counts returns the number of live sessions per flow.
func (m *Manager) Counts() map[Flow]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Flow]int)
	for _, s := range m.sessions {
		out[s.Flow]++
	}
	return out
}
