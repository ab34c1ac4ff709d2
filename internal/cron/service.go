// Package cron runs the bot's maintenance jobs on robfig/cron schedules and
// remembers the outcome of each job's last run across restarts.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc does one unit of maintenance and returns a short summary.
type JobFunc func(ctx context.Context) (string, error)

// JobState is the persisted outcome of a job's most recent run.
type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	LastResult string    `json:"lastResult,omitempty"`
	Runs       int       `json:"runs"`
}

// JobStatus describes a registered job for status output.
type JobStatus struct {
	Name     string
	Schedule string
	Next     time.Time
	State    JobState
}

type job struct {
	name     string
	schedule string
	fn       JobFunc
	entry    rcron.EntryID
}

type Service struct {
	statePath string
	logger    *zap.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	states map[string]JobState
	cron   *rcron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewService creates a scheduler; statePath may be empty to skip persistence.
func NewService(statePath string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		statePath: statePath,
		logger:    logger.Named("cron"),
		jobs:      make(map[string]*job),
		states:    make(map[string]JobState),
		cron:      rcron.New(rcron.WithSeconds()),
		now:       time.Now,
	}
}

// AddJob registers fn under name. The schedule uses six fields (with seconds)
// or a descriptor such as "@every 1m".
func (s *Service) AddJob(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, schedule: schedule, fn: fn}
	id, err := s.cron.AddFunc(schedule, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, schedule, err)
	}
	j.entry = id
	s.jobs[name] = j
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.load(); err != nil {
		s.logger.Warn("failed to load job state", zap.Error(err))
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("started", zap.Int("jobs", n))
	return nil
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return s.execute(j)
}

func (s *Service) execute(j *job) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	result, err := j.fn(ctx)

	s.mu.Lock()
	st := s.states[j.name]
	st.LastRunAt = s.now()
	st.Runs++
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
		st.LastResult = ""
		s.logger.Error("job failed", zap.String("job", j.name), zap.Error(err))
	} else {
		st.LastStatus = "ok"
		st.LastError = ""
		st.LastResult = truncate(result, 100)
		s.logger.Debug("job done", zap.String("job", j.name), zap.String("result", st.LastResult))
	}
	s.states[j.name] = st
	if saveErr := s.save(); saveErr != nil {
		s.logger.Warn("failed to save job state", zap.Error(saveErr))
	}
	s.mu.Unlock()
	return err
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("stop timeout waiting for running jobs")
	}
	s.logger.Info("stopped")
}

// Status lists every job sorted by name.
func (s *Service) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		out = append(out, JobStatus{
			Name:     name,
			Schedule: j.schedule,
			Next:     s.cron.Entry(j.entry).Next,
			State:    s.states[name],
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Service) load() error {
	if s.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	states := make(map[string]JobState)
	if err := json.Unmarshal(data, &states); err != nil {
		return err
	}
	s.mu.Lock()
	for name, st := range states {
		if _, seen := s.states[name]; !seen {
			s.states[name] = st
		}
	}
	s.mu.Unlock()
	return nil
}

// save must be called with s.mu held.
func (s *Service) save() error {
	if s.statePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.states, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.statePath, data, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
