package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the bookkeeping one loop instance maintains across ticks. It is
// the only scheduler state there is: the loop holds no in-memory task queue,
// every tick re-derives its candidate set from the store.
type State struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"-"`
	Schedule   string        `json:"schedule"`
	Running    bool          `json:"running"`
	LastRun    *time.Time    `json:"lastRun,omitempty"`
	NextRun    *time.Time    `json:"nextRun,omitempty"`
	ErrorCount int           `json:"errorCount"`
}

// Scheduler drives a recurring tick on a fixed interval. Start and Stop are
// idempotent: a second Start while running is a no-op that returns false
// rather than a second timer.
type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   func(context.Context) error

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	stateMu sync.Mutex
	state   State
}

func New(name string, interval time.Duration, tickFn func(context.Context) error) (*Scheduler, error) {
	if name == "" {
		return nil, errors.New("name must not be empty")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
		state: State{
			Name:     name,
			Interval: interval,
			Schedule: "every " + interval.String(),
		},
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("scheduler started", "name", s.name, "interval", s.interval.String())

		// Cold-start flush: tasks that came due while the service was down
		// must not wait for the first timer tick.
		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping", "name", s.name)
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("scheduler stopped", "name", s.name)
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Snapshot returns a copy of the loop's bookkeeping for the status endpoint.
func (s *Scheduler) Snapshot() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	st := s.state
	st.Running = s.running.Load()
	if st.LastRun != nil {
		lr := *st.LastRun
		st.LastRun = &lr
	}
	if st.NextRun != nil {
		nr := *st.NextRun
		st.NextRun = &nr
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now().UTC()
	next := start.Add(s.interval)

	s.stateMu.Lock()
	s.state.LastRun = &start
	s.state.NextRun = &next
	s.stateMu.Unlock()

	err := s.runTick(ctx)

	s.stateMu.Lock()
	if err != nil {
		s.state.ErrorCount++
	} else {
		s.state.ErrorCount = 0
	}
	s.stateMu.Unlock()

	if err != nil {
		slog.Error("scheduler tick failed", "name", s.name, "error", err)
		return
	}
	slog.Info("scheduler tick completed", "name", s.name, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) runTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler tick panic recovered", "name", s.name, "panic", r)
			err = errors.New("tick panicked")
		}
	}()
	return s.tickFn(ctx)
}
