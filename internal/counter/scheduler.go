package counter

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler resets a Store every window duration while the local node owns
// the limiter singleton. The first reset fires one full window after Start;
// each reset reschedules the next, so window boundaries are monotonic within
// one owner's tenure but not synchronized across failovers.
type Scheduler struct {
	store    *Store
	interval time.Duration
	onReset  func(windowID int64)

	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
	crashed chan struct{}
}

// SchedulerOption configures optional scheduler behavior.
type SchedulerOption func(*Scheduler)

// WithResetHook registers a callback invoked after every window reset with
// the id of the freshly started window. Used for journaling and metrics.
func WithResetHook(fn func(windowID int64)) SchedulerOption {
	return func(s *Scheduler) {
		s.onReset = fn
	}
}

// NewScheduler creates a scheduler that resets store every interval.
func NewScheduler(store *Store, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		crashed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the reset loop. It returns immediately.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop cancels the pending reset and waits for the loop to exit. Safe to call
// more than once and after a crash.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

// Crashed is closed if the reset loop dies abnormally, e.g. a panicking reset
// hook. The supervisor watches it to restart the singleton instance.
func (s *Scheduler) Crashed() <-chan struct{} {
	return s.crashed
}

func (s *Scheduler) run() {
	defer close(s.stopped)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("window scheduler crashed", "panic", r)
			close(s.crashed)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.store.Reset()
			if s.onReset != nil {
				s.onReset(s.store.Window().ID)
			}
		}
	}
}
