// Package supervisor runs bundle user logic on dedicated worker goroutines and
// joins them when the bundle is stopped.
package supervisor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc/panics"

	"bundleactivator/internal/bundlectx"
	"bundleactivator/internal/logger"
	"bundleactivator/internal/status"
	"bundleactivator/internal/stopsignal"
)

// ThreadFunc is the user-supplied worker entry point. It must watch stop and
// return promptly once the signal arrives; a ThreadFunc that never does makes
// the bundle's stop call block forever unless a join timeout is set.
type ThreadFunc func(ctx *bundlectx.Context, stop *stopsignal.Receiver) error

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock used for join timeouts.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) {
		s.clock = c
	}
}

// WithLockOSThread pins every worker goroutine to its own OS thread for the
// worker's lifetime.
func WithLockOSThread(lock bool) Option {
	return func(s *Supervisor) {
		s.lockOSThread = lock
	}
}

// Supervisor spawns and tracks workers.
type Supervisor struct {
	clock        clock.Clock
	lockOSThread bool

	wg     sync.WaitGroup
	live   atomic.Int64
	leaked atomic.Int64
}

// New creates a supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		clock: clock.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Spawn starts fn on a new worker goroutine with ctx and stop, and returns the
// handle used to join it.
func (s *Supervisor) Spawn(name string, fn ThreadFunc, ctx *bundlectx.Context, stop *stopsignal.Receiver) *Worker {
	w := &Worker{
		name:    name,
		sup:     s,
		done:    make(chan struct{}),
		started: s.clock.Now(),
	}

	s.wg.Add(1)
	s.live.Add(1)
	go s.run(w, fn, ctx, stop)

	log := logger.WithComponent("supervisor")
	log.Debug().
		Str("worker", name).
		Bool("lock_os_thread", s.lockOSThread).
		Msg("Worker spawned")

	return w
}

func (s *Supervisor) run(w *Worker, fn ThreadFunc, ctx *bundlectx.Context, stop *stopsignal.Receiver) {
	returned := false
	defer func() {
		if !returned {
			w.err = status.Fault("join", "worker exited without returning a result")
		}
		w.finished = s.clock.Now()
		s.live.Add(-1)
		close(w.done)
		s.wg.Done()
	}()

	if s.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = fn(ctx, stop)
	})

	if r := pc.Recovered(); r != nil {
		err = status.Panicked("join", r.Value, r.Stack)
		log := logger.WithComponent("supervisor")
		log.Error().
			Str("worker", w.name).
			Interface("panic", r.Value).
			Bytes("stack", r.Stack).
			Msg("Worker panicked")
	}

	w.err = err
	returned = true
}

// Live returns the number of workers that have not finished.
func (s *Supervisor) Live() int {
	return int(s.live.Load())
}

// Leaked returns how many workers were detached after a join timeout.
func (s *Supervisor) Leaked() int {
	return int(s.leaked.Load())
}

// Wait blocks until every spawned worker has finished, including detached
// ones.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
