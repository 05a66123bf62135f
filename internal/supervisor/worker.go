package supervisor

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"bundleactivator/internal/logger"
	"bundleactivator/internal/status"
)

// Worker is the join handle of one spawned worker.
type Worker struct {
	name     string
	sup      *Supervisor
	done     chan struct{}
	err      error
	started  time.Time
	finished time.Time
}

// Name returns the worker name given to Spawn.
func (w *Worker) Name() string {
	return w.name
}

// Done returns a channel closed when the worker has finished.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Running reports whether the worker has not finished yet.
func (w *Worker) Running() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Join blocks until the worker finishes and returns its result. A panic or an
// exit without a result is reported as the lifecycle fault.
func (w *Worker) Join() error {
	<-w.done
	return w.err
}

// JoinTimeout is Join bounded by d on the supervisor clock. A d of zero or
// less waits forever. When d elapses first the worker is left running
// detached and a fault caused by a *LeakError is returned.
func (w *Worker) JoinTimeout(d time.Duration) error {
	if d <= 0 {
		return w.Join()
	}

	timer := w.sup.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-w.done:
		return w.err
	case <-timer.C:
	}

	// The worker may have finished while the timer fired.
	if !w.Running() {
		return w.err
	}

	w.sup.leaked.Add(1)
	leak := newLeakError(w.name, d)

	log := logger.WithComponent("supervisor")
	log.Warn().
		Str("worker", w.name).
		Dur("waited", d).
		Int("goroutines", leak.Goroutines).
		Int32("os_threads", leak.OSThreads).
		Msg("Worker did not stop in time, detaching")

	return status.Wrap("join", leak)
}

// Elapsed returns how long the worker ran, or has been running so far.
func (w *Worker) Elapsed() time.Duration {
	if w.Running() {
		return w.sup.clock.Since(w.started)
	}
	return w.finished.Sub(w.started)
}

// LeakError reports a worker that ignored its stop signal past the join
// timeout.
type LeakError struct {
	Worker     string
	Waited     time.Duration
	Goroutines int
	OSThreads  int32
}

func newLeakError(name string, waited time.Duration) *LeakError {
	leak := &LeakError{
		Worker:     name,
		Waited:     waited,
		Goroutines: runtime.NumGoroutine(),
		OSThreads:  -1,
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if n, err := p.NumThreads(); err == nil {
			leak.OSThreads = n
		}
	}

	return leak
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("worker %s did not stop within %s (goroutines=%d os_threads=%d)",
		e.Worker, e.Waited, e.Goroutines, e.OSThreads)
}
