// Package activator adapts a bundle's worker function to the four host
// lifecycle entry points: create, start, stop and destroy.
//
// Each created instance is addressed by a generation-tagged handle. Start runs
// the bundle's ThreadFunc on its own worker; Stop signals it and joins it, so
// the host's stop call returns only once the user logic has finished (or the
// configured stop timeout has elapsed).
package activator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"bundleactivator/internal/bundlectx"
	"bundleactivator/internal/handle"
	"bundleactivator/internal/logger"
	"bundleactivator/internal/sender"
	"bundleactivator/internal/status"
	"bundleactivator/internal/stopsignal"
	"bundleactivator/internal/supervisor"
)

const eventTimeout = 5 * time.Second

// Bundle supplies the worker entry point for a bundle.
type Bundle interface {
	ThreadFunc() supervisor.ThreadFunc
}

// BundleFunc adapts a plain function to Bundle.
type BundleFunc supervisor.ThreadFunc

// ThreadFunc returns f.
func (f BundleFunc) ThreadFunc() supervisor.ThreadFunc {
	return supervisor.ThreadFunc(f)
}

// Option configures an Activator.
type Option func(*Activator)

// WithName sets the bundle name used in logs, worker names and events.
func WithName(name string) Option {
	return func(a *Activator) {
		a.name = name
	}
}

// WithSupervisor sets the supervisor that runs workers. Activators may share
// one supervisor.
func WithSupervisor(sup *supervisor.Supervisor) Option {
	return func(a *Activator) {
		a.sup = sup
	}
}

// WithSender sets the sink for lifecycle events.
func WithSender(s sender.Sender) Option {
	return func(a *Activator) {
		a.sink = s
	}
}

// WithStopTimeout bounds how long Stop waits for the worker. Zero waits
// forever.
func WithStopTimeout(d time.Duration) Option {
	return func(a *Activator) {
		a.stopTimeout.Store(int64(d))
	}
}

// WithClock sets the clock used for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(a *Activator) {
		a.clock = c
	}
}

// WithHostname sets the hostname attached to events.
func WithHostname(hostname string) Option {
	return func(a *Activator) {
		a.hostname = hostname
	}
}

// record is the per-instance state behind a handle.
type record struct {
	mu        sync.Mutex
	created   time.Time
	state     *workerState
	destroyed bool
}

// workerState exists only between a successful Start and the matching Stop.
type workerState struct {
	worker  *supervisor.Worker
	stopper *stopsignal.Sender
}

// Activator implements the host lifecycle entry points for one bundle.
type Activator struct {
	name     string
	bundle   Bundle
	sup      *supervisor.Supervisor
	sink     sender.Sender
	clock    clock.Clock
	hostname string

	stopTimeout atomic.Int64
	active      atomic.Int64
	table       *handle.Table[*record]
}

// New creates an activator for bundle.
func New(bundle Bundle, opts ...Option) *Activator {
	a := &Activator{
		name:   "bundle",
		bundle: bundle,
		table:  handle.NewTable[*record](),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.sup == nil {
		a.sup = supervisor.New()
	}
	if a.sink == nil {
		a.sink = sender.NopSender{}
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	return a
}

// Name returns the bundle name.
func (a *Activator) Name() string {
	return a.name
}

// Active returns the number of instances with a running worker.
func (a *Activator) Active() int {
	return int(a.active.Load())
}

// Len returns the number of live handles.
func (a *Activator) Len() int {
	return a.table.Len()
}

// SetStopTimeout changes the stop timeout for subsequent Stop calls.
func (a *Activator) SetStopTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	a.stopTimeout.Store(int64(d))
}

// StopTimeout returns the current stop timeout.
func (a *Activator) StopTimeout() time.Duration {
	return time.Duration(a.stopTimeout.Load())
}

// Create allocates a new instance with no worker and writes its handle to
// out. The host context is not inspected.
func (a *Activator) Create(_ bundlectx.Host, out *handle.Handle) status.Status {
	if out == nil {
		return a.finish(sender.KindCreated, 0, status.Fault("create", "nil handle output"))
	}

	h := a.table.Insert(&record{created: a.clock.Now()})
	*out = h
	return a.finish(sender.KindCreated, h, nil)
}

// Start spawns the bundle's worker for h. It fails if host is nil, h is not a
// live handle, or a worker is already running for h; in the last case the
// running worker is left untouched.
func (a *Activator) Start(h handle.Handle, host bundlectx.Host) status.Status {
	if bundlectx.IsNil(host) {
		return a.finish(sender.KindStarted, h, status.Fault("start", "nil bundle context"))
	}

	rec, ok := a.table.Get(h)
	if !ok {
		return a.finish(sender.KindStarted, h, status.Faultf("start", "unknown handle %s", h))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.destroyed {
		return a.finish(sender.KindStarted, h, status.Faultf("start", "unknown handle %s", h))
	}
	if rec.state != nil {
		return a.finish(sender.KindStarted, h, status.Fault("start", "worker already running"))
	}

	var fn supervisor.ThreadFunc
	if a.bundle != nil {
		fn = a.bundle.ThreadFunc()
	}
	if fn == nil {
		return a.finish(sender.KindStarted, h, status.Fault("start", "bundle has no thread function"))
	}

	tx, rx := stopsignal.New()
	worker := a.sup.Spawn(fmt.Sprintf("%s/%s", a.name, h), fn, bundlectx.Wrap(host), rx)
	rec.state = &workerState{worker: worker, stopper: tx}
	a.active.Add(1)

	return a.finish(sender.KindStarted, h, nil)
}

// Stop signals the worker for h and waits for it, returning the worker's own
// result as a status. On return h has no worker, whatever the outcome.
func (a *Activator) Stop(h handle.Handle, _ bundlectx.Host) status.Status {
	rec, ok := a.table.Get(h)
	if !ok {
		return a.finish(sender.KindStopped, h, status.Faultf("stop", "unknown handle %s", h))
	}

	rec.mu.Lock()
	state := rec.state
	rec.state = nil
	rec.mu.Unlock()

	if state == nil {
		return a.finish(sender.KindStopped, h, status.Fault("stop", "no worker is running"))
	}
	a.active.Add(-1)

	state.stopper.Send()
	err := state.worker.JoinTimeout(a.StopTimeout())

	return a.finish(sender.KindStopped, h, err)
}

// Destroy releases h. An instance with a running worker must be stopped
// first; destroying it fails and h stays valid.
func (a *Activator) Destroy(h handle.Handle, _ bundlectx.Host) status.Status {
	rec, ok := a.table.Get(h)
	if !ok {
		return a.finish(sender.KindDestroyed, h, status.Faultf("destroy", "unknown handle %s", h))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.state != nil {
		return a.finish(sender.KindDestroyed, h, status.Fault("destroy", "worker still running, stop it first"))
	}
	if _, ok := a.table.Remove(h); !ok {
		return a.finish(sender.KindDestroyed, h, status.Faultf("destroy", "unknown handle %s", h))
	}
	rec.destroyed = true

	return a.finish(sender.KindDestroyed, h, nil)
}

// finish translates err into the status returned to the host, logs the call
// and publishes its event.
func (a *Activator) finish(kind sender.Kind, h handle.Handle, err error) status.Status {
	st := status.ToStatus(err)

	log := logger.WithComponent("activator")
	if err != nil {
		log.Error().Err(err).
			Str("bundle", a.name).
			Stringer("handle", h).
			Int32("status", int32(st)).
			Msgf("Bundle %s failed", kind.Verb())
	} else {
		log.Info().
			Str("bundle", a.name).
			Stringer("handle", h).
			Msgf("Bundle %s", kind)
	}

	ev := &sender.Event{
		Kind:       kind,
		Bundle:     a.name,
		Status:     int32(st),
		StatusText: st.String(),
		Hostname:   a.hostname,
		Timestamp:  a.clock.Now(),
	}
	if !h.IsZero() {
		ev.Handle = h.String()
	}
	if err != nil {
		ev.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if sendErr := a.sink.Send(ctx, ev); sendErr != nil {
		log.Warn().Err(sendErr).
			Str("bundle", a.name).
			Str("kind", string(kind)).
			Msg("Failed to publish lifecycle event")
	}

	return st
}
