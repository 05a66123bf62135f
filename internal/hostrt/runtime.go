// Package hostrt is a minimal in-process host that drives bundle activators
// through their lifecycle the way a framework would: create and start on
// startup, stop and destroy in reverse order on shutdown.
package hostrt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"bundleactivator/internal/bundlectx"
	"bundleactivator/internal/handle"
	"bundleactivator/internal/logger"
	"bundleactivator/internal/status"
)

// Lifecycle is the set of entry points a bundle exposes to its host.
type Lifecycle interface {
	Name() string
	Create(host bundlectx.Host, out *handle.Handle) status.Status
	Start(h handle.Handle, host bundlectx.Host) status.Status
	Stop(h handle.Handle, host bundlectx.Host) status.Status
	Destroy(h handle.Handle, host bundlectx.Host) status.Status
	SetStopTimeout(d time.Duration)
}

// ServiceRecord is a service published by a bundle.
type ServiceRecord struct {
	ID          int64
	BundleID    int64
	Bundle      string
	ServiceName string
	Version     string
	Properties  map[string]string
	Service     any
}

type installed struct {
	lc      Lifecycle
	ctx     *bundleContext
	handle  handle.Handle
	created bool
	started bool
}

// Runtime installs bundles and drives their lifecycle.
type Runtime struct {
	mu        sync.Mutex
	bundles   []*installed
	running   bool
	nextID    int64
	services  map[int64]ServiceRecord
	nextSvcID int64
}

// New creates an empty runtime.
func New() *Runtime {
	return &Runtime{
		services: make(map[int64]ServiceRecord),
	}
}

// Install adds a bundle. Bundles start in install order and stop in reverse.
func (r *Runtime) Install(lc Lifecycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cannot install bundle %s while running", lc.Name())
	}
	for _, b := range r.bundles {
		if b.lc.Name() == lc.Name() {
			return fmt.Errorf("bundle %s already installed", lc.Name())
		}
	}

	r.nextID++
	r.bundles = append(r.bundles, &installed{
		lc:  lc,
		ctx: &bundleContext{id: r.nextID, name: lc.Name(), rt: r},
	})
	return nil
}

// Start creates and starts every installed bundle. If one fails, the bundles
// already started are stopped again and the error is returned.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	bundles := append([]*installed(nil), r.bundles...)
	r.mu.Unlock()

	log := logger.WithComponent("hostrt")
	log.Info().Int("bundles", len(bundles)).Msg("Starting bundles")

	for _, b := range bundles {
		if err := ctx.Err(); err != nil {
			return r.abort(fmt.Errorf("start interrupted: %w", err))
		}
		if err := r.startBundle(b); err != nil {
			return r.abort(err)
		}
	}

	log.Info().Msg("All bundles started")
	return nil
}

func (r *Runtime) startBundle(b *installed) error {
	log := logger.WithComponent("hostrt")
	name := b.lc.Name()

	if st := b.lc.Create(b.ctx, &b.handle); st != status.Success {
		return fmt.Errorf("create bundle %s: %w", name, status.FromStatus(st))
	}
	b.created = true

	if st := b.lc.Start(b.handle, b.ctx); st != status.Success {
		return fmt.Errorf("start bundle %s: %w", name, status.FromStatus(st))
	}
	b.started = true

	log.Info().
		Str("bundle", name).
		Int64("bundle_id", b.ctx.id).
		Stringer("handle", b.handle).
		Msg("Bundle started")
	return nil
}

func (r *Runtime) abort(cause error) error {
	if err := r.Stop(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Stop stops and destroys every bundle in reverse install order. All bundles
// are visited even when some fail; the failures are joined.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	bundles := append([]*installed(nil), r.bundles...)
	r.mu.Unlock()

	log := logger.WithComponent("hostrt")
	log.Info().Msg("Stopping bundles")

	var errs []error
	for i := len(bundles) - 1; i >= 0; i-- {
		if err := r.stopBundle(bundles[i]); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		log.Error().Int("failed", len(errs)).Msg("Bundles stopped with errors")
	} else {
		log.Info().Msg("All bundles stopped")
	}
	return errors.Join(errs...)
}

func (r *Runtime) stopBundle(b *installed) error {
	var errs []error
	name := b.lc.Name()

	if b.started {
		b.started = false
		if st := b.lc.Stop(b.handle, b.ctx); st != status.Success {
			errs = append(errs, fmt.Errorf("stop bundle %s: %w", name, status.FromStatus(st)))
		}
	}
	r.unregisterAll(b.ctx.id)

	if b.created {
		b.created = false
		if st := b.lc.Destroy(b.handle, b.ctx); st != status.Success {
			errs = append(errs, fmt.Errorf("destroy bundle %s: %w", name, status.FromStatus(st)))
		}
		b.handle = 0
	}
	return errors.Join(errs...)
}

// IsRunning returns whether the bundles are started.
func (r *Runtime) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// SetStopTimeout applies a new stop timeout to every installed bundle.
func (r *Runtime) SetStopTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.bundles {
		b.lc.SetStopTimeout(d)
	}
	log := logger.WithComponent("hostrt")
	log.Info().Dur("stop_timeout", d).Msg("Stop timeout updated")
}

// Services returns the published services ordered by service id.
func (r *Runtime) Services() []ServiceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ServiceRecord, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Runtime) register(bc *bundleContext, reg *bundlectx.Registration) (int64, error) {
	if reg == nil || reg.ServiceName == "" {
		return 0, status.FromStatus(status.IllegalArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSvcID++
	r.services[r.nextSvcID] = ServiceRecord{
		ID:          r.nextSvcID,
		BundleID:    bc.id,
		Bundle:      bc.name,
		ServiceName: reg.ServiceName,
		Version:     reg.Version,
		Properties:  reg.Properties,
		Service:     reg.Service,
	}

	log := logger.WithComponent("hostrt")
	log.Info().
		Str("bundle", bc.name).
		Str("service", reg.ServiceName).
		Int64("service_id", r.nextSvcID).
		Msg("Service registered")
	return r.nextSvcID, nil
}

func (r *Runtime) unregisterAll(bundleID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.services {
		if s.BundleID == bundleID {
			delete(r.services, id)
		}
	}
}

// bundleContext is the per-bundle host binding handed to activators.
type bundleContext struct {
	id   int64
	name string
	rt   *Runtime
}

func (c *bundleContext) BundleID() int64 {
	return c.id
}

func (c *bundleContext) RegisterService(reg *bundlectx.Registration) (int64, error) {
	return c.rt.register(c, reg)
}
