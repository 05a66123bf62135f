// Package heartbeat is a sample bundle: it publishes a Service and counts
// ticks at a fixed interval until it is told to stop.
package heartbeat

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"bundleactivator/internal/bundlectx"
	"bundleactivator/internal/logger"
	"bundleactivator/internal/stopsignal"
	"bundleactivator/internal/supervisor"
)

// ServiceName is the name the heartbeat service is published under.
const ServiceName = "heartbeat.Service"

const defaultInterval = 10 * time.Second

// Service is the view of a running heartbeat published to the host.
type Service struct {
	bundle *Bundle
}

// Beats returns the number of ticks counted so far.
func (s *Service) Beats() int64 {
	return s.bundle.beats.Load()
}

// Option configures a Bundle.
type Option func(*Bundle)

// WithClock sets the clock driving the ticker.
func WithClock(c clock.Clock) Option {
	return func(b *Bundle) {
		b.clock = c
	}
}

// WithOnBeat sets a callback invoked on the worker after every tick.
func WithOnBeat(fn func(n int64)) Option {
	return func(b *Bundle) {
		b.onBeat = fn
	}
}

// Bundle ticks every interval while started.
type Bundle struct {
	name     string
	interval time.Duration
	clock    clock.Clock
	onBeat   func(n int64)
	beats    atomic.Int64
	service  Service
}

// New creates a heartbeat bundle. A non-positive interval uses the default.
func New(name string, interval time.Duration, opts ...Option) *Bundle {
	if interval <= 0 {
		interval = defaultInterval
	}
	b := &Bundle{
		name:     name,
		interval: interval,
		clock:    clock.New(),
	}
	b.service.bundle = b
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ThreadFunc returns the worker entry point.
func (b *Bundle) ThreadFunc() supervisor.ThreadFunc {
	return b.run
}

// Beats returns the number of ticks counted across all runs.
func (b *Bundle) Beats() int64 {
	return b.beats.Load()
}

func (b *Bundle) run(ctx *bundlectx.Context, stop *stopsignal.Receiver) error {
	log := logger.WithComponent("heartbeat")

	id, err := bundlectx.RegisterService[Service](ctx).
		WithBorrowedService(&b.service).
		WithName(ServiceName).
		WithVersion("1.0.0").
		WithProperty("bundle", b.name).
		WithProperty("interval", b.interval.String()).
		Register()
	if err != nil {
		return err
	}

	log.Info().
		Str("bundle", b.name).
		Int64("bundle_id", ctx.BundleID()).
		Int64("service_id", id).
		Dur("interval", b.interval).
		Msg("Heartbeat running")

	ticker := b.clock.Ticker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Done():
			log.Info().
				Str("bundle", b.name).
				Int64("beats", b.beats.Load()).
				Msg("Heartbeat stopped")
			return nil
		case <-ticker.C:
			n := b.beats.Add(1)
			log.Debug().Str("bundle", b.name).Int64("beat", n).Msg("Beat")
			if b.onBeat != nil {
				b.onBeat(n)
			}
		}
	}
}
