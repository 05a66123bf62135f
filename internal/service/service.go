// Package service runs the bundle host as a foreground process or a system
// service.
package service

import (
	"context"
	"time"
)

// Name is the service name registered with the OS.
const Name = "BundleHost"

// DefaultStopGrace bounds how long Stop waits for the run function after a
// shutdown request. It should exceed the bundles' stop timeout.
const DefaultStopGrace = 30 * time.Second

// Service defines the interface for platform-specific service management.
type Service interface {
	// Run starts the service. It blocks until the service is stopped.
	Run(ctx context.Context) error

	// Stop requests the service to stop.
	Stop() error

	// IsService returns true if running as a system service.
	IsService() bool
}

// RunFunc runs the host until ctx is cancelled.
type RunFunc func(ctx context.Context) error

// Option configures a Service.
type Option func(*options)

type options struct {
	stopGrace func() time.Duration
}

// WithStopGrace sets how long to wait for the run function to return after a
// shutdown request. Zero waits forever.
func WithStopGrace(d time.Duration) Option {
	return func(o *options) {
		o.stopGrace = func() time.Duration { return d }
	}
}

// WithStopGraceFunc is like WithStopGrace, but fn is asked for the grace when
// the shutdown request arrives, so a reloaded value takes effect.
func WithStopGraceFunc(fn func() time.Duration) Option {
	return func(o *options) {
		if fn != nil {
			o.stopGrace = fn
		}
	}
}

func newOptions(opts []Option) options {
	o := options{}
	WithStopGrace(DefaultStopGrace)(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// graceTimer returns a channel that fires after d, or never when d is zero.
func graceTimer(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}
