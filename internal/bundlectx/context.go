// Package bundlectx wraps the host runtime's bundle context so it can be
// handed to a worker goroutine.
package bundlectx

import "reflect"

// Host is the binding to the host runtime's per-bundle execution context.
// Implementations must be safe for concurrent reads: the adapter shares one
// Host between the lifecycle caller and the worker, and never mutates or
// releases it.
type Host interface {
	// BundleID returns the id the host assigned to the bundle.
	BundleID() int64

	// RegisterService publishes a service with the host and returns its
	// service id. Failures should carry a host status (see package status).
	RegisterService(reg *Registration) (int64, error)
}

// Context is the handle a worker receives to talk to its host. It is valid
// from start until the worker returns.
type Context struct {
	host Host
}

// IsNil reports whether host is nil, including a non-nil Host holding a nil
// pointer.
func IsNil(host Host) bool {
	if host == nil {
		return true
	}
	v := reflect.ValueOf(host)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Wrap returns a Context for host, or nil if host is nil.
func Wrap(host Host) *Context {
	if IsNil(host) {
		return nil
	}
	return &Context{host: host}
}

// BundleID returns the host's id for this bundle.
func (c *Context) BundleID() int64 {
	return c.host.BundleID()
}

// Host returns the wrapped host binding.
func (c *Context) Host() Host {
	return c.host
}
