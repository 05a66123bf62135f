package bundlectx

import (
	"fmt"
	"reflect"

	"bundleactivator/internal/status"
)

// Registration describes a service to publish with the host.
type Registration struct {
	ServiceName string
	Version     string
	Properties  map[string]string
	Service     any
	Owned       bool
}

// RegistrationBuilder assembles a Registration for a service of type T.
type RegistrationBuilder[T any] struct {
	ctx     *Context
	name    string
	version string
	props   map[string]string
	svc     *T
	owned   bool
}

// RegisterService starts building a registration of a T service against ctx.
// The service name defaults to T's type name.
func RegisterService[T any](ctx *Context) *RegistrationBuilder[T] {
	return &RegistrationBuilder[T]{
		ctx:  ctx,
		name: reflect.TypeOf((*T)(nil)).Elem().String(),
	}
}

// WithOwnedService registers a copy of svc owned by the registration.
func (b *RegistrationBuilder[T]) WithOwnedService(svc T) *RegistrationBuilder[T] {
	owned := new(T)
	*owned = svc
	b.svc = owned
	b.owned = true
	return b
}

// WithBorrowedService registers svc itself; the caller keeps ownership and
// must keep it valid while registered.
func (b *RegistrationBuilder[T]) WithBorrowedService(svc *T) *RegistrationBuilder[T] {
	b.svc = svc
	b.owned = false
	return b
}

// WithName overrides the service name.
func (b *RegistrationBuilder[T]) WithName(name string) *RegistrationBuilder[T] {
	b.name = name
	return b
}

// WithVersion sets the service version.
func (b *RegistrationBuilder[T]) WithVersion(version string) *RegistrationBuilder[T] {
	b.version = version
	return b
}

// WithProperty adds a service property.
func (b *RegistrationBuilder[T]) WithProperty(key, value string) *RegistrationBuilder[T] {
	if b.props == nil {
		b.props = make(map[string]string)
	}
	b.props[key] = value
	return b
}

// Build returns the registration without publishing it.
func (b *RegistrationBuilder[T]) Build() (*Registration, error) {
	if b.svc == nil {
		return nil, status.Faultf("register", "no service set for %s", b.name)
	}
	if b.name == "" {
		return nil, status.Fault("register", "empty service name")
	}

	props := make(map[string]string, len(b.props))
	for k, v := range b.props {
		props[k] = v
	}

	return &Registration{
		ServiceName: b.name,
		Version:     b.version,
		Properties:  props,
		Service:     b.svc,
		Owned:       b.owned,
	}, nil
}

// Register builds the registration and publishes it with the host.
func (b *RegistrationBuilder[T]) Register() (int64, error) {
	if b.ctx == nil {
		return 0, status.Fault("register", "nil bundle context")
	}
	reg, err := b.Build()
	if err != nil {
		return 0, err
	}
	id, err := b.ctx.host.RegisterService(reg)
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", reg.ServiceName, err)
	}
	return id, nil
}
