// Package registry holds the static catalog of deployable services.
// This is part of the Functional Core - no I/O.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

// ErrUnknownService is matched by every UnknownServiceError.
var ErrUnknownService = errors.New("unknown service")

// UnknownServiceError is returned when a name is not in the registry.
type UnknownServiceError struct {
	Name  string
	Known []string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// Is reports whether target is ErrUnknownService.
func (e *UnknownServiceError) Is(target error) bool {
	return target == ErrUnknownService
}

// =============================================================================
// Registry
// =============================================================================

// DefaultServices is the service catalog of the reference deployment, in deploy order.
var DefaultServices = []string{
	"server",    // web API
	"bot",       // chat bot
	"ai",        // AI worker
	"chronos",   // metrics collector
	"sockets",   // socket/event server
	"scheduler", // scheduled-job runner
}

// Registry is an immutable, ordered set of service names.
type Registry struct {
	names []string
	index map[string]int
}

// New builds a registry from names. Order is preserved.
// Empty and duplicate names are rejected. Names must be lowercase to match
// the case-folded per-service configuration keys.
func New(names ...string) (*Registry, error) {
	r := &Registry{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, errors.New("registry: empty service name")
		}
		if n != strings.ToLower(n) {
			return nil, fmt.Errorf("registry: service %q must be lowercase", n)
		}
		if _, dup := r.index[n]; dup {
			return nil, fmt.Errorf("registry: duplicate service %q", n)
		}
		r.index[n] = len(r.names)
		r.names = append(r.names, n)
	}
	if len(r.names) == 0 {
		return nil, errors.New("registry: no services")
	}
	return r, nil
}

// Default returns a registry with DefaultServices.
func Default() *Registry {
	r, err := New(DefaultServices...)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate returns nil if name is registered, *UnknownServiceError otherwise.
func (r *Registry) Validate(name string) error {
	if r.Contains(name) {
		return nil
	}
	return &UnknownServiceError{Name: name, Known: r.Names()}
}

// Contains reports whether name is registered.
func (r *Registry) Contains(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Names returns a copy of the registered names in registry order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
