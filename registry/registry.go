// Package registry implements the process-level instance registry
// spec §5's shared-resource policy describes: a unique instance id with
// a registration timestamp, failing fast when a second graph opens
// under an id already held, and a guaranteed-release shutdown guard
// that unregisters the id and closes every resource the instance owns
// even when one of them errors.
//
// Modeled as a single owned registrar with explicit Register/Unregister
// rather than an unstructured global singleton, adapted from the
// teacher's registry.Registry (registry/registry.go): a mutex-protected
// map plus Register/Unregister, minus its file-backed persistence and
// package-level DefaultRegistry singleton, which have no equivalent in
// this domain.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/gdbtx/errs"
)

// Registration records one open graph instance: its unique id and the
// moment it registered.
type Registration struct {
	InstanceID   string
	RegisteredAt time.Time
}

// Registry is the process-level instance registry. The zero value is
// not usable; construct with New.
type Registry struct {
	mu   sync.Mutex
	open map[string]Registration
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{open: make(map[string]Registration)}
}

// Register claims instanceID, stamping the current time as its
// registration timestamp. Returns an *errs.AlreadyOpenInstance if
// instanceID is already registered — the caller should fail immediately
// and advise a forced shutdown of the prior instance, per spec.
func (r *Registry) Register(instanceID string) (Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.open[instanceID]; exists {
		return Registration{}, &errs.AlreadyOpenInstance{InstanceID: instanceID}
	}
	reg := Registration{InstanceID: instanceID, RegisteredAt: time.Now()}
	r.open[instanceID] = reg
	return reg, nil
}

// Unregister releases instanceID, if held. Safe to call on an id that
// was never registered or was already released.
func (r *Registry) Unregister(instanceID string) {
	r.mu.Lock()
	delete(r.open, instanceID)
	r.mu.Unlock()
}

// IsOpen reports whether instanceID currently holds a registration.
func (r *Registry) IsOpen(instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.open[instanceID]
	return ok
}

// Closer is anything the shutdown guard must release when an instance
// closes: the id assigner's source, a backend transaction, a query
// cache, or any other per-instance resource. CloserFunc adapts a plain
// func() error to this interface the way http.HandlerFunc adapts a
// plain function to http.Handler.
type Closer interface {
	Close() error
}

// CloserFunc adapts a function to Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

// Instance is one graph's claim on a Registry, plus the resources its
// Shutdown guarantees get released.
type Instance struct {
	registry *Registry
	id       string

	mu      sync.Mutex
	closed  bool
	closers []Closer
}

// Open registers instanceID against reg and returns an Instance owning
// closers — every one of them is released by Shutdown regardless of
// whether an earlier one fails. If instanceID is empty, Open mints a
// fresh one with uuid.New, matching the teacher's id-minting
// convention (auth.go, workflow/expander.go) rather than a
// hand-rolled generator.
func Open(reg *Registry, instanceID string, closers ...Closer) (*Instance, error) {
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	if _, err := reg.Register(instanceID); err != nil {
		return nil, err
	}
	return &Instance{registry: reg, id: instanceID, closers: closers}, nil
}

// ID returns this instance's unique id.
func (i *Instance) ID() string { return i.id }

// Shutdown unregisters the instance id, then closes every configured
// closer — continuing past a failure so one closer's error never
// prevents releasing the rest — and joins any errors encountered.
// Calling Shutdown more than once is a no-op after the first call.
func (i *Instance) Shutdown() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	i.registry.Unregister(i.id)

	var errList []error
	for _, c := range i.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
