// Package resolve turns textual addresses into bound resource handles.
//
// Resolution walks the address segments left to right against registry
// snapshots and never mutates the registry. A successful read resolution
// borrows the target record so it cannot be deleted while the handle is in
// use; callers release the handle after one routed operation.
package resolve

import (
	"sync/atomic"

	"github.com/wippyai/wasm-space/address"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/registry"
	"github.com/wippyai/wasm-space/resource"
)

// Policy selects how missing segments are treated.
type Policy uint8

const (
	// PolicyRead requires every segment to exist.
	PolicyRead Policy = iota
	// PolicyCreate requires the immediate parent to exist and the target
	// itself to be absent.
	PolicyCreate
)

func (p Policy) String() string {
	if p == PolicyCreate {
		return "create"
	}
	return "read"
}

// BoundHandle is a resolved address ready for one routed operation.
type BoundHandle struct {
	// Record is the target snapshot. Under PolicyCreate it is the parent.
	Record  *registry.Record
	Handler handler.Handler
	Address address.Address
	Version string
	Path    string
	// Kind is the kind to create under PolicyCreate, else the record kind.
	Kind   registry.Kind
	Policy Policy
	// Pinned is set when the address named a version.
	Pinned bool

	reg      *registry.Registry
	handle   resource.Handle
	released atomic.Bool
}

// Handle returns the registry handle of the borrowed record.
func (b *BoundHandle) Handle() resource.Handle {
	return b.handle
}

// Release returns the borrow taken at resolution. Safe to call twice.
func (b *BoundHandle) Release() {
	if b == nil || b.reg == nil {
		return
	}
	if b.released.CompareAndSwap(false, true) {
		b.reg.Release(b.handle)
	}
}

// Resolver resolves addresses against a registry.
type Resolver struct {
	reg      *registry.Registry
	handlers *handler.Set
}

// New creates a resolver.
func New(reg *registry.Registry, handlers *handler.Set) *Resolver {
	return &Resolver{reg: reg, handlers: handlers}
}

// Registry returns the registry resolved against.
func (r *Resolver) Registry() *registry.Registry {
	return r.reg
}

// Parse parses text and resolves it under p. Create resolutions take the
// template form carrying a kind tag.
func (r *Resolver) Parse(text string, p Policy) (*BoundHandle, error) {
	var (
		addr address.Address
		err  error
	)
	if p == PolicyCreate {
		addr, err = address.ParseTemplate(text)
	} else {
		addr, err = address.Parse(text)
	}
	if err != nil {
		return nil, err
	}
	return r.Resolve(addr, p)
}

// Resolve resolves addr under p.
func (r *Resolver) Resolve(addr address.Address, p Policy) (*BoundHandle, error) {
	if p == PolicyCreate {
		return r.resolveCreate(addr)
	}
	return r.resolveRead(addr)
}

func (r *Resolver) resolveRead(addr address.Address) (*BoundHandle, error) {
	target := addr.Resource()
	var rec *registry.Record
	if target.IsRoot() {
		rec = r.reg.Root()
	} else {
		for i := 1; i <= target.Len(); i++ {
			prefix := target.Prefix(i)
			found, ok := r.reg.Lookup(prefix)
			if !ok {
				return nil, errors.NotFound(errors.PhaseResolve, addr.String(),
					"no resource at "+prefix.String())
			}
			rec = found
		}
	}

	h, err := r.bind(addr, rec, rec.Kind)
	if err != nil {
		return nil, err
	}

	spec := registry.SpecFor(rec.Kind)
	if v := addr.Version(); v != nil {
		if !spec.Versioned {
			return nil, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
				Address(addr.String()).
				Detail("%s resources are not versioned", rec.Kind).
				Build()
		}
		if !rec.HasVersion(v.String()) {
			return nil, errors.NotFound(errors.PhaseResolve, addr.String(), "version not published")
		}
		h.Version = v.String()
		h.Pinned = true
	} else if spec.Versioned {
		h.Version = rec.Latest()
	}

	if !r.reg.Borrow(rec.Handle) {
		return nil, errors.NotFound(errors.PhaseResolve, addr.String(), "resource removed during resolution")
	}
	h.reg = r.reg
	h.handle = rec.Handle
	return h, nil
}

func (r *Resolver) resolveCreate(addr address.Address) (*BoundHandle, error) {
	if addr.HasPath() || addr.HasVersion() {
		return nil, errors.Malformed(addr.String(), "create addresses take no version or path")
	}
	target := addr.Resource()
	if target.IsRoot() {
		return nil, errors.DuplicateResource("")
	}
	if addr.Kind() == "" {
		return nil, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
			Address(target.String()).
			Detail("create needs a kind tag, e.g. %s<Space>", target.String()).
			Build()
	}
	kind, err := registry.ParseKind(addr.Kind())
	if err != nil {
		return nil, err
	}

	parent := r.reg.Root()
	for i := 1; i < target.Len(); i++ {
		prefix := target.Prefix(i)
		found, ok := r.reg.Lookup(prefix)
		if !ok {
			return nil, errors.MissingParent(target.String(), prefix.String())
		}
		parent = found
	}
	if _, exists := r.reg.Lookup(target); exists {
		return nil, errors.DuplicateResource(target.String())
	}
	if !registry.SpecFor(kind).AllowsParent(parent.Kind) {
		return nil, errors.New(errors.PhaseResolve, errors.KindIncompatibleKind).
			Address(target.String()).
			Detail("%s cannot be created under %s", kind, parent.Kind).
			Build()
	}

	h, err := r.bind(target, parent, kind)
	if err != nil {
		return nil, err
	}
	h.Policy = PolicyCreate
	return h, nil
}

func (r *Resolver) bind(addr address.Address, rec *registry.Record, kind registry.Kind) (*BoundHandle, error) {
	hd, ok := r.handlers.For(kind)
	if !ok {
		return nil, errors.New(errors.PhaseResolve, errors.KindUnknownKind).
			Address(addr.String()).
			Detail("no handler registered for %s", kind).
			Build()
	}
	return &BoundHandle{
		Record:  rec,
		Handler: hd,
		Address: addr.WithoutKind(),
		Path:    addr.Path(),
		Kind:    kind,
	}, nil
}
