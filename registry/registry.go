package registry

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/coreos/go-semver/semver"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-space/address"
	"github.com/wippyai/wasm-space/bundle"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/resource"
	"github.com/wippyai/wasm-space/store"
)

// Event is a registry change notification.
type Event struct {
	Record *Record
	Type   resource.EventType
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithShards sets the number of record table shards.
func WithShards(n int) Option {
	return func(r *Registry) { r.shards = n }
}

// WithArtifacts sets the artifact backend. Defaults to store.NewMemory().
func WithArtifacts(s store.Artifacts) Option {
	return func(r *Registry) { r.artifacts = s }
}

// Registry is the authoritative table of resources.
// It never calls into handlers.
type Registry struct {
	table     *resource.Table[*Record]
	artifacts store.Artifacts
	logger    *zap.Logger
	shards    int
	root      resource.Handle
}

// New creates a registry containing only the implicit root.
func New(opts ...Option) *Registry {
	r := &Registry{shards: resource.DefaultShards}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.artifacts == nil {
		r.artifacts = store.NewMemory()
	}
	r.table = resource.NewTable[*Record](r.shards)

	root := newRecord(address.Root(), 0)
	root.State = StateReady
	h, err := r.table.Create(root.Key(), root)
	if err != nil {
		panic("registry: create root: " + err.Error())
	}
	r.root = h
	return r
}

func snapshot(h resource.Handle, rec *Record) *Record {
	out := rec.Clone()
	out.Handle = h
	return out
}

// Subscribe registers fn for record lifecycle events.
func (r *Registry) Subscribe(fn func(Event)) {
	r.table.AddObserver(resource.ObserverFunc(func(e resource.Event) {
		rec, ok := e.Value.(*Record)
		if !ok || rec.IsRoot() {
			return
		}
		fn(Event{Type: e.Type, Record: snapshot(e.Handle, rec)})
	}))
}

// Root returns a snapshot of the root record.
func (r *Registry) Root() *Record {
	rec, _ := r.table.Get(r.root)
	return snapshot(r.root, rec)
}

// Lookup returns a snapshot of the record at addr.
func (r *Registry) Lookup(addr address.Address) (*Record, bool) {
	h, rec, ok := r.table.Lookup(addr.Key())
	if !ok {
		return nil, false
	}
	return snapshot(h, rec), true
}

// Get returns a snapshot of the record at handle h.
func (r *Registry) Get(h resource.Handle) (*Record, bool) {
	rec, ok := r.table.Get(h)
	if !ok {
		return nil, false
	}
	return snapshot(h, rec), true
}

// Len returns the number of resources, excluding the root.
func (r *Registry) Len() int {
	return r.table.Len() - 1
}

// Insert creates a record of the given kind at addr in Unconfigured state.
// The parent must exist and accept the kind.
func (r *Registry) Insert(addr address.Address, kind Kind) (*Record, error) {
	addr = addr.Resource()
	if addr.IsRoot() {
		return nil, errors.DuplicateResource("")
	}
	spec := SpecFor(kind)
	if spec.Kind == 0 {
		return nil, errors.New(errors.PhaseRegistry, errors.KindUnknownKind).
			Address(addr.String()).
			Detail("unknown resource kind %d", kind).
			Build()
	}

	parent := addr.Parent()
	ph, _, ok := r.table.Lookup(parent.Key())
	if !ok {
		return nil, errors.MissingParent(addr.String(), parent.String())
	}

	// Reserve the child name on the parent first: a parent with a reserved
	// child cannot be deleted, so the new record always has a live parent.
	name := addr.Last()
	_, err := r.table.Update(ph, func(p *Record) (*Record, error) {
		if !spec.AllowsParent(p.Kind) {
			return nil, errors.New(errors.PhaseRegistry, errors.KindIncompatibleKind).
				Address(addr.String()).
				Detail("%s cannot be created under %s", kind, p.Kind).
				Build()
		}
		if _, exists := p.children[name]; exists {
			return nil, errors.DuplicateResource(addr.String())
		}
		next := p.Clone()
		next.children[name] = struct{}{}
		return next, nil
	})
	if stderrors.Is(err, resource.ErrInvalidHandle) {
		return nil, errors.MissingParent(addr.String(), parent.String())
	}
	if err != nil {
		return nil, err
	}

	rec := newRecord(addr, kind)
	h, err := r.table.Create(addr.Key(), rec)
	if err != nil {
		if stderrors.Is(err, resource.ErrExists) {
			return nil, errors.DuplicateResource(addr.String())
		}
		r.unreserve(ph, name)
		return nil, errors.Wrap(errors.PhaseRegistry, errors.KindStore, err, "insert record")
	}

	r.logger.Debug("resource inserted",
		zap.String("address", addr.String()),
		zap.Stringer("kind", kind))
	return snapshot(h, rec), nil
}

func (r *Registry) unreserve(parent resource.Handle, name string) {
	_, _ = r.table.Update(parent, func(p *Record) (*Record, error) {
		next := p.Clone()
		delete(next.children, name)
		return next, nil
	})
}

// Delete removes the record at addr. Resources with children or with
// outstanding handles are kept.
func (r *Registry) Delete(ctx context.Context, addr address.Address) error {
	addr = addr.Resource()
	if addr.IsRoot() {
		return errors.InvalidInput(errors.PhaseRegistry, "the root cannot be deleted")
	}
	h, _, ok := r.table.Lookup(addr.Key())
	if !ok {
		return errors.NotFound(errors.PhaseRegistry, addr.String(), "no such resource")
	}

	rec, err := r.table.DropIf(h, func(rec *Record) error {
		if rec.HasChildren() {
			return errors.New(errors.PhaseRegistry, errors.KindHasChildren).
				Address(addr.String()).
				Detail("resource has %d children", len(rec.children)).
				Build()
		}
		return nil
	})
	switch {
	case stderrors.Is(err, resource.ErrOutstandingBorrow):
		return errors.New(errors.PhaseRegistry, errors.KindBusy).
			Address(addr.String()).
			Detail("resource has handles in flight").
			Build()
	case stderrors.Is(err, resource.ErrInvalidHandle):
		return errors.NotFound(errors.PhaseRegistry, addr.String(), "no such resource")
	case err != nil:
		return err
	}

	if ph, _, ok := r.table.Lookup(addr.Parent().Key()); ok {
		r.unreserve(ph, addr.Last())
	}
	if SpecFor(rec.Kind).Versioned {
		if err := r.artifacts.Delete(ctx, addr.Key()); err != nil {
			return err
		}
	}

	r.logger.Debug("resource deleted", zap.String("address", addr.String()))
	return nil
}

// Children returns the names of the direct children of addr.
func (r *Registry) Children(addr address.Address) ([]string, error) {
	_, rec, ok := r.table.Lookup(addr.Key())
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegistry, addr.String(), "no such resource")
	}
	return rec.Children(), nil
}

// Publish appends an immutable artifact version to a versioned resource.
func (r *Registry) Publish(ctx context.Context, addr address.Address, version string, data []byte) (*Record, error) {
	addr = addr.Resource()
	v, err := semver.NewVersion(version)
	if err != nil || v.String() != version {
		return nil, errors.New(errors.PhaseRegistry, errors.KindInvalidInput).
			Address(addr.String()).
			Detail("invalid version %q", version).
			Cause(err).
			Build()
	}

	h, rec, ok := r.table.Lookup(addr.Key())
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegistry, addr.String(), "no such resource")
	}
	if !SpecFor(rec.Kind).Versioned {
		return nil, errors.New(errors.PhaseRegistry, errors.KindIncompatibleKind).
			Address(addr.String()).
			Detail("%s resources are not versioned", rec.Kind).
			Build()
	}

	if err := r.artifacts.Put(ctx, addr.Key(), version, data); err != nil {
		return nil, err
	}

	next, err := r.table.Update(h, func(rec *Record) (*Record, error) {
		n := rec.Clone()
		n.Versions = append(n.Versions, version)
		store.SortVersions(n.Versions)
		return n, nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRegistry, errors.KindStore, err, "record version")
	}

	r.logger.Debug("artifact published",
		zap.String("address", addr.String()),
		zap.String("version", version),
		zap.Int("bytes", len(data)))
	return snapshot(h, next), nil
}

// SyncVersions reloads the version list of a versioned resource from the
// artifact backend. Used when records are rebuilt over a durable store.
func (r *Registry) SyncVersions(ctx context.Context, addr address.Address) (*Record, error) {
	h, rec, ok := r.table.Lookup(addr.Key())
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegistry, addr.Resource().String(), "no such resource")
	}
	if !SpecFor(rec.Kind).Versioned {
		return snapshot(h, rec), nil
	}
	versions, err := r.artifacts.Versions(ctx, addr.Key())
	if err != nil {
		return nil, err
	}
	next, err := r.table.Update(h, func(rec *Record) (*Record, error) {
		n := rec.Clone()
		n.Versions = versions
		return n, nil
	})
	if err != nil {
		return nil, errors.NotFound(errors.PhaseRegistry, addr.Resource().String(), "no such resource")
	}
	return snapshot(h, next), nil
}

// Artifact returns the bytes of a published version. An empty version
// selects the latest.
func (r *Registry) Artifact(ctx context.Context, addr address.Address, version string) ([]byte, error) {
	_, rec, ok := r.table.Lookup(addr.Key())
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegistry, addr.Resource().String(), "no such resource")
	}
	if version == "" {
		version = rec.Latest()
		if version == "" {
			return nil, errors.NotFound(errors.PhaseRegistry, addr.Resource().String(), "no published versions")
		}
	}
	return r.artifacts.Get(ctx, addr.Key(), version)
}

// ResolveBinding validates that target resolves for owner's key and returns
// the binding to record. Versioned targets without a version pin the latest.
func (r *Registry) ResolveBinding(ctx context.Context, owner Kind, key string, target address.Address) (Binding, error) {
	fail := func(cause error) (Binding, error) {
		return Binding{}, errors.BindFailed(target.String(), key, cause)
	}

	_, rec, ok := r.table.Lookup(target.Key())
	if !ok || target.IsRoot() {
		return fail(errors.NotFound(errors.PhaseResolve, target.Resource().String(), "no such resource"))
	}
	if !SpecFor(owner).AllowsTarget(key, rec.Kind) {
		return fail(errors.New(errors.PhaseResolve, errors.KindIncompatibleKind).
			Address(target.String()).
			Detail("%s cannot bind %q to %s", owner, key, rec.Kind).
			Build())
	}

	b := Binding{
		Key:        key,
		TargetKind: rec.Kind,
		BoundAt:    time.Now().UTC(),
	}

	if !SpecFor(rec.Kind).Versioned {
		if target.HasVersion() {
			return fail(errors.InvalidInput(errors.PhaseResolve, rec.Kind.String()+" resources are not versioned"))
		}
		b.Target = target.String()
		return b, nil
	}

	version := rec.Latest()
	if v := target.Version(); v != nil {
		version = v.String()
		if !rec.HasVersion(version) {
			return fail(errors.NotFound(errors.PhaseResolve, target.String(), "version not published"))
		}
	}
	if version == "" {
		return fail(errors.NotFound(errors.PhaseResolve, target.String(), "no published versions"))
	}

	if target.HasPath() {
		data, err := r.artifacts.Get(ctx, target.Key(), version)
		if err != nil {
			return fail(err)
		}
		bd, err := bundle.Open(data)
		if err != nil {
			return fail(err)
		}
		if !bd.Has(target.Path()) {
			return fail(errors.NotFound(errors.PhaseResolve, target.String(), "path not in artifact"))
		}
	}

	pinned := target.WithVersion(semver.New(version))
	b.Target = pinned.String()
	b.Version = version
	return b, nil
}

// SetBinding records b on the resource at addr, replacing any previous
// binding for the same key.
func (r *Registry) SetBinding(addr address.Address, b Binding) (*Record, error) {
	h, _, ok := r.table.Lookup(addr.Key())
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegistry, addr.Resource().String(), "no such resource")
	}
	next, err := r.table.Update(h, func(rec *Record) (*Record, error) {
		n := rec.Clone()
		n.Bindings[b.Key] = b
		return n, nil
	})
	if err != nil {
		return nil, errors.NotFound(errors.PhaseRegistry, addr.Resource().String(), "no such resource")
	}
	return snapshot(h, next), nil
}

// Bind validates target and records it under key on addr.
func (r *Registry) Bind(ctx context.Context, addr address.Address, key string, target address.Address) (*Record, error) {
	rec, ok := r.Lookup(addr)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegistry, addr.Resource().String(), "no such resource")
	}
	b, err := r.ResolveBinding(ctx, rec.Kind, key, target)
	if err != nil {
		return nil, err
	}
	return r.SetBinding(addr, b)
}

// LiteralBinding builds a binding that stores a plain value.
func LiteralBinding(key, value string) Binding {
	return Binding{
		Key:     key,
		Value:   value,
		Literal: true,
		BoundAt: time.Now().UTC(),
	}
}

// Transition moves the resource at h to state to. Illegal edges fail with
// contract_violation and leave the record untouched.
func (r *Registry) Transition(h resource.Handle, to State, cause string) (*Record, error) {
	var from State
	next, err := r.table.Update(h, func(rec *Record) (*Record, error) {
		from = rec.State
		if !CanTransition(rec.State, to) {
			return nil, errors.New(errors.PhaseRegistry, errors.KindContractViolation).
				Address(rec.Address.String()).
				Detail("illegal transition %s -> %s", rec.State, to).
				Build()
		}
		n := rec.Clone()
		n.State = to
		n.History = append(n.History, Transition{
			From:  from,
			To:    to,
			Cause: cause,
			At:    time.Now().UTC(),
		})
		if to == StateFailed {
			n.Fault = cause
		}
		return n, nil
	})
	if stderrors.Is(err, resource.ErrInvalidHandle) {
		return nil, errors.NotFound(errors.PhaseRegistry, "", "resource no longer exists")
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("resource transitioned",
		zap.String("address", next.Address.String()),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	return snapshot(h, next), nil
}

// Borrow marks the record at h as in use by an in-flight operation.
func (r *Registry) Borrow(h resource.Handle) bool {
	return r.table.Borrow(h)
}

// Release returns a borrow taken with Borrow.
func (r *Registry) Release(h resource.Handle) {
	r.table.ReturnBorrow(h)
}

// Snapshot returns every record except the root, sorted by address.
func (r *Registry) Snapshot() []*Record {
	var out []*Record
	r.table.Each(func(h resource.Handle, key string, rec *Record) bool {
		if key != "" {
			out = append(out, snapshot(h, rec))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Close releases the record table and the artifact backend.
func (r *Registry) Close() error {
	return multierr.Combine(r.table.Close(), r.artifacts.Close())
}
