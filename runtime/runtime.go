package runtime

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-space/address"
	"github.com/wippyai/wasm-space/config"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/handler/app"
	"github.com/wippyai/wasm-space/handler/configbundle"
	"github.com/wippyai/wasm-space/handler/filesystem"
	"github.com/wippyai/wasm-space/handler/space"
	"github.com/wippyai/wasm-space/registry"
	"github.com/wippyai/wasm-space/resolve"
	"github.com/wippyai/wasm-space/router"
	"github.com/wippyai/wasm-space/store"
	"github.com/wippyai/wasm-space/telemetry"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithTracer sets the tracer for routed operations.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// WithArtifacts replaces the configured artifact backend.
func WithArtifacts(a store.Artifacts) Option {
	return func(r *Runtime) { r.artifacts = a }
}

// Runtime is one host: a registry of resources, the handlers serving them
// and the guest engine running Apps.
type Runtime struct {
	cfg       config.Config
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	artifacts store.Artifacts
	journal   store.Journal
	db        *store.SQLite
	ownsDB    bool
	reg       *registry.Registry
	handlers  *handler.Set
	resolver  *resolve.Resolver
	router    *router.Router
	engine    *Engine
}

// New builds a runtime from cfg.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Runtime, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	r := &Runtime{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}

	if err := r.openStore(); err != nil {
		return nil, err
	}

	r.reg = registry.New(
		registry.WithLogger(r.logger.Named("registry")),
		registry.WithShards(cfg.Registry.Shards),
		registry.WithArtifacts(r.artifacts),
	)
	r.metrics.Watch(r.reg)

	engine, err := NewEngine(ctx, cfg.Guest, r, r.logger.Named("guest"), r.metrics)
	if err != nil {
		err = multierr.Append(err, r.reg.Close())
		if r.ownsDB {
			err = multierr.Append(err, r.db.Close())
		}
		return nil, err
	}
	r.engine = engine

	var volumes filesystem.Backend = filesystem.MemoryBackend{}
	if cfg.FileSystem.Backend == "dir" {
		volumes = filesystem.DirBackend{Root: cfg.VolumeRoot()}
	}

	r.handlers = handler.NewSet(
		space.New(),
		filesystem.New(volumes, r.logger.Named("filesystem")),
		configbundle.New(r.reg, cfg.Store.CacheTTL),
		app.New(r, engine, r.logger.Named("app")),
	)
	r.resolver = resolve.New(r.reg, r.handlers)

	routerOpts := []router.Option{
		router.WithLogger(r.logger.Named("router")),
		router.WithMetrics(r.metrics),
		router.WithLockWait(cfg.Guest.CallTimeout),
	}
	if r.tracer != nil {
		routerOpts = append(routerOpts, router.WithTracer(r.tracer))
	}
	r.router = router.New(r.reg, routerOpts...)
	return r, nil
}

func (r *Runtime) openStore() error {
	cfg := r.cfg
	if cfg.State.Dir != "" {
		if err := os.MkdirAll(cfg.State.Dir, 0o755); err != nil {
			return errors.Store("create state dir", err)
		}
	}

	sqliteArtifacts := r.artifacts == nil && cfg.Store.Backend == "sqlite"
	if sqliteArtifacts || cfg.State.Journal {
		db, err := store.OpenSQLite(cfg.StorePath())
		if err != nil {
			return err
		}
		r.db = db
		// the registry closes the database with the artifacts
		r.ownsDB = !sqliteArtifacts
	}

	if r.artifacts == nil {
		var backend store.Artifacts = store.NewMemory()
		if sqliteArtifacts {
			backend = r.db
		}
		if cfg.Store.CacheTTL > 0 {
			backend = store.NewCached(backend, cfg.Store.CacheTTL)
		}
		r.artifacts = backend
	}
	if cfg.State.Journal {
		r.journal = r.db
	}
	return nil
}

// Close releases the engine and the storage backends.
func (r *Runtime) Close(ctx context.Context) error {
	err := multierr.Combine(r.engine.Close(ctx), r.reg.Close())
	if r.ownsDB {
		err = multierr.Append(err, r.db.Close())
	}
	return err
}

// Registry returns the resource registry.
func (r *Runtime) Registry() *registry.Registry { return r.reg }

// Router returns the capability router.
func (r *Runtime) Router() *router.Router { return r.router }

// Engine returns the guest engine.
func (r *Runtime) Engine() *Engine { return r.engine }

// Metrics returns the metrics sink, which may be nil.
func (r *Runtime) Metrics() *telemetry.Metrics { return r.metrics }

// Journal returns the command journal, or nil when journaling is off.
func (r *Runtime) Journal() store.Journal { return r.journal }

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() config.Config { return r.cfg }

// Create inserts the resource named by a template address such as
// "localhost:www<FileSystem>".
func (r *Runtime) Create(ctx context.Context, template string) (*registry.Record, error) {
	h, err := r.resolver.Parse(template, resolve.PolicyCreate)
	if err != nil {
		return nil, err
	}
	return r.router.Create(ctx, h)
}

// Publish stores data as version of the ConfigBundle at text, creating the
// bundle when it does not exist yet. An empty version is taken from the
// address.
func (r *Runtime) Publish(ctx context.Context, text, version string, data []byte) (*registry.Record, error) {
	addr, err := address.Parse(text)
	if err != nil {
		return nil, err
	}
	if version == "" {
		v := addr.Version()
		if v == nil {
			return nil, errors.InvalidInput(errors.PhaseRegistry, "publish needs a version")
		}
		version = v.String()
	}
	if addr.HasPath() {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "publish takes a resource address without a sub-path")
	}

	target := addr.Resource()
	if _, ok := r.reg.Lookup(target); !ok {
		if _, err := r.Create(ctx, target.String()+"<"+registry.KindConfigBundle.String()+">"); err != nil &&
			!errors.Is(err, &errors.Error{Kind: errors.KindDuplicateResource}) {
			return nil, err
		}
	}
	h, err := r.resolver.Resolve(target, resolve.PolicyRead)
	if err != nil {
		return nil, err
	}
	return r.router.Publish(ctx, h, version, data)
}

// Sync reloads the versions of a ConfigBundle from a durable store,
// creating the bundle when needed. Journal replay uses it in place of
// Publish.
func (r *Runtime) Sync(ctx context.Context, text string) (*registry.Record, error) {
	addr, err := address.Parse(text)
	if err != nil {
		return nil, err
	}
	target := addr.Resource()
	if _, ok := r.reg.Lookup(target); !ok {
		if _, err := r.Create(ctx, target.String()+"<"+registry.KindConfigBundle.String()+">"); err != nil {
			return nil, err
		}
	}
	return r.reg.SyncVersions(ctx, target)
}

// Do resolves text and routes op on it. An empty text names the root.
func (r *Runtime) Do(ctx context.Context, op handler.Operation, text string, p router.Payload) (*handler.Result, error) {
	var h *resolve.BoundHandle
	var err error
	if text == "" {
		h, err = r.resolver.Resolve(address.Root(), resolve.PolicyRead)
	} else {
		h, err = r.resolver.Parse(text, resolve.PolicyRead)
	}
	if err != nil {
		return nil, err
	}
	return r.router.Route(ctx, h, op, p)
}

// Read returns the bytes or entries at text.
func (r *Runtime) Read(ctx context.Context, text string) (*handler.Result, error) {
	return r.Do(ctx, handler.OpRead, text, router.Payload{})
}

// Write stores data at text.
func (r *Runtime) Write(ctx context.Context, text string, data []byte) error {
	_, err := r.Do(ctx, handler.OpWrite, text, router.Payload{Data: data})
	return err
}

// List returns the entries at text.
func (r *Runtime) List(ctx context.Context, text string) ([]string, error) {
	res, err := r.Do(ctx, handler.OpList, text, router.Payload{})
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// Invoke calls the App export named by the sub-path of text.
func (r *Runtime) Invoke(ctx context.Context, text string, data []byte) ([]byte, error) {
	res, err := r.Do(ctx, handler.OpInvoke, text, router.Payload{Data: data})
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Set binds the property target "address::key" to the address target.
func (r *Runtime) Set(ctx context.Context, property, target string) (*registry.Record, error) {
	addr, key, err := address.ParseProperty(property)
	if err != nil {
		return nil, err
	}
	t, err := address.Parse(target)
	if err != nil {
		return nil, err
	}
	return r.configure(ctx, addr, router.Payload{Key: key, Target: &t})
}

// SetValue stores a literal value under the property target "address::key".
func (r *Runtime) SetValue(ctx context.Context, property, value string) (*registry.Record, error) {
	addr, key, err := address.ParseProperty(property)
	if err != nil {
		return nil, err
	}
	return r.configure(ctx, addr, router.Payload{Key: key, Value: value})
}

func (r *Runtime) configure(ctx context.Context, addr address.Address, p router.Payload) (*registry.Record, error) {
	h, err := r.resolver.Resolve(addr, resolve.PolicyRead)
	if err != nil {
		return nil, err
	}
	handle := h.Handle()
	if _, err := r.router.Route(ctx, h, handler.OpConfigure, p); err != nil {
		return nil, err
	}
	rec, ok := r.reg.Get(handle)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRoute, addr.String(), "resource no longer exists")
	}
	return rec, nil
}

// Delete removes the resource at text.
func (r *Runtime) Delete(ctx context.Context, text string) error {
	h, err := r.resolver.Parse(text, resolve.PolicyRead)
	if err != nil {
		return err
	}
	return r.router.Delete(ctx, h)
}

// Inspect returns the diagnostic report of the resource at text. It works
// in every lifecycle state.
func (r *Runtime) Inspect(text string) (router.Report, error) {
	addr, err := address.Parse(text)
	if err != nil {
		return router.Report{}, err
	}
	rec, ok := r.reg.Lookup(addr)
	if !ok {
		return router.Report{}, errors.NotFound(errors.PhaseResolve, addr.Resource().String(), "no such resource")
	}
	return router.NewReport(rec), nil
}

// Snapshot returns the reports of every resource.
func (r *Runtime) Snapshot() []router.Report {
	recs := r.reg.Snapshot()
	out := make([]router.Report, 0, len(recs))
	for _, rec := range recs {
		out = append(out, router.NewReport(rec))
	}
	return out
}

// Exports lists the functions an App can invoke. The App must be Ready.
func (r *Runtime) Exports(ctx context.Context, text string) ([]string, error) {
	addr, err := address.Parse(text)
	if err != nil {
		return nil, err
	}
	rec, ok := r.reg.Lookup(addr)
	if !ok {
		return nil, errors.NotFound(errors.PhaseResolve, addr.Resource().String(), "no such resource")
	}
	b, ok := rec.Binding("wasm")
	if !ok || rec.Kind != registry.KindApp {
		return nil, errors.InvalidInput(errors.PhaseRoute, addr.String()+" has no wasm binding")
	}
	wasm, err := r.Load(ctx, b)
	if err != nil {
		return nil, err
	}
	return r.engine.Exports(ctx, wasm)
}

// Load reads the module bytes a wasm binding points at through the router,
// so the target's lifecycle and locks apply.
func (r *Runtime) Load(ctx context.Context, b registry.Binding) ([]byte, error) {
	if b.Literal {
		return nil, errors.InvalidInput(errors.PhaseHandler, "binding "+b.Key+" is a literal")
	}
	res, err := r.Read(ctx, b.Target)
	if err != nil {
		return nil, err
	}
	if res.Data == nil && res.Entries != nil {
		return nil, errors.New(errors.PhaseHandler, errors.KindInvalidInput).
			Address(b.Target).
			Detail("binding %s points at a directory", b.Key).
			Build()
	}
	return res.Data, nil
}

// Capability serves a guest capability call. Configure binds Key to the
// address in Value.
func (r *Runtime) Capability(ctx context.Context, op handler.Operation, req Request) (*handler.Result, error) {
	if op != handler.OpConfigure {
		return r.Do(ctx, op, req.Address, router.Payload{Data: req.Data})
	}
	target, err := address.Parse(strings.TrimSpace(req.Value))
	if err != nil {
		return nil, err
	}
	addr, err := address.Parse(req.Address)
	if err != nil {
		return nil, err
	}
	if _, err := r.configure(ctx, addr, router.Payload{Key: req.Key, Target: &target}); err != nil {
		return nil, err
	}
	return &handler.Result{}, nil
}
