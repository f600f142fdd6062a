package router

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-space/address"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/registry"
	"github.com/wippyai/wasm-space/resolve"
	"github.com/wippyai/wasm-space/telemetry"
)

// Payload carries the operation arguments.
type Payload struct {
	// Target is the address a configure call binds Key to. When nil the
	// binding is the literal Value.
	Target *address.Address
	Key    string
	Value  string
	Data   []byte
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithTracer sets the tracer routed operations are spanned with.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// WithLockWait bounds how long an operation waits for its address lock.
// Zero waits until the caller's context is done.
func WithLockWait(d time.Duration) Option {
	return func(r *Router) { r.lockWait = d }
}

// Router dispatches operations on resolved handles to resource handlers,
// gating them on lifecycle state and serializing them per address.
type Router struct {
	reg     *registry.Registry
	locks   *lockTable
	logger  *zap.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	lockWait time.Duration
}

// New creates a router over reg.
func New(reg *registry.Registry, opts ...Option) *Router {
	r := &Router{reg: reg, locks: newLockTable()}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("")
	}
	return r
}

func (r *Router) span(ctx context.Context, name string, addr address.Address, kind registry.Kind) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("space.address", addr.String()),
			attribute.String("space.kind", kind.String()),
		))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := errors.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// lock takes the address lock of key. Two call chains waiting on each
// other's addresses give up when their contexts end, and the wait is
// reported as Busy.
func (r *Router) lock(ctx context.Context, key, addr, op string, exclusive bool) (func(), error) {
	if r.lockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lockWait)
		defer cancel()
	}
	unlock, err := r.locks.acquire(ctx, key, exclusive)
	if err != nil {
		return nil, errors.New(errors.PhaseRoute, errors.KindBusy).
			Address(addr).
			Operation(op).
			Detail("lock wait: %v", err).
			Cause(err).
			Build()
	}
	return unlock, nil
}

func reentrant(addr, op string) error {
	return errors.New(errors.PhaseRoute, errors.KindReentrant).
		Address(addr).
		Operation(op).
		Detail("address is held by the calling operation").
		Build()
}

// Route runs op on the resource bound by h and releases h.
func (r *Router) Route(ctx context.Context, h *resolve.BoundHandle, op handler.Operation, p Payload) (res *handler.Result, err error) {
	defer h.Release()
	if h.Policy != resolve.PolicyRead {
		return nil, errors.InvalidInput(errors.PhaseRoute, "create handles cannot be routed")
	}

	key := h.Record.Key()
	addr := h.Address.String()
	if isHeld(ctx, key) {
		return nil, reentrant(addr, op.String())
	}

	ctx, span := r.span(ctx, "route "+op.String(), h.Address, h.Record.Kind)
	span.SetAttributes(attribute.String("space.op", op.String()))
	done := r.metrics.Begin()
	start := time.Now()
	defer func() {
		done()
		r.metrics.ObserveOperation(h.Record.Kind.String(), op.String(), outcome(err), time.Since(start))
		finish(span, err)
	}()

	unlock, err := r.lock(ctx, key, addr, op.String(), op.Exclusive())
	if err != nil {
		return nil, err
	}
	defer unlock()

	// the resolution snapshot may predate the lock
	rec, ok := r.reg.Get(h.Handle())
	if !ok {
		return nil, errors.NotFound(errors.PhaseRoute, addr, "resource no longer exists")
	}

	if rec.State == registry.StateFailed {
		if op != handler.OpRead {
			return nil, errors.NotReady(addr, op.String(), "failed: "+rec.Fault)
		}
		data, err := NewReport(rec).YAML()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRoute, errors.KindInvalidInput, err, "render report")
		}
		return &handler.Result{Data: data}, nil
	}
	if !handler.Supports(h.Handler, op) {
		return nil, errors.Unsupported(addr, rec.Kind.String(), op.String())
	}
	if (op == handler.OpWrite || op == handler.OpInvoke) && rec.State != registry.StateReady {
		return nil, errors.NotReady(addr, op.String(), rec.State.String())
	}

	req, err := r.request(ctx, h, rec, op, p)
	if err != nil {
		return nil, err
	}

	res, err = dispatch(withHeld(ctx, key), h.Handler, op, req)
	if err != nil {
		return nil, r.fault(h, rec, op, err)
	}
	if res == nil {
		res = &handler.Result{}
	}

	if err := r.apply(h, rec, op, req, res); err != nil {
		return nil, err
	}

	r.logger.Debug("operation routed",
		zap.String("address", addr),
		zap.Stringer("kind", rec.Kind),
		zap.Stringer("op", op),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (r *Router) request(ctx context.Context, h *resolve.BoundHandle, rec *registry.Record, op handler.Operation, p Payload) (*handler.Request, error) {
	req := &handler.Request{
		Record:   rec,
		Address:  h.Address,
		Path:     h.Path,
		Version:  h.Version,
		Pinned:   h.Pinned,
		Data:     p.Data,
		Op:       op,
		Children: rec.Children(),
		Bindings: make(map[string]registry.Binding, len(rec.Bindings)+1),
	}
	for k, b := range rec.Bindings {
		req.Bindings[k] = b
	}
	if !h.Pinned && registry.SpecFor(rec.Kind).Versioned {
		req.Version = rec.Latest()
	}

	if op != handler.OpConfigure {
		return req, nil
	}
	if p.Key == "" {
		return nil, errors.New(errors.PhaseRoute, errors.KindInvalidInput).
			Address(h.Address.String()).
			Operation(op.String()).
			Detail("configure needs a binding key").
			Build()
	}

	var b registry.Binding
	if p.Target != nil {
		if key := p.Target.Resource().Key(); key == rec.Key() {
			return nil, errors.BindFailed(p.Target.String(), p.Key,
				errors.InvalidInput(errors.PhaseResolve, "a resource cannot bind itself"))
		}
		resolved, err := r.reg.ResolveBinding(ctx, rec.Kind, p.Key, *p.Target)
		if err != nil {
			return nil, err
		}
		b = resolved
	} else {
		b = registry.LiteralBinding(p.Key, p.Value)
	}
	req.Key = p.Key
	req.Binding = &b
	req.Bindings[p.Key] = b
	return req, nil
}

func dispatch(ctx context.Context, hd handler.Handler, op handler.Operation, req *handler.Request) (*handler.Result, error) {
	switch op {
	case handler.OpRead:
		return hd.Read(ctx, req)
	case handler.OpWrite:
		return hd.Write(ctx, req)
	case handler.OpList:
		return hd.List(ctx, req)
	case handler.OpInvoke:
		return hd.Invoke(ctx, req)
	case handler.OpConfigure:
		return hd.Configure(ctx, req)
	default:
		return nil, errors.InvalidInput(errors.PhaseRoute, fmt.Sprintf("unknown operation %s", op))
	}
}

// fault classifies a handler error. Rejections pass through annotated;
// anything else fails the resource.
func (r *Router) fault(h *resolve.BoundHandle, rec *registry.Record, op handler.Operation, err error) error {
	if handler.IsRejection(err) {
		return annotate(err, h.Address.String(), op.String())
	}

	if _, terr := r.reg.Transition(h.Handle(), registry.StateFailed, err.Error()); terr != nil {
		r.logger.Warn("record fault transition",
			zap.String("address", rec.Address.String()),
			zap.Error(terr))
	} else {
		r.metrics.ObserveTransition(rec.State, registry.StateFailed)
	}
	r.logger.Warn("resource failed",
		zap.String("address", rec.Address.String()),
		zap.Stringer("op", op),
		zap.Error(err))
	return errors.Fault(rec.Address.String(), op.String(), err)
}

// apply records the binding and transition requested by a handler call.
func (r *Router) apply(h *resolve.BoundHandle, rec *registry.Record, op handler.Operation, req *handler.Request, res *handler.Result) error {
	if len(res.Transitions) > 1 {
		return errors.New(errors.PhaseRoute, errors.KindContractViolation).
			Address(h.Address.String()).
			Operation(op.String()).
			Detail("handler requested %d transitions", len(res.Transitions)).
			Build()
	}
	if len(res.Transitions) == 1 {
		t := res.Transitions[0]
		if !op.Exclusive() {
			return errors.New(errors.PhaseRoute, errors.KindContractViolation).
				Address(h.Address.String()).
				Operation(op.String()).
				Detail("%s cannot change lifecycle state", op).
				Build()
		}
		if !registry.CanTransition(rec.State, t.To) {
			return errors.New(errors.PhaseRoute, errors.KindContractViolation).
				Address(h.Address.String()).
				Operation(op.String()).
				Detail("illegal transition %s -> %s", rec.State, t.To).
				Build()
		}
	}

	if op == handler.OpConfigure && req.Binding != nil {
		if _, err := r.reg.SetBinding(rec.Address, *req.Binding); err != nil {
			return err
		}
	}

	for _, t := range res.Transitions {
		if _, err := r.reg.Transition(h.Handle(), t.To, t.Cause); err != nil {
			return err
		}
		r.metrics.ObserveTransition(rec.State, t.To)
		r.logger.Debug("lifecycle transition",
			zap.String("address", rec.Address.String()),
			zap.Stringer("from", rec.State),
			zap.Stringer("to", t.To),
			zap.String("cause", t.Cause))
	}
	return nil
}

func annotate(err error, addr, op string) error {
	var e *errors.Error
	if !errors.As(err, &e) {
		return err
	}
	if e.Address != "" && e.Operation != "" {
		return err
	}
	cp := *e
	if cp.Address == "" {
		cp.Address = addr
	}
	if cp.Operation == "" {
		cp.Operation = op
	}
	return &cp
}

// Create inserts the resource described by a create handle, allocates its
// handler state and evaluates readiness.
func (r *Router) Create(ctx context.Context, h *resolve.BoundHandle) (rec *registry.Record, err error) {
	defer h.Release()
	if h.Policy != resolve.PolicyCreate {
		return nil, errors.InvalidInput(errors.PhaseRoute, "create needs a create handle")
	}
	key := h.Address.Key()
	if isHeld(ctx, key) {
		return nil, reentrant(h.Address.String(), "create")
	}

	ctx, span := r.span(ctx, "route create", h.Address, h.Kind)
	start := time.Now()
	defer func() {
		r.metrics.ObserveOperation(h.Kind.String(), "create", outcome(err), time.Since(start))
		finish(span, err)
	}()

	unlock, err := r.lock(ctx, key, h.Address.String(), "create", true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err = r.reg.Insert(h.Address, h.Kind)
	if err != nil {
		return nil, err
	}
	if err := h.Handler.Create(ctx, rec); err != nil {
		if derr := r.reg.Delete(ctx, rec.Address); derr != nil {
			r.logger.Warn("roll back create", zap.String("address", rec.Address.String()), zap.Error(derr))
		}
		return nil, errors.Wrap(errors.PhaseHandler, errors.KindResourceFault, err, "allocate resource state")
	}

	if next, ok := registry.SpecFor(h.Kind).Readiness(rec.State, rec.Bindings); ok {
		updated, err := r.reg.Transition(rec.Handle, next, "created")
		if err != nil {
			return nil, err
		}
		r.metrics.ObserveTransition(rec.State, next)
		rec = updated
	}

	r.logger.Debug("resource created",
		zap.String("address", rec.Address.String()),
		zap.Stringer("kind", rec.Kind),
		zap.Stringer("state", rec.State))
	return rec, nil
}

// Delete removes the resource bound by h. The resource must have no
// children and no other operation in flight.
func (r *Router) Delete(ctx context.Context, h *resolve.BoundHandle) (err error) {
	defer h.Release()
	if h.Policy != resolve.PolicyRead {
		return errors.InvalidInput(errors.PhaseRoute, "delete needs a resolved handle")
	}
	key := h.Record.Key()
	if isHeld(ctx, key) {
		return reentrant(h.Address.String(), "delete")
	}

	ctx, span := r.span(ctx, "route delete", h.Address, h.Record.Kind)
	start := time.Now()
	defer func() {
		r.metrics.ObserveOperation(h.Record.Kind.String(), "delete", outcome(err), time.Since(start))
		finish(span, err)
	}()

	unlock, err := r.lock(ctx, key, h.Address.String(), "delete", true)
	if err != nil {
		return err
	}
	defer unlock()

	rec, ok := r.reg.Get(h.Handle())
	if !ok {
		return errors.NotFound(errors.PhaseRoute, h.Address.String(), "resource no longer exists")
	}
	h.Release()
	if err := r.reg.Delete(ctx, rec.Address); err != nil {
		return err
	}
	if err := h.Handler.Drop(ctx, rec); err != nil {
		return errors.Wrap(errors.PhaseHandler, errors.KindResourceFault, err, "release resource state")
	}

	r.logger.Debug("resource deleted", zap.String("address", rec.Address.String()))
	return nil
}

// Publish appends version to the versioned resource bound by h under the
// exclusive lock. A Failed resource accepts no new versions.
func (r *Router) Publish(ctx context.Context, h *resolve.BoundHandle, version string, data []byte) (rec *registry.Record, err error) {
	defer h.Release()
	if h.Policy != resolve.PolicyRead {
		return nil, errors.InvalidInput(errors.PhaseRoute, "publish needs a resolved handle")
	}
	key := h.Record.Key()
	addr := h.Address.String()
	if isHeld(ctx, key) {
		return nil, reentrant(addr, "publish")
	}

	ctx, span := r.span(ctx, "route publish", h.Address, h.Record.Kind)
	span.SetAttributes(attribute.String("space.version", version))
	start := time.Now()
	defer func() {
		r.metrics.ObserveOperation(h.Record.Kind.String(), "publish", outcome(err), time.Since(start))
		finish(span, err)
	}()

	unlock, err := r.lock(ctx, key, addr, "publish", true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, ok := r.reg.Get(h.Handle())
	if !ok {
		return nil, errors.NotFound(errors.PhaseRoute, addr, "resource no longer exists")
	}
	if current.State == registry.StateFailed {
		return nil, errors.NotReady(addr, "publish", "failed: "+current.Fault)
	}
	return r.reg.Publish(ctx, current.Address, version, data)
}

// Locks returns the number of addresses currently locked or awaited.
func (r *Router) Locks() int {
	return r.locks.size()
}
