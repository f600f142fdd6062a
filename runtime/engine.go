package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-space/config"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/handler/app"
	"github.com/wippyai/wasm-space/telemetry"
)

// Capabilities serves the capability calls a guest makes.
type Capabilities interface {
	Capability(ctx context.Context, op handler.Operation, req Request) (*handler.Result, error)
}

var (
	hostParams  = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}
	hostResults = []api.ValueType{api.ValueTypeI64}
)

// Engine runs App guests on wazero. Each call gets a fresh instance;
// compiled modules are shared.
type Engine struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	caps     Capabilities
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	modules  map[string]wazero.CompiledModule
	provided map[string]bool
	timeout  time.Duration
	mu       sync.Mutex
}

// NewEngine creates a wazero runtime bounded by cfg and links the
// capability host module served by caps.
func NewEngine(ctx context.Context, cfg config.GuestConfig, caps Capabilities, logger *zap.Logger, metrics *telemetry.Metrics) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryPages)
	}

	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseGuest, errors.KindStore, err, "open compilation cache")
		}
		cache = c
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	e := &Engine{
		runtime:  wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cache:    cache,
		caps:     caps,
		logger:   logger,
		metrics:  metrics,
		modules:  make(map[string]wazero.CompiledModule),
		provided: make(map[string]bool),
		timeout:  cfg.CallTimeout,
	}

	builder := e.runtime.NewHostModuleBuilder(CapabilityModule)
	for _, op := range handler.Operations() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(e.hostFunc(op), hostParams, hostResults).
			WithParameterNames("req_ptr", "req_len", "resp_ptr", "resp_cap").
			Export(op.String())
		e.provided[op.String()] = true
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Instantiation(err)
	}
	return e, nil
}

// Close releases the runtime and every compiled module.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		err = multierr.Append(err, e.cache.Close(ctx))
	}
	return err
}

// Compiled returns the number of cached compiled modules.
func (e *Engine) Compiled() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.modules)
}

func (e *Engine) compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	sum := sha256.Sum256(wasm)
	key := hex.EncodeToString(sum[:])

	e.mu.Lock()
	defer e.mu.Unlock()
	if compiled, ok := e.modules[key]; ok {
		return compiled, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.New(errors.PhaseGuest, errors.KindInstantiation).
			Detail("compile module").
			Cause(err).
			Build()
	}
	if err := e.checkImports(compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	e.modules[key] = compiled
	return compiled, nil
}

func (e *Engine) checkImports(compiled wazero.CompiledModule) error {
	var missing []string
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module == CapabilityModule && e.provided[name] {
			continue
		}
		missing = append(missing, module+"#"+name)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

// Exports lists the functions of wasm callable through invoke.
func (e *Engine) Exports(ctx context.Context, wasm []byte) ([]string, error) {
	compiled, err := e.compile(ctx, wasm)
	if err != nil {
		return nil, err
	}
	var names []string
	for name, def := range compiled.ExportedFunctions() {
		if name != CabiRealloc && callable(def) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func callable(def api.FunctionDefinition) bool {
	params, results := def.ParamTypes(), def.ResultTypes()
	return len(params) == 2 && params[0] == api.ValueTypeI32 && params[1] == api.ValueTypeI32 &&
		len(results) == 1 && results[0] == api.ValueTypeI64
}

// Execute instantiates call.Wasm and runs call.Export with call.Input.
func (e *Engine) Execute(ctx context.Context, call app.Call) (out []byte, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(errors.KindOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		e.metrics.ObserveGuestCall("call", outcome)
	}()

	addr := call.Address.String()
	compiled, err := e.compile(ctx, call.Wasm)
	if err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(call.Export)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseGuest, addr, "no export "+call.Export)
	}
	if !callable(fn.Definition()) {
		return nil, errors.New(errors.PhaseGuest, errors.KindInvalidInput).
			Address(addr).
			Detail("export %s is not (i32, i32) -> i64", call.Export).
			Build()
	}
	mem := mod.Memory()
	if mem == nil {
		return nil, errors.New(errors.PhaseGuest, errors.KindInstantiation).
			Address(addr).
			Detail("guest does not export memory").
			Build()
	}

	var ptr uint32
	if len(call.Input) > 0 {
		alloc, err := newAllocator(mod)
		if err != nil {
			return nil, err
		}
		ptr, err = alloc.alloc(ctx, uint32(len(call.Input)), 1)
		if err != nil {
			return nil, e.trap(ctx, addr, CabiRealloc, err)
		}
		if !mem.Write(ptr, call.Input) {
			return nil, errors.New(errors.PhaseGuest, errors.KindResourceFault).
				Address(addr).
				Detail("allocation out of range").
				Build()
		}
	}

	start := time.Now()
	results, err := fn.Call(ctx, uint64(ptr), uint64(len(call.Input)))
	if err != nil {
		return nil, e.trap(ctx, addr, call.Export, err)
	}

	outPtr, outLen := unpack(results[0])
	out, ok := readGuest(mem, outPtr, outLen)
	if !ok {
		return nil, errors.New(errors.PhaseGuest, errors.KindResourceFault).
			Address(addr).
			Detail("export %s returned an out-of-range result", call.Export).
			Build()
	}

	e.logger.Debug("guest call",
		zap.String("address", addr),
		zap.String("export", call.Export),
		zap.Int("input", len(call.Input)),
		zap.Int("output", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (e *Engine) trap(ctx context.Context, addr, export string, err error) error {
	detail := "call " + export
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		detail += ": timed out"
	}
	var rerr *errors.Error
	if errors.As(err, &rerr) {
		return err
	}
	return errors.New(errors.PhaseGuest, errors.KindResourceFault).
		Address(addr).
		Detail("%s", detail).
		Cause(err).
		Build()
}

func (e *Engine) hostFunc(op handler.Operation) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		reqPtr, reqLen := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
		respPtr, respCap := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])

		mem := mod.Memory()
		if mem == nil {
			stack[0] = api.EncodeI64(resultBadMemory)
			return
		}
		raw, ok := readGuest(mem, reqPtr, reqLen)
		if !ok {
			e.metrics.ObserveGuestCall(op.String(), "bad_memory")
			stack[0] = api.EncodeI64(resultBadMemory)
			return
		}

		var resp *Response
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			resp = errorResponse(errors.Wrap(errors.PhaseGuest, errors.KindInvalidInput, err, "decode request"))
		} else {
			resp = e.serve(ctx, op, req)
		}

		outcome := "ok"
		if resp.Error != nil {
			outcome = resp.Error.Kind
		}
		e.metrics.ObserveGuestCall(op.String(), outcome)
		stack[0] = api.EncodeI64(respond(mem, respPtr, respCap, resp))
	}
}

func (e *Engine) serve(ctx context.Context, op handler.Operation, req Request) *Response {
	res, err := e.caps.Capability(ctx, op, req)
	if err != nil {
		e.logger.Debug("guest capability call failed",
			zap.Stringer("op", op),
			zap.String("address", req.Address),
			zap.Error(err))
		return errorResponse(err)
	}
	return &Response{Data: res.Data, Entries: res.Entries}
}
