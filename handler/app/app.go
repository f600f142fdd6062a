// Package app implements the App resource kind: a WebAssembly guest that is
// configured with bindings and invoked through its exports.
package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-space/address"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/registry"
)

// DefaultExport is called when the invoke address carries no sub-path.
const DefaultExport = "run"

// Loader fetches the module bytes a wasm binding points at.
type Loader interface {
	Load(ctx context.Context, b registry.Binding) ([]byte, error)
}

// Call is one guest invocation.
type Call struct {
	Bindings map[string]registry.Binding
	Address  address.Address
	Export   string
	Wasm     []byte
	Input    []byte
}

// Executor runs guest exports.
type Executor interface {
	Execute(ctx context.Context, call Call) ([]byte, error)
}

// Handler serves App resources.
type Handler struct {
	handler.Base
	loader   Loader
	executor Executor
	logger   *zap.Logger
}

// New creates an App handler.
func New(loader Loader, executor Executor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Base:     handler.NewBase(registry.KindApp, handler.OpInvoke, handler.OpConfigure),
		loader:   loader,
		executor: executor,
		logger:   logger,
	}
}

// Configure checks that required keys are bound to addresses and reports
// the readiness transition due.
func (h *Handler) Configure(_ context.Context, req *handler.Request) (*handler.Result, error) {
	if req.Binding != nil && req.Binding.Literal {
		for _, key := range registry.SpecFor(registry.KindApp).Required {
			if req.Binding.Key == key {
				return nil, errors.New(errors.PhaseHandler, errors.KindInvalidInput).
					Address(req.Address.String()).
					Operation(handler.OpConfigure.String()).
					Detail("%q must be bound to an address", key).
					Build()
			}
		}
	}
	return &handler.Result{Transitions: handler.Lifecycle(req)}, nil
}

// Invoke loads the bound module and calls the export named by the sub-path.
func (h *Handler) Invoke(ctx context.Context, req *handler.Request) (*handler.Result, error) {
	wasm, ok := req.Bindings["wasm"]
	if !ok {
		return nil, errors.New(errors.PhaseHandler, errors.KindNotReady).
			Address(req.Address.String()).
			Operation(handler.OpInvoke.String()).
			Detail("no wasm binding").
			Build()
	}

	module, err := h.loader.Load(ctx, wasm)
	if err != nil {
		return nil, err
	}

	export := strings.Trim(req.Path, "/")
	if export == "" {
		export = DefaultExport
	}

	start := time.Now()
	out, err := h.executor.Execute(ctx, Call{
		Address:  req.Record.Address,
		Export:   export,
		Wasm:     module,
		Input:    req.Data,
		Bindings: req.Bindings,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Debug("app invoked",
		zap.String("address", req.Record.Address.String()),
		zap.String("export", export),
		zap.Int("input", len(req.Data)),
		zap.Int("output", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return &handler.Result{Data: out}, nil
}
