// Package filesystem implements the FileSystem resource kind: a private
// file tree per resource addressed by sub-path.
package filesystem

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/registry"
)

// Handler serves FileSystem resources.
type Handler struct {
	handler.Base
	backend Backend
	logger  *zap.Logger
	volumes map[string]*Volume
	mu      sync.RWMutex
}

// New creates a FileSystem handler over backend.
// A nil backend keeps files in memory.
func New(backend Backend, logger *zap.Logger) *Handler {
	if backend == nil {
		backend = MemoryBackend{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Base:    handler.NewBase(registry.KindFileSystem, handler.OpRead, handler.OpWrite, handler.OpList),
		backend: backend,
		logger:  logger,
		volumes: make(map[string]*Volume),
	}
}

func (h *Handler) Create(_ context.Context, rec *registry.Record) error {
	vol, err := h.backend.Open(rec.Key())
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.volumes[rec.Key()] = vol
	h.mu.Unlock()
	return nil
}

func (h *Handler) Drop(_ context.Context, rec *registry.Record) error {
	h.mu.Lock()
	vol, ok := h.volumes[rec.Key()]
	delete(h.volumes, rec.Key())
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return vol.Remove()
}

func (h *Handler) volume(req *handler.Request) (*Volume, error) {
	h.mu.RLock()
	vol, ok := h.volumes[req.Record.Key()]
	h.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.PhaseHandler, errors.KindResourceFault).
			Address(req.Record.Address.String()).
			Detail("volume not open").
			Build()
	}
	return vol, nil
}

func (h *Handler) Read(_ context.Context, req *handler.Request) (*handler.Result, error) {
	vol, err := h.volume(req)
	if err != nil {
		return nil, err
	}
	p := CleanPath(req.Path)
	if vol.IsDir(p) {
		entries, err := vol.List(p)
		if err != nil {
			return nil, annotate(err, req)
		}
		return &handler.Result{Entries: entries}, nil
	}
	data, err := vol.Read(p)
	if err != nil {
		return nil, annotate(err, req)
	}
	return &handler.Result{Data: data}, nil
}

func (h *Handler) Write(_ context.Context, req *handler.Request) (*handler.Result, error) {
	if req.Path == "" {
		return nil, errors.New(errors.PhaseHandler, errors.KindInvalidInput).
			Address(req.Address.String()).
			Operation(handler.OpWrite.String()).
			Detail("write needs a file path").
			Build()
	}
	vol, err := h.volume(req)
	if err != nil {
		return nil, err
	}
	p := CleanPath(req.Path)
	if p == "/" {
		return nil, errors.InvalidInput(errors.PhaseHandler, "cannot write to the volume root")
	}
	if err := vol.Write(p, req.Data); err != nil {
		return nil, annotate(err, req)
	}
	h.logger.Debug("file written",
		zap.String("address", req.Record.Address.String()),
		zap.String("path", p),
		zap.Int("bytes", len(req.Data)))
	return &handler.Result{}, nil
}

func (h *Handler) List(_ context.Context, req *handler.Request) (*handler.Result, error) {
	vol, err := h.volume(req)
	if err != nil {
		return nil, err
	}
	entries, err := vol.List(CleanPath(req.Path))
	if err != nil {
		return nil, annotate(err, req)
	}
	return &handler.Result{Entries: entries}, nil
}

func annotate(err error, req *handler.Request) error {
	var e *errors.Error
	if errors.As(err, &e) && e.Address == "" {
		cp := *e
		cp.Address = req.Address.String()
		cp.Operation = req.Op.String()
		return &cp
	}
	return err
}
