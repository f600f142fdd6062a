// Package space implements the Space resource kind: a container that lists
// its children and accepts configuration bindings.
package space

import (
	"context"

	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/registry"
)

// Handler serves Space resources and the implicit root.
type Handler struct {
	handler.Base
}

// New creates a Space handler.
func New() *Handler {
	return &Handler{Base: handler.NewBase(registry.KindSpace, handler.OpList, handler.OpConfigure)}
}

func (h *Handler) List(_ context.Context, req *handler.Request) (*handler.Result, error) {
	entries := make([]string, len(req.Children))
	copy(entries, req.Children)
	return &handler.Result{Entries: entries}, nil
}

func (h *Handler) Configure(_ context.Context, req *handler.Request) (*handler.Result, error) {
	return &handler.Result{Transitions: handler.Lifecycle(req)}, nil
}
