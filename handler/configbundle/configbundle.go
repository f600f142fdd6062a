// Package configbundle implements the ConfigBundle resource kind: read-only
// access to published, immutable configuration artifacts.
package configbundle

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wippyai/wasm-space/address"
	"github.com/wippyai/wasm-space/bundle"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/handler"
	"github.com/wippyai/wasm-space/registry"
)

// Artifacts loads published artifact bytes. An empty version selects the
// latest. *registry.Registry satisfies it.
type Artifacts interface {
	Artifact(ctx context.Context, addr address.Address, version string) ([]byte, error)
}

// Handler serves ConfigBundle resources.
type Handler struct {
	handler.Base
	artifacts Artifacts
	decoded   *gocache.Cache
}

// New creates a ConfigBundle handler. Decoded bundles are kept for ttl;
// versions are immutable so entries never go stale.
func New(artifacts Artifacts, ttl time.Duration) *Handler {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Handler{
		Base:      handler.NewBase(registry.KindConfigBundle, handler.OpRead, handler.OpList),
		artifacts: artifacts,
		decoded:   gocache.New(ttl, 2*ttl),
	}
}

func (h *Handler) Drop(_ context.Context, rec *registry.Record) error {
	for _, v := range rec.Versions {
		h.decoded.Delete(rec.Key() + "@" + v)
	}
	return nil
}

func (h *Handler) open(ctx context.Context, req *handler.Request) (*bundle.Bundle, error) {
	version := req.Version
	if version == "" {
		version = req.Record.Latest()
	}
	if version == "" {
		return nil, errors.NotFound(errors.PhaseHandler, req.Address.String(), "no published versions")
	}
	key := req.Record.Key() + "@" + version
	if cached, ok := h.decoded.Get(key); ok {
		return cached.(*bundle.Bundle), nil
	}
	data, err := h.artifacts.Artifact(ctx, req.Record.Address, version)
	if err != nil {
		return nil, err
	}
	b, err := bundle.Open(data)
	if err != nil {
		return nil, err
	}
	h.decoded.SetDefault(key, b)
	return b, nil
}

// Read returns the file at the sub-path. Without a sub-path a raw bundle
// returns its document and an archive returns its top-level entries.
func (h *Handler) Read(ctx context.Context, req *handler.Request) (*handler.Result, error) {
	b, err := h.open(ctx, req)
	if err != nil {
		return nil, err
	}
	p := bundle.Clean(req.Path)
	if b.IsDir(p) {
		return &handler.Result{Entries: b.List(p)}, nil
	}
	data, ok := b.Read(p)
	if !ok {
		return nil, errors.NotFound(errors.PhaseHandler, req.Address.String(), "no such file "+p)
	}
	return &handler.Result{Data: data}, nil
}

// List returns the published versions when neither a version nor a sub-path
// was named, otherwise the entries of the archive directory.
func (h *Handler) List(ctx context.Context, req *handler.Request) (*handler.Result, error) {
	if !req.Pinned && req.Path == "" {
		versions := make([]string, len(req.Record.Versions))
		copy(versions, req.Record.Versions)
		return &handler.Result{Entries: versions}, nil
	}
	b, err := h.open(ctx, req)
	if err != nil {
		return nil, err
	}
	p := bundle.Clean(req.Path)
	if !b.IsDir(p) {
		if b.Has(p) {
			return nil, errors.InvalidInput(errors.PhaseHandler, p+" is a file")
		}
		return nil, errors.NotFound(errors.PhaseHandler, req.Address.String(), "no such directory "+p)
	}
	return &handler.Result{Entries: b.List(p)}, nil
}

// Len returns the number of decoded bundles held.
func (h *Handler) Len() int {
	return h.decoded.ItemCount()
}
