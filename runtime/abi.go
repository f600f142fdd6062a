package runtime

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-space/errors"
)

const (
	// CapabilityModule is the import module guests link the capability
	// functions from.
	CapabilityModule = "space:capability"

	CabiRealloc = "cabi_realloc"

	// Host function results below zero.
	resultBadMemory = -1
)

// Request is the message a guest sends to a capability function.
// Data is base64 in the JSON encoding.
type Request struct {
	Address string `json:"address"`
	Data    []byte `json:"data,omitempty"`
	Key     string `json:"key,omitempty"`
	Value   string `json:"value,omitempty"`
}

// Response is the message a capability function copies back.
type Response struct {
	Error   *ResponseError `json:"error,omitempty"`
	Data    []byte         `json:"data,omitempty"`
	Entries []string       `json:"entries,omitempty"`
}

// ResponseError carries a failed call across the boundary.
type ResponseError struct {
	Phase  string `json:"phase"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func errorResponse(err error) *Response {
	var e *errors.Error
	if errors.As(err, &e) {
		detail := e.Detail
		if detail == "" && e.Cause != nil {
			detail = e.Cause.Error()
		}
		return &Response{Error: &ResponseError{Phase: string(e.Phase), Kind: string(e.Kind), Detail: detail}}
	}
	return &Response{Error: &ResponseError{
		Phase:  string(errors.PhaseGuest),
		Kind:   string(errors.KindResourceFault),
		Detail: err.Error(),
	}}
}

// readGuest copies len bytes at ptr out of guest memory.
func readGuest(mem api.Memory, ptr, length uint32) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, view)
	return out, true
}

// respond encodes resp into the guest buffer and returns the host function
// result: bytes written, the negated size needed when the buffer is too
// small, or resultBadMemory. The operation has already run when the buffer
// is too small; nothing is cached, so a retry runs it again.
func respond(mem api.Memory, ptr, capacity uint32, resp *Response) int64 {
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(errorResponse(err))
	}
	if uint32(len(out)) > capacity {
		return -int64(len(out))
	}
	if !mem.Write(ptr, out) {
		return resultBadMemory
	}
	return int64(len(out))
}

// allocator hands out guest memory through cabi_realloc.
type allocator struct {
	realloc api.Function
	stack   []uint64
}

func newAllocator(mod api.Module) (*allocator, error) {
	fn := mod.ExportedFunction(CabiRealloc)
	if fn == nil {
		return nil, errors.New(errors.PhaseGuest, errors.KindInstantiation).
			Detail("guest does not export %s", CabiRealloc).
			Build()
	}
	return &allocator{realloc: fn, stack: make([]uint64, 4)}, nil
}

func (a *allocator) alloc(ctx context.Context, size, align uint32) (uint32, error) {
	a.stack[0] = 0
	a.stack[1] = 0
	a.stack[2] = uint64(align)
	a.stack[3] = uint64(size)
	if err := a.realloc.CallWithStack(ctx, a.stack); err != nil {
		return 0, err
	}
	return uint32(a.stack[0]), nil
}

// unpack splits an export result into (ptr, len).
func unpack(v uint64) (uint32, uint32) {
	return uint32(v >> 32), uint32(v)
}
