package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/wippyai/wasm-space/address"
	"github.com/wippyai/wasm-space/errors"
	"github.com/wippyai/wasm-space/registry"
)

// Operation is one of the uniform capability operations.
type Operation uint8

const (
	OpRead Operation = iota + 1
	OpWrite
	OpList
	OpInvoke
	OpConfigure
)

var opNames = map[Operation]string{
	OpRead:      "read",
	OpWrite:     "write",
	OpList:      "list",
	OpInvoke:    "invoke",
	OpConfigure: "configure",
}

func (o Operation) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Operations returns every operation in declaration order.
func Operations() []Operation {
	return []Operation{OpRead, OpWrite, OpList, OpInvoke, OpConfigure}
}

// ParseOperation maps an operation name to an Operation.
func ParseOperation(name string) (Operation, error) {
	for op, n := range opNames {
		if strings.EqualFold(n, name) {
			return op, nil
		}
	}
	return 0, errors.InvalidInput(errors.PhaseRoute, fmt.Sprintf("unknown operation %q", name))
}

// Exclusive reports whether the operation needs exclusive access to the resource.
func (o Operation) Exclusive() bool {
	return o == OpWrite || o == OpInvoke || o == OpConfigure
}

// Request is the input to a handler call. Handlers receive snapshots and
// never touch the registry directly.
type Request struct {
	Record   *registry.Record
	Binding  *registry.Binding
	Bindings map[string]registry.Binding
	Address  address.Address
	Key      string
	Path     string
	Version  string
	Data     []byte
	Children []string
	Op       Operation
	// Pinned is set when the caller named the version explicitly.
	Pinned bool
}

// Transition is a lifecycle change requested by a handler.
type Transition struct {
	Cause string
	To    registry.State
}

// Result is the output of a handler call.
type Result struct {
	Data        []byte
	Entries     []string
	Transitions []Transition
}

// Handler implements the capabilities of one resource kind.
type Handler interface {
	Kind() registry.Kind
	Capabilities() []Operation

	// Create allocates private state for a newly inserted resource.
	Create(ctx context.Context, rec *registry.Record) error
	// Drop releases private state of a deleted resource.
	Drop(ctx context.Context, rec *registry.Record) error

	Read(ctx context.Context, req *Request) (*Result, error)
	Write(ctx context.Context, req *Request) (*Result, error)
	List(ctx context.Context, req *Request) (*Result, error)
	Invoke(ctx context.Context, req *Request) (*Result, error)
	Configure(ctx context.Context, req *Request) (*Result, error)
}

// Base implements every capability as unsupported. Handlers embed it and
// override what their kind provides.
type Base struct {
	caps []Operation
	kind registry.Kind
}

// NewBase creates a Base for kind advertising caps.
func NewBase(kind registry.Kind, caps ...Operation) Base {
	return Base{kind: kind, caps: caps}
}

func (b Base) Kind() registry.Kind { return b.kind }

func (b Base) Capabilities() []Operation {
	out := make([]Operation, len(b.caps))
	copy(out, b.caps)
	return out
}

func (b Base) Create(context.Context, *registry.Record) error { return nil }
func (b Base) Drop(context.Context, *registry.Record) error   { return nil }

func (b Base) Read(_ context.Context, req *Request) (*Result, error) {
	return nil, b.unsupported(req, OpRead)
}

func (b Base) Write(_ context.Context, req *Request) (*Result, error) {
	return nil, b.unsupported(req, OpWrite)
}

func (b Base) List(_ context.Context, req *Request) (*Result, error) {
	return nil, b.unsupported(req, OpList)
}

func (b Base) Invoke(_ context.Context, req *Request) (*Result, error) {
	return nil, b.unsupported(req, OpInvoke)
}

func (b Base) Configure(_ context.Context, req *Request) (*Result, error) {
	return nil, b.unsupported(req, OpConfigure)
}

func (b Base) unsupported(req *Request, op Operation) error {
	return errors.Unsupported(req.Address.String(), b.kind.String(), op.String())
}

// Supports reports whether h advertises op.
func Supports(h Handler, op Operation) bool {
	for _, c := range h.Capabilities() {
		if c == op {
			return true
		}
	}
	return false
}

// Lifecycle returns the transition due after a configure call, given the
// prospective bindings in req. At most one transition is returned.
func Lifecycle(req *Request) []Transition {
	spec := registry.SpecFor(req.Record.Kind)
	next, ok := spec.Readiness(req.Record.State, req.Bindings)
	if !ok {
		return nil
	}
	cause := "bindings complete"
	if next != registry.StateReady {
		cause = "awaiting bindings"
	}
	return []Transition{{To: next, Cause: cause}}
}

// IsRejection reports whether err is a request rejection rather than a
// resource fault. Rejections leave the resource state untouched.
func IsRejection(err error) bool {
	switch errors.KindOf(err) {
	case errors.KindNotFound,
		errors.KindUnsupported,
		errors.KindInvalidInput,
		errors.KindReentrant,
		errors.KindNotReady,
		errors.KindBindError,
		errors.KindIncompatibleKind:
		return true
	default:
		return false
	}
}

// Set maps kinds to their handlers.
type Set struct {
	handlers map[registry.Kind]Handler
}

// NewSet creates a set from handlers, keyed by their Kind.
func NewSet(handlers ...Handler) *Set {
	s := &Set{handlers: make(map[registry.Kind]Handler, len(handlers))}
	for _, h := range handlers {
		s.handlers[h.Kind()] = h
	}
	return s
}

// For returns the handler for kind. The root uses the Space handler.
func (s *Set) For(kind registry.Kind) (Handler, bool) {
	if kind == 0 {
		kind = registry.KindSpace
	}
	h, ok := s.handlers[kind]
	return h, ok
}
