package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse    Phase = "parse"    // address grammar
	PhaseRegistry Phase = "registry" // record table invariants
	PhaseResolve  Phase = "resolve"  // address to handle resolution
	PhaseRoute    Phase = "route"    // dispatch and lifecycle gating
	PhaseHandler  Phase = "handler"  // resource type handler
	PhaseGuest    Phase = "guest"    // wasm guest boundary
	PhaseStore    Phase = "store"    // artifact and journal backends
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedAddress  Kind = "malformed_address"
	KindMissingParent     Kind = "missing_parent"
	KindDuplicateResource Kind = "duplicate_resource"
	KindDuplicateVersion  Kind = "duplicate_version"
	KindIncompatibleKind  Kind = "incompatible_kind"
	KindHasChildren       Kind = "has_children"
	KindBusy              Kind = "busy"
	KindNotFound          Kind = "not_found"
	KindBindError         Kind = "bind_error"
	KindNotReady          Kind = "not_ready"
	KindUnsupported       Kind = "unsupported_operation"
	KindReentrant         Kind = "reentrant"
	KindContractViolation Kind = "contract_violation"
	KindResourceFault     Kind = "resource_fault"
	KindInvalidInput      Kind = "invalid_input"
	KindUnknownKind       Kind = "unknown_kind"
	KindStore             Kind = "store"
	KindMissingImport     Kind = "missing_import"
	KindInstantiation     Kind = "instantiation"
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause     error
	Phase     Phase
	Kind      Kind
	Address   string
	Operation string
	Detail    string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Address != "" {
		b.WriteString(" at ")
		b.WriteString(e.Address)
	}

	if e.Operation != "" {
		b.WriteString(" (")
		b.WriteString(e.Operation)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Kind must match; Phase is compared only when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Phase == "" || e.Phase == t.Phase
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Address sets the resource address the error refers to
func (b *Builder) Address(addr string) *Builder {
	b.err.Address = addr
	return b
}

// Operation sets the operation that was attempted
func (b *Builder) Operation(op string) *Builder {
	b.err.Operation = op
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Convenience constructors for common error patterns

// Malformed creates a malformed address error
func Malformed(text, detail string) *Error {
	return &Error{
		Phase:   PhaseParse,
		Kind:    KindMalformedAddress,
		Address: text,
		Detail:  detail,
	}
}

// MissingParent creates a missing parent error
func MissingParent(addr, parent string) *Error {
	return &Error{
		Phase:   PhaseRegistry,
		Kind:    KindMissingParent,
		Address: addr,
		Detail:  fmt.Sprintf("parent %q does not exist", parent),
	}
}

// DuplicateResource creates a duplicate resource error
func DuplicateResource(addr string) *Error {
	return &Error{
		Phase:   PhaseRegistry,
		Kind:    KindDuplicateResource,
		Address: addr,
		Detail:  "resource already exists",
	}
}

// DuplicateVersion creates a duplicate version error
func DuplicateVersion(addr, version string) *Error {
	return &Error{
		Phase:   PhaseRegistry,
		Kind:    KindDuplicateVersion,
		Address: addr,
		Detail:  fmt.Sprintf("version %s already published", version),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, addr, detail string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindNotFound,
		Address: addr,
		Detail:  detail,
	}
}

// BindFailed creates a binding error
func BindFailed(addr, key string, cause error) *Error {
	return &Error{
		Phase:   PhaseResolve,
		Kind:    KindBindError,
		Address: addr,
		Detail:  fmt.Sprintf("binding %q does not resolve", key),
		Cause:   cause,
	}
}

// NotReady creates a lifecycle gating error
func NotReady(addr, op, state string) *Error {
	return &Error{
		Phase:     PhaseRoute,
		Kind:      KindNotReady,
		Address:   addr,
		Operation: op,
		Detail:    fmt.Sprintf("resource is %s", state),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(addr, kind, op string) *Error {
	return &Error{
		Phase:     PhaseRoute,
		Kind:      KindUnsupported,
		Address:   addr,
		Operation: op,
		Detail:    fmt.Sprintf("%s does not implement %s", kind, op),
	}
}

// Fault creates a resource fault error wrapping the handler cause
func Fault(addr, op string, cause error) *Error {
	return &Error{
		Phase:     PhaseRoute,
		Kind:      KindResourceFault,
		Address:   addr,
		Operation: op,
		Cause:     cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Store wraps a backend failure
func Store(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseStore,
		Kind:   KindStore,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates a guest instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseGuest,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved guest import
type MissingImport struct {
	Module   string // e.g., "space:capability"
	Function string // e.g., "read"
}

// MissingImportsError is returned when a guest imports functions the host does not provide
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Module:   mod,
			Function: fn,
		})
	}
	return result
}

func parseImportKey(key string) (module, function string) {
	mod, fn, found := strings.Cut(key, "#")
	if found {
		return mod, fn
	}
	return key, ""
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[guest] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d host function(s):\n", len(e.Imports))

	byModule := make(map[string][]string)
	for _, imp := range e.Imports {
		byModule[imp.Module] = append(byModule[imp.Module], imp.Function)
	}
	modules := make([]string, 0, len(byModule))
	for m := range byModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	for _, m := range modules {
		b.WriteString("\n  ")
		b.WriteString(m)
		b.WriteString(":\n")
		for _, fn := range byModule[m] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
