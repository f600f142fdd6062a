package registry

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/wasm-space/address"
	"github.com/wippyai/wasm-space/resource"
)

// Binding is one configuration entry of a resource.
// Address bindings carry Target; literal bindings carry Value.
type Binding struct {
	BoundAt    time.Time `json:"bound_at" yaml:"bound_at"`
	Key        string    `json:"key" yaml:"key"`
	Target     string    `json:"target,omitempty" yaml:"target,omitempty"`
	Version    string    `json:"version,omitempty" yaml:"version,omitempty"`
	Value      string    `json:"value,omitempty" yaml:"value,omitempty"`
	TargetKind Kind      `json:"-" yaml:"-"`
	Literal    bool      `json:"literal,omitempty" yaml:"literal,omitempty"`
}

// TargetAddress parses Target. Literal bindings return false.
func (b Binding) TargetAddress() (address.Address, bool) {
	if b.Literal {
		return address.Address{}, false
	}
	a, err := address.Parse(b.Target)
	if err != nil {
		return address.Address{}, false
	}
	return a, true
}

// Transition is one recorded lifecycle edge.
type Transition struct {
	At    time.Time `json:"at" yaml:"at"`
	Cause string    `json:"cause,omitempty" yaml:"cause,omitempty"`
	From  State     `json:"from" yaml:"from"`
	To    State     `json:"to" yaml:"to"`
}

// Record is the registry entry for one resource. Values handed out by the
// registry are snapshots and may be retained freely.
type Record struct {
	CreatedAt time.Time
	Bindings  map[string]Binding
	children  map[string]struct{}
	Fault     string
	Address   address.Address
	Versions  []string
	History   []Transition
	Handle    resource.Handle
	UID       uuid.UUID
	Kind      Kind
	State     State
}

func newRecord(addr address.Address, kind Kind) *Record {
	return &Record{
		UID:       uuid.New(),
		Address:   addr,
		Kind:      kind,
		State:     StateUnconfigured,
		Bindings:  make(map[string]Binding),
		children:  make(map[string]struct{}),
		CreatedAt: time.Now().UTC(),
	}
}

// Key returns the registry key of the record.
func (r *Record) Key() string {
	return r.Address.Key()
}

// IsRoot reports whether the record is the implicit root.
func (r *Record) IsRoot() bool {
	return r.Address.IsRoot()
}

// Children returns the names of direct children, sorted.
func (r *Record) Children() []string {
	out := make([]string, 0, len(r.children))
	for name := range r.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasChildren reports whether any child exists or is being created.
func (r *Record) HasChildren() bool {
	return len(r.children) > 0
}

// Binding returns the binding for key.
func (r *Record) Binding(key string) (Binding, bool) {
	b, ok := r.Bindings[key]
	return b, ok
}

// Latest returns the highest published version, or "".
func (r *Record) Latest() string {
	if len(r.Versions) == 0 {
		return ""
	}
	return r.Versions[len(r.Versions)-1]
}

// HasVersion reports whether v is published.
func (r *Record) HasVersion(v string) bool {
	for _, existing := range r.Versions {
		if existing == v {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := *r
	out.Bindings = make(map[string]Binding, len(r.Bindings))
	for k, v := range r.Bindings {
		out.Bindings[k] = v
	}
	out.children = make(map[string]struct{}, len(r.children))
	for k := range r.children {
		out.children[k] = struct{}{}
	}
	out.Versions = append([]string(nil), r.Versions...)
	out.History = append([]Transition(nil), r.History...)
	return &out
}
