package registry

import (
	"strings"

	"github.com/wippyai/wasm-space/errors"
)

// Kind is the closed set of resource kinds.
type Kind uint8

const (
	KindSpace Kind = iota + 1
	KindFileSystem
	KindApp
	KindConfigBundle
)

var kindNames = map[Kind]string{
	KindSpace:        "Space",
	KindFileSystem:   "FileSystem",
	KindApp:          "App",
	KindConfigBundle: "ConfigBundle",
}

func (k Kind) String() string {
	if k == 0 {
		return "Root"
	}
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindSpace, KindFileSystem, KindApp, KindConfigBundle}
}

// ParseKind maps a kind tag to a Kind. Matching is case-insensitive.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k, nil
		}
	}
	return 0, errors.New(errors.PhaseRegistry, errors.KindUnknownKind).
		Detail("unknown resource kind %q", name).
		Build()
}

// State is the lifecycle state of a resource.
type State uint8

const (
	StateUnconfigured State = iota
	StateConfiguring
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to State) bool {
	switch from {
	case StateUnconfigured:
		return to == StateConfiguring || to == StateReady || to == StateFailed
	case StateConfiguring:
		return to == StateReady || to == StateFailed
	case StateReady:
		return to == StateFailed
	default:
		return false
	}
}

// Spec describes the structural rules of a kind.
type Spec struct {
	// Targets lists the target kinds a binding key accepts. Keys absent
	// from the map accept any kind.
	Targets map[string][]Kind

	Parents   []Kind
	Required  []string
	Kind      Kind
	AllowRoot bool
	Versioned bool
}

var specs = map[Kind]Spec{
	KindSpace: {
		Kind:      KindSpace,
		AllowRoot: true,
		Parents:   []Kind{KindSpace},
	},
	KindFileSystem: {
		Kind:    KindFileSystem,
		Parents: []Kind{KindSpace},
	},
	KindApp: {
		Kind:     KindApp,
		Parents:  []Kind{KindSpace},
		Required: []string{"config", "wasm"},
		Targets: map[string][]Kind{
			"config": {KindConfigBundle},
			"wasm":   {KindConfigBundle, KindFileSystem},
		},
	},
	KindConfigBundle: {
		Kind:      KindConfigBundle,
		Parents:   []Kind{KindSpace},
		Versioned: true,
	},
}

// SpecFor returns the structural rules of k.
func SpecFor(k Kind) Spec {
	return specs[k]
}

// AllowsParent reports whether a resource of this kind may live under parent.
// A zero parent means the root.
func (s Spec) AllowsParent(parent Kind) bool {
	if parent == 0 {
		return s.AllowRoot
	}
	for _, p := range s.Parents {
		if p == parent {
			return true
		}
	}
	return false
}

// AllowsTarget reports whether key may bind to a resource of kind target.
func (s Spec) AllowsTarget(key string, target Kind) bool {
	allowed, ok := s.Targets[key]
	if !ok {
		return true
	}
	for _, k := range allowed {
		if k == target {
			return true
		}
	}
	return false
}

// Readiness computes the state a resource with the given bindings should be
// in, starting from current. It returns false when no transition is due.
func (s Spec) Readiness(current State, bindings map[string]Binding) (State, bool) {
	if current != StateUnconfigured && current != StateConfiguring {
		return current, false
	}
	present := 0
	for _, key := range s.Required {
		if _, ok := bindings[key]; ok {
			present++
		}
	}

	next := current
	switch {
	case present == len(s.Required):
		next = StateReady
	case present > 0:
		next = StateConfiguring
	}
	return next, next != current
}

// MarshalText renders the kind name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	if string(text) == "Root" {
		*k = 0
		return nil
	}
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseState maps a state name to a State.
func ParseState(name string) (State, error) {
	for s := StateUnconfigured; s <= StateFailed; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, errors.InvalidInput(errors.PhaseRegistry, "unknown lifecycle state "+name)
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
