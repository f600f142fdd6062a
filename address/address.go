package address

import (
	"strings"

	"github.com/coreos/go-semver/semver"
)

// Segment is one step of an address: a resource name, optionally pinned to a version.
type Segment struct {
	Version *semver.Version
	Name    string
}

// Address is a parsed resource address.
// The zero value is the implicit root.
type Address struct {
	kind     string
	path     string
	segments []Segment
}

// Root returns the zero-segment root address.
func Root() Address {
	return Address{}
}

// New builds an address from plain segment names.
func New(names ...string) Address {
	segs := make([]Segment, len(names))
	for i, n := range names {
		segs[i] = Segment{Name: n}
	}
	return Address{segments: segs}
}

// IsRoot reports whether the address has no segments.
func (a Address) IsRoot() bool {
	return len(a.segments) == 0
}

// Len returns the number of segments.
func (a Address) Len() int {
	return len(a.segments)
}

// Segments returns a copy of the segment list.
func (a Address) Segments() []Segment {
	out := make([]Segment, len(a.segments))
	copy(out, a.segments)
	return out
}

// Names returns the segment names without versions.
func (a Address) Names() []string {
	out := make([]string, len(a.segments))
	for i, s := range a.segments {
		out[i] = s.Name
	}
	return out
}

// Last returns the final segment name, or "" for the root.
func (a Address) Last() string {
	if len(a.segments) == 0 {
		return ""
	}
	return a.segments[len(a.segments)-1].Name
}

// Kind returns the creation-time kind tag, if any.
func (a Address) Kind() string {
	return a.kind
}

// Path returns the sub-path, if any. It always starts with "/".
func (a Address) Path() string {
	return a.path
}

// HasPath reports whether the address carries a sub-path.
func (a Address) HasPath() bool {
	return a.path != ""
}

// Version returns the version pinned on the final segment, or nil.
func (a Address) Version() *semver.Version {
	if len(a.segments) == 0 {
		return nil
	}
	return a.segments[len(a.segments)-1].Version
}

// HasVersion reports whether the final segment is version-pinned.
func (a Address) HasVersion() bool {
	return a.Version() != nil
}

// Parent returns the address with the last segment removed.
// Version, kind and path are dropped. The parent of the root is the root.
func (a Address) Parent() Address {
	if len(a.segments) <= 1 {
		return Root()
	}
	return a.Resource().truncate(len(a.segments) - 1)
}

// Child returns a new address with name appended as a plain segment.
func (a Address) Child(name string) Address {
	base := a.Resource()
	segs := make([]Segment, len(base.segments)+1)
	copy(segs, base.segments)
	segs[len(segs)-1] = Segment{Name: name}
	return Address{segments: segs}
}

// Prefix returns the address made of the first n segments, without versions.
func (a Address) Prefix(n int) Address {
	return a.Resource().truncate(n)
}

// Resource returns the address identifying the resource itself:
// plain segment names, no version, kind or path.
func (a Address) Resource() Address {
	segs := make([]Segment, len(a.segments))
	for i, s := range a.segments {
		segs[i] = Segment{Name: s.Name}
	}
	return Address{segments: segs}
}

// WithVersion returns a copy whose final segment is pinned to v.
func (a Address) WithVersion(v *semver.Version) Address {
	if len(a.segments) == 0 {
		return a
	}
	out := a.clone()
	out.segments[len(out.segments)-1].Version = v
	return out
}

// WithPath returns a copy carrying the given sub-path.
func (a Address) WithPath(p string) Address {
	out := a.clone()
	out.path = p
	return out
}

// WithoutKind returns a copy with the kind tag removed.
func (a Address) WithoutKind() Address {
	out := a.clone()
	out.kind = ""
	return out
}

// Key returns the registry key: the canonical form of Resource().
func (a Address) Key() string {
	return strings.Join(a.Names(), separator)
}

// String returns the canonical textual form.
func (a Address) String() string {
	var b strings.Builder
	for i, s := range a.segments {
		if i > 0 {
			b.WriteString(separator)
		}
		b.WriteString(s.Name)
		if s.Version != nil {
			b.WriteString(separator)
			b.WriteString(s.Version.String())
		}
	}
	if a.kind != "" {
		b.WriteByte('<')
		b.WriteString(a.kind)
		b.WriteByte('>')
	}
	if a.path != "" {
		b.WriteString(separator)
		b.WriteString(a.path)
	}
	return b.String()
}

// Equal reports whether both addresses have the same segments, kind and path.
func (a Address) Equal(b Address) bool {
	if len(a.segments) != len(b.segments) || a.kind != b.kind || a.path != b.path {
		return false
	}
	for i := range a.segments {
		x, y := a.segments[i], b.segments[i]
		if x.Name != y.Name {
			return false
		}
		switch {
		case x.Version == nil && y.Version == nil:
		case x.Version == nil || y.Version == nil:
			return false
		case !x.Version.Equal(*y.Version):
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether a is a strict prefix of b by segment name.
func (a Address) IsAncestorOf(b Address) bool {
	if len(a.segments) >= len(b.segments) {
		return false
	}
	for i := range a.segments {
		if a.segments[i].Name != b.segments[i].Name {
			return false
		}
	}
	return true
}

func (a Address) truncate(n int) Address {
	if n > len(a.segments) {
		n = len(a.segments)
	}
	segs := make([]Segment, n)
	copy(segs, a.segments[:n])
	return Address{segments: segs}
}

func (a Address) clone() Address {
	segs := make([]Segment, len(a.segments))
	copy(segs, a.segments)
	return Address{segments: segs, kind: a.kind, path: a.path}
}
