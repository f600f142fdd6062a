package store

import (
	"context"
	"sort"
	"time"

	"github.com/coreos/go-semver/semver"
)

// Artifacts persists immutable versioned artifacts keyed by resource address.
type Artifacts interface {
	// Get returns the bytes published under (key, version).
	Get(ctx context.Context, key, version string) ([]byte, error)

	// Put publishes bytes under (key, version). Publishing an existing
	// version fails with duplicate_version, even for identical bytes.
	Put(ctx context.Context, key, version string, data []byte) error

	// Versions lists the published versions of key in ascending semver order.
	Versions(ctx context.Context, key string) ([]string, error)

	// Delete removes every version of key.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Entry is one recorded mutating command.
type Entry struct {
	At      time.Time
	Command []byte
	Seq     int64
}

// Journal records mutating commands so state can be rebuilt by replay.
type Journal interface {
	Append(ctx context.Context, command []byte) error
	Entries(ctx context.Context) ([]Entry, error)
	Close() error
}

// SortVersions orders version strings by semver precedence.
// Strings that do not parse sort after valid versions, lexically.
func SortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, ei := semver.NewVersion(versions[i])
		vj, ej := semver.NewVersion(versions[j])
		switch {
		case ei == nil && ej == nil:
			return vi.LessThan(*vj)
		case ei == nil:
			return true
		case ej == nil:
			return false
		default:
			return versions[i] < versions[j]
		}
	})
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
