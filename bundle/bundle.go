// Package bundle reads published configuration bundles.
//
// A bundle artifact is either a zip archive, whose files are addressed by
// their slash-rooted path, or a single raw document reachable at "/".
package bundle

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/wippyai/wasm-space/errors"
)

var zipMagic = []byte("PK\x03\x04")

// Bundle is a decoded, read-only view of an artifact.
type Bundle struct {
	files map[string][]byte
	raw   bool
}

// Open decodes artifact bytes.
func Open(data []byte) (*Bundle, error) {
	if !bytes.HasPrefix(data, zipMagic) {
		return &Bundle{files: map[string][]byte{"/": data}, raw: true}, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHandler, errors.KindInvalidInput, err, "decode bundle archive")
	}

	b := &Bundle{files: make(map[string][]byte, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHandler, errors.KindInvalidInput, err, "open "+f.Name)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHandler, errors.KindInvalidInput, err, "read "+f.Name)
		}
		b.files[Clean(f.Name)] = content
	}
	return b, nil
}

// Clean normalizes a bundle path to a slash-rooted form.
func Clean(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

// Raw reports whether the bundle is a single document.
func (b *Bundle) Raw() bool { return b.raw }

// Has reports whether p names a file in the bundle.
func (b *Bundle) Has(p string) bool {
	_, ok := b.files[Clean(p)]
	return ok
}

// IsDir reports whether p is a directory prefix of at least one file.
func (b *Bundle) IsDir(p string) bool {
	dir := Clean(p)
	if dir == "/" {
		return !b.raw
	}
	prefix := dir + "/"
	for name := range b.files {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Read returns a copy of the file at p.
func (b *Bundle) Read(p string) ([]byte, bool) {
	data, ok := b.files[Clean(p)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// List returns the immediate entries under dir. Subdirectories end in "/".
func (b *Bundle) List(dir string) []string {
	prefix := Clean(dir)
	if prefix != "/" {
		prefix += "/"
	}

	seen := make(map[string]struct{})
	for name := range b.files {
		if b.raw || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			seen[rest[:i+1]] = struct{}{}
		} else {
			seen[rest] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Files returns every file path, sorted.
func (b *Bundle) Files() []string {
	out := make([]string, 0, len(b.files))
	for name := range b.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
