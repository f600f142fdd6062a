package filesystem

import (
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/wippyai/wasm-space/errors"
)

const tempPrefix = ".write-"

// Volume is the private file tree of one FileSystem resource.
// Paths are slash-rooted and already cleaned.
type Volume struct {
	fs     afero.Fs
	remove func() error
}

// NewVolume wraps an afero filesystem rooted at the volume's top.
func NewVolume(fsys afero.Fs) *Volume {
	return &Volume{fs: fsys}
}

// Backend creates volumes for FileSystem resources.
type Backend interface {
	Open(key string) (*Volume, error)
}

// CleanPath normalizes a sub-path to a slash-rooted form.
func CleanPath(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

func notFound(p string) error {
	return errors.NotFound(errors.PhaseHandler, "", "no such file "+p)
}

// MemoryBackend keeps every volume in its own in-memory filesystem.
type MemoryBackend struct{}

func (MemoryBackend) Open(string) (*Volume, error) {
	return NewVolume(afero.NewMemMapFs()), nil
}

// DirBackend stores each volume in its own directory under Root.
type DirBackend struct {
	Root string
}

func (b DirBackend) Open(key string) (*Volume, error) {
	root, err := filepath.Abs(b.Root)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "resolve filesystem root")
	}
	dir := filepath.Join(root, url.PathEscape(key))
	osfs := afero.NewOsFs()
	if err := osfs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "create volume")
	}
	vol := NewVolume(afero.NewBasePathFs(osfs, dir))
	vol.remove = func() error { return osfs.RemoveAll(dir) }
	return vol, nil
}

func (v *Volume) Read(p string) ([]byte, error) {
	data, err := afero.ReadFile(v.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(p)
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "read "+p)
	}
	return data, nil
}

// Write replaces the file at p whole, creating parent directories.
func (v *Volume) Write(p string, data []byte) error {
	if v.IsDir(p) {
		return errors.InvalidInput(errors.PhaseHandler, p+" is a directory")
	}
	// a file cannot be a parent of another file
	for dir := path.Dir(p); dir != "/"; dir = path.Dir(dir) {
		if info, err := v.fs.Stat(dir); err == nil && !info.IsDir() {
			return errors.InvalidInput(errors.PhaseHandler, dir+" is a file")
		}
	}
	parent := path.Dir(p)
	if err := v.fs.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "create parent of "+p)
	}

	// readers never see partial content
	tmp, err := afero.TempFile(v.fs, parent, tempPrefix+"*")
	if err != nil {
		return errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "write "+p)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		v.fs.Remove(name)
		return errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "write "+p)
	}
	if err := tmp.Close(); err != nil {
		v.fs.Remove(name)
		return errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "write "+p)
	}
	if err := v.fs.Rename(name, p); err != nil {
		v.fs.Remove(name)
		return errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "write "+p)
	}
	return nil
}

// List returns the entries directly under dir. Directories carry a
// trailing slash.
func (v *Volume) List(dir string) ([]string, error) {
	info, err := v.fs.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		if dir == "/" {
			return []string{}, nil
		}
		return nil, notFound(dir)
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "list "+dir)
	}
	if !info.IsDir() {
		return nil, errors.InvalidInput(errors.PhaseHandler, dir+" is a file")
	}
	infos, err := afero.ReadDir(v.fs, dir)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHandler, errors.KindStore, err, "list "+dir)
	}
	entries := make([]string, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if strings.HasPrefix(name, tempPrefix) {
			continue
		}
		if fi.IsDir() {
			name += "/"
		}
		entries = append(entries, name)
	}
	return entries, nil
}

func (v *Volume) IsDir(p string) bool {
	ok, err := afero.IsDir(v.fs, p)
	return err == nil && ok
}

// Remove deletes the volume's backing storage. Memory volumes are freed
// with the last reference.
func (v *Volume) Remove() error {
	if v.remove == nil {
		return nil
	}
	return v.remove()
}
