package store

import (
	"context"
	"sync"
	"time"

	"github.com/wippyai/wasm-space/errors"
)

// Memory is an in-process Artifacts implementation.
type Memory struct {
	artifacts map[string]map[string][]byte
	mu        sync.RWMutex
}

// NewMemory creates an empty in-memory artifact store.
func NewMemory() *Memory {
	return &Memory{artifacts: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key, version string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.artifacts[key][version]
	if !ok {
		return nil, errors.NotFound(errors.PhaseStore, key, "version "+version+" not published")
	}
	return clone(data), nil
}

func (m *Memory) Put(_ context.Context, key, version string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions, ok := m.artifacts[key]
	if !ok {
		versions = make(map[string][]byte)
		m.artifacts[key] = versions
	}
	if _, exists := versions[version]; exists {
		return errors.DuplicateVersion(key, version)
	}
	versions[version] = clone(data)
	return nil
}

func (m *Memory) Versions(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	out := make([]string, 0, len(m.artifacts[key]))
	for v := range m.artifacts[key] {
		out = append(out, v)
	}
	m.mu.RUnlock()

	SortVersions(out)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.artifacts, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// MemoryJournal keeps journal entries in process memory.
type MemoryJournal struct {
	entries []Entry
	mu      sync.Mutex
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(_ context.Context, command []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, Entry{
		Seq:     int64(len(j.entries) + 1),
		At:      time.Now().UTC(),
		Command: clone(command),
	})
	return nil
}

func (j *MemoryJournal) Entries(context.Context) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out, nil
}

func (j *MemoryJournal) Close() error { return nil }
