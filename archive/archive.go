// Package archive stores emitted unit blobs by composite key so that a
// later process can define units without synthesizing them again. An
// archive is an optimization only: a miss, or any failure, means the
// caller synthesizes as usual.
package archive

import (
	"errors"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("linkage.archive")

// ErrCorrupt reports a stored blob whose checksum does not match.
var ErrCorrupt = errors.New("archive: corrupt entry")

// Archive finds and registers unit blobs. Register keeps the first blob
// stored under a key.
type Archive interface {
	Find(key string) ([]byte, bool, error)
	Register(key string, blob []byte) error
	Close() error
}

// Memory is an in-process archive.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty in-process archive.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Find returns the blob stored under key.
func (m *Memory) Find(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	return b, ok, nil
}

// Register stores a copy of blob unless key is already taken.
func (m *Memory) Register(key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		m.blobs[key] = append([]byte(nil), blob...)
	}
	return nil
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
