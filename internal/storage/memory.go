package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and local development.
// Version tags are content hashes, mirroring etag semantics: rewriting
// identical content yields the same tag.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// List returns the objects under a key prefix in lexicographic order.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var infos []ObjectInfo
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, ObjectInfo{
			Key:        key,
			Name:       path.Base(key),
			VersionTag: obj.VersionTag,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Read fetches an object. Returns ErrNotFound when absent.
func (m *MemoryStore) Read(_ context.Context, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}

	content := make([]byte, len(obj.Content))
	copy(content, obj.Content)
	return &Object{Content: content, VersionTag: obj.VersionTag}, nil
}

// Put writes an object unconditionally.
func (m *MemoryStore) Put(_ context.Context, key string, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store(key, content), nil
}

// PutIf writes an object with optimistic concurrency.
func (m *MemoryStore) PutIf(_ context.Context, key string, content []byte, expectedTag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.objects[key]
	if expectedTag == "" {
		if exists {
			return "", ErrPreconditionFailed
		}
	} else if !exists || current.VersionTag != expectedTag {
		return "", ErrPreconditionFailed
	}

	return m.store(key, content), nil
}

// Delete removes an object revision.
func (m *MemoryStore) Delete(_ context.Context, key, versionTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.objects[key]
	if !ok {
		return ErrNotFound
	}
	if versionTag != "" && current.VersionTag != versionTag {
		return ErrPreconditionFailed
	}

	delete(m.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// store must be called with the mutex held.
func (m *MemoryStore) store(key string, content []byte) string {
	copied := make([]byte, len(content))
	copy(copied, content)

	sum := sha256.Sum256(content)
	tag := hex.EncodeToString(sum[:16])

	m.objects[key] = Object{Content: copied, VersionTag: tag}
	return tag
}
