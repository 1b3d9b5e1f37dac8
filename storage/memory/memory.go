// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"sort"
	"sync"

	"github.com/certward/certward/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func (r *Repository) Put(kind, id string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[kind]; !ok {
		r.data[kind] = make(map[string][]byte)
	}
	r.data[kind][id] = append([]byte(nil), data...)
	return nil
}

func (r *Repository) Get(kind, id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records, ok := r.data[kind]
	if !ok {
		return nil, storage.ErrNotFound
	}
	data, ok := records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (r *Repository) Delete(kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, ok := r.data[kind]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := records[id]; !ok {
		return storage.ErrNotFound
	}
	delete(records, id)
	return nil
}

func (r *Repository) List(kind string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id := range r.data[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
