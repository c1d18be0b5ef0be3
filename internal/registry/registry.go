// Package registry provides the in-memory indexed repository shared by every
// entity manager in the platform.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when an entity id is not present.
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicate is returned when inserting an id that already exists.
	ErrDuplicate = errors.New("entity already exists")
	// ErrValidation is returned for empty ids or unknown indexes.
	ErrValidation = errors.New("validation failed")
)

// IndexFunc returns the secondary keys an entity is filed under.
type IndexFunc[T any] func(T) []string

// Option configures a Repository.
type Option[T any] func(*Repository[T])

// WithClone installs a copy function applied on every read and write so callers
// never share slices or maps with stored entities.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(r *Repository[T]) {
		r.clone = clone
	}
}

// Repository is a mutex-guarded map of entities with named secondary indexes.
// Listing preserves insertion order.
type Repository[T any] struct {
	mu      sync.RWMutex
	idOf    func(T) string
	clone   func(T) T
	items   map[string]T
	order   []string
	indexes map[string]*index[T]
}

type index[T any] struct {
	fn   IndexFunc[T]
	keys map[string]map[string]struct{}
}

// New builds an empty repository keyed by idOf.
func New[T any](idOf func(T) string, opts ...Option[T]) *Repository[T] {
	r := &Repository[T]{
		idOf:    idOf,
		items:   make(map[string]T),
		indexes: make(map[string]*index[T]),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddIndex registers a secondary index and backfills it from current entities.
func (r *Repository[T]) AddIndex(name string, fn IndexFunc[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := &index[T]{fn: fn, keys: make(map[string]map[string]struct{})}
	for _, id := range r.order {
		idx.add(id, r.items[id])
	}
	r.indexes[name] = idx
}

// Insert stores a new entity.
func (r *Repository[T]) Insert(item T) error {
	id := strings.TrimSpace(r.idOf(item))
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(id, item)
}

// InsertUnique stores a new entity unless another entity already holds one of
// its keys in the named index. The check and the insert are atomic.
func (r *Repository[T]) InsertUnique(item T, indexName string) error {
	id := strings.TrimSpace(r.idOf(item))
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.indexes[indexName]
	if !ok {
		return fmt.Errorf("%w: unknown index %q", ErrValidation, indexName)
	}
	for _, key := range idx.fn(item) {
		if len(idx.keys[key]) > 0 {
			return fmt.Errorf("%w: %s key %s", ErrDuplicate, indexName, key)
		}
	}
	return r.insertLocked(id, item)
}

func (r *Repository[T]) insertLocked(id string, item T) error {
	if _, exists := r.items[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	item = r.copy(item)
	r.items[id] = item
	r.order = append(r.order, id)
	for _, idx := range r.indexes {
		idx.add(id, item)
	}
	return nil
}

// Get returns the entity with the given id.
func (r *Repository[T]) Get(id string) (T, error) {
	id = strings.TrimSpace(id)
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.copy(item), nil
}

// Has reports whether id is stored.
func (r *Repository[T]) Has(id string) bool {
	id = strings.TrimSpace(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

// Update applies fn to a copy of the stored entity and saves the result.
// When fn returns an error nothing is changed. The id must not change.
// Ids are trimmed the same way Insert trims them.
func (r *Repository[T]) Update(id string, fn func(*T) error) (T, error) {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	current, ok := r.items[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := r.copy(current)
	if err := fn(&next); err != nil {
		return zero, err
	}
	if strings.TrimSpace(r.idOf(next)) != id {
		return zero, fmt.Errorf("%w: id is immutable", ErrValidation)
	}

	for _, idx := range r.indexes {
		idx.remove(id, current)
		idx.add(id, next)
	}
	r.items[id] = next
	return r.copy(next), nil
}

// Delete removes and returns the entity with the given id.
func (r *Repository[T]) Delete(id string) (T, error) {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, idx := range r.indexes {
		idx.remove(id, item)
	}
	delete(r.items, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return item, nil
}

// List returns every entity in insertion order.
func (r *Repository[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.copy(r.items[id]))
	}
	return out
}

// Filter returns entities matching pred in insertion order.
func (r *Repository[T]) Filter(pred func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0)
	for _, id := range r.order {
		item := r.items[id]
		if pred(item) {
			out = append(out, r.copy(item))
		}
	}
	return out
}

// Find returns the first entity matching pred.
func (r *Repository[T]) Find(pred func(T) bool) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		item := r.items[id]
		if pred(item) {
			return r.copy(item), true
		}
	}
	var zero T
	return zero, false
}

// Lookup returns the entities filed under key in the named index, in
// insertion order.
func (r *Repository[T]) Lookup(indexName, key string) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown index %q", ErrValidation, indexName)
	}
	ids := idx.keys[key]
	out := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range r.order {
		if _, hit := ids[id]; hit {
			out = append(out, r.copy(r.items[id]))
		}
	}
	return out, nil
}

// Count returns the number of stored entities.
func (r *Repository[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Repository[T]) copy(item T) T {
	if r.clone == nil {
		return item
	}
	return r.clone(item)
}

func (idx *index[T]) add(id string, item T) {
	for _, key := range idx.fn(item) {
		if key == "" {
			continue
		}
		bucket, ok := idx.keys[key]
		if !ok {
			bucket = make(map[string]struct{})
			idx.keys[key] = bucket
		}
		bucket[id] = struct{}{}
	}
}

func (idx *index[T]) remove(id string, item T) {
	for _, key := range idx.fn(item) {
		bucket, ok := idx.keys[key]
		if !ok {
			continue
		}
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(idx.keys, key)
		}
	}
}
