package cache

import (
	"context"
	"sync"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
)

// MemoryConfig represents the in-memory backend configuration
type MemoryConfig struct {
	// Capacity bounds the number of entries per area, least recently used first out.
	// 0 means unbounded.
	Capacity uint64 `yaml:"capacity" env:"CAPACITY"`
}

// NewMemoryStorage returns a process local storage
func NewMemoryStorage(c MemoryConfig) *MemoryStorage {
	return &MemoryStorage{
		capacity: c.Capacity,
		areas:    make(map[string]*memoryArea),
	}
}

// MemoryStorage is a Storage kept in process memory
type MemoryStorage struct {
	capacity uint64

	m     sync.RWMutex
	areas map[string]*memoryArea
	order []string
}

// Open returns the named area, creating it if absent
func (s *MemoryStorage) Open(ctx context.Context, name string) (Area, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if a, ok := s.areas[name]; ok {
		return a, nil
	}
	opts := []ttlcache.Option[string, *Response]{}
	if s.capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *Response](s.capacity))
	}
	a := &memoryArea{
		name:    name,
		entries: ttlcache.New[string, *Response](opts...),
	}
	s.areas[name] = a
	s.order = append(s.order, name)

	return a, nil
}

// Has reports whether the named area exists
func (s *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	_, ok := s.areas[name]
	return ok, nil
}

// Names lists the areas in creation order
func (s *MemoryStorage) Names(ctx context.Context) ([]string, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Delete removes the named area
func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.m.Lock()
	defer s.m.Unlock()

	a, ok := s.areas[name]
	if !ok {
		return false, nil
	}
	a.m.Lock()
	a.deleted = true
	a.entries.DeleteAll()
	a.m.Unlock()
	delete(s.areas, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return true, nil
}

// Match looks key up in every area in creation order
func (s *MemoryStorage) Match(ctx context.Context, key string) (*Response, bool, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	for _, name := range s.order {
		if resp, ok, _ := s.areas[name].Match(ctx, key); ok {
			return resp, true, nil
		}
	}

	return nil, false, nil
}

// Close is a no-op for the memory storage
func (s *MemoryStorage) Close() error {
	return nil
}

type memoryArea struct {
	name    string
	m       sync.RWMutex
	deleted bool
	entries *ttlcache.Cache[string, *Response]
}

func (a *memoryArea) Name() string {
	return a.name
}

func (a *memoryArea) Match(ctx context.Context, key string) (*Response, bool, error) {
	a.m.RLock()
	defer a.m.RUnlock()

	item := a.entries.Get(key)
	if item == nil {
		return nil, false, nil
	}

	return item.Value().Clone(), true, nil
}

func (a *memoryArea) Put(ctx context.Context, key string, resp *Response) error {
	if key == "" {
		return ErrEmptyKey
	}
	a.m.Lock()
	defer a.m.Unlock()
	if a.deleted {
		return errors.Wrapf(ErrAreaNotFound, "area %s", a.name)
	}
	a.entries.Set(key, resp.Clone(), ttlcache.NoTTL)

	return nil
}

func (a *memoryArea) PutAll(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
	}
	a.m.Lock()
	defer a.m.Unlock()
	if a.deleted {
		return errors.Wrapf(ErrAreaNotFound, "area %s", a.name)
	}
	for _, e := range entries {
		a.entries.Set(e.Key, e.Response.Clone(), ttlcache.NoTTL)
	}

	return nil
}

func (a *memoryArea) Keys(ctx context.Context) ([]string, error) {
	a.m.RLock()
	defer a.m.RUnlock()
	return a.entries.Keys(), nil
}
