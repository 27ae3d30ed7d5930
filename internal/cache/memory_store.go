package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/maypok86/otter/v2"
)

const defaultMemoryEntries = 10_000

// memoryStore 为每个世代维护一个 otter W-TinyLFU 缓存，进程退出即丢失。
type memoryStore struct {
	maxEntries   int
	maxEntrySize int64

	mu     sync.RWMutex
	gens   map[Generation]*otter.Cache[string, *Entry]
	closed bool
}

type memoryHandle struct {
	store *memoryStore
	gen   Generation
}

func newMemoryStore(maxEntries int, maxEntrySize int64) *memoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	return &memoryStore{
		maxEntries:   maxEntries,
		maxEntrySize: maxEntrySize,
		gens:         make(map[Generation]*otter.Cache[string, *Entry]),
	}
}

func (s *memoryStore) Open(ctx context.Context, gen Generation) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := gen.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreUnavailable
	}
	if _, ok := s.gens[gen]; !ok {
		c, err := otter.New(&otter.Options[string, *Entry]{
			MaximumSize: s.maxEntries,
		})
		if err != nil {
			return nil, fmt.Errorf("create memory generation: %w", err)
		}
		s.gens[gen] = c
	}
	return &memoryHandle{store: s, gen: gen}, nil
}

func (s *memoryStore) Delete(ctx context.Context, gen Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.gens[gen]; ok {
		c.InvalidateAll()
		delete(s.gens, gen)
	}
	return nil
}

func (s *memoryStore) ListGenerations(ctx context.Context) ([]Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Generation, 0, len(s.gens))
	for gen := range s.gens {
		result = append(result, gen)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for gen, c := range s.gens {
		c.InvalidateAll()
		delete(s.gens, gen)
	}
	s.closed = true
	return nil
}

func (h *memoryHandle) Generation() Generation {
	return h.gen
}

func (h *memoryHandle) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := h.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.gens[h.gen]
	if !ok {
		return nil, ErrNotFound
	}
	entry, ok := c.GetIfPresent(key.String())
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

func (h *memoryHandle) Put(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validEntry(entry); err != nil {
		return err
	}
	s := h.store
	if err := checkQuota(s.maxEntrySize, entry.Size()); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreUnavailable
	}
	c, ok := s.gens[h.gen]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGenerationMissing, h.gen)
	}
	c.Set(entry.Key.String(), entry.Clone())
	return nil
}
