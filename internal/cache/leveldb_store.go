package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	levelGenPrefix   = "gen/"
	levelEntryPrefix = "ent/"
)

// levelStore 将所有世代放在同一个 LevelDB 中：gen/<name> 为世代标记，
// ent/<name>/<key> 为 gob 编码的条目。
type levelStore struct {
	db           *leveldb.DB
	maxEntrySize int64

	gens sync.RWMutex
}

type levelHandle struct {
	store *levelStore
	gen   Generation
}

func newLevelStore(basePath string, maxEntrySize int64) (*levelStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	db, err := leveldb.OpenFile(filepath.Join(basePath, "leveldb"), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelStore{db: db, maxEntrySize: maxEntrySize}, nil
}

func (s *levelStore) Open(ctx context.Context, gen Generation) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := gen.Validate(); err != nil {
		return nil, err
	}

	s.gens.Lock()
	defer s.gens.Unlock()

	exists, err := s.db.Has(levelGenKey(gen), nil)
	if err != nil {
		return nil, wrapLevelErr(err)
	}
	if !exists {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		if err := s.db.Put(levelGenKey(gen), stamp, nil); err != nil {
			return nil, wrapLevelErr(err)
		}
	}
	return &levelHandle{store: s, gen: gen}, nil
}

func (s *levelStore) Delete(ctx context.Context, gen Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := gen.Validate(); err != nil {
		return err
	}

	s.gens.Lock()
	defer s.gens.Unlock()

	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix(levelEntryPrefixFor(gen)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return wrapLevelErr(err)
	}
	batch.Delete(levelGenKey(gen))
	return wrapLevelErr(s.db.Write(batch, nil))
}

func (s *levelStore) ListGenerations(ctx context.Context) ([]Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.gens.RLock()
	defer s.gens.RUnlock()

	var result []Generation
	iter := s.db.NewIterator(util.BytesPrefix([]byte(levelGenPrefix)), nil)
	for iter.Next() {
		name := string(iter.Key()[len(levelGenPrefix):])
		result = append(result, Generation(name))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, wrapLevelErr(err)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

func (s *levelStore) Close() error {
	return s.db.Close()
}

func (h *levelHandle) Generation() Generation {
	return h.gen
}

func (h *levelHandle) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := h.store
	s.gens.RLock()
	defer s.gens.RUnlock()

	data, err := s.db.Get(levelEntryKey(h.gen, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapLevelErr(err)
	}
	return decodeEntry(data)
}

func (h *levelHandle) Put(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validEntry(entry); err != nil {
		return err
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	s := h.store
	if err := checkQuota(s.maxEntrySize, int64(len(data))); err != nil {
		return err
	}

	s.gens.RLock()
	defer s.gens.RUnlock()

	exists, err := s.db.Has(levelGenKey(h.gen), nil)
	if err != nil {
		return wrapLevelErr(err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrGenerationMissing, h.gen)
	}
	return wrapLevelErr(s.db.Put(levelEntryKey(h.gen, entry.Key), data, nil))
}

func levelGenKey(gen Generation) []byte {
	return []byte(levelGenPrefix + string(gen))
}

func levelEntryPrefixFor(gen Generation) []byte {
	return []byte(levelEntryPrefix + string(gen) + "/")
}

func levelEntryKey(gen Generation, key Key) []byte {
	return append(levelEntryPrefixFor(gen), key.String()...)
}

func wrapLevelErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, leveldb.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
