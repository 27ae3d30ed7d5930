package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const entrySuffix = ".entry"

// newFileStore 以 basePath 为根目录构建磁盘缓存，每个世代对应一个子目录。
func newFileStore(basePath string, maxEntrySize int64) (*fileStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath:     abs,
		maxEntrySize: maxEntrySize,
		locks:        make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 Key 并发写入；gens 读写锁保证 Delete 与 Put 互斥，
// 已删除的世代不会被迟到的写入重新创建。
type fileStore struct {
	basePath     string
	maxEntrySize int64

	gens sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fileHandle struct {
	store *fileStore
	gen   Generation
}

func (s *fileStore) Open(ctx context.Context, gen Generation) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := gen.Validate(); err != nil {
		return nil, err
	}

	s.gens.Lock()
	defer s.gens.Unlock()

	if err := os.MkdirAll(s.generationPath(gen), 0o755); err != nil {
		return nil, fmt.Errorf("create generation %s: %w", gen, err)
	}
	return &fileHandle{store: s, gen: gen}, nil
}

func (s *fileStore) Delete(ctx context.Context, gen Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := gen.Validate(); err != nil {
		return err
	}

	s.gens.Lock()
	defer s.gens.Unlock()

	if err := os.RemoveAll(s.generationPath(gen)); err != nil {
		return fmt.Errorf("delete generation %s: %w", gen, err)
	}
	return nil
}

func (s *fileStore) ListGenerations(ctx context.Context) ([]Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.gens.RLock()
	defer s.gens.RUnlock()

	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	result := make([]Generation, 0, len(items))
	for _, item := range items {
		if !item.IsDir() || strings.HasPrefix(item.Name(), ".") {
			continue
		}
		result = append(result, Generation(item.Name()))
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (h *fileHandle) Generation() Generation {
	return h.gen
}

func (h *fileHandle) Get(ctx context.Context, key Key) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s := h.store
	s.gens.RLock()
	defer s.gens.RUnlock()

	data, err := os.ReadFile(s.entryPath(h.gen, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	// 文件名来自摘要，额外比对完整 Key 以排除碰撞。
	if entry.Key != key {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (h *fileHandle) Put(ctx context.Context, entry *Entry) error {
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

	dir := s.generationPath(h.gen)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrGenerationMissing, h.gen)
	}

	unlock := s.lockEntry(h.gen, entry.Key)
	defer unlock()

	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(data))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, s.entryPath(h.gen, entry.Key)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) lockEntry(gen Generation, key Key) func() {
	lockKey := string(gen) + "::" + key.String()
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) generationPath(gen Generation) string {
	return filepath.Join(s.basePath, string(gen))
}

func (s *fileStore) entryPath(gen Generation, key Key) string {
	return filepath.Join(s.generationPath(gen), key.Hash()+entrySuffix)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
