package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// Store 管理按世代隔离的缓存空间。不同驱动的布局：
//
//	fs:      <StoragePath>/<Generation>/<sha1(key)>.entry
//	leveldb: <StoragePath>/leveldb    # gen/<Generation> + ent/<Generation>/<key>
//	memory:  进程内 otter 缓存，不持久化
type Store interface {
	// Open 打开（必要时创建）指定世代，返回可读写的 Handle。
	Open(ctx context.Context, gen Generation) (Handle, error)

	// Delete 删除整个世代及其全部条目，重复删除视为成功。
	Delete(ctx context.Context, gen Generation) error

	// ListGenerations 返回当前存储中的全部世代，按名称排序。
	ListGenerations(ctx context.Context) ([]Generation, error)

	// Close 释放底层资源。
	Close() error
}

// Handle 绑定到单个世代，所有读写都只作用于该世代。
type Handle interface {
	Generation() Generation

	// Get 返回条目副本。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key Key) (*Entry, error)

	// Put 以 entry.Key 为键整体替换已有条目；读者要么看到旧条目，要么看到新条目。
	// 世代已被删除时返回 ErrGenerationMissing，且不得重新创建该世代。
	Put(ctx context.Context, entry *Entry) error
}

// Generation 标识一个缓存世代（例如 octopus-v2），同一时刻只有一个世代处于 current 状态。
type Generation string

func (g Generation) String() string {
	return string(g)
}

// Validate 确保世代名称可以安全地作为目录名与键前缀使用。
func (g Generation) Validate() error {
	name := string(g)
	if strings.TrimSpace(name) == "" {
		return errors.New("generation name required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid generation name: %q", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("invalid generation name: %q", name)
		}
	}
	return nil
}

// Entry 是一次成功响应的快照，写入后不可变；同键的后续写入整体替换而非合并。
type Entry struct {
	Key      Key
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Clone 深拷贝条目，保证调用方无法修改已存储的快照。副本的 Header 与 Body 总是非 nil。
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cloned := *e
	cloned.Header = e.Header.Clone()
	cloned.Body = make([]byte, len(e.Body))
	copy(cloned.Body, e.Body)
	cloned.normalize()
	return &cloned
}

// normalize 把 nil 的 Header/Body 替换为空值，空正文与 nil 正文在存储中不作区分。
func (e *Entry) normalize() {
	if e.Header == nil {
		e.Header = http.Header{}
	}
	if e.Body == nil {
		e.Body = []byte{}
	}
}

// Size 估算条目占用的字节数，用于配额判断。
func (e *Entry) Size() int64 {
	if e == nil {
		return 0
	}
	size := int64(len(e.Body)) + int64(len(e.Key.Method)+len(e.Key.URL))
	for key, values := range e.Header {
		size += int64(len(key))
		for _, value := range values {
			size += int64(len(value))
		}
	}
	return size
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrGenerationMissing 表示写入的目标世代不存在（通常已被 activate 清理）。
	ErrGenerationMissing = errors.New("cache generation missing")
	// ErrQuotaExceeded 表示条目超过存储配额。
	ErrQuotaExceeded = errors.New("cache quota exceeded")
	// ErrStoreUnavailable 表示存储已关闭或不可用。
	ErrStoreUnavailable = errors.New("cache store unavailable")
)

func checkQuota(limit, size int64) error {
	if limit > 0 && size > limit {
		return fmt.Errorf("%w: entry %d bytes exceeds %d", ErrQuotaExceeded, size, limit)
	}
	return nil
}

func validEntry(entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry required")
	}
	if entry.Key.IsZero() {
		return errors.New("cache entry key required")
	}
	return nil
}
