package cache

import (
	"fmt"
	"strings"
)

// 支持的存储驱动。
const (
	DriverFS      = "fs"
	DriverLevelDB = "leveldb"
	DriverMemory  = "memory"
)

// Options 描述 NewStore 所需的驱动参数。
type Options struct {
	Driver        string
	Path          string
	MaxEntrySize  int64
	MemoryEntries int
}

// NewStore 按驱动类型构建 Store，整站复用一份实例。
func NewStore(opts Options) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "", DriverFS:
		return newFileStore(opts.Path, opts.MaxEntrySize)
	case DriverLevelDB:
		return newLevelStore(opts.Path, opts.MaxEntrySize)
	case DriverMemory:
		return newMemoryStore(opts.MemoryEntries, opts.MaxEntrySize), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", opts.Driver)
	}
}
