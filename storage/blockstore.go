// Package storage implements the Storage deck: memory allocation
// stubs, the TagFS filesystem, and the block-level RAM backing it.
package storage

import (
	"fmt"
	"sync"
)

// BlockStore is the narrow persistence contract TagFS reads and writes
// file data blocks through. It is the storage deck's analogue of a
// whole-device backend, narrowed to the block range a single inode
// occupies rather than an entire raw device.
type BlockStore interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Size() int64
	Flush() error
}

// shardSize is the size of each lock shard. 64KB gives good
// parallelism for small tagged-file I/O while keeping the shard table
// itself small for the arena sizes this kernel deals in.
const shardSize = 64 * 1024

// MemBlockStore is a RAM-backed BlockStore using sharded locking so
// concurrent reads/writes to different regions don't serialize on one
// mutex.
type MemBlockStore struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// NewMemBlockStore allocates a block store of the given size in bytes.
func NewMemBlockStore(size int64) *MemBlockStore {
	numShards := (size + shardSize - 1) / shardSize
	if numShards < 1 {
		numShards = 1
	}
	return &MemBlockStore{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

func (m *MemBlockStore) shardRange(off, length int64) (start, end int) {
	start = int(off / shardSize)
	end = int((off + length - 1) / shardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	if end < start {
		end = start
	}
	return start, end
}

// ReadAt reads into p starting at off, short-reading at the end of the
// store rather than erroring.
func (m *MemBlockStore) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, nil
	}
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	start, end := m.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		m.shards[i].RLock()
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	for i := start; i <= end; i++ {
		m.shards[i].RUnlock()
	}
	return n, nil
}

// WriteAt writes p starting at off, failing if off is already beyond
// the end of the store (the store never grows implicitly).
func (m *MemBlockStore) WriteAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, fmt.Errorf("storage: write beyond end of block store")
	}
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	start, end := m.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		m.shards[i].Lock()
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	for i := start; i <= end; i++ {
		m.shards[i].Unlock()
	}
	return n, nil
}

// Size returns the block store's total capacity in bytes.
func (m *MemBlockStore) Size() int64 { return m.size }

// Flush is a no-op: the memory block store has no write-behind cache.
func (m *MemBlockStore) Flush() error { return nil }

var _ BlockStore = (*MemBlockStore)(nil)
