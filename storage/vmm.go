package storage

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/skripsaha/boxkernel/internal/wire"
)

// VMM is a page-granular allocator stub standing in for the kernel's
// physical/virtual memory manager, an external collaborator this deck
// only calls through this narrow interface — it never maps real
// memory, only hands out non-overlapping address ranges from a
// monotonic arena.
type VMM struct {
	mu       sync.Mutex
	pageSize uint64
	cursor   uint64
	limit    uint64
	live     map[uint64]uint64 // addr -> rounded size, for Free validation
}

// NewVMM constructs a VMM managing an arena of limit bytes, starting
// allocations at address 0.
func NewVMM(limit uint64) *VMM {
	return &VMM{
		pageSize: uint64(unix.Getpagesize()),
		limit:    limit,
		live:     make(map[uint64]uint64),
	}
}

func roundUp(size, pageSize uint64) uint64 {
	if size == 0 {
		return pageSize
	}
	return (size + pageSize - 1) / pageSize * pageSize
}

// Alloc rounds size up to a page multiple and bumps the arena cursor,
// recording the allocation for a later matching Free. It never
// returns overlapping ranges and never moves the cursor back, so space
// released by Free is not handed out again.
func (v *VMM) Alloc(size uint64) (addr uint64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rounded := roundUp(size, v.pageSize)
	if v.cursor+rounded > v.limit || v.cursor+rounded < v.cursor {
		return 0, wire.MarshalError("storage: VMM arena exhausted")
	}
	addr = v.cursor
	v.cursor += rounded
	v.live[addr] = rounded
	return addr, nil
}

// Free validates that (addr, size) matches a live allocation made by
// Alloc and derecords it. The arena cursor itself is never rewound —
// freed ranges are simply no longer tracked as live, matching the
// stub's "bump allocator, no real unmapping" contract.
func (v *VMM) Free(addr, size uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rounded := roundUp(size, v.pageSize)
	got, ok := v.live[addr]
	if !ok {
		return wire.MarshalError("storage: free of unknown address")
	}
	if got != rounded {
		return wire.MarshalError("storage: free size does not match allocation")
	}
	delete(v.live, addr)
	return nil
}

// LiveBytes returns the sum of all currently-allocated (unfreed)
// ranges, for diagnostics.
func (v *VMM) LiveBytes() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var total uint64
	for _, size := range v.live {
		total += size
	}
	return total
}
