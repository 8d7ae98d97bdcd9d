// Package tagfs implements a tag-indexed filesystem: files have no
// path, only a set of (key, value) tags, and are found by boolean
// queries over an inverted tag index rather than by directory lookup.
package tagfs

import (
	"math/bits"

	"github.com/skripsaha/boxkernel/internal/wire"
)

// MaxTagsPerFile bounds the number of tags a single inode carries
// inline — large enough for the scenarios this kernel runs, small
// enough that Inode stays a fixed-size, cheaply-copyable value.
const MaxTagsPerFile = 8

// freeSlot marks an Inode slot as unused. A real file's Size can
// legitimately be zero, so the sentinel is the all-ones value rather
// than zero.
const freeSlot = ^uint64(0)

// BlockSize is the size in bytes of one data block. An inode's extent
// starts at byte FirstBlock*BlockSize of the block store; ReadAt and
// WriteAt take byte offsets within the file.
const BlockSize = 4096

// Superblock summarizes a filesystem's capacity and live usage. It is
// recomputed on demand rather than maintained incrementally, so it is
// always internally consistent.
type Superblock struct {
	Magic       uint32
	Version     uint32
	TotalInodes uint32
	TotalBlocks uint32
	FreeInodes  uint32
	FreeBlocks  uint32
}

// fsMagic identifies a tagfs superblock; arbitrary but stable.
const fsMagic = 0x74616746 // "tagF"

// Inode describes one file's extent and tags. Size == freeSlot marks
// an unused slot in the inode table.
type Inode struct {
	ID         uint64
	Size       uint64
	FirstBlock uint32
	BlockCount uint32
	TagCount   uint32
	Tags       [MaxTagsPerFile]wire.Tag
	ReadOnly   bool
}

func (ino *Inode) free() bool { return ino.Size == freeSlot }

// Bitmap is a word-packed block-allocation bitmap with a first-fit
// allocator.
type Bitmap struct {
	words []uint64
	nbits uint32
}

// NewBitmap constructs a bitmap tracking nbits blocks, all initially
// free.
func NewBitmap(nbits uint32) *Bitmap {
	return &Bitmap{
		words: make([]uint64, (nbits+63)/64),
		nbits: nbits,
	}
}

func (b *Bitmap) get(i uint32) bool {
	return b.words[i/64]&(1<<(i%64)) != 0
}

func (b *Bitmap) set(i uint32, v bool) {
	if v {
		b.words[i/64] |= 1 << (i % 64)
	} else {
		b.words[i/64] &^= 1 << (i % 64)
	}
}

// Alloc finds the first run of n consecutive free blocks, marks them
// used, and returns the index of the run's first block. ok is false
// if no such run exists.
func (b *Bitmap) Alloc(n int) (first uint32, ok bool) {
	if n <= 0 {
		return 0, false
	}
	run := 0
	for i := uint32(0); i < b.nbits; i++ {
		if b.get(i) {
			run = 0
			continue
		}
		run++
		if run == n {
			start := i - uint32(n) + 1
			for j := start; j <= i; j++ {
				b.set(j, true)
			}
			return start, true
		}
	}
	return 0, false
}

// Free marks the n blocks starting at first as available again.
func (b *Bitmap) Free(first uint32, n uint32) {
	for i := first; i < first+n && i < b.nbits; i++ {
		b.set(i, false)
	}
}

// MarkUsed marks the n blocks starting at first as used directly,
// without searching — for restoring a known extent rather than
// allocating a fresh one.
func (b *Bitmap) MarkUsed(first uint32, n uint32) {
	for i := first; i < first+n && i < b.nbits; i++ {
		b.set(i, true)
	}
}

// Popcount returns the number of blocks currently marked used, for the
// "bitmap popcount equals sum of live inode block counts" consistency
// check.
func (b *Bitmap) Popcount() uint32 {
	var total uint32
	for _, w := range b.words {
		total += uint32(bits.OnesCount64(w))
	}
	return total
}

// NumBlocks returns the bitmap's total tracked block count.
func (b *Bitmap) NumBlocks() uint32 { return b.nbits }
