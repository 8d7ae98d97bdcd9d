package tagfs

import (
	"github.com/skripsaha/boxkernel/internal/wire"
)

// BlockStore is the narrow persistence contract FS reads and writes
// file data blocks through.
type BlockStore interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Size() int64
}

// FS ties the inode table, block bitmap, tag index, and block store
// together into one tag-indexed filesystem.
type FS struct {
	inodes    []Inode
	freeStack []uint64 // stack of free inode ids, so CreateFile
	// pops a free slot in O(1) instead of scanning the inode array on
	// every call.
	bitmap *Bitmap
	index  *index
	store  BlockStore
}

// New constructs an FS with capacity for numInodes files and a block
// store addressing numBlocks BlockSize-sized blocks.
func New(numInodes uint32, numBlocks uint32, store BlockStore) *FS {
	inodes := make([]Inode, numInodes)
	freeStack := make([]uint64, numInodes)
	for i := range inodes {
		inodes[i] = Inode{ID: uint64(i), Size: freeSlot}
		freeStack[numInodes-1-uint32(i)] = uint64(i)
	}
	return &FS{
		inodes:    inodes,
		freeStack: freeStack,
		bitmap:    NewBitmap(numBlocks),
		index:     newIndex(),
		store:     store,
	}
}

// Superblock returns a freshly computed capacity/usage summary.
func (fs *FS) Superblock() Superblock {
	var freeInodes uint32
	for i := range fs.inodes {
		if fs.inodes[i].free() {
			freeInodes++
		}
	}
	return Superblock{
		Magic:       fsMagic,
		Version:     1,
		TotalInodes: uint32(len(fs.inodes)),
		TotalBlocks: fs.bitmap.NumBlocks(),
		FreeInodes:  freeInodes,
		FreeBlocks:  fs.bitmap.NumBlocks() - fs.bitmap.Popcount(),
	}
}

// ErrNoFreeInodes is returned when the inode table is exhausted.
const ErrNoFreeInodes = wire.MarshalError("tagfs: no free inodes")

// ErrTooManyTags is returned when a file's tag set would exceed
// MaxTagsPerFile.
const ErrTooManyTags = wire.MarshalError("tagfs: too many tags for one file")

// ErrUnknownInode is returned when an operation addresses an inode id
// that is out of range or currently free.
const ErrUnknownInode = wire.MarshalError("tagfs: unknown inode")

// ErrReadOnly is returned when a mutation targets a quarantined inode.
const ErrReadOnly = wire.MarshalError("tagfs: inode is quarantined read-only")

// ErrNoSpace is returned when the block bitmap cannot satisfy a
// requested extent.
const ErrNoSpace = wire.MarshalError("tagfs: no free blocks")

// CreateFile allocates a zero-length inode carrying tags and indexes
// it. It never allocates blocks itself — WriteAt grows the extent
// lazily on first write.
func (fs *FS) CreateFile(tags []wire.Tag) (id uint64, err error) {
	if len(tags) > MaxTagsPerFile {
		return 0, ErrTooManyTags
	}
	if len(fs.freeStack) == 0 {
		return 0, ErrNoFreeInodes
	}
	id = fs.freeStack[len(fs.freeStack)-1]
	fs.freeStack = fs.freeStack[:len(fs.freeStack)-1]

	ino := &fs.inodes[id]
	*ino = Inode{ID: id, Size: 0}
	ino.TagCount = uint32(copy(ino.Tags[:], tags))

	for i := uint32(0); i < ino.TagCount; i++ {
		fs.index.insert(ino.Tags[i], id)
	}
	return id, nil
}

func (fs *FS) lookup(id uint64) (*Inode, error) {
	if id >= uint64(len(fs.inodes)) || fs.inodes[id].free() {
		return nil, ErrUnknownInode
	}
	return &fs.inodes[id], nil
}

// quarantine flags an inode read-only after a mutation would have left
// the tag index inconsistent, rather than leaving that inconsistency
// live.
func (fs *FS) quarantine(ino *Inode) { ino.ReadOnly = true }

// DeleteFile removes an inode's tags from the index, frees its block
// extent, and returns its slot to the free stack.
func (fs *FS) DeleteFile(id uint64) error {
	ino, err := fs.lookup(id)
	if err != nil {
		return err
	}
	for i := uint32(0); i < ino.TagCount; i++ {
		fs.index.remove(ino.Tags[i], id)
	}
	if ino.BlockCount > 0 {
		fs.bitmap.Free(ino.FirstBlock, ino.BlockCount)
	}
	*ino = Inode{ID: id, Size: freeSlot}
	fs.freeStack = append(fs.freeStack, id)
	return nil
}

// AddTag attaches a tag to an inode and indexes it. A read-only
// (quarantined) inode rejects further mutation.
func (fs *FS) AddTag(id uint64, tag wire.Tag) error {
	ino, err := fs.lookup(id)
	if err != nil {
		return err
	}
	if ino.ReadOnly {
		return ErrReadOnly
	}
	for i := uint32(0); i < ino.TagCount; i++ {
		if ino.Tags[i].Equal(tag) {
			return nil // already present, nothing to do
		}
	}
	if ino.TagCount >= MaxTagsPerFile {
		return ErrTooManyTags
	}
	ino.Tags[ino.TagCount] = tag
	ino.TagCount++
	fs.index.insert(tag, id)

	if int(ino.TagCount) > len(ino.Tags) {
		fs.quarantine(ino)
		return ErrTooManyTags
	}
	return nil
}

// RemoveTag detaches a tag from an inode, a no-op if the tag wasn't
// present.
func (fs *FS) RemoveTag(id uint64, tag wire.Tag) error {
	ino, err := fs.lookup(id)
	if err != nil {
		return err
	}
	if ino.ReadOnly {
		return ErrReadOnly
	}
	for i := uint32(0); i < ino.TagCount; i++ {
		if !ino.Tags[i].Equal(tag) {
			continue
		}
		copy(ino.Tags[i:], ino.Tags[i+1:ino.TagCount])
		ino.TagCount--
		fs.index.remove(tag, id)
		return nil
	}
	return nil
}

// GetTags returns a copy of an inode's current tag set.
func (fs *FS) GetTags(id uint64) ([]wire.Tag, error) {
	ino, err := fs.lookup(id)
	if err != nil {
		return nil, err
	}
	out := make([]wire.Tag, ino.TagCount)
	copy(out, ino.Tags[:ino.TagCount])
	return out, nil
}

// liveIDs returns every currently-allocated inode id, ascending — the
// universe NOT queries complement against.
func (fs *FS) liveIDs() []uint64 {
	out := make([]uint64, 0, len(fs.inodes))
	for i := range fs.inodes {
		if !fs.inodes[i].free() {
			out = append(out, fs.inodes[i].ID)
		}
	}
	return out
}

// Query evaluates a boolean combination of tags against the index:
// AND intersects every tag's bucket, OR unions them, and NOT
// complements the first tag's bucket against the set of all live
// inodes. Matches are written ascending by inode id into out, bounded
// by len(out); truncated reports whether more matches existed than
// out had room for.
func (fs *FS) Query(op wire.QueryOp, tags []wire.Tag, out []uint64) (n int, truncated bool, err error) {
	if len(tags) == 0 {
		return 0, false, nil
	}

	var matches []uint64
	switch op {
	case wire.QueryAnd:
		matches = append([]uint64(nil), fs.index.bucket(tags[0])...)
		for _, t := range tags[1:] {
			matches = intersect(matches, fs.index.bucket(t))
		}
	case wire.QueryOr:
		for _, t := range tags {
			matches = union(matches, fs.index.bucket(t))
		}
	case wire.QueryNot:
		matches = subtractFromUniverse(fs.liveIDs(), fs.index.bucket(tags[0]))
	default:
		return 0, false, ErrInvalidQueryOp
	}

	n = copy(out, matches)
	truncated = len(matches) > len(out)
	return n, truncated, nil
}

// ErrInvalidQueryOp is returned for a QueryOp outside the AND/OR/NOT
// range.
const ErrInvalidQueryOp = wire.MarshalError("tagfs: invalid query op")

// ReadAt reads from an inode's data extent at off into p.
func (fs *FS) ReadAt(id uint64, p []byte, off int64) (int, error) {
	ino, err := fs.lookup(id)
	if err != nil {
		return 0, err
	}
	if off >= int64(ino.Size) {
		return 0, nil
	}
	n := int64(len(p))
	if off+n > int64(ino.Size) {
		n = int64(ino.Size) - off
	}
	base := int64(ino.FirstBlock) * BlockSize
	return fs.store.ReadAt(p[:n], base+off)
}

// WriteAt writes p into an inode's data extent at off, growing the
// extent (allocating blocks) if the write extends past the inode's
// current block allocation. A read-only (quarantined) inode rejects
// writes.
func (fs *FS) WriteAt(id uint64, p []byte, off int64) (int, error) {
	ino, err := fs.lookup(id)
	if err != nil {
		return 0, err
	}
	if ino.ReadOnly {
		return 0, ErrReadOnly
	}

	end := off + int64(len(p))
	neededBlocks := uint32((end + BlockSize - 1) / BlockSize)
	if neededBlocks > ino.BlockCount {
		if ino.BlockCount > 0 {
			fs.bitmap.Free(ino.FirstBlock, ino.BlockCount)
		}
		first, ok := fs.bitmap.Alloc(int(neededBlocks))
		if !ok {
			// Re-mark the old extent so a failed grow never leaves
			// the inode's data unreachable.
			if ino.BlockCount > 0 {
				fs.bitmap.MarkUsed(ino.FirstBlock, ino.BlockCount)
			}
			return 0, ErrNoSpace
		}
		ino.FirstBlock = first
		ino.BlockCount = neededBlocks
	}

	base := int64(ino.FirstBlock) * BlockSize
	n, err := fs.store.WriteAt(p, base+off)
	if err != nil {
		return n, err
	}
	if end > int64(ino.Size) {
		ino.Size = uint64(end)
	}
	return n, nil
}

// BlockPopcount exposes the bitmap's used-block count, for the
// consistency check that it equals the sum of block_count over live
// inodes.
func (fs *FS) BlockPopcount() uint32 { return fs.bitmap.Popcount() }
