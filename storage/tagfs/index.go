package tagfs

import (
	"sort"

	"github.com/skripsaha/boxkernel/internal/wire"
)

// tagKey is the fixed-width (key, value) pair the inverted index is
// keyed by. Tags compare equal up to their first NUL byte, so the key
// is built from the trimmed strings rather than the raw fixed arrays.
type tagKey struct {
	key   string
	value string
}

func keyOf(t wire.Tag) tagKey {
	return tagKey{key: t.KeyString(), value: t.ValueString()}
}

// index is the inverted (key,value) -> ordered inode-id-set map. Every
// bucket is kept sorted ascending by inode id so Query's AND/OR/NOT
// merges can run as a single linear sweep instead of re-sorting on
// every call.
type index struct {
	buckets map[tagKey][]uint64
}

func newIndex() *index {
	return &index{buckets: make(map[tagKey][]uint64)}
}

// insert adds id to tag's bucket, preserving ascending order. It is a
// no-op if id is already present.
func (idx *index) insert(t wire.Tag, id uint64) {
	k := keyOf(t)
	b := idx.buckets[k]
	pos := sort.Search(len(b), func(i int) bool { return b[i] >= id })
	if pos < len(b) && b[pos] == id {
		return
	}
	b = append(b, 0)
	copy(b[pos+1:], b[pos:])
	b[pos] = id
	idx.buckets[k] = b
}

// remove deletes id from tag's bucket, dropping the bucket entirely
// once it's empty so Query never iterates stale empty buckets.
func (idx *index) remove(t wire.Tag, id uint64) {
	k := keyOf(t)
	b := idx.buckets[k]
	pos := sort.Search(len(b), func(i int) bool { return b[i] >= id })
	if pos >= len(b) || b[pos] != id {
		return
	}
	b = append(b[:pos], b[pos+1:]...)
	if len(b) == 0 {
		delete(idx.buckets, k)
	} else {
		idx.buckets[k] = b
	}
}

func (idx *index) bucket(t wire.Tag) []uint64 {
	return idx.buckets[keyOf(t)]
}

// intersect returns the ascending-sorted intersection of a and b.
func intersect(a, b []uint64) []uint64 {
	out := make([]uint64, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// union returns the ascending-sorted union of a and b, deduplicated.
func union(a, b []uint64) []uint64 {
	out := make([]uint64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		default:
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// subtractFromUniverse returns universe (ascending, all live inode
// ids) with every id present in excl removed.
func subtractFromUniverse(universe, excl []uint64) []uint64 {
	exclSet := make(map[uint64]struct{}, len(excl))
	for _, id := range excl {
		exclSet[id] = struct{}{}
	}
	out := make([]uint64, 0, len(universe))
	for _, id := range universe {
		if _, excluded := exclSet[id]; !excluded {
			out = append(out, id)
		}
	}
	return out
}
