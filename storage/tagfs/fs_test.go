package tagfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skripsaha/boxkernel/internal/wire"
)

type memStore struct {
	data []byte
}

func newMemStore(size int) *memStore { return &memStore{data: make([]byte, size)} }

func (m *memStore) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.data[off:]), nil
}

func (m *memStore) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.data[off:], p), nil
}

func (m *memStore) Size() int64 { return int64(len(m.data)) }

func TestFS_CreateAndQueryTags(t *testing.T) {
	fs := New(16, 256, newMemStore(256*BlockSize))

	id1, err := fs.CreateFile([]wire.Tag{wire.NewTag("type", "photo"), wire.NewTag("year", "2024")})
	require.NoError(t, err)
	id2, err := fs.CreateFile([]wire.Tag{wire.NewTag("type", "photo"), wire.NewTag("year", "2023")})
	require.NoError(t, err)
	_, err = fs.CreateFile([]wire.Tag{wire.NewTag("type", "video")})
	require.NoError(t, err)

	out := make([]uint64, 8)
	n, truncated, err := fs.Query(wire.QueryAnd, []wire.Tag{wire.NewTag("type", "photo"), wire.NewTag("year", "2024")}, out)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Equal(t, []uint64{id1}, out[:n])

	n, _, err = fs.Query(wire.QueryOr, []wire.Tag{wire.NewTag("year", "2024"), wire.NewTag("year", "2023")}, out)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{id1, id2}, out[:n])

	n, _, err = fs.Query(wire.QueryNot, []wire.Tag{wire.NewTag("type", "photo")}, out)
	require.NoError(t, err)
	require.Len(t, out[:n], 1)
}

func TestFS_QueryMissReturnsEmpty(t *testing.T) {
	fs := New(4, 64, newMemStore(64*BlockSize))
	_, err := fs.CreateFile([]wire.Tag{wire.NewTag("type", "photo")})
	require.NoError(t, err)

	out := make([]uint64, 4)
	n, truncated, err := fs.Query(wire.QueryAnd, []wire.Tag{wire.NewTag("type", "audio")}, out)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Equal(t, 0, n)
}

func TestFS_QueryTruncates(t *testing.T) {
	fs := New(8, 64, newMemStore(64*BlockSize))
	for i := 0; i < 5; i++ {
		_, err := fs.CreateFile([]wire.Tag{wire.NewTag("type", "photo")})
		require.NoError(t, err)
	}

	out := make([]uint64, 2)
	n, truncated, err := fs.Query(wire.QueryAnd, []wire.Tag{wire.NewTag("type", "photo")}, out)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Equal(t, 2, n)
}

func TestFS_RemoveTagIsNoOpWhenAbsent(t *testing.T) {
	fs := New(4, 64, newMemStore(64*BlockSize))
	id, err := fs.CreateFile([]wire.Tag{wire.NewTag("type", "photo")})
	require.NoError(t, err)

	err = fs.RemoveTag(id, wire.NewTag("type", "video"))
	require.NoError(t, err)

	tags, err := fs.GetTags(id)
	require.NoError(t, err)
	require.Len(t, tags, 1)
}

func TestFS_DeleteFileClearsIndexAndBlocks(t *testing.T) {
	fs := New(4, 64, newMemStore(64*BlockSize))
	id, err := fs.CreateFile([]wire.Tag{wire.NewTag("type", "photo")})
	require.NoError(t, err)

	_, err = fs.WriteAt(id, []byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), fs.BlockPopcount())

	require.NoError(t, fs.DeleteFile(id))
	require.Equal(t, uint32(0), fs.BlockPopcount())

	out := make([]uint64, 4)
	n, _, err := fs.Query(wire.QueryAnd, []wire.Tag{wire.NewTag("type", "photo")}, out)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = fs.GetTags(id)
	require.ErrorIs(t, err, ErrUnknownInode)
}

func TestFS_ReadWriteRoundTrip(t *testing.T) {
	fs := New(4, 64, newMemStore(64*BlockSize))
	id, err := fs.CreateFile(nil)
	require.NoError(t, err)

	payload := []byte("the quick brown fox")
	n, err := fs.WriteAt(id, payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = fs.ReadAt(id, buf, 0)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestFS_WriteGrowsAcrossBlocks(t *testing.T) {
	fs := New(2, 4, newMemStore(4*BlockSize))
	id, err := fs.CreateFile(nil)
	require.NoError(t, err)

	big := make([]byte, BlockSize+10)
	for i := range big {
		big[i] = byte(i)
	}
	_, err = fs.WriteAt(id, big, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(2), fs.BlockPopcount())

	buf := make([]byte, len(big))
	_, err = fs.ReadAt(id, buf, 0)
	require.NoError(t, err)
	require.Equal(t, big, buf)
}

func TestFS_CreateFileRespectsMaxTagsPerFile(t *testing.T) {
	fs := New(2, 4, newMemStore(4*BlockSize))
	tags := make([]wire.Tag, MaxTagsPerFile+1)
	for i := range tags {
		tags[i] = wire.NewTag("k", "v")
	}
	_, err := fs.CreateFile(tags)
	require.ErrorIs(t, err, ErrTooManyTags)
}

func TestFS_InodeExhaustionFails(t *testing.T) {
	fs := New(1, 4, newMemStore(4*BlockSize))
	_, err := fs.CreateFile(nil)
	require.NoError(t, err)

	_, err = fs.CreateFile(nil)
	require.ErrorIs(t, err, ErrNoFreeInodes)
}

func TestFS_SuperblockReflectsUsage(t *testing.T) {
	fs := New(4, 16, newMemStore(16*BlockSize))
	sb := fs.Superblock()
	require.Equal(t, uint32(4), sb.FreeInodes)

	_, err := fs.CreateFile(nil)
	require.NoError(t, err)
	sb = fs.Superblock()
	require.Equal(t, uint32(3), sb.FreeInodes)
}
