package upload

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, chunkSize int64) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	ids := 0
	m := NewManager(dir, chunkSize, time.Hour, WithIDGenerator(func() string {
		ids++
		return "up-" + string(rune('a'+ids))
	}))
	return m, dir
}

func TestInitChunkComplete(t *testing.T) {
	m, dir := newTestManager(t, 4)

	res, err := m.Init("clip.mp4", 10)
	require.NoError(t, err)
	require.Equal(t, "clip.mp4", res.Filename)
	require.Equal(t, int64(4), res.ChunkSize)
	require.Equal(t, 3, res.TotalChunks)

	chunks := [][]byte{
		bytes.Repeat([]byte{'a'}, 4),
		bytes.Repeat([]byte{'b'}, 4),
		bytes.Repeat([]byte{'c'}, 2),
	}
	for i, c := range chunks {
		_, _, err := m.Chunk(res.UploadID, i, bytes.NewReader(c))
		require.NoError(t, err)
	}

	done, err := m.Complete(res.UploadID)
	require.NoError(t, err)
	require.FileExists(t, done.TmpPath)

	data, err := os.ReadFile(done.TmpPath)
	require.NoError(t, err)
	require.Equal(t, "aaaabbbbcc", string(data))
	require.Equal(t, filepath.Join(dir, "media_0001.mp4"), filepath.Join(dir, done.StoreFilename))
}

func TestCompleteFailsWhenChunksMissing(t *testing.T) {
	m, _ := newTestManager(t, 4)
	res, err := m.Init("clip.mp4", 10)
	require.NoError(t, err)

	_, _, err = m.Chunk(res.UploadID, 0, bytes.NewReader(bytes.Repeat([]byte{'a'}, 4)))
	require.NoError(t, err)

	_, err = m.Complete(res.UploadID)
	require.ErrorIs(t, err, ErrIncomplete)
}

func TestChunkMismatchedLength(t *testing.T) {
	m, _ := newTestManager(t, 4)
	res, err := m.Init("clip.mp4", 10)
	require.NoError(t, err)

	_, _, err = m.Chunk(res.UploadID, 0, bytes.NewReader([]byte{'a'}))
	require.ErrorIs(t, err, ErrChunkMismatch)
}

func TestCancelRemovesTempFile(t *testing.T) {
	m, dir := newTestManager(t, 4)
	res, err := m.Init("clip.mp4", 10)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(res.UploadID))
	require.NoFileExists(t, filepath.Join(dir, ".uploads", res.UploadID+".part"))
	_, err = m.Chunk(res.UploadID, 0, bytes.NewReader([]byte{'a', 'b', 'c', 'd'}))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReserveStoreFilenamesSkipsExisting(t *testing.T) {
	m, dir := newTestManager(t, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "media_0001.png"), []byte("x"), 0o644))

	names, err := m.ReserveStoreFilenames([]string{"a.png", "b.mp4"})
	require.NoError(t, err)
	require.Equal(t, []string{"media_0002.png", "media_0003.mp4"}, names)
}

func TestCleanupStaleLocked(t *testing.T) {
	dir := t.TempDir()
	fakeNow := time.Now()
	m := NewManager(dir, 4, time.Second, WithClock(func() time.Time { return fakeNow }))

	res, err := m.Init("clip.mp4", 4)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	fakeNow = fakeNow.Add(2 * time.Second)
	m.CleanupStaleLocked()
	require.Equal(t, 0, m.Len())

	_, err = m.Chunk(res.UploadID, 0, bytes.NewReader([]byte{'a', 'b', 'c', 'd'}))
	require.ErrorIs(t, err, ErrNotFound)
}
