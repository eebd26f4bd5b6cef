package diskcache_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileverse/rangereader/diskcache"
)

type countingReader struct {
	data  []byte
	reads atomic.Int32
}

func (f *countingReader) ReadRange(ctx context.Context, offset uint64, length uint32) ([]byte, error) {
	dst := make([]byte, length)
	n, err := f.ReadRangeInto(ctx, offset, dst)
	return dst[:n], err
}

func (f *countingReader) ReadRangeInto(_ context.Context, offset uint64, dst []byte) (int, error) {
	f.reads.Add(1)
	end := offset + uint64(len(dst))
	if end > uint64(len(f.data)) {
		end = uint64(len(f.data))
	}
	if offset >= end {
		return 0, nil
	}
	return copy(dst, f.data[offset:end]), nil
}

func (f *countingReader) Size(context.Context) (uint64, bool, error) {
	return uint64(len(f.data)), true, nil
}

func (f *countingReader) SourceID() string { return "fake:disk" }

func (f *countingReader) Close() error { return nil }

func TestReaderCachesAfterMiss(t *testing.T) {
	t.Parallel()
	delegate := &countingReader{data: []byte("cached content on disk")}
	r, err := diskcache.New(delegate, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	got1, err := r.ReadRange(context.Background(), 0, 6)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(got1))
	assert.EqualValues(t, 1, delegate.reads.Load())

	got2, err := r.ReadRange(context.Background(), 0, 6)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(got2))
	assert.EqualValues(t, 1, delegate.reads.Load(), "second read should be served from cache")
}

func TestReaderSourceID(t *testing.T) {
	t.Parallel()
	delegate := &countingReader{data: []byte("x")}
	r, err := diskcache.New(delegate, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	assert.Equal(t, "disk-cached:fake:disk", r.SourceID())
}

func TestReaderSurvivesExternalDeletion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	delegate := &countingReader{data: []byte("will be deleted externally!!")}
	r, err := diskcache.New(delegate, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = r.ReadRange(context.Background(), 0, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 1, delegate.reads.Load())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, os.Remove(filepath.Join(dir, entries[0].Name())))

	got, err := r.ReadRange(context.Background(), 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "will", string(got))
	assert.EqualValues(t, 2, delegate.reads.Load(), "externally deleted entry should degrade to a miss")
}

func TestReaderRescansExistingFilesOnConstruction(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	delegate := &countingReader{data: []byte("persisted across reopen")}

	r1, err := diskcache.New(delegate, dir)
	require.NoError(t, err)
	_, err = r1.ReadRange(context.Background(), 0, 9)
	require.NoError(t, err)
	require.NoError(t, r1.Close())

	delegate2 := &countingReader{data: []byte("persisted across reopen")}
	r2, err := diskcache.New(delegate2, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r2.Close() })

	got, err := r2.ReadRange(context.Background(), 0, 9)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))
	assert.EqualValues(t, 0, delegate2.reads.Load(), "should be served from the rescanned disk index")
}

func TestReaderDeleteOnClose(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	delegate := &countingReader{data: []byte("ephemeral")}
	r, err := diskcache.New(delegate, dir, diskcache.WithDeleteOnClose())
	require.NoError(t, err)

	_, err = r.ReadRange(context.Background(), 0, 4)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, r.Close())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestReaderLogsEvictionFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	delegate := &countingReader{data: []byte("aaaaaaaaaabbbbbbbbbb")}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r, err := diskcache.New(delegate, dir, diskcache.WithMaxCacheSizeBytes(10), diskcache.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = r.ReadRange(context.Background(), 0, 10)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	firstFile := filepath.Join(dir, entries[0].Name())

	// Replace the tracked cache file with a non-empty directory so the
	// eviction triggered by the next write fails with something other
	// than ErrNotExist.
	require.NoError(t, os.Remove(firstFile))
	require.NoError(t, os.Mkdir(firstFile, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(firstFile, "child"), []byte("x"), 0o644))

	_, err = r.ReadRange(context.Background(), 10, 10)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "evict failed")
}

func TestReaderBypassesCacheWhenLengthExceedsMax(t *testing.T) {
	t.Parallel()
	data := make([]byte, 1000)
	delegate := &countingReader{data: data}
	r, err := diskcache.New(delegate, t.TempDir(), diskcache.WithMaxCacheSizeBytes(100))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = r.ReadRange(context.Background(), 0, 500)
	require.NoError(t, err)
	_, err = r.ReadRange(context.Background(), 0, 500)
	require.NoError(t, err)

	assert.EqualValues(t, 2, delegate.reads.Load(), "oversized reads should bypass the cache every time")
	bytes, entries := r.Stats()
	assert.Zero(t, bytes)
	assert.Zero(t, entries)
}
