package blockaligned_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileverse/rangereader/blockaligned"
)

type fakeReader struct {
	data     []byte
	reads    atomic.Int32
	lastOff  uint64
	lastLen  int
	closed   atomic.Bool
	sourceID string
}

func (f *fakeReader) ReadRange(ctx context.Context, offset uint64, length uint32) ([]byte, error) {
	dst := make([]byte, length)
	n, err := f.ReadRangeInto(ctx, offset, dst)
	return dst[:n], err
}

func (f *fakeReader) ReadRangeInto(_ context.Context, offset uint64, dst []byte) (int, error) {
	f.reads.Add(1)
	f.lastOff = offset
	f.lastLen = len(dst)
	end := offset + uint64(len(dst))
	if end > uint64(len(f.data)) {
		end = uint64(len(f.data))
	}
	if offset >= end {
		return 0, nil
	}
	return copy(dst, f.data[offset:end]), nil
}

func (f *fakeReader) Size(context.Context) (uint64, bool, error) {
	return uint64(len(f.data)), true, nil
}

func (f *fakeReader) SourceID() string { return f.sourceID }

func (f *fakeReader) Close() error {
	f.closed.Store(true)
	return nil
}

func TestReaderAlignsToBlockBoundaries(t *testing.T) {
	t.Parallel()
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	delegate := &fakeReader{data: data, sourceID: "fake:test"}

	r, err := blockaligned.New(delegate, 16)
	require.NoError(t, err)

	got, err := r.ReadRange(context.Background(), 20, 5)
	require.NoError(t, err)
	assert.Equal(t, data[20:25], got)

	assert.EqualValues(t, 16, delegate.lastOff)
	assert.Equal(t, 16, delegate.lastLen)
	assert.Equal(t, "block-aligned:fake:test", r.SourceID())
}

func TestReaderClipsToSizeAtTail(t *testing.T) {
	t.Parallel()
	data := make([]byte, 10)
	delegate := &fakeReader{data: data, sourceID: "fake:tail"}

	r, err := blockaligned.New(delegate, 16)
	require.NoError(t, err)

	got, err := r.ReadRange(context.Background(), 8, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.EqualValues(t, 0, delegate.lastOff)
	assert.Equal(t, 10, delegate.lastLen)
}

func TestReaderRejectsZeroBlockSize(t *testing.T) {
	t.Parallel()
	_, err := blockaligned.New(&fakeReader{}, 0)
	require.Error(t, err)
}

func TestReaderCloseClosesDelegate(t *testing.T) {
	t.Parallel()
	delegate := &fakeReader{data: []byte("x")}
	r, err := blockaligned.New(delegate, 4)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.True(t, delegate.closed.Load())
}
