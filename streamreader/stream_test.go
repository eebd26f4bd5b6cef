package streamreader_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileverse/rangereader/streamreader"
)

type fakeReader struct {
	data   []byte
	closed bool
}

func (f *fakeReader) ReadRange(ctx context.Context, offset uint64, length uint32) ([]byte, error) {
	dst := make([]byte, length)
	n, err := f.ReadRangeInto(ctx, offset, dst)
	return dst[:n], err
}

func (f *fakeReader) ReadRangeInto(_ context.Context, offset uint64, dst []byte) (int, error) {
	if offset >= uint64(len(f.data)) {
		return 0, nil
	}
	end := offset + uint64(len(dst))
	if end > uint64(len(f.data)) {
		end = uint64(len(f.data))
	}
	return copy(dst, f.data[offset:end]), nil
}

func (f *fakeReader) Size(context.Context) (uint64, bool, error) {
	return uint64(len(f.data)), true, nil
}

func (f *fakeReader) SourceID() string { return "fake:stream" }

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestSequentialReadsToEOF(t *testing.T) {
	t.Parallel()
	delegate := &fakeReader{data: []byte("hello streaming world")}
	seq := streamreader.NewSequential(delegate)

	got, err := io.ReadAll(seq)
	require.NoError(t, err)
	assert.Equal(t, "hello streaming world", string(got))
	assert.EqualValues(t, len(delegate.data), seq.Position())
}

func TestSequentialDoesNotCloseDelegate(t *testing.T) {
	t.Parallel()
	delegate := &fakeReader{data: []byte("x")}
	seq := streamreader.NewSequential(delegate)

	_, _ = io.ReadAll(seq)
	assert.False(t, delegate.closed)
}

func TestSeekableSeekAndRead(t *testing.T) {
	t.Parallel()
	delegate := &fakeReader{data: []byte("0123456789")}
	sk := streamreader.NewSeekable(delegate)

	pos, err := sk.Seek(5, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 5, pos)

	buf := make([]byte, 3)
	n, err := sk.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "567", string(buf[:n]))
	assert.EqualValues(t, 8, sk.PositionGet())

	pos, err = sk.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 8, pos)

	pos, err = sk.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 8, pos)
}

func TestSeekableRejectsNegativePosition(t *testing.T) {
	t.Parallel()
	delegate := &fakeReader{data: []byte("abc")}
	sk := streamreader.NewSeekable(delegate)

	_, err := sk.Seek(-1, io.SeekStart)
	require.Error(t, err)
}
