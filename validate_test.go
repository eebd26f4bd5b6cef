package rangereader_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rr "github.com/tileverse/rangereader"
)

func knownSize(n uint64) func(context.Context) (uint64, bool, error) {
	return func(context.Context) (uint64, bool, error) { return n, true, nil }
}

func TestValidateAndReadRejectsNilTarget(t *testing.T) {
	t.Parallel()
	n, err := rr.ValidateAndRead(context.Background(), 0, 10, nil, knownSize(100), func(context.Context, uint64, []byte) (int, error) {
		t.Fatal("hook should not run")
		return 0, nil
	})
	assert.Zero(t, n)
	code, ok := rr.Code(err)
	require.True(t, ok)
	assert.Equal(t, rr.ErrCodeInvalidArgument, code)
}

func TestValidateAndReadZeroLengthFastPath(t *testing.T) {
	t.Parallel()
	dst := make([]byte, 4)
	n, err := rr.ValidateAndRead(context.Background(), 0, 0, dst, knownSize(100), func(context.Context, uint64, []byte) (int, error) {
		t.Fatal("hook should not run")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateAndReadRejectsInsufficientCapacity(t *testing.T) {
	t.Parallel()
	dst := make([]byte, 2)
	_, err := rr.ValidateAndRead(context.Background(), 0, 10, dst, knownSize(100), func(context.Context, uint64, []byte) (int, error) {
		t.Fatal("hook should not run")
		return 0, nil
	})
	code, ok := rr.Code(err)
	require.True(t, ok)
	assert.Equal(t, rr.ErrCodeInvalidArgument, code)
}

func TestValidateAndReadClipsToKnownSize(t *testing.T) {
	t.Parallel()
	dst := make([]byte, 50)
	var hookLen int
	n, err := rr.ValidateAndRead(context.Background(), 90, 50, dst, knownSize(100), func(_ context.Context, offset uint64, hdst []byte) (int, error) {
		hookLen = len(hdst)
		assert.EqualValues(t, 90, offset)
		return len(hdst), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10, hookLen)
	assert.Equal(t, 10, n)
}

func TestValidateAndReadOffsetAtOrPastSizeReturnsZero(t *testing.T) {
	t.Parallel()
	dst := make([]byte, 10)
	n, err := rr.ValidateAndRead(context.Background(), 100, 10, dst, knownSize(100), func(context.Context, uint64, []byte) (int, error) {
		t.Fatal("hook should not run")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateAndReadPropagatesHookError(t *testing.T) {
	t.Parallel()
	dst := make([]byte, 10)
	wantErr := errors.New("boom")
	_, err := rr.ValidateAndRead(context.Background(), 0, 10, dst, knownSize(100), func(context.Context, uint64, []byte) (int, error) {
		return 0, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestReadRangeFromIntoTrimsToActualRead(t *testing.T) {
	t.Parallel()
	got, err := rr.ReadRangeFromInto(context.Background(), 0, 10, func(_ context.Context, _ uint64, dst []byte) (int, error) {
		return copy(dst, "short"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "short", string(got))
}

func TestNewByteRangeRejectsOverflow(t *testing.T) {
	t.Parallel()
	_, err := rr.NewByteRange(^uint64(0), 10)
	code, ok := rr.Code(err)
	require.True(t, ok)
	assert.Equal(t, rr.ErrCodeInvalidArgument, code)
}

func TestByteRangeEndAndString(t *testing.T) {
	t.Parallel()
	br, err := rr.NewByteRange(10, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 30, br.End())
	assert.Equal(t, "[10,30)", br.String())
}

func TestByteRangeLessOrdersByOffsetThenLength(t *testing.T) {
	t.Parallel()
	a := rr.ByteRange{Offset: 10, Length: 5}
	b := rr.ByteRange{Offset: 10, Length: 10}
	c := rr.ByteRange{Offset: 20, Length: 1}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, b.Less(c))
}

func TestErrorCodeExtractionAndSentinelMatching(t *testing.T) {
	t.Parallel()
	err := rr.Wrap(rr.ErrCodeNotFound, errors.New("missing"))
	assert.ErrorIs(t, err, rr.ErrNotFound)
	assert.NotErrorIs(t, err, rr.ErrAuth)

	code, ok := rr.Code(err)
	require.True(t, ok)
	assert.Equal(t, rr.ErrCodeNotFound, code)

	_, ok = rr.Code(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, rr.Wrap(rr.ErrCodeIO, nil))
}
