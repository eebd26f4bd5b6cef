package s3reader_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileverse/rangereader/s3reader"
)

type fakeS3 struct {
	data       []byte
	headCalls  int
	getCalls   int
	missingKey bool
	failFirstN int
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.headCalls++
	if f.missingKey {
		return nil, errors.New("NotFound: key does not exist")
	}
	n := int64(len(f.data))
	return &s3.HeadObjectOutput{ContentLength: &n}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.getCalls++
	if f.getCalls <= f.failFirstN {
		return nil, errors.New("SlowDown: please reduce your request rate")
	}
	offset, end, err := parseRange(aws.ToString(in.Range), len(f.data))
	if err != nil {
		return nil, err
	}
	body := io.NopCloser(bytes.NewReader(f.data[offset : end+1]))
	return &s3.GetObjectOutput{Body: body}, nil
}

func parseRange(header string, total int) (int, int, error) {
	var offset, end int
	if _, err := fmt.Sscanf(header, "bytes=%d-%d", &offset, &end); err != nil {
		return 0, 0, err
	}
	if end >= total {
		end = total - 1
	}
	return offset, end, nil
}

func TestSourceReadRange(t *testing.T) {
	t.Parallel()
	data := []byte("hello from an object store")
	fake := &fakeS3{data: data}

	src, err := s3reader.NewSource(context.Background(), "bucket", "key", s3reader.WithClient(fake))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.headCalls)

	size, ok, err := src.Size(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, len(data), size)
	assert.Equal(t, "s3://bucket/key", src.SourceID())

	got, err := src.ReadRange(context.Background(), 6, 4)
	require.NoError(t, err)
	assert.Equal(t, "from", string(got))
	assert.Equal(t, 1, fake.getCalls)
}

func TestSourceMissingObject(t *testing.T) {
	t.Parallel()
	fake := &fakeS3{missingKey: true}

	_, err := s3reader.NewSource(context.Background(), "bucket", "missing", s3reader.WithClient(fake))
	require.Error(t, err)
}

func TestSourceRetriesTransientGetObjectFailure(t *testing.T) {
	t.Parallel()
	data := []byte("hello from an object store")
	fake := &fakeS3{data: data, failFirstN: 2}

	src, err := s3reader.NewSource(context.Background(), "bucket", "key", s3reader.WithClient(fake))
	require.NoError(t, err)

	got, err := src.ReadRange(context.Background(), 6, 4)
	require.NoError(t, err)
	assert.Equal(t, "from", string(got))
	assert.Equal(t, 3, fake.getCalls)
}

func TestSourceZeroLength(t *testing.T) {
	t.Parallel()
	data := []byte("content")
	fake := &fakeS3{data: data}

	src, err := s3reader.NewSource(context.Background(), "bucket", "key", s3reader.WithClient(fake))
	require.NoError(t, err)

	got, err := src.ReadRange(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, fake.getCalls)
}
