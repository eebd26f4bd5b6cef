package azurereader_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileverse/rangereader/azurereader"
)

type fakeBlobClient struct {
	data        []byte
	url         string
	downloads   int
	missingBlob bool
	failFirstN  int
}

func (f *fakeBlobClient) URL() string { return f.url }

func (f *fakeBlobClient) GetProperties(context.Context, *blockblob.GetPropertiesOptions) (blockblob.GetPropertiesResponse, error) {
	if f.missingBlob {
		return blockblob.GetPropertiesResponse{}, errors.New("BlobNotFound")
	}
	n := int64(len(f.data))
	return blockblob.GetPropertiesResponse{ContentLength: &n}, nil
}

func (f *fakeBlobClient) DownloadStream(_ context.Context, opts *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error) {
	f.downloads++
	if f.downloads <= f.failFirstN {
		return azblob.DownloadStreamResponse{}, errors.New("InternalError: please retry")
	}
	offset := opts.Range.Offset
	count := opts.Range.Count
	end := offset + count
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	body := io.NopCloser(strings.NewReader(string(f.data[offset:end])))
	return azblob.DownloadStreamResponse{Body: body}, nil
}

func TestSourceReadRange(t *testing.T) {
	t.Parallel()
	data := []byte("azure blob contents here")
	fake := &fakeBlobClient{data: data, url: "https://acct.blob.core.windows.net/container/key"}

	src, err := azurereader.NewSource(context.Background(), fake)
	require.NoError(t, err)

	size, ok, err := src.Size(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, len(data), size)
	assert.Equal(t, fake.url, src.SourceID())

	got, err := src.ReadRange(context.Background(), 6, 4)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(got))
	assert.Equal(t, 1, fake.downloads)
}

func TestSourceMissingBlob(t *testing.T) {
	t.Parallel()
	fake := &fakeBlobClient{missingBlob: true}

	_, err := azurereader.NewSource(context.Background(), fake)
	require.Error(t, err)
}

func TestSourceRetriesTransientDownloadFailure(t *testing.T) {
	t.Parallel()
	data := []byte("azure blob contents here")
	fake := &fakeBlobClient{data: data, url: "https://acct.blob.core.windows.net/container/key", failFirstN: 2}

	src, err := azurereader.NewSource(context.Background(), fake)
	require.NoError(t, err)

	got, err := src.ReadRange(context.Background(), 6, 4)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(got))
	assert.Equal(t, 3, fake.downloads)
}

func TestSourceZeroLength(t *testing.T) {
	t.Parallel()
	data := []byte("content")
	fake := &fakeBlobClient{data: data}

	src, err := azurereader.NewSource(context.Background(), fake)
	require.NoError(t, err)

	got, err := src.ReadRange(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, fake.downloads)
}
