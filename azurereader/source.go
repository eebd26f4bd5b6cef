// Package azurereader implements the Azure Blob Storage backend (spec.md
// §4.5): a Reader wrapping azblob's ranged DownloadStream API.
package azurereader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/cenkalti/backoff/v4"

	rr "github.com/tileverse/rangereader"
)

// BlobClient is the subset of *blockblob.Client this package calls.
// Narrowed for testability.
type BlobClient interface {
	DownloadStream(ctx context.Context, opts *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	GetProperties(ctx context.Context, opts *blockblob.GetPropertiesOptions) (blockblob.GetPropertiesResponse, error)
	URL() string
}

// Source reads byte ranges from an Azure Blob Storage blob.
//
// Grounded on kopexa-grc-common/blob/azurestore/service.go's BlockBlob type:
// the same DownloadStreamOptions{Range: blob.HTTPRange{Offset, Count}} call
// adapted from the driver.Reader abstraction to the Reader contract.
type Source struct {
	client   BlobClient
	size     uint64
	sourceID string
}

var _ rr.Reader = (*Source)(nil)

// Option configures a Source.
type Option func(*Source)

// WithSourceID overrides the default source identifier.
func WithSourceID(id string) Option {
	return func(s *Source) { s.sourceID = id }
}

// NewSource creates a Source over an already-constructed blob client, such
// as one produced by blockblob.NewClientWithSharedKeyCredential. Callers
// own credential and retry-policy construction, mirroring
// azurestore.NewAzureService's explicit policy.RetryOptions wiring.
func NewSource(ctx context.Context, client BlobClient, opts ...Option) (*Source, error) {
	s := &Source{client: client}
	for _, opt := range opts {
		opt(s)
	}

	props, err := client.GetProperties(ctx, nil)
	if err != nil {
		return nil, rr.Wrap(rr.ErrCodeNotFound, fmt.Errorf("get blob properties: %w", err))
	}
	if props.ContentLength == nil {
		return nil, rr.Wrap(rr.ErrCodeIO, fmt.Errorf("blob properties missing content length"))
	}
	s.size = uint64(*props.ContentLength)
	if s.sourceID == "" {
		s.sourceID = client.URL()
	}
	return s, nil
}

// ReadRange implements rangereader.Reader.
func (s *Source) ReadRange(ctx context.Context, offset uint64, length uint32) ([]byte, error) {
	return rr.ReadRangeFromInto(ctx, offset, length, s.ReadRangeInto)
}

// ReadRangeInto implements rangereader.Reader.
func (s *Source) ReadRangeInto(ctx context.Context, offset uint64, dst []byte) (int, error) {
	return rr.ValidateAndRead(ctx, offset, uint32(len(dst)), dst, s.Size, s.readAt)
}

// readAt retries the ranged DownloadStream on transient failure, per
// spec.md §4.5's requirement that cloud backends retry with backoff.
func (s *Source) readAt(ctx context.Context, offset uint64, dst []byte) (int, error) {
	var n int
	op := func() error {
		var err error
		n, err = s.downloadRange(ctx, offset, dst)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(retryPolicy(), ctx))
	return n, err
}

func (s *Source) downloadRange(ctx context.Context, offset uint64, dst []byte) (int, error) {
	downloadOpts := azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{
			Offset: int64(offset),
			Count:  int64(len(dst)),
		},
	}

	resp, err := s.client.DownloadStream(ctx, &downloadOpts)
	if err != nil {
		if ctx.Err() != nil {
			return 0, backoff.Permanent(rr.Wrap(rr.ErrCodeIO, fmt.Errorf("download stream: %w", err)))
		}
		return 0, rr.Wrap(rr.ErrCodeIO, fmt.Errorf("download stream: %w", err))
	}
	body := resp.Body
	if body == nil {
		return 0, nil
	}
	defer body.Close()

	n, err := io.ReadFull(body, dst)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return n, rr.Wrap(rr.ErrCodeIO, err)
	}
	return n, nil
}

func retryPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(eb, 4)
}

// Size implements rangereader.Reader.
func (s *Source) Size(context.Context) (uint64, bool, error) {
	return s.size, true, nil
}

// SourceID implements rangereader.Reader.
func (s *Source) SourceID() string {
	return s.sourceID
}

// Close implements rangereader.Reader. The blob client holds no
// per-Source resources to release.
func (s *Source) Close() error {
	return nil
}
