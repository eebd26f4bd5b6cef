// Package s3reader implements the S3 object-store backend (spec.md §4.5): a
// Reader wrapping S3's ranged GetObject API.
package s3reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"

	rr "github.com/tileverse/rangereader"
)

// API is the subset of the S3 client this package calls. Satisfied by
// *s3.Client; narrowed for testability.
type API interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Source reads byte ranges from an S3 (or S3-compatible) object.
//
// Grounded on nguyengg/xy3's s3reader.Reader: the same ranged
// s3.GetObjectInput{Range: "bytes=..."} call, adapted from its
// io.ReadSeekCloser shape to this package's Reader contract.
type Source struct {
	client API
	bucket string
	key    string

	size     uint64
	sourceID string
}

var _ rr.Reader = (*Source)(nil)

// Option configures a Source.
type Option func(*Source)

// WithClient overrides the S3 API client (for tests or custom endpoints).
func WithClient(client API) Option {
	return func(s *Source) { s.client = client }
}

// WithSourceID overrides the default source identifier.
func WithSourceID(id string) Option {
	return func(s *Source) { s.sourceID = id }
}

// NewSource creates a Source for s3://bucket/key using the default AWS
// credential chain unless WithClient supplies one. Construction verifies
// the object exists and caches its size (spec.md §4.5).
func NewSource(ctx context.Context, bucket, key string, opts ...Option) (*Source, error) {
	s := &Source{bucket: bucket, key: key}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("load aws config: %w", err))
		}
		s.client = s3.NewFromConfig(cfg)
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, rr.Wrap(rr.ErrCodeNotFound, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err))
	}
	if head.ContentLength == nil {
		return nil, rr.Wrap(rr.ErrCodeIO, fmt.Errorf("head s3://%s/%s: missing content length", bucket, key))
	}
	s.size = uint64(*head.ContentLength)
	if s.sourceID == "" {
		s.sourceID = fmt.Sprintf("s3://%s/%s", bucket, key)
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

// readAt retries the ranged GetObject on transient failure (connection
// resets, 5xx, throttling), per spec.md §4.5's requirement that cloud
// backends retry with backoff.
func (s *Source) readAt(ctx context.Context, offset uint64, dst []byte) (int, error) {
	end := offset + uint64(len(dst)) - 1

	var n int
	op := func() error {
		var err error
		n, err = s.fetchRange(ctx, offset, end, dst)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(retryPolicy(), ctx))
	return n, err
}

func (s *Source) fetchRange(ctx context.Context, offset, end uint64, dst []byte) (int, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, end)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, backoff.Permanent(rr.Wrap(rr.ErrCodeIO, err))
		}
		return 0, rr.Wrap(rr.ErrCodeIO, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, dst)
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

// Close implements rangereader.Reader. The S3 client holds no
// per-Source resources to release.
func (s *Source) Close() error {
	return nil
}

