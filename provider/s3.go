package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	rr "github.com/tileverse/rangereader"
	"github.com/tileverse/rangereader/s3reader"
)

type s3Provider struct{}

func newS3Provider() *s3Provider { return &s3Provider{} }

func (p *s3Provider) ID() string        { return "s3" }
func (p *s3Provider) IsAvailable() bool { return isEnvAvailable(p.ID()) }
func (p *s3Provider) Description() string {
	return "reads byte ranges from Amazon S3 (and S3-compatible) object storage"
}
func (p *s3Provider) Order() int { return 20 }

func (p *s3Provider) Parameters() []rr.ProviderParameter {
	return nil
}

func (p *s3Provider) CanProcess(cfg rr.ReaderConfig) bool {
	return strings.HasPrefix(cfg.URI, "s3://")
}

func (p *s3Provider) CanProcessHeaders(string, http.Header) bool { return false }

func (p *s3Provider) Create(ctx context.Context, cfg rr.ReaderConfig) (rr.Reader, error) {
	bucket, key, ok := splitS3URI(cfg.URI)
	if !ok {
		return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("invalid s3 uri: %s", cfg.URI))
	}
	return s3reader.NewSource(ctx, bucket, key)
}

func splitS3URI(uri string) (bucket, key string, ok bool) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == uri {
		return "", "", false
	}
	bucket, key, found := strings.Cut(trimmed, "/")
	if !found || bucket == "" {
		return "", "", false
	}
	return bucket, key, true
}
