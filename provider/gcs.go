package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"

	rr "github.com/tileverse/rangereader"
	"github.com/tileverse/rangereader/gcsreader"
)

type gcsProvider struct{}

func newGCSProvider() *gcsProvider { return &gcsProvider{} }

func (p *gcsProvider) ID() string        { return "gcs" }
func (p *gcsProvider) IsAvailable() bool { return isEnvAvailable(p.ID()) }
func (p *gcsProvider) Description() string {
	return "reads byte ranges from Google Cloud Storage"
}
func (p *gcsProvider) Order() int { return 20 }

func (p *gcsProvider) Parameters() []rr.ProviderParameter {
	return nil
}

func (p *gcsProvider) CanProcess(cfg rr.ReaderConfig) bool {
	return strings.HasPrefix(cfg.URI, "gs://")
}

func (p *gcsProvider) CanProcessHeaders(string, http.Header) bool { return false }

func (p *gcsProvider) Create(ctx context.Context, cfg rr.ReaderConfig) (rr.Reader, error) {
	bucket, object, ok := splitGCSURI(cfg.URI)
	if !ok {
		return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("invalid gs uri: %s", cfg.URI))
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("new gcs client: %w", err))
	}

	handle := gcsreader.WrapObjectHandle(client.Bucket(bucket).Object(object))
	return gcsreader.NewSource(ctx, bucket, object, handle)
}

func splitGCSURI(uri string) (bucket, object string, ok bool) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if trimmed == uri {
		return "", "", false
	}
	bucket, object, found := strings.Cut(trimmed, "/")
	if !found || bucket == "" {
		return "", "", false
	}
	return bucket, object, true
}
