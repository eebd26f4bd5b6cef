package provider

import (
	"context"
	"net/http"
	"strings"

	rr "github.com/tileverse/rangereader"
	"github.com/tileverse/rangereader/httpreader"
)

type httpProvider struct{}

func newHTTPProvider() *httpProvider { return &httpProvider{} }

func (p *httpProvider) ID() string        { return "http" }
func (p *httpProvider) IsAvailable() bool { return isEnvAvailable(p.ID()) }
func (p *httpProvider) Description() string {
	return "reads byte ranges from any server that honors Range requests"
}
func (p *httpProvider) Order() int { return 10 }

func (p *httpProvider) Parameters() []rr.ProviderParameter {
	return []rr.ProviderParameter{
		{
			Key:         "io.tileverse.rangereader.http.header",
			Title:       "Extra request header",
			Description: "An additional header sent with every request, formatted as Name: Value",
			Group:       "http",
			Type:        rr.ParameterTypeString,
		},
	}
}

func (p *httpProvider) CanProcess(cfg rr.ReaderConfig) bool {
	return strings.HasPrefix(cfg.URI, "http://") || strings.HasPrefix(cfg.URI, "https://")
}

// CanProcessHeaders always returns false for the generic HTTP provider: it
// is the fallback when no cloud provider's headers match, never a
// disambiguation candidate itself (spec.md §4.10 step 6 excludes it from
// the cloud candidate set before probing).
func (p *httpProvider) CanProcessHeaders(string, http.Header) bool { return false }

func (p *httpProvider) Create(_ context.Context, cfg rr.ReaderConfig) (rr.Reader, error) {
	var opts []httpreader.Option
	if header, ok := cfg.Param("io.tileverse.rangereader.http.header"); ok {
		if name, value, ok := strings.Cut(header, ":"); ok {
			opts = append(opts, httpreader.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
		}
	}
	return httpreader.NewSource(cfg.URI, opts...)
}
