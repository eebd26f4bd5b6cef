package provider

import (
	"context"
	"net/http"
	"strings"

	rr "github.com/tileverse/rangereader"
	"github.com/tileverse/rangereader/filereader"
)

type fileProvider struct{}

func newFileProvider() *fileProvider { return &fileProvider{} }

func (p *fileProvider) ID() string        { return "file" }
func (p *fileProvider) IsAvailable() bool { return isEnvAvailable(p.ID()) }
func (p *fileProvider) Description() string {
	return "reads byte ranges from the local filesystem"
}
func (p *fileProvider) Order() int { return 0 }

func (p *fileProvider) Parameters() []rr.ProviderParameter { return nil }

func (p *fileProvider) CanProcess(cfg rr.ReaderConfig) bool {
	return strings.HasPrefix(cfg.URI, "file://")
}

func (p *fileProvider) CanProcessHeaders(string, http.Header) bool { return false }

func (p *fileProvider) Create(_ context.Context, cfg rr.ReaderConfig) (rr.Reader, error) {
	path := strings.TrimPrefix(cfg.URI, "file://")
	return filereader.Open(path)
}
