package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	rr "github.com/tileverse/rangereader"
)

const headProbeTimeout = 3 * time.Second

// Select runs the selection algorithm from spec.md §4.10 and returns the
// single provider that should handle cfg.
func Select(ctx context.Context, reg *Registry, cfg rr.ReaderConfig) (Provider, error) {
	if cfg.ExplicitProviderID != "" {
		p, ok := reg.Lookup(cfg.ExplicitProviderID)
		if !ok {
			return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("unknown provider id %q", cfg.ExplicitProviderID))
		}
		if !p.IsAvailable() {
			return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("provider %q is disabled", cfg.ExplicitProviderID))
		}
		return p, nil
	}

	var candidates []Provider
	for _, p := range reg.Providers() {
		if p.IsAvailable() && p.CanProcess(cfg) {
			candidates = append(candidates, p)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("no suitable provider for %q", cfg.URI))
	case 1:
		return candidates[0], nil
	}

	scheme := uriScheme(cfg.URI)
	if scheme != "http" && scheme != "https" {
		return resolveByPriority(candidates)
	}
	return resolveHTTPAmbiguity(ctx, reg, candidates, cfg.URI)
}

func uriScheme(uri string) string {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(uri[:idx])
}

// resolveHTTPAmbiguity implements step 6 of the selection algorithm: drop
// the generic HTTP provider, HEAD-probe the URI, and keep only the cloud
// candidates whose CanProcessHeaders matches the response.
func resolveHTTPAmbiguity(ctx context.Context, reg *Registry, candidates []Provider, uri string) (Provider, error) {
	var httpProvider Provider
	cloud := make([]Provider, 0, len(candidates))
	for _, p := range candidates {
		if p.ID() == "http" {
			httpProvider = p
			continue
		}
		cloud = append(cloud, p)
	}
	if len(cloud) == 0 {
		if httpProvider != nil {
			return httpProvider, nil
		}
		return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("no suitable provider for %q", uri))
	}

	headers, err := probeHeaders(ctx, uri)
	if err != nil {
		reg.log().Warn("provider: disambiguation probe failed, falling back to priority", "uri", uri, "error", err)
		return resolveByPriority(candidates)
	}

	var matched []Provider
	for _, p := range cloud {
		if p.CanProcessHeaders(uri, headers) {
			matched = append(matched, p)
		}
	}

	switch len(matched) {
	case 0:
		if httpProvider != nil {
			return httpProvider, nil
		}
		return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("no suitable provider for %q", uri))
	case 1:
		return matched[0], nil
	default:
		return resolveByPriority(matched)
	}
}

func probeHeaders(ctx context.Context, uri string) (http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, headProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return resp.Header, nil
}

// resolveByPriority picks the lowest Order() among candidates, failing
// with an ErrCodeConfig error naming the tying ids (in lexicographic order)
// if more than one shares the lowest order.
func resolveByPriority(candidates []Provider) (Provider, error) {
	sorted := make([]Provider, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Order() != sorted[j].Order() {
			return sorted[i].Order() < sorted[j].Order()
		}
		return sorted[i].ID() < sorted[j].ID()
	})

	best := sorted[0].Order()
	var tied []string
	for _, p := range sorted {
		if p.Order() == best {
			tied = append(tied, p.ID())
		}
	}
	if len(tied) > 1 {
		return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("ambiguous provider: %s all tie at priority %d", strings.Join(tied, ", "), best))
	}
	return sorted[0], nil
}
