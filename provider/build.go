package provider

import (
	"context"
	"log/slog"
	"time"

	rr "github.com/tileverse/rangereader"

	"github.com/tileverse/rangereader/blockaligned"
	"github.com/tileverse/rangereader/diskcache"
	"github.com/tileverse/rangereader/memcache"
)

// DecoratorConfig selects which decorators Build applies on top of the
// selected backend reader, and in what configuration.
type DecoratorConfig struct {
	MemCache  *MemCacheConfig
	DiskCache *DiskCacheConfig
	// BlockSize enables a standalone block-aligned decorator above the
	// outermost cache, per spec.md §4.8's ordering invariant. 0 disables.
	BlockSize uint64
}

// MemCacheConfig mirrors memcache.Option fields for factory-driven
// construction.
type MemCacheConfig struct {
	MaxEntries        int
	MaxWeightBytes    int64
	ExpireAfterAccess int64 // nanoseconds, to keep this struct comparable/serializable
	BlockSize         uint64
	HeaderBytes       uint32
}

// DiskCacheConfig mirrors diskcache.Option fields for factory-driven
// construction.
type DiskCacheConfig struct {
	CacheDirectory    string
	MaxCacheSizeBytes int64
	DeleteOnClose     bool
	// Logger receives disk cache eviction/write diagnostics. Absent a
	// logger, diskcache discards them.
	Logger *slog.Logger
}

// Build selects a provider for cfg, constructs its backend reader, and
// applies decorators in the order the spec mandates: caller → aligner →
// memory cache → disk cache → backend. Decorators are applied innermost
// first (disk cache wraps the backend, memory cache wraps the disk cache,
// the aligner wraps memory cache), matching spec.md §4.8's rule that an
// aligner always sits above any cache it aligns to.
func Build(ctx context.Context, reg *Registry, cfg rr.ReaderConfig, dec DecoratorConfig) (rr.Reader, error) {
	p, err := Select(ctx, reg, cfg)
	if err != nil {
		return nil, err
	}

	reader, err := p.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if dec.DiskCache != nil {
		var diskOpts []diskcache.Option
		if dec.DiskCache.MaxCacheSizeBytes > 0 {
			diskOpts = append(diskOpts, diskcache.WithMaxCacheSizeBytes(dec.DiskCache.MaxCacheSizeBytes))
		}
		if dec.DiskCache.DeleteOnClose {
			diskOpts = append(diskOpts, diskcache.WithDeleteOnClose())
		}
		if dec.DiskCache.Logger != nil {
			diskOpts = append(diskOpts, diskcache.WithLogger(dec.DiskCache.Logger))
		}
		wrapped, err := diskcache.New(reader, dec.DiskCache.CacheDirectory, diskOpts...)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}
		reader = wrapped
	}

	if dec.MemCache != nil {
		memOpts := memCacheOptions(*dec.MemCache)
		wrapped, err := memcache.New(ctx, reader, memOpts...)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}
		reader = wrapped
	}

	if dec.BlockSize > 0 {
		wrapped, err := blockaligned.New(reader, dec.BlockSize)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}
		reader = wrapped
	}

	return reader, nil
}

func memCacheOptions(cfg MemCacheConfig) []memcache.Option {
	var opts []memcache.Option
	if cfg.MaxEntries > 0 {
		opts = append(opts, memcache.WithMaxEntries(cfg.MaxEntries))
	}
	if cfg.MaxWeightBytes > 0 {
		opts = append(opts, memcache.WithMaxWeightBytes(cfg.MaxWeightBytes))
	}
	if cfg.ExpireAfterAccess > 0 {
		opts = append(opts, memcache.WithExpireAfterAccess(time.Duration(cfg.ExpireAfterAccess)))
	}
	if cfg.BlockSize > 0 {
		opts = append(opts, memcache.WithBlockAlignment(cfg.BlockSize))
	}
	if cfg.HeaderBytes > 0 {
		opts = append(opts, memcache.WithHeaderPrefetch(cfg.HeaderBytes))
	}
	return opts
}
