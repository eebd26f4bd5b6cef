// Package diskcache implements the disk cache decorator (spec.md §4.7): a
// weighted-LRU cache of exact byte ranges, persisted as individual files
// under a cache directory, resilient to files being removed externally.
package diskcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	rr "github.com/tileverse/rangereader"
)

const defaultMaxCacheSizeBytes = 1 << 30 // 1 GiB

// Reader wraps a delegate reader with a weighted-LRU disk cache of exact
// (offset, length) ranges.
//
// Grounded on meigma-blob/core/cache/disk/cache.go's write-temp-then-rename
// atomic writes and atomic byte accounting, replacing its directory-walk
// prune with an explicit in-memory weighted LRU index per spec.md §4.7 so
// eviction order is LRU rather than a full-directory mtime sort.
type Reader struct {
	delegate      rr.Reader
	dir           string
	maxBytes      int64
	deleteOnClose bool
	hashPrefix    string
	logger        *slog.Logger

	mu    sync.Mutex
	index map[string]*list.Element // filename -> LRU element
	order *list.List               // front = most recently used
	bytes atomic.Int64
}

type lruEntry struct {
	name string
	size int64
}

var _ rr.Reader = (*Reader)(nil)

// Option configures a Reader.
type Option func(*config)

type config struct {
	maxBytes      int64
	deleteOnClose bool
	logger        *slog.Logger
}

// WithMaxCacheSizeBytes overrides the default 1 GiB cache size bound.
func WithMaxCacheSizeBytes(n int64) Option {
	return func(c *config) { c.maxBytes = n }
}

// WithDeleteOnClose causes Close to remove every file this reader's
// hash-prefix owns, then the directory if it becomes empty.
func WithDeleteOnClose() Option {
	return func(c *config) { c.deleteOnClose = true }
}

// WithLogger sets the logger used for best-effort eviction diagnostics.
// Absent a logger, logging is discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// New wraps delegate with a disk cache rooted at dir. The directory is
// created if missing, then scanned for files matching
// {hash8(delegate.SourceID())}_{offset}_{length}.bin; each is inserted into
// the LRU index with weight equal to its file size.
func New(delegate rr.Reader, dir string, opts ...Option) (*Reader, error) {
	if delegate == nil {
		return nil, rr.Wrap(rr.ErrCodeInvalidArgument, fmt.Errorf("disk cache: delegate is nil"))
	}
	if dir == "" {
		return nil, rr.Wrap(rr.ErrCodeInvalidArgument, fmt.Errorf("disk cache: directory is empty"))
	}
	cfg := config{maxBytes: defaultMaxCacheSizeBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxBytes < 0 {
		return nil, rr.Wrap(rr.ErrCodeInvalidArgument, fmt.Errorf("disk cache: max size must be >= 0"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rr.Wrap(rr.ErrCodeIO, err)
	}

	r := &Reader{
		delegate:      delegate,
		dir:           dir,
		maxBytes:      cfg.maxBytes,
		deleteOnClose: cfg.deleteOnClose,
		hashPrefix:    hash8(delegate.SourceID()),
		logger:        cfg.logger,
		index:         make(map[string]*list.Element),
		order:         list.New(),
	}
	if err := r.scanExisting(); err != nil {
		return nil, rr.Wrap(rr.ErrCodeIO, err)
	}
	return r, nil
}

func (r *Reader) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

func hash8(sourceID string) string {
	d := digest.FromString(sourceID)
	encoded := d.Encoded()
	if len(encoded) < 8 {
		return encoded
	}
	return encoded[:8]
}

func (r *Reader) scanExisting() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	prefix := r.hashPrefix + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) || !strings.HasSuffix(entry.Name(), ".bin") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		r.insertLRU(entry.Name(), info.Size())
	}
	return nil
}

func (r *Reader) insertLRU(name string, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[name]; ok {
		return
	}
	elem := r.order.PushFront(&lruEntry{name: name, size: size})
	r.index[name] = elem
	r.bytes.Add(size)
}

func (r *Reader) touchLRU(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if elem, ok := r.index[name]; ok {
		r.order.MoveToFront(elem)
	}
}

func (r *Reader) removeLRU(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLRULocked(name)
}

func (r *Reader) removeLRULocked(name string) {
	elem, ok := r.index[name]
	if !ok {
		return
	}
	delete(r.index, name)
	r.order.Remove(elem)
	r.bytes.Add(-elem.Value.(*lruEntry).size)
}

// ReadRange implements rangereader.Reader.
func (r *Reader) ReadRange(ctx context.Context, offset uint64, length uint32) ([]byte, error) {
	return rr.ReadRangeFromInto(ctx, offset, length, r.ReadRangeInto)
}

// ReadRangeInto implements rangereader.Reader.
func (r *Reader) ReadRangeInto(ctx context.Context, offset uint64, dst []byte) (int, error) {
	return rr.ValidateAndRead(ctx, offset, uint32(len(dst)), dst, r.Size, r.readAt)
}

func (r *Reader) readAt(ctx context.Context, offset uint64, dst []byte) (int, error) {
	name := r.fileName(offset, uint32(len(dst)))
	path := filepath.Join(r.dir, name)

	r.mu.Lock()
	_, hit := r.index[name]
	r.mu.Unlock()

	if hit {
		data, err := os.ReadFile(path) //nolint:gosec // path is derived from a hashed source id and numeric offsets, not user input
		if err == nil {
			n := copy(dst, data)
			r.touchLRU(name)
			return n, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			// An unreadable cache file is treated as a miss and refetched.
			r.log().Warn("diskcache: unreadable cache file", "file", name, "error", err)
			_ = os.Remove(path)
		}
		r.removeLRU(name)
	}

	if uint64(len(dst)) > uint64(r.maxBytes) && r.maxBytes > 0 {
		return r.delegate.ReadRangeInto(ctx, offset, dst)
	}

	n, err := r.delegate.ReadRangeInto(ctx, offset, dst)
	if err != nil {
		return n, err
	}

	actualName := r.fileName(offset, uint32(n))
	if werr := r.writeFile(actualName, dst[:n]); werr != nil {
		r.log().Warn("diskcache: write failed", "file", actualName, "error", werr)
		return n, nil //nolint:nilerr // cache write is best-effort; the read itself succeeded
	}
	return n, nil
}

func (r *Reader) writeFile(name string, data []byte) error {
	path := filepath.Join(r.dir, name)
	if _, err := os.Stat(path); err == nil {
		r.insertLRU(name, int64(len(data)))
		return nil
	}

	tmp, err := os.CreateTemp(r.dir, "diskcache-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	r.insertLRU(name, int64(len(data)))
	r.evictIfNeeded()
	return nil
}

func (r *Reader) evictIfNeeded() {
	if r.maxBytes <= 0 {
		return
	}
	for r.bytes.Load() > r.maxBytes {
		r.mu.Lock()
		back := r.order.Back()
		if back == nil {
			r.mu.Unlock()
			return
		}
		entry := back.Value.(*lruEntry)
		r.mu.Unlock()

		if err := os.Remove(filepath.Join(r.dir, entry.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.log().Warn("diskcache: evict failed", "file", entry.name, "error", err)
		}
		r.removeLRU(entry.name)
	}
}

func (r *Reader) fileName(offset uint64, length uint32) string {
	return fmt.Sprintf("%s_%d_%d.bin", r.hashPrefix, offset, length)
}

// Size implements rangereader.Reader.
func (r *Reader) Size(ctx context.Context) (uint64, bool, error) {
	return r.delegate.Size(ctx)
}

// SourceID implements rangereader.Reader.
func (r *Reader) SourceID() string {
	return "disk-cached:" + r.delegate.SourceID()
}

// Close implements rangereader.Reader. If WithDeleteOnClose was set, every
// file owned by this reader's hash prefix is removed, then the directory
// if it is left empty. Ownership transfers into the decorator at
// construction, so Close closes the delegate too.
func (r *Reader) Close() error {
	if r.deleteOnClose {
		r.mu.Lock()
		names := make([]string, 0, len(r.index))
		for name := range r.index {
			names = append(names, name)
		}
		r.mu.Unlock()
		for _, name := range names {
			if err := os.Remove(filepath.Join(r.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				r.log().Warn("diskcache: delete-on-close failed", "file", name, "error", err)
			}
			r.removeLRU(name)
		}
		if entries, err := os.ReadDir(r.dir); err == nil && len(entries) == 0 {
			_ = os.Remove(r.dir)
		}
	}
	return r.delegate.Close()
}

// Stats reports the current tracked cache size in bytes and entry count.
// Supplemental to spec.md §4.7 for observability parity with the
// SizeBytes()/MaxBytes() accessors the disk cache ancestor exposes.
func (r *Reader) Stats() (bytes int64, entries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes.Load(), len(r.index)
}
