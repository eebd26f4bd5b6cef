// Package memcache implements the in-memory cache decorator (spec.md
// §4.6): exact-range or block-aligned caching with stampede prevention,
// count/weight/TTL sizing, and an optional eagerly-loaded header buffer.
package memcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	rr "github.com/tileverse/rangereader"
)

// Reader wraps a delegate reader with an in-memory cache of byte ranges.
//
// Grounded on meigma-blob/cache/blob.go's singleflight.Group stampede
// prevention (fetchGroup.Do keyed by content hash) and
// meigma-blob/core/cache/disk/blockcache.go's block-index arithmetic,
// both lifted from their disk-specific contexts into an in-memory store
// sized by hashicorp/golang-lru/v2/expirable when count/TTL bounds apply,
// or a hand-rolled weighted list.List LRU when a byte-weight bound applies
// (golang-lru has no weighted variant).
type Reader struct {
	delegate  rr.Reader
	blockSize uint64
	header    []byte

	group singleflight.Group
	store store
}

var _ rr.Reader = (*Reader)(nil)

// Option configures a Reader.
type Option func(*config)

type config struct {
	maxEntries        int
	maxWeightBytes    int64
	expireAfterAccess time.Duration
	blockSize         uint64
	headerBytes       uint32
}

// WithMaxEntries bounds the cache by entry count. Mutually exclusive with
// WithMaxWeightBytes.
func WithMaxEntries(n int) Option {
	return func(c *config) { c.maxEntries = n }
}

// WithMaxWeightBytes bounds the cache by total buffer bytes held. Mutually
// exclusive with WithMaxEntries.
func WithMaxWeightBytes(n int64) Option {
	return func(c *config) { c.maxWeightBytes = n }
}

// WithExpireAfterAccess evicts an entry if it goes unused for d. It has no
// effect when WithMaxWeightBytes is also set: the weight-bounded store does
// not expire entries.
func WithExpireAfterAccess(d time.Duration) Option {
	return func(c *config) { c.expireAfterAccess = d }
}

// WithBlockAlignment splits reads into aligned blocks of size B, caching
// each block independently. B should be a power of two; 0 (the default)
// disables block alignment.
func WithBlockAlignment(blockSize uint64) Option {
	return func(c *config) { c.blockSize = blockSize }
}

// WithHeaderPrefetch eagerly loads the first h bytes at construction and
// serves any read fully contained in [0, h) from an immutable in-memory
// buffer, bypassing the cache store entirely.
func WithHeaderPrefetch(h uint32) Option {
	return func(c *config) { c.headerBytes = h }
}

// New wraps delegate with an in-memory cache.
func New(ctx context.Context, delegate rr.Reader, opts ...Option) (*Reader, error) {
	if delegate == nil {
		return nil, rr.Wrap(rr.ErrCodeInvalidArgument, fmt.Errorf("memory cache: delegate is nil"))
	}
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxEntries > 0 && cfg.maxWeightBytes > 0 {
		return nil, rr.Wrap(rr.ErrCodeInvalidArgument, fmt.Errorf("memory cache: at most one of max entries or max weight may be set"))
	}

	r := &Reader{
		delegate:  delegate,
		blockSize: cfg.blockSize,
		store:     newStore(cfg),
	}

	if cfg.headerBytes > 0 {
		buf := make([]byte, cfg.headerBytes)
		n, err := delegate.ReadRangeInto(ctx, 0, buf)
		if err != nil {
			return nil, err
		}
		r.header = buf[:n]
	}
	return r, nil
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
	length := uint64(len(dst))
	if r.header != nil && offset+length <= uint64(len(r.header)) {
		return copy(dst, r.header[offset:offset+length]), nil
	}

	if r.blockSize == 0 {
		return r.readExact(ctx, offset, dst)
	}
	return r.readBlockAligned(ctx, offset, dst)
}

func (r *Reader) readExact(ctx context.Context, offset uint64, dst []byte) (int, error) {
	key := rangeKey(offset, uint32(len(dst)))
	data, err := r.loadOnce(ctx, key, offset, uint32(len(dst)))
	if err != nil {
		return 0, err
	}
	return copy(dst, data), nil
}

func (r *Reader) readBlockAligned(ctx context.Context, offset uint64, dst []byte) (int, error) {
	size, haveSize, err := r.delegate.Size(ctx)
	if err != nil {
		return 0, err
	}

	length := uint64(len(dst))
	startBlock := offset / r.blockSize
	endBlock := (offset + length - 1) / r.blockSize

	type blockResult struct {
		index uint64
		data  []byte
	}
	results := make([]blockResult, endBlock-startBlock+1)

	g, gctx := errgroup.WithContext(ctx)
	for i := startBlock; i <= endBlock; i++ {
		i := i
		blockStart := i * r.blockSize
		blockEnd := blockStart + r.blockSize
		if haveSize && blockEnd > size {
			blockEnd = size
		}
		blockLen := uint32(blockEnd - blockStart)
		slot := i - startBlock

		g.Go(func() error {
			key := rangeKey(blockStart, blockLen)
			data, err := r.loadOnce(gctx, key, blockStart, blockLen)
			if err != nil {
				return err
			}
			results[slot] = blockResult{index: i, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var n int
	for _, res := range results {
		blockStart := res.index * r.blockSize
		copyStart := max(offset, blockStart)
		copyEnd := min(offset+length, blockStart+uint64(len(res.data)))
		if copyEnd <= copyStart {
			continue
		}
		srcOff := copyStart - blockStart
		dstOff := copyStart - offset
		c := copy(dst[dstOff:], res.data[srcOff:copyEnd-blockStart])
		n += c
	}
	return n, nil
}

// loadOnce fetches key via the delegate at most once across concurrent
// callers (spec.md §4.6's stampede-prevention invariant), storing the
// result only on success.
func (r *Reader) loadOnce(ctx context.Context, key cacheKey, offset uint64, length uint32) ([]byte, error) {
	if data, ok := r.store.get(key); ok {
		return data, nil
	}

	result, err, _ := r.group.Do(key.String(), func() (any, error) {
		if data, ok := r.store.get(key); ok {
			return data, nil
		}
		buf := make([]byte, length)
		n, err := r.delegate.ReadRangeInto(ctx, offset, buf)
		if err != nil {
			return nil, err
		}
		buf = buf[:n]
		r.store.put(key, buf)
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Size implements rangereader.Reader.
func (r *Reader) Size(ctx context.Context) (uint64, bool, error) {
	return r.delegate.Size(ctx)
}

// SourceID implements rangereader.Reader.
func (r *Reader) SourceID() string {
	return "memory-cached:" + r.delegate.SourceID()
}

// Close implements rangereader.Reader. The in-memory cache is invalidated
// on close (spec.md §3's lifecycle rule), and ownership transfers into the
// decorator at construction, so Close closes the delegate too.
func (r *Reader) Close() error {
	r.store.clear()
	return r.delegate.Close()
}

type cacheKey struct {
	offset uint64
	length uint32
}

func rangeKey(offset uint64, length uint32) cacheKey {
	return cacheKey{offset: offset, length: length}
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%d:%d", k.offset, k.length)
}

// store is the backing cache: unbounded, count/TTL-bounded, or
// weight-bounded, chosen by New from the supplied options.
type store interface {
	get(key cacheKey) ([]byte, bool)
	put(key cacheKey, data []byte)
	clear()
}

// defaultSoftBoundBytes bounds the store when no sizing option is given. Go
// has no soft-reference primitive for eviction under memory pressure, so
// the unsized mode is a weighted store with this fixed 16 MiB bound.
const defaultSoftBoundBytes = 16 << 20

func newStore(cfg config) store {
	switch {
	case cfg.maxWeightBytes > 0:
		return newWeightedStore(cfg.maxWeightBytes)
	case cfg.maxEntries > 0 || cfg.expireAfterAccess > 0:
		return newLRUStore(cfg.maxEntries, cfg.expireAfterAccess)
	default:
		return newWeightedStore(defaultSoftBoundBytes)
	}
}

// unboundedStore never evicts: entries live until Close clears the store.
// newStore does not select it; the unsized default is the weighted store
// bounded by defaultSoftBoundBytes.
type unboundedStore struct {
	mu   sync.RWMutex
	data map[cacheKey][]byte
}

func newUnboundedStore() *unboundedStore {
	return &unboundedStore{data: make(map[cacheKey][]byte)}
}

func (s *unboundedStore) get(key cacheKey) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	return data, ok
}

func (s *unboundedStore) put(key cacheKey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
}

func (s *unboundedStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[cacheKey][]byte)
}

// lruStore bounds by entry count and/or expires entries after an access
// gap, backed by hashicorp/golang-lru/v2/expirable.
type lruStore struct {
	lru *lru.LRU[cacheKey, []byte]
}

func newLRUStore(maxEntries int, ttl time.Duration) *lruStore {
	return &lruStore{lru: lru.NewLRU[cacheKey, []byte](maxEntries, nil, ttl)}
}

func (s *lruStore) get(key cacheKey) ([]byte, bool) {
	data, ok := s.lru.Get(key)
	if ok {
		// expirable.LRU's Get does not renew an entry's expiry; re-adding it
		// does, so the TTL counts from the last access.
		s.lru.Add(key, data)
	}
	return data, ok
}

func (s *lruStore) put(key cacheKey, data []byte) {
	s.lru.Add(key, data)
}

func (s *lruStore) clear() {
	s.lru.Purge()
}

// weightedStore bounds total bytes held, evicting the least-recently-used
// entry. Grounded on meigma-blob/core/cache/disk/cache.go's weighted
// eviction logic (ensureCapacity/Prune), adapted from disk files to
// in-memory buffers since golang-lru/v2 has no byte-weighted variant.
type weightedStore struct {
	maxBytes int64

	mu    sync.Mutex
	bytes int64
	index map[cacheKey]*list.Element
	order *list.List
}

type weightedEntry struct {
	key  cacheKey
	data []byte
}

func newWeightedStore(maxBytes int64) *weightedStore {
	return &weightedStore{
		maxBytes: maxBytes,
		index:    make(map[cacheKey]*list.Element),
		order:    list.New(),
	}
}

func (s *weightedStore) get(key cacheKey) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.index[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(elem)
	return elem.Value.(*weightedEntry).data, true
}

func (s *weightedStore) put(key cacheKey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[key]; ok {
		return
	}
	elem := s.order.PushFront(&weightedEntry{key: key, data: data})
	s.index[key] = elem
	s.bytes += int64(len(data))

	for s.bytes > s.maxBytes {
		back := s.order.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*weightedEntry)
		s.order.Remove(back)
		delete(s.index, evicted.key)
		s.bytes -= int64(len(evicted.data))
	}
}

func (s *weightedStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make(map[cacheKey]*list.Element)
	s.order = list.New()
	s.bytes = 0
}
