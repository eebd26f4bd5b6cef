package rangereader

import "context"

// Reader is the single abstraction every backend and decorator implements.
//
// Implementations must be safe for concurrent use from multiple goroutines;
// no call may mutate shared state in a way visible to unrelated callers.
type Reader interface {
	// ReadRange returns a buffer holding up to length bytes starting at
	// offset. The returned slice may be shorter than length if the source
	// is truncated at offset+length (EOF truncation, spec.md §4.2 step 4).
	ReadRange(ctx context.Context, offset uint64, length uint32) ([]byte, error)

	// ReadRangeInto writes into dst starting at its beginning, reading up to
	// len(dst) bytes from offset, and returns the number of bytes written.
	// It never grows or reinterprets dst; the caller owns dst's capacity.
	ReadRangeInto(ctx context.Context, offset uint64, dst []byte) (int, error)

	// Size returns the exact byte size of the source if known. ok is false
	// when the source cannot report a size (e.g. an HTTP server that omits
	// Content-Length); callers must handle both cases.
	Size(ctx context.Context) (size uint64, ok bool, err error)

	// SourceID returns a stable identifier for this reader's origin, e.g.
	// "file:///...", "s3://bucket/key", or a decorator-prefixed id such as
	// "memory-cached:s3://bucket/key".
	SourceID() string

	// Close releases resources held by this reader. Close is idempotent.
	Close() error
}

// readHook is the strict contract subclasses (backends and decorators) must
// satisfy when routed through ValidateAndRead (see validate.go). It must
// write exactly the bytes it read into dst[:n], must not alter dst's
// capacity, must return the number of bytes written, and must be reentrant.
type readHook func(ctx context.Context, offset uint64, dst []byte) (n int, err error)
