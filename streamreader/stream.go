// Package streamreader implements the sequential and seekable stream
// adapters (spec.md §4.9): thin, non-owning wrappers that present a
// Reader as an io.Reader/io.Seeker by tracking a cursor.
package streamreader

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	rr "github.com/tileverse/rangereader"
)

// Sequential adapts a Reader to io.Reader by tracking a cursor that starts
// at 0 and advances by the number of bytes actually read. Sequential does
// not own the wrapped reader; closing it does not close the delegate.
//
// Grounded on meigma-blob/core/cache.Reader's cursor-advancing file wrappers
// (bufferedCachedFile, streamingCachedFile), generalized from archive-entry
// reads to arbitrary byte-range reads.
type Sequential struct {
	delegate rr.Reader
	cursor   uint64
}

// NewSequential creates a Sequential reader over delegate, starting at
// offset 0.
func NewSequential(delegate rr.Reader) *Sequential {
	return &Sequential{delegate: delegate}
}

// Read implements io.Reader. It issues one ReadRangeInto call per call to
// Read, advancing the cursor by the bytes actually read, and reports
// io.EOF once the cursor reaches or passes the delegate's size.
func (s *Sequential) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ctx := context.Background()
	size, ok, err := s.delegate.Size(ctx)
	if err != nil {
		return 0, err
	}
	if ok && s.cursor >= size {
		return 0, io.EOF
	}

	n, err := s.delegate.ReadRangeInto(ctx, s.cursor, p)
	s.cursor += uint64(n)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Position reports the current cursor.
func (s *Sequential) Position() uint64 {
	return s.cursor
}

// Seekable adapts a Reader to io.ReadSeeker, dispatching reads as
// ReadRangeInto(cursor, n) and advancing the cursor on success. The cursor
// is stored as an atomic counter so PositionGet is safe to call
// concurrently with Read, though concurrent Read calls themselves are not
// coordinated (the last one to land wins the cursor race, matching a plain
// io.ReadSeeker's single-cursor contract).
type Seekable struct {
	delegate rr.Reader
	cursor   atomic.Uint64
}

// NewSeekable creates a Seekable reader over delegate, starting at
// offset 0.
func NewSeekable(delegate rr.Reader) *Seekable {
	return &Seekable{delegate: delegate}
}

// Read implements io.Reader.
func (s *Seekable) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ctx := context.Background()
	cursor := s.cursor.Load()

	size, ok, err := s.delegate.Size(ctx)
	if err != nil {
		return 0, err
	}
	if ok && cursor >= size {
		return 0, io.EOF
	}

	n, err := s.delegate.ReadRangeInto(ctx, cursor, p)
	s.cursor.Add(uint64(n))
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Seek implements io.Seeker.
func (s *Seekable) Seek(offset int64, whence int) (int64, error) {
	var base uint64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.cursor.Load()
	case io.SeekEnd:
		size, ok, err := s.delegate.Size(context.Background())
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, rr.Wrap(rr.ErrCodeInvalidArgument, fmt.Errorf("seek from end: size is unknown"))
		}
		base = size
	default:
		return 0, rr.Wrap(rr.ErrCodeInvalidArgument, fmt.Errorf("seek: invalid whence %d", whence))
	}

	next := int64(base) + offset
	if next < 0 {
		return 0, rr.Wrap(rr.ErrCodeInvalidArgument, fmt.Errorf("seek: negative resulting position"))
	}
	s.cursor.Store(uint64(next))
	return next, nil
}

// PositionGet reports the current cursor.
func (s *Seekable) PositionGet() uint64 {
	return s.cursor.Load()
}

// PositionSet moves the cursor directly.
func (s *Seekable) PositionSet(p uint64) {
	s.cursor.Store(p)
}
