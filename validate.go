package rangereader

import (
	"context"
	"fmt"
)

// ValidateAndRead runs the shared validation template from spec.md §4.2
// in front of a backend or decorator's read hook:
//
//  1. Reject a nil target.
//  2. Fast path: length == 0 returns 0 immediately, target untouched.
//  3. Require len(dst) >= length, else ErrCodeInvalidArgument.
//  4. Query size(ctx). If known and offset >= size, return 0. If known and
//     offset+length > size, clip length to size-offset.
//  5. Delegate to hook for exactly the clipped length.
//
// Backend and decorator ReadRangeInto implementations should be a thin
// wrapper that calls ValidateAndRead with their raw fetch logic as hook.
func ValidateAndRead(ctx context.Context, offset uint64, length uint32, dst []byte, sizeFn func(context.Context) (uint64, bool, error), hook readHook) (int, error) {
	if dst == nil {
		return 0, newError(ErrCodeInvalidArgument, fmt.Errorf("nil target"))
	}
	if length == 0 {
		return 0, nil
	}
	if uint64(len(dst)) < uint64(length) {
		return 0, newError(ErrCodeInvalidArgument, fmt.Errorf("target capacity %d smaller than requested length %d", len(dst), length))
	}

	effectiveLength := length
	if sizeFn != nil {
		size, ok, err := sizeFn(ctx)
		if err != nil {
			return 0, err
		}
		if ok {
			if offset >= size {
				return 0, nil
			}
			if offset+uint64(length) > size {
				effectiveLength = uint32(size - offset)
			}
		}
	}
	if effectiveLength == 0 {
		return 0, nil
	}

	n, err := hook(ctx, offset, dst[:effectiveLength])
	if err != nil {
		return n, err
	}
	return n, nil
}

// ReadRangeFromInto is a convenience that allocates a buffer of exactly
// length bytes, routes it through ValidateAndRead, and returns the slice
// trimmed to the number of bytes actually read. Backends implement
// ReadRange in terms of this helper plus their own ReadRangeInto.
func ReadRangeFromInto(ctx context.Context, offset uint64, length uint32, readInto func(context.Context, uint64, []byte) (int, error)) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	n, err := readInto(ctx, offset, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
