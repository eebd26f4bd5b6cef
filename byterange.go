package rangereader

import "fmt"

// ByteRange is an immutable half-open interval [Offset, Offset+Length) over
// a source's byte stream. The memory and disk caches do not use it as
// their key; they key entries by their own (offset, length) forms.
type ByteRange struct {
	Offset uint64
	Length uint32
}

// NewByteRange validates and constructs a ByteRange.
func NewByteRange(offset uint64, length uint32) (ByteRange, error) {
	// offset and length are unsigned, so the only invariant left to check
	// is that offset+length does not wrap around.
	if offset > offset+uint64(length) {
		return ByteRange{}, newError(ErrCodeInvalidArgument, fmt.Errorf("byte range overflows: offset=%d length=%d", offset, length))
	}
	return ByteRange{Offset: offset, Length: length}, nil
}

// End returns the exclusive end of the range, Offset+Length.
func (r ByteRange) End() uint64 {
	return r.Offset + uint64(r.Length)
}

// Less reports whether r sorts before other under the total order defined
// in spec.md §3: by Offset, ties broken by Length.
func (r ByteRange) Less(other ByteRange) bool {
	if r.Offset != other.Offset {
		return r.Offset < other.Offset
	}
	return r.Length < other.Length
}

// String renders the range as "[offset,end)" for diagnostics.
func (r ByteRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Offset, r.End())
}
