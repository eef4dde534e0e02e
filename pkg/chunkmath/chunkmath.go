// Package chunkmath implements the chunk-index and byte-range arithmetic
// used by chunk acceptance and by the download assembler, grounded on the
// chunk/block boundary math in pkg/payload/chunk (IndexForOffset, Bounds,
// ClipToChunk). That package clips a file-level range across a two-level
// chunk/block hierarchy; this one clips across a single chunk level, with
// a possibly-short last chunk.
package chunkmath

// IndexForOffset returns the chunk index containing the file-level byte
// offset, given a fixed chunkSize.
func IndexForOffset(offset, chunkSize int64) int32 {
	return int32(offset / chunkSize)
}

// Bounds returns the file-level [start, end) byte range covered by chunk
// idx, assuming every chunk but the last is exactly chunkSize bytes.
func Bounds(idx int32, chunkSize int64) (start, end int64) {
	start = int64(idx) * chunkSize
	end = start + chunkSize
	return start, end
}

// Range returns the inclusive [startChunk, endChunk] span covered by the
// file-level byte range [offset, offset+length).
func Range(offset, length, chunkSize int64) (startChunk, endChunk int32) {
	if length <= 0 {
		idx := IndexForOffset(offset, chunkSize)
		return idx, idx
	}
	return IndexForOffset(offset, chunkSize), IndexForOffset(offset+length-1, chunkSize)
}

// ClipToChunk clips the file-level range [fileOffset, fileOffset+length) to
// the portion that falls inside chunk idx. Returns clippedLength 0 if the
// range does not overlap the chunk at all.
func ClipToChunk(idx int32, fileOffset, length, chunkSize int64) (offsetInChunk, clippedLength int64) {
	chunkStart, chunkEnd := Bounds(idx, chunkSize)

	if fileOffset+length <= chunkStart || fileOffset >= chunkEnd {
		return 0, 0
	}

	rangeStart := max(fileOffset, chunkStart)
	rangeEnd := min(fileOffset+length, chunkEnd)

	return rangeStart - chunkStart, rangeEnd - rangeStart
}

// ByteRange is an inclusive [Start, End] byte range over a whole file,
// as named in an HTTP Range request.
type ByteRange struct {
	Start, End int64
}

// Valid reports whether r is a well-formed, satisfiable range against a
// file of size fileSize.
func (r ByteRange) Valid(fileSize int64) bool {
	return r.Start >= 0 && r.Start <= r.End && r.End < fileSize
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}
