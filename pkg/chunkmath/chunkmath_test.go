package chunkmath

import "testing"

const testChunkSize = 4

func TestIndexForOffset(t *testing.T) {
	cases := []struct {
		offset int64
		want   int32
	}{
		{0, 0},
		{3, 0},
		{4, 1},
		{9, 2},
	}
	for _, c := range cases {
		if got := IndexForOffset(c.offset, testChunkSize); got != c.want {
			t.Errorf("IndexForOffset(%d) = %d, want %d", c.offset, got, c.want)
		}
	}
}

func TestRangeAcrossBoundary(t *testing.T) {
	// file "0123456789", chunkSize=4, bytes=2-7 spans chunk 0 and chunk 1.
	start, end := Range(2, 6, testChunkSize)
	if start != 0 || end != 1 {
		t.Fatalf("Range(2,6) = (%d,%d), want (0,1)", start, end)
	}
}

func TestClipToChunk(t *testing.T) {
	// Range [2,8) over chunks of size 4: chunk0 covers [0,4), chunk1 [4,8), chunk2 [8,12).
	off, n := ClipToChunk(0, 2, 6, testChunkSize)
	if off != 2 || n != 2 {
		t.Fatalf("chunk0 clip = (%d,%d), want (2,2)", off, n)
	}
	off, n = ClipToChunk(1, 2, 6, testChunkSize)
	if off != 0 || n != 4 {
		t.Fatalf("chunk1 clip = (%d,%d), want (0,4)", off, n)
	}
	off, n = ClipToChunk(2, 2, 6, testChunkSize)
	if n != 0 {
		t.Fatalf("chunk2 clip should have zero overlap, got (%d,%d)", off, n)
	}
}

func TestByteRangeValid(t *testing.T) {
	if !(ByteRange{Start: 2, End: 7}).Valid(10) {
		t.Fatal("expected [2,7] to be valid for a 10-byte file")
	}
	if (ByteRange{Start: 5, End: 2}).Valid(10) {
		t.Fatal("start > end must be invalid")
	}
	if (ByteRange{Start: 0, End: 10}).Valid(10) {
		t.Fatal("end >= fileSize must be invalid")
	}
}
