// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package reader

import (
	"fmt"
	"io"
)

// BufferedReadSeeker wraps an io.ReadSeeker with a single read-ahead window.
//
// internal/vhdx's byteReader issues one small read per structural field: a
// FileIdentifier, a Header copy or a MetadataTableEntry is decoded as a run
// of several u16/u32/u64/GUID-blob reads of a handful of bytes each, with
// seeks only at the boundaries between regions (the 64 KiB-aligned header
// and region-table slots, individual BAT entries, metadata item payloads).
// Handing that access pattern straight to an io.ReaderAt-backed
// io.SectionReader would cost one syscall per field; this type instead
// satisfies a whole run of small sequential reads out of one buffered
// window, and only re-fills the window on an actual miss.
type BufferedReadSeeker struct {
	src io.ReadSeeker

	buf      []byte
	bufStart int64 // absolute offset of buf[0] in src
	off      int   // read cursor within buf
	size     int   // valid bytes in buf, starting at buf[0]
}

// NewBufferedReadSeeker allocates a window of bufSize bytes over src. A
// window sized to comfortably span one header or region-table copy (64 KiB)
// means a full structural parse of one of those regions costs a single
// underlying read.
func NewBufferedReadSeeker(src io.ReadSeeker, bufSize int) *BufferedReadSeeker {
	return &BufferedReadSeeker{
		src: src,
		buf: make([]byte, bufSize),
	}
}

// fillBuffer slides any still-unread bytes to the front of the window and
// reads more from src to refill it.
func (b *BufferedReadSeeker) fillBuffer() error {
	carried := copy(b.buf, b.buf[b.off:b.size])

	n, err := b.src.Read(b.buf[carried:])
	if err != nil && err != io.EOF {
		return err
	}

	b.bufStart += int64(b.off)
	b.size = carried + n
	b.off = 0
	return nil
}

func (b *BufferedReadSeeker) Read(p []byte) (int, error) {
	read := 0
	for read < len(p) {
		if b.off >= b.size {
			if err := b.fillBuffer(); err != nil {
				return 0, err
			}
			if b.size == 0 {
				return read, io.EOF
			}
		}
		n := copy(p[read:], b.buf[b.off:b.size])
		b.off += n
		read += n
	}
	return read, nil
}

// Seek repositions the stream. A target that already falls within the
// current window is satisfied by moving the cursor alone — the common case
// when a parser backs up a few bytes to re-read a field it just validated,
// or jumps forward to a later field of the same 64 KiB header or region
// copy. The paired copies sit 64 KiB apart, so moving from one to the other
// is a miss. Anything outside the window falls through to a real seek on src
// and discards the buffered contents.
func (b *BufferedReadSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart, io.SeekEnd:
	case io.SeekCurrent:
		offset += b.bufStart + int64(b.off)
		whence = io.SeekStart
	default:
		return -1, fmt.Errorf("BufferedReadSeeker.Seek: invalid whence: %d", whence)
	}

	if offset < 0 {
		return -1, fmt.Errorf("BufferedReadSeeker.Seek: negative position")
	}

	if offset >= b.bufStart && offset < b.bufStart+int64(b.size) {
		b.off = int(offset - b.bufStart)
		return offset, nil
	}

	newOffset, err := b.src.Seek(offset, whence)
	if err != nil {
		return 0, err
	}

	b.off = 0
	b.size = 0
	b.bufStart = newOffset
	return newOffset, nil
}
