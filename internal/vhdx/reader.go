package vhdx

import (
	"encoding/binary"
	"io"
	"math"

	pkgreader "github.com/ostafen/vhdxlens/pkg/reader"
)

// bufferedReadWindow bounds how much a byteReader built by newByteReaderAt
// reads ahead per underlying ReadAt call. It applies to every backing
// store, the memory-mapped one included.
const bufferedReadWindow = 64 * 1024

// byteReader performs bounded little-endian reads from a seekable stream,
// raising a ShortReadError whenever the stream yields fewer bytes than
// requested. It does no buffering of its own beyond what src provides.
type byteReader struct {
	src io.ReadSeeker
}

func newByteReader(src io.ReadSeeker) *byteReader {
	return &byteReader{src: src}
}

// newByteReaderAt wraps an io.ReaderAt (e.g. internal/fs.File, which has no
// Seek of its own on Windows raw-volume handles) in a read-seeker view
// bounded only by the backing reader's own EOF, adding a read-ahead buffer
// so the many small fixed-field reads a structural parse issues don't each
// cost their own pread(2).
func newByteReaderAt(ra io.ReaderAt) *byteReader {
	section := io.NewSectionReader(ra, 0, math.MaxInt64)
	return &byteReader{src: pkgreader.NewBufferedReadSeeker(section, bufferedReadWindow)}
}

func (r *byteReader) seek(off int64) error {
	_, err := r.src.Seek(off, io.SeekStart)
	if err != nil {
		return newErr(KindIO, off, "seek: %w", err)
	}
	return nil
}

func (r *byteReader) offset() int64 {
	off, _ := r.src.Seek(0, io.SeekCurrent)
	return off
}

func (r *byteReader) readExact(n int) ([]byte, error) {
	off := r.offset()
	buf := make([]byte, n)
	got, err := io.ReadFull(r.src, buf)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, (&ShortReadError{Offset: off, Wanted: n, Got: got}).asError()
		}
		return nil, newErr(KindIO, off, "read: %w", err)
	}
	return buf, nil
}

func (r *byteReader) u16() (uint16, error) {
	b, err := r.readExact(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) u64() (uint64, error) {
	b, err := r.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) guidBlob() ([]byte, error) {
	return r.readExact(GuidSize)
}

// skip advances the stream by n bytes without validating their content.
func (r *byteReader) skip(n int64) error {
	_, err := r.src.Seek(n, io.SeekCurrent)
	if err != nil {
		return newErr(KindIO, r.offset(), "seek: %w", err)
	}
	return nil
}
