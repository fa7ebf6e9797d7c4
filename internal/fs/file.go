package fs

import (
	"io"
	"os"
)

// File is what vhdx.Open needs from its backing store: random-access reads
// at the fixed byte offsets the VHDX layout specifies (header copies,
// region tables, the BAT, metadata items), a Stat, and a Close. Nothing in
// internal/vhdx calls Stat; inferred disk sizes come from the BAT length. Satisfied by a plain *os.File, by rawVolumeFile
// on Windows raw volumes, and by internal/mmap's mapped-file wrapper.
type File interface {
	io.ReadCloser
	io.ReaderAt
	Stat() (os.FileInfo, error)
}
