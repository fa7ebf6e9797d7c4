//go:build !linux
// +build !linux

package fuse

import (
	"fmt"
	"io"
)

func Mount(mountpoint, name string, r io.ReaderAt, size uint64) error {
	return fmt.Errorf("FUSE mount is only supported on Linux")
}
