//go:build windows
// +build windows

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
package fs

import (
	"fmt"
	"os"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// volumeReadGranularity is the smallest unit Windows allows an unbuffered
// raw-volume handle to read: a VHDX's own LogicalSectorSize (§6, typically
// 512 or 4096) is only known after FileIdentifier/Header/Metadata have been
// parsed, so every ReadAt below aligns to this conservative lower bound
// instead, regardless of what the container turns out to declare.
const volumeReadGranularity = 512

// rawVolumeFile backs vhdx.Open when the path passed to it names a raw
// Windows volume (e.g. "\\.\C:" or "\\.\PhysicalDrive0") rather than a
// regular VHDX file on an NTFS filesystem: the container's FileIdentifier,
// header copies, region tables and BAT then live at fixed byte offsets
// within the volume itself, exactly as they would inside an ordinary
// *.vhdx file, and this type makes that volume satisfy fs.File so the rest
// of internal/vhdx never has to special-case the two.
type rawVolumeFile struct {
	handle windows.Handle
	offset int64 // tracks Read's position; ReadAt is independent of it
}

type volumeFileInfo struct {
	size int64
	sys  any
}

func (fi *volumeFileInfo) Name() string       { return "" }
func (fi *volumeFileInfo) Size() int64        { return fi.size }
func (fi *volumeFileInfo) Mode() os.FileMode  { return 0 }
func (fi *volumeFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *volumeFileInfo) IsDir() bool        { return false }
func (fi *volumeFileInfo) Sys() interface{}   { return fi.sys }

// Open opens path for raw, unbuffered reading. NormalizeVolumePath should be
// applied by the caller first so a bare drive letter becomes a proper
// \\.\C: device path.
func Open(path string) (File, error) {
	handle, err := windows.CreateFile(
		windows.StringToUTF16Ptr(path),
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0, // windows.FILE_FLAG_OVERLAPPED
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open volume %q: %w", path, err)
	}
	return &rawVolumeFile{handle: handle}, nil
}

// Read reads sequentially from the volume, advancing its internal cursor.
// internal/vhdx never calls this (it is a random-access, ReaderAt-based
// decoder throughout); it is here so rawVolumeFile satisfies io.Reader as
// part of fs.File.
func (d *rawVolumeFile) Read(p []byte) (int, error) {
	var bytesRead uint32
	err := windows.ReadFile(d.handle, p, &bytesRead, nil)
	if err != nil {
		return int(bytesRead), err
	}
	d.offset += int64(bytesRead)
	return int(bytesRead), nil
}

// ReadAt services the byte-range reads internal/vhdx issues for header
// copies, region tables, metadata items and BAT-addressed blocks. A raw
// volume handle rejects unaligned or partial-sector I/O, so off and len(p)
// are rounded out to volumeReadGranularity before the device read and the
// requested slice is copied back out of the aligned buffer.
func (d *rawVolumeFile) ReadAt(p []byte, off int64) (int, error) {
	alignedOffset := off / volumeReadGranularity * volumeReadGranularity
	alignmentDiff := int(off - alignedOffset)

	alignedSize := ((len(p) + alignmentDiff + volumeReadGranularity - 1) / volumeReadGranularity) * volumeReadGranularity
	buf := make([]byte, alignedSize)

	var bytesRead uint32
	ov := new(windows.Overlapped)
	ov.Offset = uint32(alignedOffset)
	ov.OffsetHigh = uint32(alignedOffset >> 32)

	err := windows.ReadFile(d.handle, buf, &bytesRead, ov)
	if err != nil {
		if err == syscall.ERROR_IO_PENDING {
			err = windows.GetOverlappedResult(d.handle, ov, &bytesRead, true)
		}
		if err != nil {
			return 0, fmt.Errorf("aligned volume read at %d failed: %w", off, err)
		}
	}

	// The device may have returned fewer bytes than the aligned buffer
	// (e.g. a trailing partial sector at the end of the volume); never
	// hand back bytes past what was actually read.
	if int(bytesRead) <= alignmentDiff {
		return 0, nil
	}
	n := copy(p, buf[alignmentDiff:int(bytesRead)])
	return n, nil
}

type diskGeometry struct {
	Cylinders         int64
	MediaType         uint32
	TracksPerCylinder uint32
	SectorsPerTrack   uint32
	BytesPerSector    uint32
}

const ioctlDiskGetDriveGeometry = 0x70000

// Stat reports the volume's raw size via IOCTL_DISK_GET_DRIVE_GEOMETRY.
// vhdx.Open does not call it: an inferred VirtualDiskSize comes from the
// BAT region length, not from the backing store's size.
func (d *rawVolumeFile) Stat() (os.FileInfo, error) {
	var geometry diskGeometry
	var bytesReturned uint32

	err := windows.DeviceIoControl(
		d.handle,
		ioctlDiskGetDriveGeometry,
		nil,
		0,
		(*byte)(unsafe.Pointer(&geometry)),
		uint32(unsafe.Sizeof(geometry)),
		&bytesReturned,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("DeviceIoControl(IOCTL_DISK_GET_DRIVE_GEOMETRY) failed: %w", err)
	}

	size := geometry.Cylinders * int64(geometry.TracksPerCylinder) * int64(geometry.SectorsPerTrack) * int64(geometry.BytesPerSector)
	return &volumeFileInfo{size: size, sys: geometry}, nil
}

// Close closes the underlying volume handle.
func (d *rawVolumeFile) Close() error {
	return windows.CloseHandle(d.handle)
}
