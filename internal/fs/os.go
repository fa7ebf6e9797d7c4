//go:build !windows
// +build !windows

package fs

import "os"

// Open opens an ordinary VHDX file. path has already passed through
// NormalizeVolumePath, which is a no-op off Windows, so this is always a
// regular file on this platform — there is no raw-volume special case to
// account for here the way there is in windows.go.
func Open(path string) (File, error) {
	return os.Open(path)
}
