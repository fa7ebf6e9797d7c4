package chain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ostafen/vhdxlens/internal/vhdx"
)

// Parent locator keys per the VHDX specification.
const (
	LocatorKeyRelativePath      = "relative_path"
	LocatorKeyVolumePath        = "volume_path"
	LocatorKeyAbsoluteWin32Path = "absolute_win32_path"
)

// LocateParent resolves a differencing disk's parent file path from its
// ParentLocator, given the path of the child file it was read from. It
// tries relative_path (resolved against the child's own directory, the way
// a hypervisor resolves a moved VM's disk chain), then volume_path, then
// absolute_win32_path, returning the first candidate that exists on disk.
func LocateParent(childPath string, locator vhdx.ParentLocator) (string, error) {
	dir := filepath.Dir(childPath)

	tried := make([]string, 0, 3)
	for _, key := range []string{LocatorKeyRelativePath, LocatorKeyVolumePath, LocatorKeyAbsoluteWin32Path} {
		raw, ok := locator[key]
		if !ok || raw == "" {
			continue
		}

		candidate := resolveLocatorPath(dir, key, raw)
		tried = append(tried, candidate)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if len(tried) == 0 {
		return "", fmt.Errorf("chain: parent locator has none of %s/%s/%s", LocatorKeyRelativePath, LocatorKeyVolumePath, LocatorKeyAbsoluteWin32Path)
	}
	return "", fmt.Errorf("chain: could not locate parent, tried %v", tried)
}

// resolveLocatorPath turns a locator value into a filesystem path to probe.
// relative_path is Windows-style (backslash separated) and relative to the
// child's own directory; the other two keys are already absolute paths,
// possibly Windows-style, and are normalized to the host separator.
func resolveLocatorPath(childDir, key, raw string) string {
	normalized := filepath.FromSlash(backslashToSlash(raw))

	switch key {
	case LocatorKeyRelativePath:
		return filepath.Join(childDir, normalized)
	default:
		return normalized
	}
}

func backslashToSlash(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			out[i] = '/'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}
