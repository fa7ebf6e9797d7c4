package vhdx

import (
	"encoding/hex"
	"strings"
)

// GuidSize is the length in bytes of the on-disk mixed-endian GUID blob.
const GuidSize = 16

// GuidToBlob converts a canonical dashed (or bare 32-hex-digit) GUID string
// into the 16-byte mixed-endian blob used as a lookup key on disk.
//
// The wire layout reverses the first 4 bytes, then the next 2, then the
// next 2; the trailing 8 bytes are kept in the order they appear in the
// string. This mirrors the Microsoft mixed-endian GUID encoding.
func GuidToBlob(text string) ([]byte, error) {
	text = strings.ReplaceAll(text, "-", "")
	raw, err := hex.DecodeString(text)
	if err != nil {
		return nil, newErr(KindInvalidGuid, 0, "invalid guid %q: %w", text, err)
	}
	if len(raw) != GuidSize {
		return nil, newErr(KindInvalidGuid, 0, "invalid guid %q: expected %d bytes, got %d", text, GuidSize, len(raw))
	}

	blob := make([]byte, GuidSize)
	reverseInto(blob[0:4], raw[0:4])
	reverseInto(blob[4:6], raw[4:6])
	reverseInto(blob[6:8], raw[6:8])
	copy(blob[8:16], raw[8:16])
	return blob, nil
}

// BlobToGuid renders a 16-byte mixed-endian blob as a canonical dashed GUID
// string, for display.
func BlobToGuid(blob []byte) (string, error) {
	if len(blob) != GuidSize {
		return "", newErr(KindInvalidGuid, 0, "invalid guid blob: expected %d bytes, got %d", GuidSize, len(blob))
	}

	raw := make([]byte, GuidSize)
	reverseInto(raw[0:4], blob[0:4])
	reverseInto(raw[4:6], blob[4:6])
	reverseInto(raw[6:8], blob[6:8])
	copy(raw[8:16], blob[8:16])

	s := hex.EncodeToString(raw)
	return strings.ToUpper(strings.Join([]string{s[0:8], s[8:12], s[12:16], s[16:20], s[20:32]}, "-")), nil
}

func reverseInto(dst, src []byte) {
	n := len(src)
	for i := 0; i < n; i++ {
		dst[i] = src[n-1-i]
	}
}
