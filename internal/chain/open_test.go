package chain

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ostafen/vhdxlens/internal/vhdx"
	"github.com/stretchr/testify/require"
)

// Wire-format constants duplicated here (not exported by package vhdx) so
// this test can assemble a complete, minimal VHDX image from scratch rather
// than depending on vhdx-package internals.
const (
	wireHeaderSlotSize  = 64 * 1024
	wireHeader1Offset   = 64 * 1024
	wireHeader2Offset   = 128 * 1024
	wireRegionSlotSize  = 64 * 1024
	wireRegionT1Offset  = 192 * 1024
	wireRegionT2Offset  = 256 * 1024
	wireMetadataOffset  = 320 * 1024
	wireBATOffset       = uint64(1) << 20
	wireBlockOffset     = uint64(2) << 20
	wireBlockSize       = uint32(1) << 20
	wireLSS             = uint32(512)
	wireImageSize       = int(3) << 20

	guidFileParameters    = "CAA16737-FA36-4D43-B3B6-33F0AA44E76B"
	guidVirtualDiskSize   = "2FA54224-CD1B-4876-B211-5DBED83BF4B8"
	guidLogicalSectorSize = "8141BF1D-A96F-4709-BA47-F233A8FAAB5F"
	guidPhysSectorSize    = "CDA348C7-445D-4471-9CC9-E9885251C556"
)

func writeGuid(buf *[]byte, guidString string) {
	blob, err := vhdx.GuidToBlob(guidString)
	if err != nil {
		panic(err)
	}
	*buf = append(*buf, blob...)
}

func le32bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le64bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// buildNonDifferencingImage assembles a single-block, non-differencing VHDX
// image entirely from wire-format literals, good enough to exercise Load's
// single-layer path end to end.
func buildNonDifferencingImage(t *testing.T) []byte {
	t.Helper()

	img := make([]byte, wireImageSize)
	copy(img[0:], []byte("vhdxfile"))

	headerSlot := make([]byte, 80)
	copy(headerSlot[0:4], []byte("head"))
	// checksum (unchecked) left zero
	copy(headerSlot[8:16], le64bytes(1)) // sequence
	// fileWriteGuid, dataWriteGuid, logGuid (16 bytes each, offsets 16-64) all zero (no log)
	binary.LittleEndian.PutUint16(headerSlot[64:66], 0) // logVersion
	binary.LittleEndian.PutUint16(headerSlot[66:68], 1) // version
	copy(img[wireHeader1Offset:], headerSlot)
	copy(img[wireHeader2Offset:], headerSlot)

	// metadata region: header (32 bytes) + 4 entries (32 bytes each) + payloads
	const metaHeaderSize = 32
	const metaEntrySize = 32
	items := []struct {
		guid    string
		payload []byte
	}{
		{guidFileParameters, append(le32bytes(wireBlockSize), le32bytes(0)...)},
		{guidVirtualDiskSize, le64bytes(uint64(wireBlockSize))},
		{guidLogicalSectorSize, le32bytes(wireLSS)},
		{guidPhysSectorSize, le32bytes(wireLSS)},
	}

	var metaBuf []byte
	metaBuf = append(metaBuf, []byte("metadata")...)
	metaBuf = append(metaBuf, make([]byte, 2)...) // reserved
	metaBuf = append(metaBuf, []byte{byte(len(items)), 0}...)
	metaBuf = append(metaBuf, make([]byte, 20)...) // reserved

	offset := metaHeaderSize + metaEntrySize*len(items)
	var entryBuf, payloadBuf []byte
	for _, it := range items {
		writeGuid(&entryBuf, it.guid)
		entryBuf = append(entryBuf, le32bytes(uint32(offset))...)
		entryBuf = append(entryBuf, le32bytes(uint32(len(it.payload)))...)
		entryBuf = append(entryBuf, le32bytes(1<<2)...) // IsRequired
		entryBuf = append(entryBuf, le32bytes(0)...)    // reserved

		payloadBuf = append(payloadBuf, it.payload...)
		offset += len(it.payload)
	}
	metaBuf = append(metaBuf, entryBuf...)
	metaBuf = append(metaBuf, payloadBuf...)
	copy(img[wireMetadataOffset:], metaBuf)

	// region table: BAT + metadata entries, identical in both copies
	var regionBuf []byte
	regionBuf = append(regionBuf, []byte("regi")...)
	regionBuf = append(regionBuf, le32bytes(0)...) // checksum
	regionBuf = append(regionBuf, le32bytes(2)...) // count
	regionBuf = append(regionBuf, le32bytes(0)...) // reserved

	writeGuid(&regionBuf, vhdx.RegionBAT)
	regionBuf = append(regionBuf, le64bytes(wireBATOffset)...)
	regionBuf = append(regionBuf, le32bytes(8)...) // length: one payload entry
	regionBuf = append(regionBuf, le32bytes(1)...) // required

	writeGuid(&regionBuf, vhdx.RegionMetadata)
	regionBuf = append(regionBuf, le64bytes(wireMetadataOffset)...)
	regionBuf = append(regionBuf, le32bytes(uint32(len(metaBuf)))...)
	regionBuf = append(regionBuf, le32bytes(1)...) // required

	copy(img[wireRegionT1Offset:], regionBuf)
	copy(img[wireRegionT2Offset:], regionBuf)

	// BAT: one payload entry, state 6 (FullyPresent), offset in 1 MiB units
	raw := uint64(6) | ((wireBlockOffset / (1 << 20)) << 20)
	copy(img[wireBATOffset:], le64bytes(raw))

	block := make([]byte, wireBlockSize)
	for i := range block {
		block[i] = 0xAA
	}
	copy(img[wireBlockOffset:], block)

	return img
}

func TestLoadSingleLayerChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.vhdx")
	require.NoError(t, os.WriteFile(path, buildNonDifferencingImage(t), 0644))

	c, err := Load(path, vhdx.OpenOptions{})
	require.NoError(t, err)
	defer c.Close()

	require.Len(t, c.Layers(), 1)
	require.False(t, c.Layers()[0].IsDifferencing())

	got, err := c.GetSector(0)
	require.NoError(t, err)
	require.Len(t, got, int(wireLSS))
	require.Equal(t, byte(0xAA), got[0])
}

func TestLoadNonexistentFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.vhdx"), vhdx.OpenOptions{})
	require.Error(t, err)
}
