package vhdx

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildRegionTableSlot encodes a full 64 KiB region-table slot with the
// given entries.
func buildRegionTableSlot(t *testing.T, entries []RegionTableEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString(regionTableMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // checksum
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved

	for _, e := range entries {
		buf.Write(e.Guid)
		binary.Write(&buf, binary.LittleEndian, e.Offset)
		binary.Write(&buf, binary.LittleEndian, e.Length)
		flags := uint32(0)
		if e.Required {
			flags |= regionFlagRequired
		}
		binary.Write(&buf, binary.LittleEndian, flags)
	}

	slot := make([]byte, regionTableSlotSize)
	copy(slot, buf.Bytes())
	return slot
}

func buildTwoRegionTableImage(t *testing.T, a, b []RegionTableEntry) []byte {
	t.Helper()
	img := make([]byte, regionTable2Offset+regionTableSlotSize)
	copy(img[regionTable1Offset:], buildRegionTableSlot(t, a))
	copy(img[regionTable2Offset:], buildRegionTableSlot(t, b))
	return img
}

func sampleRegionEntries(t *testing.T) []RegionTableEntry {
	t.Helper()
	batGuid, err := GuidToBlob(RegionBAT)
	require.NoError(t, err)
	metaGuid, err := GuidToBlob(RegionMetadata)
	require.NoError(t, err)

	return []RegionTableEntry{
		{Guid: batGuid, Offset: 3 << 20, Length: 1 << 20, Required: true},
		{Guid: metaGuid, Offset: 1 << 20, Length: 64 * 1024, Required: true},
	}
}

func TestSelectRegionTableAgreeingCopies(t *testing.T) {
	entries := sampleRegionEntries(t)
	img := buildTwoRegionTableImage(t, entries, entries)

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(img))

	table, err := selectRegionTable(ctx, r)
	require.NoError(t, err)

	bat, ok := table.BAT()
	require.True(t, ok)
	require.Equal(t, uint64(3<<20), bat.Offset)

	meta, ok := table.Metadata()
	require.True(t, ok)
	require.Equal(t, uint32(64*1024), meta.Length)
}

func TestSelectRegionTableMismatchIsFatal(t *testing.T) {
	a := sampleRegionEntries(t)
	b := sampleRegionEntries(t)
	b[0].Offset = 9 << 20 // disagree on the BAT region's offset

	img := buildTwoRegionTableImage(t, a, b)

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(img))

	_, err := selectRegionTable(ctx, r)
	require.Error(t, err)

	var vhdxErr *Error
	require.ErrorAs(t, err, &vhdxErr)
	require.Equal(t, KindRegionTableMismatch, vhdxErr.Kind)
}

func TestSelectRegionTableEntryCountMismatchIsFatal(t *testing.T) {
	a := sampleRegionEntries(t)
	b := a[:1]

	img := buildTwoRegionTableImage(t, a, b)

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(img))

	_, err := selectRegionTable(ctx, r)
	require.Error(t, err)
}

func TestRegionTableDuplicateKeyToleratedInTolerantMode(t *testing.T) {
	entries := sampleRegionEntries(t)
	dup := append(append([]RegionTableEntry{}, entries...), entries[0])

	slot := buildRegionTableSlot(t, dup)

	ctx := newParseContext(Tolerant, nil)
	r := newByteReader(bytes.NewReader(slot))

	table, err := parseRegionTable(ctx, r)
	require.NoError(t, err)
	require.Len(t, table, len(entries))
}

// TestMetadataRegionGuidMatchesSpec pins RegionMetadata against the VHDX
// specification's literal well-known GUID, independent of the constant
// itself, so a typo in RegionMetadata can't silently make Metadata()
// blind to every real on-disk metadata region.
func TestMetadataRegionGuidMatchesSpec(t *testing.T) {
	const specMetadataRegionGuid = "8B7CA206-4790-4B9A-B8FE-575F050F886E"

	wantGuid, err := GuidToBlob(specMetadataRegionGuid)
	require.NoError(t, err)

	entries := []RegionTableEntry{
		{Guid: wantGuid, Offset: 1 << 20, Length: 64 * 1024, Required: true},
	}
	img := buildTwoRegionTableImage(t, entries, entries)

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(img))

	table, err := selectRegionTable(ctx, r)
	require.NoError(t, err)

	meta, ok := table.Metadata()
	require.True(t, ok, "RegionTable.Metadata() must find the region keyed by the spec's literal metadata GUID")
	require.Equal(t, uint64(1<<20), meta.Offset)
}

func TestRegionTableDuplicateKeyFatalInStrictMode(t *testing.T) {
	entries := sampleRegionEntries(t)
	dup := append(append([]RegionTableEntry{}, entries...), entries[0])

	slot := buildRegionTableSlot(t, dup)

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(slot))

	_, err := parseRegionTable(ctx, r)
	require.Error(t, err)
}
