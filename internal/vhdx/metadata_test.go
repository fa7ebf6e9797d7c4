package vhdx

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/require"
)

type metadataItemSpec struct {
	guid    string
	payload []byte
}

// buildMetadataRegion encodes a metadata region: the fixed header, one
// 32-byte entry per item (offsets relative to the region's own start), and
// the item payloads laid out back-to-back after the entry table.
func buildMetadataRegion(t *testing.T, items []metadataItemSpec) []byte {
	t.Helper()

	const headerSize = 32
	const entrySize = 32

	entryTableSize := entrySize * len(items)
	payloadStart := headerSize + entryTableSize

	var header bytes.Buffer
	header.WriteString(metadataTableMagic)
	binary.Write(&header, binary.LittleEndian, uint16(0)) // reserved
	binary.Write(&header, binary.LittleEndian, uint16(len(items)))
	header.Write(make([]byte, 20)) // reserved

	var entries bytes.Buffer
	var payloads bytes.Buffer
	offset := payloadStart
	for _, it := range items {
		guid, err := GuidToBlob(it.guid)
		require.NoError(t, err)
		entries.Write(guid)
		binary.Write(&entries, binary.LittleEndian, uint32(offset))
		binary.Write(&entries, binary.LittleEndian, uint32(len(it.payload)))
		binary.Write(&entries, binary.LittleEndian, uint32(metaFlagIsRequired))
		binary.Write(&entries, binary.LittleEndian, uint32(0)) // reserved

		payloads.Write(it.payload)
		offset += len(it.payload)
	}

	var out bytes.Buffer
	out.Write(header.Bytes())
	out.Write(entries.Bytes())
	out.Write(payloads.Bytes())
	return out.Bytes()
}

func fileParametersPayload(blockSize uint32, hasParent bool) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, blockSize)
	flags := uint32(0)
	if hasParent {
		flags |= flagHasParent
	}
	binary.Write(&buf, binary.LittleEndian, flags)
	return buf.Bytes()
}

func u64Payload(v uint64) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func u32Payload(v uint32) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// parentLocatorPayload builds a VHDX-type parent-locator item payload with
// one key/value record per entry of kv.
func parentLocatorPayload(t *testing.T, kv map[string]string) []byte {
	t.Helper()

	wantType, err := GuidToBlob(ParentLocatorTypeVHDX)
	require.NoError(t, err)

	type rec struct {
		key, val string
	}
	var recs []rec
	for k, v := range kv {
		recs = append(recs, rec{k, v})
	}

	recordTableSize := 12 * len(recs)
	dataStart := GuidSize + 4 + recordTableSize

	var recordTable bytes.Buffer
	var strings bytes.Buffer
	off := dataStart
	for _, r := range recs {
		keyUTF16 := utf16.Encode([]rune(r.key))
		valUTF16 := utf16.Encode([]rune(r.val))
		keyBytes := utf16LEBytes(keyUTF16)
		valBytes := utf16LEBytes(valUTF16)

		binary.Write(&recordTable, binary.LittleEndian, uint32(off))
		strings.Write(keyBytes)
		off += len(keyBytes)

		binary.Write(&recordTable, binary.LittleEndian, uint32(off))
		strings.Write(valBytes)
		off += len(valBytes)

		binary.Write(&recordTable, binary.LittleEndian, uint16(len(keyBytes)))
		binary.Write(&recordTable, binary.LittleEndian, uint16(len(valBytes)))
	}

	var buf bytes.Buffer
	buf.Write(wantType)
	buf.Write(make([]byte, 2)) // reserved
	binary.Write(&buf, binary.LittleEndian, uint16(len(recs)))
	buf.Write(recordTable.Bytes())
	buf.Write(strings.Bytes())
	return buf.Bytes()
}

func utf16LEBytes(units []uint16) []byte {
	out := make([]byte, 2*len(units))
	for i, u := range units {
		out[2*i] = byte(u)
		out[2*i+1] = byte(u >> 8)
	}
	return out
}

func TestParseMetadataTableWellKnownFields(t *testing.T) {
	region := buildMetadataRegion(t, []metadataItemSpec{
		{itemFileParameters, fileParametersPayload(1<<21, false)},
		{itemVirtualDiskSize, u64Payload(1 << 30)},
		{itemLogicalSectorSize, u32Payload(512)},
		{itemPhysSectorSize, u32Payload(4096)},
	})

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(region))

	meta, err := parseMetadataTable(ctx, r, 0)
	require.NoError(t, err)

	require.Equal(t, uint32(1<<21), meta.BlockSize)
	require.False(t, meta.HasParent)
	require.Equal(t, uint64(1<<30), meta.VirtualDiskSize)
	require.Equal(t, uint32(512), meta.LogicalSectorSize)
	require.Equal(t, uint32(4096), meta.PhysicalSectorSize)
}

func TestParseMetadataTableParentLocator(t *testing.T) {
	region := buildMetadataRegion(t, []metadataItemSpec{
		{itemFileParameters, fileParametersPayload(1<<21, true)},
		{itemParentLocator, parentLocatorPayload(t, map[string]string{
			"relative_path": `base.vhdx`,
		})},
	})

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(region))

	meta, err := parseMetadataTable(ctx, r, 0)
	require.NoError(t, err)
	require.True(t, meta.HasParent)
	require.Equal(t, "base.vhdx", meta.ParentLocator["relative_path"])
}

func TestParseMetadataTableDuplicateKeyFatalInStrictMode(t *testing.T) {
	region := buildMetadataRegion(t, []metadataItemSpec{
		{itemLogicalSectorSize, u32Payload(512)},
		{itemLogicalSectorSize, u32Payload(4096)},
	})

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(region))

	_, err := parseMetadataTable(ctx, r, 0)
	require.Error(t, err)

	var vhdxErr *Error
	require.ErrorAs(t, err, &vhdxErr)
	require.Equal(t, KindDuplicateMetadataKey, vhdxErr.Kind)
}

func TestParseMetadataTableDuplicateKeyToleratedKeepsFirst(t *testing.T) {
	region := buildMetadataRegion(t, []metadataItemSpec{
		{itemLogicalSectorSize, u32Payload(512)},
		{itemLogicalSectorSize, u32Payload(4096)},
	})

	ctx := newParseContext(Tolerant, nil)
	r := newByteReader(bytes.NewReader(region))

	meta, err := parseMetadataTable(ctx, r, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(512), meta.LogicalSectorSize)
}

func TestMetadataCloneDeepCopiesParentLocator(t *testing.T) {
	m := Metadata{ParentLocator: ParentLocator{"relative_path": "a.vhdx"}}
	cloned := m.Clone()
	cloned.ParentLocator["relative_path"] = "b.vhdx"
	require.Equal(t, "a.vhdx", m.ParentLocator["relative_path"])
}
