package vhdx

import (
	"unicode/utf16"
)

const (
	metadataTableMagic = "metadata"
)

// Well-known metadata item IDs (canonical GUID strings, per the VHDX spec).
const (
	itemFileParameters    = "CAA16737-FA36-4D43-B3B6-33F0AA44E76B"
	itemVirtualDiskSize   = "2FA54224-CD1B-4876-B211-5DBED83BF4B8"
	itemPage83Data        = "BECA12AB-B2E6-4523-93EF-C309E000C746"
	itemLogicalSectorSize = "8141BF1D-A96F-4709-BA47-F233A8FAAB5F"
	itemPhysSectorSize    = "CDA348C7-445D-4471-9CC9-E9885251C556"
	itemParentLocator     = "A8D35F2D-B30B-454D-ABF7-D3D84834AB0C"

	// ParentLocatorTypeVHDX is the only locator type this decoder expects.
	ParentLocatorTypeVHDX = "B04AEFB7-D19E-4A81-B789-25B8E9445913"

	flagLeaveBlocksAllocated = 1 << 0
	flagHasParent            = 1 << 1
)

// ParentLocator is the sub-mapping of UTF-16LE key/value strings describing
// how to find a differencing disk's parent.
type ParentLocator map[string]string

// Metadata is the decoded well-known metadata of a VHDX container. Fields
// absent from the file (and not supplied by a fallback) are left zero.
type Metadata struct {
	BlockSize            uint32
	LeaveBlocksAllocated bool
	HasParent            bool
	HaveFileParameters   bool

	VirtualDiskSize    uint64
	HaveVirtualDiskSize bool

	Page83Data     []byte
	HavePage83Data bool

	LogicalSectorSize  uint32
	HaveLogicalSectorSize bool
	PhysicalSectorSize uint32
	HavePhysicalSectorSize bool

	ParentLocator ParentLocator
}

// Clone returns a deep-enough copy suitable for field-by-field merging with
// fallback metadata.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Page83Data != nil {
		out.Page83Data = append([]byte(nil), m.Page83Data...)
	}
	if m.ParentLocator != nil {
		out.ParentLocator = make(ParentLocator, len(m.ParentLocator))
		for k, v := range m.ParentLocator {
			out.ParentLocator[k] = v
		}
	}
	return out
}

type metadataTableEntry struct {
	itemID   []byte
	offset   uint32
	length   uint32
	isUser   bool
	isVD     bool
	required bool
}

const (
	metaFlagIsUser     = 1 << 0
	metaFlagIsVirtual  = 1 << 1
	metaFlagIsRequired = 1 << 2
)

// parseMetadataTable reads the metadata region starting at regionOrigin
// (the metadata RegionTableEntry's file offset) and dispatches each entry
// by item ID to its typed parser. Unknown item IDs are skipped in tolerant
// mode (kept as opaque in spirit, ignored in practice since nothing in this
// decoder needs them) and rejected in strict mode. A duplicate well-known
// key is fatal in strict mode; in tolerant mode it is logged as a warning
// and the first occurrence is kept.
func parseMetadataTable(ctx *parseContext, r *byteReader, regionOrigin uint64) (*Metadata, error) {
	if err := r.seek(int64(regionOrigin)); err != nil {
		return nil, err
	}
	start := r.offset()

	magic, err := r.readExact(len(metadataTableMagic))
	if err != nil {
		return nil, err
	}
	if string(magic) != metadataTableMagic {
		if err := ctx.fault(newErr(KindBadMagic, start, "metadata table: expected magic %q, got %q", metadataTableMagic, magic)); err != nil {
			return nil, err
		}
	}

	if _, err := r.u16(); err != nil { // reserved
		return nil, err
	}
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	if err := r.skip(20); err != nil { // reserved
		return nil, err
	}

	entries := make([]metadataTableEntry, 0, count)
	for i := uint16(0); i < count; i++ {
		itemID, err := r.guidBlob()
		if err != nil {
			return nil, err
		}
		offset, err := r.u32()
		if err != nil {
			return nil, err
		}
		length, err := r.u32()
		if err != nil {
			return nil, err
		}
		flags, err := r.u32()
		if err != nil {
			return nil, err
		}
		if _, err := r.u32(); err != nil { // reserved
			return nil, err
		}

		entries = append(entries, metadataTableEntry{
			itemID:   itemID,
			offset:   offset,
			length:   length,
			isUser:   flags&metaFlagIsUser != 0,
			isVD:     flags&metaFlagIsVirtual != 0,
			required: flags&metaFlagIsRequired != 0,
		})
	}

	meta := &Metadata{}
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		key, known := wellKnownKey(e.itemID)
		if known {
			if seen[key] {
				if err := ctx.fault(newErr(KindDuplicateMetadataKey, start, "metadata table: duplicate key %s", key)); err != nil {
					return nil, err
				}
				continue
			}
			seen[key] = true
		} else if !ctx.tolerant() {
			return nil, newErr(KindBadMetadata, start, "metadata table: unknown item id %x", e.itemID)
		} else {
			continue
		}

		if err := r.seek(int64(regionOrigin) + int64(e.offset)); err != nil {
			return nil, err
		}
		payload, err := r.readExact(int(e.length))
		if err != nil {
			return nil, err
		}

		if err := dispatchMetadataItem(ctx, meta, key, payload); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

var wellKnownItemIDs = buildWellKnownItemIDs()

func buildWellKnownItemIDs() map[string]string {
	ids := map[string]string{}
	for _, candidate := range []string{
		itemFileParameters,
		itemVirtualDiskSize,
		itemPage83Data,
		itemLogicalSectorSize,
		itemPhysSectorSize,
		itemParentLocator,
	} {
		blob, err := GuidToBlob(candidate)
		if err != nil {
			panic(err) // well-known constants are always valid GUIDs
		}
		ids[string(blob)] = candidate
	}
	return ids
}

func wellKnownKey(itemID []byte) (string, bool) {
	key, ok := wellKnownItemIDs[string(itemID)]
	return key, ok
}

func dispatchMetadataItem(ctx *parseContext, meta *Metadata, key string, payload []byte) error {
	switch key {
	case itemFileParameters:
		return parseFileParameters(meta, payload)
	case itemVirtualDiskSize:
		return parseVirtualDiskSize(meta, payload)
	case itemPage83Data:
		return parsePage83Data(meta, payload)
	case itemLogicalSectorSize:
		return parseLogicalSectorSize(meta, payload)
	case itemPhysSectorSize:
		return parsePhysicalSectorSize(meta, payload)
	case itemParentLocator:
		return parseParentLocator(ctx, meta, payload)
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func parseFileParameters(meta *Metadata, b []byte) error {
	if len(b) < 8 {
		return newErr(KindBadMetadata, 0, "file parameters item: too short (%d bytes)", len(b))
	}
	meta.BlockSize = le32(b[0:4])
	flags := le32(b[4:8])
	meta.LeaveBlocksAllocated = flags&flagLeaveBlocksAllocated != 0
	meta.HasParent = flags&flagHasParent != 0
	meta.HaveFileParameters = true
	return nil
}

func parseVirtualDiskSize(meta *Metadata, b []byte) error {
	if len(b) < 8 {
		return newErr(KindBadMetadata, 0, "virtual disk size item: too short (%d bytes)", len(b))
	}
	meta.VirtualDiskSize = le64(b[0:8])
	meta.HaveVirtualDiskSize = true
	return nil
}

func parsePage83Data(meta *Metadata, b []byte) error {
	if len(b) < GuidSize {
		return newErr(KindBadMetadata, 0, "page83 data item: too short (%d bytes)", len(b))
	}
	meta.Page83Data = append([]byte(nil), b[:GuidSize]...)
	meta.HavePage83Data = true
	return nil
}

func parseLogicalSectorSize(meta *Metadata, b []byte) error {
	if len(b) < 4 {
		return newErr(KindBadMetadata, 0, "logical sector size item: too short (%d bytes)", len(b))
	}
	meta.LogicalSectorSize = le32(b[0:4])
	meta.HaveLogicalSectorSize = true
	return nil
}

func parsePhysicalSectorSize(meta *Metadata, b []byte) error {
	if len(b) < 4 {
		return newErr(KindBadMetadata, 0, "physical sector size item: too short (%d bytes)", len(b))
	}
	meta.PhysicalSectorSize = le32(b[0:4])
	meta.HavePhysicalSectorSize = true
	return nil
}

// parseParentLocator decodes the key/value record array of a parent
// locator item. Only locator type ParentLocatorTypeVHDX is expected; any
// other locator type is logged as a warning and its key/value records are
// decoded into the map the same way.
func parseParentLocator(ctx *parseContext, meta *Metadata, b []byte) error {
	if len(b) < GuidSize+4 {
		return newErr(KindBadMetadata, 0, "parent locator item: too short (%d bytes)", len(b))
	}

	locatorType := b[0:GuidSize]
	wantType, err := GuidToBlob(ParentLocatorTypeVHDX)
	if err == nil && string(locatorType) != string(wantType) {
		ctx.log.Warnf("parent locator: unexpected locator type %x", locatorType)
	}

	count := le16(b[GuidSize+2 : GuidSize+4])

	locator := make(ParentLocator, count)
	recOff := GuidSize + 4
	for i := uint16(0); i < count; i++ {
		if recOff+12 > len(b) {
			return newErr(KindBadMetadata, 0, "parent locator item: truncated record table")
		}
		keyOff := le32(b[recOff : recOff+4])
		valOff := le32(b[recOff+4 : recOff+8])
		keyLen := le16(b[recOff+8 : recOff+10])
		valLen := le16(b[recOff+10 : recOff+12])
		recOff += 12

		key, err := utf16StringAt(b, int(keyOff), int(keyLen))
		if err != nil {
			return newErr(KindBadMetadata, 0, "parent locator item: %w", err)
		}
		val, err := utf16StringAt(b, int(valOff), int(valLen))
		if err != nil {
			return newErr(KindBadMetadata, 0, "parent locator item: %w", err)
		}
		locator[key] = val
	}

	meta.ParentLocator = locator
	return nil
}

func utf16StringAt(b []byte, off, byteLen int) (string, error) {
	if off < 0 || byteLen < 0 || off+byteLen > len(b) {
		return "", newErr(KindBadMetadata, 0, "string extent [%d,%d) out of bounds (len %d)", off, off+byteLen, len(b))
	}
	raw := b[off : off+byteLen]
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return string(utf16.Decode(units)), nil
}
