package vhdx

import (
	"fmt"
)

const (
	regionTableMagic    = "regi"
	regionTableSlotSize = 64 * 1024
	regionTableMaxEntry = 2047

	regionTable1Offset = 192 * 1024
	regionTable2Offset = 256 * 1024

	regionFlagRequired = 1
)

// well-known region GUIDs (canonical strings, per the VHDX specification).
const (
	RegionBAT      = "2DC27766-F623-4200-9D64-115E9BFD4A08"
	RegionMetadata = "8B7CA206-4790-4B9A-B8FE-575F050F886E"
)

// RegionTableEntry locates one region of the file.
type RegionTableEntry struct {
	Guid     []byte
	Offset   uint64
	Length   uint32
	Required bool
}

// RegionTable maps a region GUID blob to its location.
type RegionTable map[string]RegionTableEntry

func (t RegionTable) get(guidString string) (RegionTableEntry, bool) {
	blob, err := GuidToBlob(guidString)
	if err != nil {
		return RegionTableEntry{}, false
	}
	e, ok := t[string(blob)]
	return e, ok
}

// BAT returns the BAT region entry, if present.
func (t RegionTable) BAT() (RegionTableEntry, bool) { return t.get(RegionBAT) }

// Metadata returns the metadata region entry, if present.
func (t RegionTable) Metadata() (RegionTableEntry, bool) { return t.get(RegionMetadata) }

// parseRegionTable reads a 64 KiB region-table slot at the stream's
// current position and advances past it.
func parseRegionTable(ctx *parseContext, r *byteReader) (RegionTable, error) {
	start := r.offset()

	magic, err := r.readExact(len(regionTableMagic))
	if err != nil {
		return nil, err
	}
	if string(magic) != regionTableMagic {
		if err := ctx.fault(newErr(KindBadMagic, start, "region table: expected magic %q, got %q", regionTableMagic, magic)); err != nil {
			return nil, err
		}
	}

	if _, err := r.u32(); err != nil { // checksum: read, never validated
		return nil, err
	}

	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	if _, err := r.u32(); err != nil { // reserved
		return nil, err
	}

	if count > regionTableMaxEntry {
		if ctx.tolerant() {
			ctx.log.Warnf("region table: entry count %d exceeds %d, clamping", count, regionTableMaxEntry)
			count = regionTableMaxEntry
		} else {
			return nil, newErr(KindRegionTableOverflow, start, "region table: entry count %d exceeds %d", count, regionTableMaxEntry)
		}
	}

	table := make(RegionTable, count)
	for i := uint32(0); i < count; i++ {
		guid, err := r.guidBlob()
		if err != nil {
			return nil, err
		}
		offset, err := r.u64()
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

		key := string(guid)
		if _, dup := table[key]; dup {
			if err := ctx.fault(newErr(KindDuplicateRegionKey, start, "region table: duplicate region %x", guid)); err != nil {
				return nil, err
			}
			continue // tolerant: keep the first occurrence
		}

		table[key] = RegionTableEntry{
			Guid:     guid,
			Offset:   offset,
			Length:   length,
			Required: flags&regionFlagRequired != 0,
		}
	}

	if err := r.seek(start + regionTableSlotSize); err != nil {
		return nil, err
	}
	return table, nil
}

// selectRegionTable parses both region-table copies and verifies they
// agree entry-by-entry. Both copies are required to match by GUID, offset
// and length; a mismatch is fatal even in tolerant mode since the file's
// region layout itself is in question.
func selectRegionTable(ctx *parseContext, r *byteReader) (RegionTable, error) {
	if err := r.seek(regionTable1Offset); err != nil {
		return nil, err
	}
	a, err := parseRegionTable(ctx, r)
	if err != nil {
		return nil, err
	}

	if err := r.seek(regionTable2Offset); err != nil {
		return nil, err
	}
	b, err := parseRegionTable(ctx, r)
	if err != nil {
		return nil, err
	}

	if err := compareRegionTables(a, b); err != nil {
		return nil, newErr(KindRegionTableMismatch, regionTable2Offset, "%w", err)
	}
	return a, nil
}

func compareRegionTables(a, b RegionTable) error {
	if len(a) != len(b) {
		return fmt.Errorf("region table entry counts differ: %d vs %d", len(a), len(b))
	}
	for key, ea := range a {
		eb, ok := b[key]
		if !ok {
			return fmt.Errorf("region %x present in table 1 but not table 2", ea.Guid)
		}
		if ea.Offset != eb.Offset || ea.Length != eb.Length {
			return fmt.Errorf("region %x disagrees between tables: (%d,%d) vs (%d,%d)", ea.Guid, ea.Offset, ea.Length, eb.Offset, eb.Length)
		}
	}
	return nil
}
