package vhdx

const (
	batEntrySize = 8

	// SectorsPerBitmap is fixed by the VHDX specification: each sector
	// bitmap block describes this many logical sectors of a differencing
	// disk, regardless of block size.
	SectorsPerBitmap = 1 << 23

	// SectorBitmapSize is the size in bytes of a sector-bitmap BAT block;
	// it is always 1 MiB regardless of BlockSize.
	SectorBitmapSize = 1 << 20

	batOffsetUnit = 1 << 20 // BAT file offsets are encoded in units of 1 MiB

	batStateMask   = 0x7
	batOffsetShift = 20
	batOffsetMask  = (uint64(1) << 44) - 1
)

// BatState is the low 3-bit state of a decoded BAT entry.
type BatState uint8

const (
	BatNotPresent      BatState = 0
	BatUndefined       BatState = 1
	BatZero            BatState = 2
	BatUnmapped        BatState = 3
	BatFullyPresent    BatState = 6
	BatPartiallyPresent BatState = 7
)

// BatEntry is a decoded 64-bit BAT entry.
type BatEntry struct {
	State  BatState
	Offset uint64 // file offset in bytes
}

// decodeBatEntry splits a raw 64-bit BAT entry into its state and file
// offset, per §4.7.
func decodeBatEntry(raw uint64) BatEntry {
	return BatEntry{
		State:  BatState(raw & batStateMask),
		Offset: ((raw >> batOffsetShift) & batOffsetMask) * batOffsetUnit,
	}
}

// readBatEntry reads and decodes the raw BAT entry at rawIndex within the
// BAT region.
func readBatEntry(r *byteReader, batRegionOffset uint64, rawIndex uint64) (BatEntry, error) {
	if err := r.seek(int64(batRegionOffset) + int64(rawIndex)*batEntrySize); err != nil {
		return BatEntry{}, err
	}
	raw, err := r.u64()
	if err != nil {
		return BatEntry{}, err
	}
	return decodeBatEntry(raw), nil
}

// batRawIndexForPayload computes the raw BAT index of a payload entry,
// accounting for the interleaved sector-bitmap entries: every
// (chunkRatio+1)-th position is a sector-bitmap slot.
func batRawIndexForPayload(payloadIndex, chunkRatio uint64) uint64 {
	return payloadIndex + payloadIndex/chunkRatio
}

// batPayloadIterator walks the payload BAT entries in order, skipping the
// interleaved sector-bitmap slots. It is a small stateful cursor rather
// than a pre-materialized slice, so chains over very large BATs stay O(1)
// in memory.
type batPayloadIterator struct {
	r          *byteReader
	regionOff  uint64
	chunkRatio uint64

	rawIndex     uint64
	payloadIndex uint64
	rawCount     uint64
}

// newBatPayloadIterator builds an iterator over the payload BAT entries of
// a region of the given byte length.
func newBatPayloadIterator(r *byteReader, regionOff uint64, regionLen uint32, chunkRatio uint64) *batPayloadIterator {
	return &batPayloadIterator{
		r:          r,
		regionOff:  regionOff,
		chunkRatio: chunkRatio,
		rawCount:   uint64(regionLen) / batEntrySize,
	}
}

// PayloadBlockCount returns the number of payload entries this iterator
// will yield: the raw entry count minus however many of them are
// sector-bitmap slots (one in every chunkRatio+1 raw positions).
func (it *batPayloadIterator) PayloadBlockCount() uint64 {
	return it.rawCount - it.rawCount/(it.chunkRatio+1)
}

// Next returns the next payload BatEntry, or ok=false once exhausted.
func (it *batPayloadIterator) Next() (entry BatEntry, ok bool, err error) {
	if it.rawIndex >= it.rawCount {
		return BatEntry{}, false, nil
	}

	// Skip over a sector-bitmap slot: it appears every (chunkRatio+1)-th
	// raw index, i.e. right after chunkRatio payload entries.
	if it.payloadIndex > 0 && it.payloadIndex%it.chunkRatio == 0 {
		if it.rawIndex >= it.rawCount {
			return BatEntry{}, false, nil
		}
		// consumed from the stream, but not yielded to the caller
		if _, err := readBatEntry(it.r, it.regionOff, it.rawIndex); err != nil {
			return BatEntry{}, false, err
		}
		it.rawIndex++
	}

	if it.rawIndex >= it.rawCount {
		return BatEntry{}, false, nil
	}

	e, err := readBatEntry(it.r, it.regionOff, it.rawIndex)
	if err != nil {
		return BatEntry{}, false, err
	}
	it.rawIndex++
	it.payloadIndex++
	return e, true, nil
}
