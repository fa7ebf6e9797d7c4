package vhdx

// sectorBitmapEntry is a cached sector-bitmap block, or the sentinel
// recording that the bitmap is verified not-present (all sectors of the
// chunk are unallocated in this layer).
type sectorBitmapEntry struct {
	missing bool
	bits    []byte // exactly SectorBitmapSize bytes when !missing
}

// sectorResolver implements C8: it maps a logical-sector number through the
// BAT and sector bitmaps to either synthesized zeros or a slice of a
// payload block. It owns the per-chunk sector-bitmap cache; cache entries
// are never evicted, since the backing file is assumed immutable for the
// lifetime of the container (§5).
type sectorResolver struct {
	r   *byteReader
	ctx *parseContext

	batRegionOffset uint64
	batRegionLength uint32

	blockSize         uint32
	logicalSectorSize uint32
	virtualDiskSize   uint64
	hasParent         bool
	chunkRatio        uint64

	emptyBlock  []byte
	emptySector []byte

	bitmapCache map[uint64]*sectorBitmapEntry
}

func newSectorResolver(ctx *parseContext, r *byteReader, batOffset uint64, batLength uint32, meta *Metadata, chunkRatio uint64) *sectorResolver {
	return &sectorResolver{
		r:                 r,
		ctx:               ctx,
		batRegionOffset:   batOffset,
		batRegionLength:   batLength,
		blockSize:         meta.BlockSize,
		logicalSectorSize: meta.LogicalSectorSize,
		virtualDiskSize:   meta.VirtualDiskSize,
		hasParent:         meta.HasParent,
		chunkRatio:        chunkRatio,
		emptyBlock:        make([]byte, meta.BlockSize),
		emptySector:       make([]byte, meta.LogicalSectorSize),
		bitmapCache:       make(map[uint64]*sectorBitmapEntry),
	}
}

func (s *sectorResolver) sectorCount() uint64 {
	return s.virtualDiskSize / uint64(s.logicalSectorSize)
}

// payloadIndexForSector returns the payload BAT index (i.e. the block
// index) that sector belongs to.
func (s *sectorResolver) payloadIndexForSector(sector uint64) uint64 {
	return (sector * uint64(s.logicalSectorSize)) / uint64(s.blockSize)
}

// batEntryForLogicalSector implements §4.8 bat_entry_for.
func (s *sectorResolver) batEntryForLogicalSector(sector uint64) (BatEntry, error) {
	if sector >= s.sectorCount() {
		return BatEntry{}, newErr(KindOutOfRange, 0, "sector %d out of range (disk has %d sectors)", sector, s.sectorCount())
	}

	payloadIndex := s.payloadIndexForSector(sector)
	rawIndex := batRawIndexForPayload(payloadIndex, s.chunkRatio)
	return readBatEntry(s.r, s.batRegionOffset, rawIndex)
}

// blockBytes implements §4.8 block_bytes.
func (s *sectorResolver) blockBytes(entry BatEntry) ([]byte, error) {
	switch entry.State {
	case BatZero:
		return s.emptyBlock, nil
	case BatNotPresent, BatUndefined, BatUnmapped:
		if entry.Offset == 0 {
			return s.emptyBlock, nil
		}
	}

	if err := s.r.seek(int64(entry.Offset)); err != nil {
		return nil, err
	}
	return s.r.readExact(int(s.blockSize))
}

// chunkIndexForSector computes which sector-bitmap chunk covers sector.
func (s *sectorResolver) chunkIndexForSector(sector uint64) uint64 {
	return s.payloadIndexForSector(sector) / s.chunkRatio
}

// bitmapBatIndex reproduces, verbatim, the source's sector-bitmap BAT index
// arithmetic (§4.8, §9 Open Question 1). Written differently, it is the same
// value as the first-principles formula (chunkIndex+1)*(chunkRatio+1)-1:
// the raw slot right after the chunk's chunkRatio payload entries.
func bitmapBatIndex(chunkIndex, chunkRatio uint64) uint64 {
	return chunkIndex + (1+chunkIndex)*chunkRatio
}

// isSectorAllocated implements §4.8 is_sector_allocated.
func (s *sectorResolver) isSectorAllocated(sector uint64) (bool, error) {
	if !s.hasParent {
		return true, nil
	}

	chunkIndex := s.chunkIndexForSector(sector)

	entry, ok := s.bitmapCache[chunkIndex]
	if !ok {
		rawIndex := bitmapBatIndex(chunkIndex, s.chunkRatio)
		bat, err := readBatEntry(s.r, s.batRegionOffset, rawIndex)
		if err != nil {
			return false, err
		}

		switch bat.State {
		case BatNotPresent:
			entry = &sectorBitmapEntry{missing: true}
		case BatFullyPresent:
			if err := s.r.seek(int64(bat.Offset)); err != nil {
				return false, err
			}
			bits, err := s.r.readExact(SectorBitmapSize)
			if err != nil {
				return false, err
			}
			entry = &sectorBitmapEntry{bits: bits}
		default:
			return false, newErr(KindInvalidBitmapState, 0, "sector bitmap BAT entry has invalid state %d", bat.State)
		}
		s.bitmapCache[chunkIndex] = entry
	}

	if entry.missing {
		return false, nil
	}

	bitIndex := sector % SectorsPerBitmap
	b := entry.bits[bitIndex/8]
	bit := bitIndex % 8
	return (b>>bit)&1 != 0, nil
}

// sector implements §4.8 sector: the public per-sector read.
func (s *sectorResolver) sector(sector uint64) ([]byte, error) {
	if sector >= s.sectorCount() {
		return nil, newErr(KindOutOfRange, 0, "sector %d out of range (disk has %d sectors)", sector, s.sectorCount())
	}

	if s.hasParent {
		allocated, err := s.isSectorAllocated(sector)
		if err != nil {
			return nil, err
		}
		if !allocated {
			return s.emptySector, nil
		}
	}

	entry, err := s.batEntryForLogicalSector(sector)
	if err != nil {
		return nil, err
	}
	block, err := s.blockBytes(entry)
	if err != nil {
		return nil, err
	}

	sectorsPerBlock := uint64(s.blockSize) / uint64(s.logicalSectorSize)
	off := (sector % sectorsPerBlock) * uint64(s.logicalSectorSize)
	return block[off : off+uint64(s.logicalSectorSize)], nil
}
