// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package vhdx

import (
	"io"

	"github.com/ostafen/vhdxlens/internal/fs"
	"github.com/ostafen/vhdxlens/internal/logger"
	"github.com/ostafen/vhdxlens/internal/mmap"
)

// DefaultMaxInferredSize is the ceiling applied to an inferred VirtualDiskSize
// when the metadata region does not supply one.
const DefaultMaxInferredSize = uint64(1) << 39

// FallbackMetas supplies the fields used when the metadata region is absent
// or fails to parse, in tolerant mode. LogicalSectorSize, PhysicalSectorSize
// and BlockSize are mandatory; HasParent and VirtualDiskSize are optional
// (VirtualDiskSize is inferred from the BAT region length when omitted).
type FallbackMetas struct {
	LogicalSectorSize  uint32
	PhysicalSectorSize uint32
	BlockSize          uint32

	HasParent       bool
	VirtualDiskSize uint64
	HaveVirtualDiskSize bool
}

// OpenOptions configures Open's resilience to structural damage.
type OpenOptions struct {
	// IgnoreFaults, if true, downgrades recoverable structural checks to
	// warnings instead of failing Open outright.
	IgnoreFaults bool
	// FallbackMetas replaces an absent or unparsable metadata region only
	// while IgnoreFaults is true. In either mode it also fills in any
	// required field the on-disk metadata table does not carry.
	FallbackMetas *FallbackMetas
	// MaxInferredSize caps an inferred VirtualDiskSize; zero selects
	// DefaultMaxInferredSize.
	MaxInferredSize uint64
	// Log receives tolerant-mode warnings. A nil Log discards them.
	Log *logger.Logger
	// UseMmap memory-maps the file instead of issuing read(2)/pread(2) per
	// access; worthwhile for repeated random sector reads against a large
	// image. Linux only.
	UseMmap bool
}

// Container is an opened VHDX file (or one layer of a differencing chain).
// It owns the file handle and every piece of state derived from the file's
// structural regions, ready to answer per-sector reads.
type Container struct {
	path string
	file fs.File

	header Header
	region RegionTable
	meta   Metadata

	fallbackUsed bool
	metaSource   map[string]bool // field name -> true if it came from fallback/inference

	chunkRatio uint64
	resolver   *sectorResolver

	batOffset uint64
	batLength uint32
}

// Open parses path as a VHDX container per §4.9 and returns a Container
// ready for sector reads. path is normalized through
// internal/fs.NormalizeVolumePath first, so a bare drive letter (Windows)
// resolves to its raw volume device before opening.
func Open(path string, opts OpenOptions) (*Container, error) {
	normalized := fs.NormalizeVolumePath(path)

	var f fs.File
	var err error
	if opts.UseMmap {
		f, err = mmap.NewMmapFile(normalized)
	} else {
		f, err = fs.Open(normalized)
	}
	if err != nil {
		return nil, newErr(KindIO, 0, "open %s: %w", path, err)
	}

	c, err := openFrom(f, path, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func openFrom(f fs.File, path string, opts OpenOptions) (*Container, error) {
	mode := Strict
	if opts.IgnoreFaults {
		mode = Tolerant
	}
	ctx := newParseContext(mode, opts.Log)

	r := newByteReaderAt(f)

	if _, err := parseFileIdentifier(ctx, r); err != nil {
		return nil, err
	}

	header, err := selectHeader(ctx, r)
	if err != nil {
		return nil, err
	}

	region, err := selectRegionTable(ctx, r)
	if err != nil {
		return nil, err
	}

	c := &Container{
		path:       path,
		file:       f,
		header:     *header,
		region:     region,
		metaSource: map[string]bool{},
	}

	meta, fallbackUsed, err := loadMetadata(ctx, r, region, opts.FallbackMetas, c.metaSource)
	if err != nil {
		return nil, err
	}
	c.meta = *meta
	c.fallbackUsed = fallbackUsed

	batEntry, haveBAT := region.BAT()
	if !haveBAT {
		return nil, newErr(KindNoMetadata, 0, "region table: BAT region absent")
	}
	c.batOffset = batEntry.Offset
	c.batLength = batEntry.Length

	if c.meta.BlockSize == 0 || c.meta.LogicalSectorSize == 0 {
		return nil, newErr(KindMissingFallbackFields, 0, "metadata: block size and logical sector size are required")
	}
	c.chunkRatio = (uint64(1) << 23) * uint64(c.meta.LogicalSectorSize) / uint64(c.meta.BlockSize)

	if !c.meta.HaveVirtualDiskSize {
		ceiling := opts.MaxInferredSize
		if ceiling == 0 {
			ceiling = DefaultMaxInferredSize
		}

		rawCount := uint64(c.batLength) / batEntrySize
		payloadBlocks := rawCount - rawCount/c.chunkRatio
		inferred := payloadBlocks * uint64(c.meta.BlockSize)
		if inferred > ceiling {
			return nil, newErr(KindInferredSizeTooLarge, 0, "inferred virtual disk size %d exceeds ceiling %d", inferred, ceiling)
		}

		c.meta.VirtualDiskSize = inferred
		c.meta.HaveVirtualDiskSize = true
		c.metaSource["VirtualDiskSize"] = true
		c.fallbackUsed = true
	}

	c.resolver = newSectorResolver(ctx, r, c.batOffset, c.batLength, &c.meta, c.chunkRatio)
	return c, nil
}

// loadMetadata implements steps 4-5 of §4.9: parse the on-disk metadata
// table if present, then fill in any still-missing required fields (and
// infer what it can) from fallback.
func loadMetadata(ctx *parseContext, r *byteReader, region RegionTable, fallback *FallbackMetas, source map[string]bool) (*Metadata, bool, error) {
	entry, haveRegion := region.Metadata()

	var meta *Metadata
	var err error
	if haveRegion {
		meta, err = parseMetadataTable(ctx, r, entry.Offset)
	}

	usedFallback := false
	if !haveRegion || err != nil {
		if !ctx.tolerant() || fallback == nil {
			if err != nil {
				return nil, false, err
			}
			return nil, false, newErr(KindNoMetadata, 0, "metadata region absent and no fallback supplied")
		}
		meta = &Metadata{}
		usedFallback = true
	}

	if fallback != nil {
		if !meta.HaveLogicalSectorSize {
			meta.LogicalSectorSize = fallback.LogicalSectorSize
			meta.HaveLogicalSectorSize = true
			source["LogicalSectorSize"] = true
			usedFallback = true
		}
		if !meta.HavePhysicalSectorSize {
			meta.PhysicalSectorSize = fallback.PhysicalSectorSize
			meta.HavePhysicalSectorSize = true
			source["PhysicalSectorSize"] = true
			usedFallback = true
		}
		if !meta.HaveFileParameters {
			meta.BlockSize = fallback.BlockSize
			meta.HasParent = fallback.HasParent
			meta.HaveFileParameters = true
			source["BlockSize"] = true
			source["HasParent"] = true
			usedFallback = true
		}
		if !meta.HaveVirtualDiskSize && fallback.HaveVirtualDiskSize {
			meta.VirtualDiskSize = fallback.VirtualDiskSize
			meta.HaveVirtualDiskSize = true
			source["VirtualDiskSize"] = true
			usedFallback = true
		}
	}

	if meta.LogicalSectorSize == 0 || meta.PhysicalSectorSize == 0 || meta.BlockSize == 0 {
		return nil, false, newErr(KindMissingFallbackFields, 0, "metadata: missing required fields and no usable fallback")
	}

	return meta, usedFallback, nil
}

// Close releases the underlying file handle.
func (c *Container) Close() error {
	return c.file.Close()
}

func (c *Container) Header() Header           { return c.header }
func (c *Container) RegionTable() RegionTable { return c.region }
func (c *Container) Metas() Metadata           { return c.meta }

func (c *Container) LogicalSectorSize() uint32  { return c.meta.LogicalSectorSize }
func (c *Container) PhysicalSectorSize() uint32 { return c.meta.PhysicalSectorSize }
func (c *Container) BlockSize() uint32          { return c.meta.BlockSize }
func (c *Container) VirtualDiskSize() uint64    { return c.meta.VirtualDiskSize }
func (c *Container) IsDifferencing() bool       { return c.meta.HasParent }

// UsedFallbackMetas reports whether any field of Metas() came from the
// caller-supplied fallback or from inference, rather than the on-disk
// metadata table.
func (c *Container) UsedFallbackMetas() bool { return c.fallbackUsed }

// FallbackField reports whether the named field (e.g. "VirtualDiskSize",
// "BlockSize") was supplied by fallback/inference rather than read from the
// file, supplementing the coarse UsedFallbackMetas with per-field
// provenance.
func (c *Container) FallbackField(name string) bool { return c.metaSource[name] }

// ChunkRatio returns the number of payload BAT entries between consecutive
// sector-bitmap BAT entries.
func (c *Container) ChunkRatio() uint64 { return c.chunkRatio }

// BatEntryForLogicalSector implements the public bat_entry_for_logical_sector
// operation.
func (c *Container) BatEntryForLogicalSector(sector uint64) (BatEntry, error) {
	return c.resolver.batEntryForLogicalSector(sector)
}

// IterBatPayloadEntries returns a fresh iterator over payload BAT entries,
// in payload order, skipping interleaved sector-bitmap slots.
func (c *Container) IterBatPayloadEntries() *batPayloadIterator {
	r := newByteReaderAt(c.file)
	return newBatPayloadIterator(r, c.batOffset, c.batLength, c.chunkRatio)
}

// IsSectorAllocated implements the public is_sector_allocated operation.
func (c *Container) IsSectorAllocated(sector uint64) (bool, error) {
	return c.resolver.isSectorAllocated(sector)
}

// GetSector implements the public get_sector operation: it always returns
// exactly LogicalSectorSize bytes.
func (c *Container) GetSector(sector uint64) ([]byte, error) {
	return c.resolver.sector(sector)
}

// GetBlock implements the public get_block operation.
func (c *Container) GetBlock(entry BatEntry) ([]byte, error) {
	return c.resolver.blockBytes(entry)
}

// GetMetaEntry implements the public get_meta_entry operation by field name.
func (c *Container) GetMetaEntry(key string) (any, bool) {
	switch key {
	case "BlockSize":
		return c.meta.BlockSize, c.meta.HaveFileParameters
	case "LeaveBlocksAllocated":
		return c.meta.LeaveBlocksAllocated, c.meta.HaveFileParameters
	case "HasParent":
		return c.meta.HasParent, c.meta.HaveFileParameters
	case "VirtualDiskSize":
		return c.meta.VirtualDiskSize, c.meta.HaveVirtualDiskSize
	case "Page83Data":
		return c.meta.Page83Data, c.meta.HavePage83Data
	case "LogicalSectorSize":
		return c.meta.LogicalSectorSize, c.meta.HaveLogicalSectorSize
	case "PhysicalSectorSize":
		return c.meta.PhysicalSectorSize, c.meta.HavePhysicalSectorSize
	case "ParentLocator":
		return c.meta.ParentLocator, c.meta.ParentLocator != nil
	}
	return nil, false
}

// ReadAt exposes the raw backing file for callers (e.g. a FUSE layer or
// forensic report) that need direct byte access outside the sector API.
func (c *Container) ReadAt(p []byte, off int64) (int, error) {
	return c.file.ReadAt(p, off)
}

var _ io.ReaderAt = (*Container)(nil)
