package chain

import (
	"fmt"
	"io"
)

// ReaderAt adapts a Chain to io.ReaderAt by translating arbitrary byte
// ranges into whole-sector GetSector calls, for consumers (FUSE, the
// extract command) that expect a flat byte-addressable view of the
// resolved virtual disk.
type ReaderAt struct {
	c *Chain
}

// NewReaderAt wraps c for random-access byte reads.
func NewReaderAt(c *Chain) *ReaderAt {
	return &ReaderAt{c: c}
}

// Size returns the total byte length of the flattened disk.
func (r *ReaderAt) Size() uint64 {
	base := r.c.base()
	return base.VirtualDiskSize()
}

func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("chain: negative offset %d", off)
	}

	sectorSize := int64(r.c.base().LogicalSectorSize())
	total := int64(r.Size())

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= total {
			return n, io.EOF
		}

		sector := uint64(pos / sectorSize)
		sectorOff := int(pos % sectorSize)

		buf, err := r.c.GetSector(sector)
		if err != nil {
			return n, err
		}

		copied := copy(p[n:], buf[sectorOff:])
		n += copied
	}
	return n, nil
}
