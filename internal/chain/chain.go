// Package chain resolves a differencing-disk chain (C10): an ordered list
// of layered VHDX containers, base first, each subsequent layer a
// differencing overlay of the one before it.
package chain

import (
	"fmt"

	"github.com/ostafen/vhdxlens/internal/vhdx"
)

// Layer is the subset of *vhdx.Container the chain reader depends on; tests
// substitute a fake to exercise resolution order without real files.
type Layer interface {
	IsDifferencing() bool
	IsSectorAllocated(sector uint64) (bool, error)
	GetSector(sector uint64) ([]byte, error)
	LogicalSectorSize() uint32
	VirtualDiskSize() uint64
}

// Chain answers a sector read from the topmost overlay that reports it
// allocated, falling back toward the base.
type Chain struct {
	layers []Layer // index 0 is the base, last is the topmost overlay
}

// New builds a Chain from layers ordered base-first. The base must not be
// differencing; every other layer must be.
func New(layers []Layer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("chain: at least one layer required")
	}
	if layers[0].IsDifferencing() {
		return nil, fmt.Errorf("chain: base layer must not be differencing")
	}
	for i := 1; i < len(layers); i++ {
		if !layers[i].IsDifferencing() {
			return nil, fmt.Errorf("chain: overlay %d is not a differencing disk", i)
		}
	}
	return &Chain{layers: layers}, nil
}

func (c *Chain) base() Layer { return c.layers[0] }

// SectorCount is the base layer's sector count; every layer of a valid
// chain shares the same logical geometry.
func (c *Chain) SectorCount() uint64 {
	base := c.base()
	return base.VirtualDiskSize() / uint64(base.LogicalSectorSize())
}

// GetSector walks the chain from the topmost overlay down to the base and
// returns the bytes from the first layer that reports sector allocated.
// Since the base is never differencing, it always reports every in-range
// sector allocated and therefore always terminates the walk if no overlay
// claims it first; UnresolvedSector can only happen if the base itself
// turns out to be differencing, which New refuses to construct.
func (c *Chain) GetSector(sector uint64) ([]byte, error) {
	for i := len(c.layers) - 1; i >= 0; i-- {
		layer := c.layers[i]
		if !layer.IsDifferencing() {
			return layer.GetSector(sector)
		}
		allocated, err := layer.IsSectorAllocated(sector)
		if err != nil {
			return nil, err
		}
		if allocated {
			return layer.GetSector(sector)
		}
	}
	return nil, fmt.Errorf("chain: sector %d unresolved", sector)
}

var _ Layer = (*vhdx.Container)(nil)
