package chain

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeLayer is a minimal in-memory Layer for exercising resolution order
// without real VHDX files.
type fakeLayer struct {
	differencing bool
	sectorSize   uint32
	diskSize     uint64
	allocated    map[uint64]bool
	data         map[uint64][]byte
}

func (f *fakeLayer) IsDifferencing() bool { return f.differencing }

func (f *fakeLayer) IsSectorAllocated(sector uint64) (bool, error) {
	return f.allocated[sector], nil
}

func (f *fakeLayer) GetSector(sector uint64) ([]byte, error) {
	if b, ok := f.data[sector]; ok {
		return b, nil
	}
	return make([]byte, f.sectorSize), nil
}

func (f *fakeLayer) LogicalSectorSize() uint32 { return f.sectorSize }
func (f *fakeLayer) VirtualDiskSize() uint64   { return f.diskSize }

func sectorOf(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestChainResolvesTopmostAllocatedLayerFirst(t *testing.T) {
	base := &fakeLayer{
		sectorSize: 512, diskSize: 4 * 512,
		data: map[uint64][]byte{0: sectorOf('B', 512), 1: sectorOf('B', 512)},
	}
	overlay := &fakeLayer{
		differencing: true, sectorSize: 512, diskSize: 4 * 512,
		allocated: map[uint64]bool{0: true},
		data:      map[uint64][]byte{0: sectorOf('O', 512)},
	}

	c, err := New([]Layer{base, overlay})
	require.NoError(t, err)

	got, err := c.GetSector(0)
	require.NoError(t, err)
	require.Equal(t, sectorOf('O', 512), got)

	got, err = c.GetSector(1)
	require.NoError(t, err)
	require.Equal(t, sectorOf('B', 512), got)
}

func TestChainMultiLayerFallsThroughToBase(t *testing.T) {
	base := &fakeLayer{sectorSize: 512, diskSize: 512, data: map[uint64][]byte{0: sectorOf('B', 512)}}
	mid := &fakeLayer{differencing: true, sectorSize: 512, diskSize: 512, allocated: map[uint64]bool{}}
	top := &fakeLayer{differencing: true, sectorSize: 512, diskSize: 512, allocated: map[uint64]bool{}}

	c, err := New([]Layer{base, mid, top})
	require.NoError(t, err)

	got, err := c.GetSector(0)
	require.NoError(t, err)
	require.Equal(t, sectorOf('B', 512), got)
}

func TestNewRejectsDifferencingBase(t *testing.T) {
	base := &fakeLayer{differencing: true, sectorSize: 512, diskSize: 512}
	_, err := New([]Layer{base})
	require.Error(t, err)
}

func TestNewRejectsNonDifferencingOverlay(t *testing.T) {
	base := &fakeLayer{sectorSize: 512, diskSize: 512}
	overlay := &fakeLayer{sectorSize: 512, diskSize: 512}
	_, err := New([]Layer{base, overlay})
	require.Error(t, err)
}

func TestNewRejectsEmptyChain(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestChainSectorCount(t *testing.T) {
	base := &fakeLayer{sectorSize: 512, diskSize: 4096}
	c, err := New([]Layer{base})
	require.NoError(t, err)
	require.Equal(t, uint64(8), c.SectorCount())
}
