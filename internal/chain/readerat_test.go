package chain

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReaderAtSpansMultipleSectors(t *testing.T) {
	base := &fakeLayer{
		sectorSize: 512, diskSize: 3 * 512,
		data: map[uint64][]byte{
			0: sectorOf('A', 512),
			1: sectorOf('B', 512),
			2: sectorOf('C', 512),
		},
	}
	c, err := New([]Layer{base})
	require.NoError(t, err)

	ra := NewReaderAt(c)
	require.Equal(t, uint64(3*512), ra.Size())

	buf := make([]byte, 856)
	n, err := ra.ReadAt(buf, 256)
	require.NoError(t, err)
	require.Equal(t, 856, n)

	require.Equal(t, sectorOf('A', 256), buf[:256])
	require.Equal(t, sectorOf('B', 512), buf[256:768])
	require.Equal(t, sectorOf('C', 88), buf[768:856])
}

func TestReaderAtReturnsEOFPastEnd(t *testing.T) {
	base := &fakeLayer{sectorSize: 512, diskSize: 512, data: map[uint64][]byte{0: sectorOf('A', 512)}}
	c, err := New([]Layer{base})
	require.NoError(t, err)

	ra := NewReaderAt(c)
	buf := make([]byte, 256)
	n, err := ra.ReadAt(buf, 400)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 112, n)
}

func TestReaderAtNegativeOffsetErrors(t *testing.T) {
	base := &fakeLayer{sectorSize: 512, diskSize: 512}
	c, err := New([]Layer{base})
	require.NoError(t, err)

	ra := NewReaderAt(c)
	_, err = ra.ReadAt(make([]byte, 10), -1)
	require.Error(t, err)
}
