package vhdx

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildHeaderSlot encodes one 80-byte header payload (magic through
// logOffset) matching parseHeader's field order.
func buildHeaderSlot(sequence uint64, version uint16, badMagic bool) []byte {
	var buf bytes.Buffer

	magic := []byte(headerMagic)
	if badMagic {
		magic = []byte("XXXX")
	}
	buf.Write(magic)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // checksum, unchecked
	binary.Write(&buf, binary.LittleEndian, sequence)
	buf.Write(make([]byte, GuidSize)) // fileWriteGuid
	buf.Write(make([]byte, GuidSize)) // dataWriteGuid
	buf.Write(make([]byte, GuidSize)) // logGuid (all zero: HasLog()==false)
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // logVersion
	binary.Write(&buf, binary.LittleEndian, version)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // logLength
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // logOffset
	return buf.Bytes()
}

// buildTwoHeaderImage lays out two header slots at their fixed offsets in
// an otherwise zero-filled buffer, the way selectHeader expects to find
// them.
func buildTwoHeaderImage(slotA, slotB []byte) []byte {
	img := make([]byte, header2Offset+headerSlotSize)
	copy(img[header1Offset:], slotA)
	copy(img[header2Offset:], slotB)
	return img
}

func TestSelectHeaderPrefersHigherSequence(t *testing.T) {
	slotA := buildHeaderSlot(5, headerSupported, false)
	slotB := buildHeaderSlot(7, headerSupported, false)
	img := buildTwoHeaderImage(slotA, slotB)

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(img))

	h, err := selectHeader(ctx, r)
	require.NoError(t, err)
	require.Equal(t, uint64(7), h.Sequence)
}

func TestSelectHeaderTiesBreakTowardB(t *testing.T) {
	slotA := buildHeaderSlot(9, headerSupported, false)
	slotB := buildHeaderSlot(9, headerSupported, false)
	slotB[16] = 0xBB // first byte of B's fileWriteGuid, to tell the copies apart
	img := buildTwoHeaderImage(slotA, slotB)

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(img))

	h, err := selectHeader(ctx, r)
	require.NoError(t, err)
	require.Equal(t, uint64(9), h.Sequence)
	require.Equal(t, byte(0xBB), h.FileWriteGuid[0])
}

func TestSelectHeaderFallsBackWhenOneCorrupt(t *testing.T) {
	slotA := buildHeaderSlot(3, headerSupported, false)
	slotB := buildHeaderSlot(11, headerSupported, true) // bad magic
	img := buildTwoHeaderImage(slotA, slotB)

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(img))

	h, err := selectHeader(ctx, r)
	require.NoError(t, err)
	require.Equal(t, uint64(3), h.Sequence)
}

func TestSelectHeaderBothCorruptFailsInStrictMode(t *testing.T) {
	slotA := buildHeaderSlot(3, headerSupported, true)
	slotB := buildHeaderSlot(11, headerSupported, true)
	img := buildTwoHeaderImage(slotA, slotB)

	ctx := newParseContext(Strict, nil)
	r := newByteReader(bytes.NewReader(img))

	_, err := selectHeader(ctx, r)
	require.Error(t, err)
}

func TestHeaderHasLog(t *testing.T) {
	h := &Header{LogGuid: make([]byte, GuidSize)}
	require.False(t, h.HasLog())

	h.LogGuid[5] = 0x01
	require.True(t, h.HasLog())
}
