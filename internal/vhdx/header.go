package vhdx

const (
	headerMagic     = "head"
	headerSlotSize  = 64 * 1024
	headerSupported = 1

	header1Offset = 64 * 1024
	header2Offset = 128 * 1024
)

// Header is one of the two paired 64 KiB header slots.
type Header struct {
	Sequence      uint64
	FileWriteGuid []byte
	DataWriteGuid []byte
	LogGuid       []byte
	LogVersion    uint16
	Version       uint16
	LogLength     uint32
	LogOffset     uint64
}

// HasLog reports whether the header names a non-empty log region; the log
// is parsed only for these descriptor fields and is never replayed (§9.5).
func (h *Header) HasLog() bool {
	for _, b := range h.LogGuid {
		if b != 0 {
			return true
		}
	}
	return false
}

// parseHeader reads a 4 KiB header payload at the stream's current
// position and advances to the next 64 KiB slot boundary.
func parseHeader(ctx *parseContext, r *byteReader) (*Header, error) {
	start := r.offset()

	magic, err := r.readExact(len(headerMagic))
	if err != nil {
		return nil, err
	}
	if string(magic) != headerMagic {
		if err := ctx.fault(newErr(KindBadMagic, start, "header: expected magic %q, got %q", headerMagic, magic)); err != nil {
			return nil, err
		}
	}

	if _, err := r.u32(); err != nil { // checksum: read, never validated (§9.2)
		return nil, err
	}

	seq, err := r.u64()
	if err != nil {
		return nil, err
	}

	fileWriteGuid, err := r.guidBlob()
	if err != nil {
		return nil, err
	}
	dataWriteGuid, err := r.guidBlob()
	if err != nil {
		return nil, err
	}
	logGuid, err := r.guidBlob()
	if err != nil {
		return nil, err
	}

	logVersion, err := r.u16()
	if err != nil {
		return nil, err
	}
	version, err := r.u16()
	if err != nil {
		return nil, err
	}
	if version != headerSupported {
		if err := ctx.fault(newErr(KindUnsupportedVersion, start, "header: unsupported format version %d", version)); err != nil {
			return nil, err
		}
	}

	logLength, err := r.u32()
	if err != nil {
		return nil, err
	}
	logOffset, err := r.u64()
	if err != nil {
		return nil, err
	}

	if err := r.seek(start + headerSlotSize); err != nil {
		return nil, err
	}

	return &Header{
		Sequence:      seq,
		FileWriteGuid: fileWriteGuid,
		DataWriteGuid: dataWriteGuid,
		LogGuid:       logGuid,
		LogVersion:    logVersion,
		Version:       version,
		LogLength:     logLength,
		LogOffset:     logOffset,
	}, nil
}

// selectHeader parses both header copies and returns the "current" one:
// the header with the greater sequence number, ties broken toward b.
func selectHeader(ctx *parseContext, r *byteReader) (*Header, error) {
	if err := r.seek(header1Offset); err != nil {
		return nil, err
	}
	a, errA := parseHeader(ctx, r)

	if err := r.seek(header2Offset); err != nil {
		return nil, err
	}
	b, errB := parseHeader(ctx, r)

	switch {
	case errA != nil && errB != nil:
		return nil, errB
	case errA != nil:
		return b, nil
	case errB != nil:
		return a, nil
	}

	if b.Sequence >= a.Sequence {
		return b, nil
	}
	return a, nil
}
