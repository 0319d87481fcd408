package gsym

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the GSYM file magic, "GSYM" read as a little endian u32.
const Magic uint32 = 0x4753594d

// Version is the only supported format version.
const Version uint16 = 1

// Function info chunk types.
const (
	infoEndOfList uint32 = 0
	infoLineTable uint32 = 1
	infoInline    uint32 = 2
)

// Line table opcodes.
const (
	opEndSequence  byte = 0x00
	opSetFile      byte = 0x01
	opAdvancePC    byte = 0x02
	opAdvanceLine  byte = 0x03
	opFirstSpecial byte = 0x04
)

const headerSize = 48

// header is the fixed size GSYM file header.
type header struct {
	Magic        uint32
	Version      uint16
	AddrOffSize  uint8
	UUIDSize     uint8
	BaseAddress  uint64
	NumAddresses uint32
	StrtabOffset uint32
	StrtabSize   uint32
	UUID         [20]byte
}

func parseHeader(r io.ReaderAt) (header, error) {
	var buf [headerSize]byte
	var h header
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return h, fmt.Errorf("read gsym header: %w", err)
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:])
	if h.Magic != Magic {
		return h, fmt.Errorf("invalid gsym magic 0x%08x", h.Magic)
	}
	h.Version = binary.LittleEndian.Uint16(buf[4:])
	if h.Version != Version {
		return h, fmt.Errorf("unsupported gsym version %d", h.Version)
	}
	h.AddrOffSize = buf[6]
	switch h.AddrOffSize {
	case 1, 2, 4, 8:
	default:
		return h, fmt.Errorf("invalid gsym address offset size %d", h.AddrOffSize)
	}
	h.UUIDSize = buf[7]
	if h.UUIDSize > 20 {
		return h, fmt.Errorf("invalid gsym uuid size %d", h.UUIDSize)
	}
	h.BaseAddress = binary.LittleEndian.Uint64(buf[8:])
	h.NumAddresses = binary.LittleEndian.Uint32(buf[16:])
	h.StrtabOffset = binary.LittleEndian.Uint32(buf[20:])
	h.StrtabSize = binary.LittleEndian.Uint32(buf[24:])
	copy(h.UUID[:], buf[28:48])
	return h, nil
}

// reader is a cursor over an io.ReaderAt with LEB128 support.
type reader struct {
	r   io.ReaderAt
	off int64
}

func (rd *reader) bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rd.r.ReadAt(buf, rd.off); err != nil {
		return nil, err
	}
	rd.off += int64(n)
	return buf, nil
}

func (rd *reader) u8() (byte, error) {
	b, err := rd.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (rd *reader) u32() (uint32, error) {
	b, err := rd.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (rd *reader) uleb() (uint64, error) {
	var ret uint64
	var shift uint
	for {
		b, err := rd.u8()
		if err != nil {
			return 0, err
		}
		ret |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("uleb128 value too large")
		}
	}
}

func (rd *reader) sleb() (int64, error) {
	var ret int64
	var shift uint
	for {
		b, err := rd.u8()
		if err != nil {
			return 0, err
		}
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				ret |= -1 << shift
			}
			return ret, nil
		}
		if shift >= 64 {
			return 0, fmt.Errorf("sleb128 value too large")
		}
	}
}

func (rd *reader) align4() {
	if rem := rd.off % 4; rem != 0 {
		rd.off += 4 - rem
	}
}
