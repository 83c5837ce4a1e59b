// Package wire defines the 32-byte binary header that frames every UDP-style
// fragment on the detector link, plus the transmit-side fragmenter that
// splits an encoded frame into header-framed packets. The package specifies
// the wire format only; moving bytes is the transport's job.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/kestrel-data/detector.link/internal/crc16"
)

// HeaderSize is the fixed wire size of a fragment header.
const HeaderSize = 32

// Magic is the header sentinel; it serialises to the ASCII bytes "XRAY".
const Magic uint32 = 0x59415258

// Version is the only header version this implementation accepts.
const Version uint8 = 1

// Flag bits carried in the last header byte.
const (
	FlagLastPacket       = 1 << 0
	FlagErrorFrame       = 1 << 1
	FlagCalibrationFrame = 1 << 2
)

// Parse failures. Malformed headers are discardable input, not faults.
var (
	ErrShortHeader = errors.New("wire: buffer shorter than header")
	ErrBadMagic    = errors.New("wire: bad magic")
	ErrBadVersion  = errors.New("wire: unsupported header version")
	ErrBadReserved = errors.New("wire: nonzero reserved bytes")
	ErrBadCRC      = errors.New("wire: header crc mismatch")
)

// FrameHeader is the parsed form of the 32-byte fragment header. A value is
// only ever produced by ParseFrameHeader or built for transmit; invalid
// byte sequences never yield one.
//
// Wire layout (little-endian):
//
//	0  magic       u32
//	4  version     u8   (bytes 5-7 reserved, must be zero)
//	8  frameId     u32
//	12 packetSeq   u16
//	14 totalPackets u16
//	16 timestampNs u64
//	24 rows        u16
//	26 cols        u16
//	28 crc16       u16  (CRC-16/CCITT over bytes 0-27)
//	30 bitDepth    u8
//	31 flags       u8
type FrameHeader struct {
	FrameID      uint32
	PacketSeq    uint16
	TotalPackets uint16
	TimestampNs  uint64
	Rows         uint16
	Cols         uint16
	BitDepth     uint8
	Flags        uint8
}

// LastPacket reports whether this fragment closes its frame.
func (h *FrameHeader) LastPacket() bool { return h.Flags&FlagLastPacket != 0 }

// MarshalBinary serialises the header, computing the embedded CRC.
func (h *FrameHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], Magic)
	b[4] = Version
	binary.LittleEndian.PutUint32(b[8:12], h.FrameID)
	binary.LittleEndian.PutUint16(b[12:14], h.PacketSeq)
	binary.LittleEndian.PutUint16(b[14:16], h.TotalPackets)
	binary.LittleEndian.PutUint64(b[16:24], h.TimestampNs)
	binary.LittleEndian.PutUint16(b[24:26], h.Rows)
	binary.LittleEndian.PutUint16(b[26:28], h.Cols)
	binary.LittleEndian.PutUint16(b[28:30], crc16.Checksum(b[:28]))
	b[30] = h.BitDepth
	b[31] = h.Flags
	return b, nil
}

// ParseFrameHeader validates and decodes a header from the front of b.
// Validation is all-or-nothing: a short buffer, wrong magic, unsupported
// version, or CRC disagreement produces an error and no header.
func ParseFrameHeader(b []byte) (*FrameHeader, error) {
	if len(b) < HeaderSize {
		return nil, ErrShortHeader
	}
	if binary.LittleEndian.Uint32(b[0:4]) != Magic {
		return nil, ErrBadMagic
	}
	if b[4] != Version {
		return nil, ErrBadVersion
	}
	// Reserved bytes must be zero so a parsed header re-serialises to the
	// identical buffer.
	if b[5] != 0 || b[6] != 0 || b[7] != 0 {
		return nil, ErrBadReserved
	}
	if crc16.Checksum(b[:28]) != binary.LittleEndian.Uint16(b[28:30]) {
		return nil, ErrBadCRC
	}

	return &FrameHeader{
		FrameID:      binary.LittleEndian.Uint32(b[8:12]),
		PacketSeq:    binary.LittleEndian.Uint16(b[12:14]),
		TotalPackets: binary.LittleEndian.Uint16(b[14:16]),
		TimestampNs:  binary.LittleEndian.Uint64(b[16:24]),
		Rows:         binary.LittleEndian.Uint16(b[24:26]),
		Cols:         binary.LittleEndian.Uint16(b[26:28]),
		BitDepth:     b[30],
		Flags:        b[31],
	}, nil
}
