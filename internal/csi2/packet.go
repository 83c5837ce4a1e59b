// Package csi2 implements the line/frame packet codec used on the detector
// transmit path. The format follows the CSI-2 image transport profile:
// short packets (frame/line sync) are a fixed 4 bytes, long packets carry a
// 16-bit raw pixel payload with a CRC-16/CCITT trailer. Every header ends
// with a 6-bit Hamming(6,24) error-correcting code over its first 3 bytes.
package csi2

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kestrel-data/detector.link/internal/crc16"
)

// PacketType is the 6-bit data-type code carried in the DataID byte.
type PacketType uint8

const (
	TypeFrameStart PacketType = 0x00
	TypeFrameEnd   PacketType = 0x01
	TypeLineStart  PacketType = 0x02
	TypeLineEnd    PacketType = 0x03
	// TypeLineData is the RAW16 long-packet data type. This codec profile
	// fixes the pixel format to 16-bit raw samples.
	TypeLineData PacketType = 0x2E
)

func (t PacketType) String() string {
	switch t {
	case TypeFrameStart:
		return "frame_start"
	case TypeFrameEnd:
		return "frame_end"
	case TypeLineStart:
		return "line_start"
	case TypeLineEnd:
		return "line_end"
	case TypeLineData:
		return "line_data"
	}
	return fmt.Sprintf("unknown(0x%02X)", uint8(t))
}

// IsShort reports whether t is one of the fixed 4-byte packet types.
func (t PacketType) IsShort() bool {
	switch t {
	case TypeFrameStart, TypeFrameEnd, TypeLineStart, TypeLineEnd:
		return true
	}
	return false
}

const (
	// ShortPacketSize is the wire size of a short packet and of every long
	// packet header.
	ShortPacketSize = 4
	// MaxVirtualChannel bounds the 2-bit sub-stream identifier.
	MaxVirtualChannel = 3
	// BytesPerPixel is fixed by the RAW16 profile.
	BytesPerPixel = 2
)

var (
	ErrBadVirtualChannel = errors.New("csi2: virtual channel out of range 0-3")
	ErrBadPacketType     = errors.New("csi2: unknown packet type code")
	ErrShortBuffer       = errors.New("csi2: buffer shorter than packet header")
	ErrECCMismatch       = errors.New("csi2: header ECC mismatch")
	ErrCRCMismatch       = errors.New("csi2: payload CRC mismatch")
	ErrTruncatedPayload  = errors.New("csi2: payload shorter than word count")
	ErrPayloadTooLarge   = errors.New("csi2: payload exceeds 16-bit word count")
)

// Packet is a decoded or constructed protocol packet. It is immutable once
// built: Payload is owned by the Packet and must not be modified.
type Packet struct {
	Type           PacketType
	VirtualChannel uint8
	// LineNumber carries the line sync number for LineStart/LineEnd and is
	// zero for frame packets and LineData.
	LineNumber uint16
	// Payload holds the raw little-endian pixel bytes of a LineData packet.
	Payload []byte
	// CRC is the payload CRC-16/CCITT trailer, set for LineData only.
	CRC uint16
}

// Pixels reinterprets the payload as little-endian 16-bit samples.
func (p Packet) Pixels() []uint16 {
	px := make([]uint16, len(p.Payload)/BytesPerPixel)
	for i := range px {
		px[i] = binary.LittleEndian.Uint16(p.Payload[i*BytesPerPixel:])
	}
	return px
}

// Decode parses a single packet from b, verifying the header ECC and, for
// long packets, the payload CRC. Parsing is all-or-nothing: malformed input
// yields an error and no packet.
func Decode(b []byte) (Packet, error) {
	if len(b) < ShortPacketSize {
		return Packet{}, ErrShortBuffer
	}

	// The top two bits of the ECC byte are zero on the wire, so a full
	// byte comparison also rejects headers with those bits set.
	if ecc := eccByte(b[0], b[1], b[2]); ecc != b[3] {
		return Packet{}, ErrECCMismatch
	}

	vc := b[0] >> 6
	pt := PacketType(b[0] & dataTypeMask)
	word := binary.LittleEndian.Uint16(b[1:3])

	switch {
	case pt.IsShort():
		p := Packet{Type: pt, VirtualChannel: vc}
		if pt == TypeLineStart || pt == TypeLineEnd {
			p.LineNumber = word
		}
		return p, nil

	case pt == TypeLineData:
		need := ShortPacketSize + int(word) + crcTrailerSize
		if len(b) < need {
			return Packet{}, ErrTruncatedPayload
		}
		payload := b[ShortPacketSize : ShortPacketSize+int(word)]
		stored := binary.LittleEndian.Uint16(b[ShortPacketSize+int(word):])
		if crc16.Checksum(payload) != stored {
			return Packet{}, ErrCRCMismatch
		}
		p := Packet{
			Type:           pt,
			VirtualChannel: vc,
			Payload:        append([]byte(nil), payload...),
			CRC:            stored,
		}
		return p, nil
	}

	return Packet{}, ErrBadPacketType
}
