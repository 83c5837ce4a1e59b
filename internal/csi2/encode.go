package csi2

import (
	"encoding/binary"

	"github.com/kestrel-data/detector.link/internal/crc16"
)

// encodeHeader builds the common 4-byte header: DataID, little-endian word
// field, and the ECC byte.
func encodeHeader(pt PacketType, vc uint8, word uint16) [ShortPacketSize]byte {
	var h [ShortPacketSize]byte
	h[0] = vc<<6 | byte(pt)&dataTypeMask
	binary.LittleEndian.PutUint16(h[1:3], word)
	h[3] = eccByte(h[0], h[1], h[2])
	return h
}

// EncodeShort builds a 4-byte short packet. The word field carries the line
// number for LineStart/LineEnd and must be zero for frame packets.
func EncodeShort(pt PacketType, vc uint8, word uint16) ([]byte, error) {
	if vc > MaxVirtualChannel {
		return nil, ErrBadVirtualChannel
	}
	if !pt.IsShort() {
		return nil, ErrBadPacketType
	}
	h := encodeHeader(pt, vc, word)
	return h[:], nil
}

// EncodeLineData builds a long packet from 16-bit pixel samples: header with
// the payload byte length in the word field, little-endian samples, and a
// CRC-16/CCITT trailer computed over the payload bytes only.
func EncodeLineData(vc uint8, pixels []uint16) ([]byte, error) {
	if vc > MaxVirtualChannel {
		return nil, ErrBadVirtualChannel
	}
	n := len(pixels) * BytesPerPixel
	if n > 0xFFFF {
		return nil, ErrPayloadTooLarge
	}

	out := make([]byte, ShortPacketSize+n+crcTrailerSize)
	h := encodeHeader(TypeLineData, vc, uint16(n))
	copy(out, h[:])
	for i, px := range pixels {
		binary.LittleEndian.PutUint16(out[ShortPacketSize+i*BytesPerPixel:], px)
	}
	payload := out[ShortPacketSize : ShortPacketSize+n]
	binary.LittleEndian.PutUint16(out[ShortPacketSize+n:], crc16.Checksum(payload))
	return out, nil
}

// FrameOptions configures full-frame packet generation.
type FrameOptions struct {
	VirtualChannel uint8
	// IncludeLineSync wraps each line's LineData packet with LineStart and
	// LineEnd short packets carrying the 1-based line number. Off by
	// default: most receivers only need the frame bracket.
	IncludeLineSync bool
}

// EncodeFrame generates the packet sequence for one frame of pixel lines:
// exactly one FrameStart, the per-line packets, and exactly one FrameEnd.
func EncodeFrame(lines [][]uint16, opts FrameOptions) ([][]byte, error) {
	vc := opts.VirtualChannel
	if vc > MaxVirtualChannel {
		return nil, ErrBadVirtualChannel
	}

	out := make([][]byte, 0, frameCount(len(lines), opts.IncludeLineSync))

	fs, err := EncodeShort(TypeFrameStart, vc, 0)
	if err != nil {
		return nil, err
	}
	out = append(out, fs)

	for i, line := range lines {
		lineNo := uint16(i + 1)
		if opts.IncludeLineSync {
			ls, err := EncodeShort(TypeLineStart, vc, lineNo)
			if err != nil {
				return nil, err
			}
			out = append(out, ls)
		}
		ld, err := EncodeLineData(vc, line)
		if err != nil {
			return nil, err
		}
		out = append(out, ld)
		if opts.IncludeLineSync {
			le, err := EncodeShort(TypeLineEnd, vc, lineNo)
			if err != nil {
				return nil, err
			}
			out = append(out, le)
		}
	}

	fe, err := EncodeShort(TypeFrameEnd, vc, 0)
	if err != nil {
		return nil, err
	}
	out = append(out, fe)
	return out, nil
}

func frameCount(lines int, lineSync bool) int {
	if lineSync {
		return 2 + 3*lines
	}
	return 2 + lines
}
