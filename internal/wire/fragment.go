package wire

import (
	"errors"
	"fmt"
)

// DefaultFragmentPayload keeps header + payload inside a typical UDP MTU.
const DefaultFragmentPayload = 1400

// FragmentConfig describes the frame being split into fragments.
type FragmentConfig struct {
	FrameID     uint32
	Rows        uint16
	Cols        uint16
	BitDepth    uint8
	TimestampNs uint64
	// Flags is ORed into every fragment header; FlagLastPacket is managed
	// by the fragmenter itself.
	Flags uint8
	// PayloadSize is the maximum payload bytes per fragment. Zero selects
	// DefaultFragmentPayload.
	PayloadSize int
}

var (
	ErrEmptyPayload      = errors.New("wire: cannot fragment empty payload")
	ErrTooManyFragments  = errors.New("wire: fragment count exceeds 16-bit sequence space")
	ErrBadFragmentConfig = errors.New("wire: invalid fragment config")
)

// FragmentFrame splits an encoded frame payload into header-framed wire
// packets. Fragments are numbered from packetSeq 0 and the final fragment
// carries FlagLastPacket.
func FragmentFrame(payload []byte, cfg FragmentConfig) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	size := cfg.PayloadSize
	if size == 0 {
		size = DefaultFragmentPayload
	}
	if size < 1 {
		return nil, fmt.Errorf("%w: payload size %d", ErrBadFragmentConfig, size)
	}

	total := (len(payload) + size - 1) / size
	if total > 0xFFFF {
		return nil, ErrTooManyFragments
	}

	out := make([][]byte, 0, total)
	for seq := 0; seq < total; seq++ {
		start := seq * size
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}

		h := FrameHeader{
			FrameID:      cfg.FrameID,
			PacketSeq:    uint16(seq),
			TotalPackets: uint16(total),
			TimestampNs:  cfg.TimestampNs,
			Rows:         cfg.Rows,
			Cols:         cfg.Cols,
			BitDepth:     cfg.BitDepth,
			Flags:        cfg.Flags,
		}
		if seq == total-1 {
			h.Flags |= FlagLastPacket
		}

		hb, err := h.MarshalBinary()
		if err != nil {
			return nil, err
		}
		pkt := make([]byte, 0, HeaderSize+(end-start))
		pkt = append(pkt, hb...)
		pkt = append(pkt, payload[start:end]...)
		out = append(out, pkt)
	}
	return out, nil
}
