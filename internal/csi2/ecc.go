package csi2

import "math/bits"

// The header ECC is the CSI-2 Hamming(6,24) code: six parity bits computed
// over the 24 header bits (DataID byte then the word field, LSB first).
// Each mask selects the data bits covered by one parity bit.
var eccParityMasks = [6]uint32{
	0xF12CB7, // P0
	0xF2555B, // P1
	0x749A6D, // P2
	0xB8E38E, // P3
	0xDF03F0, // P4
	0xEFFC00, // P5
}

const (
	// eccMask confines the code to the low 6 bits; the top 2 bits of the
	// ECC byte are always zero on the wire.
	eccMask      = 0x3F
	dataTypeMask = 0x3F

	crcTrailerSize = 2
)

// eccByte computes the 6-bit header code over the three header bytes.
// Identical inputs always yield identical codes.
func eccByte(dataID, wordLo, wordHi byte) byte {
	d := uint32(dataID) | uint32(wordLo)<<8 | uint32(wordHi)<<16
	var ecc byte
	for i, mask := range eccParityMasks {
		ecc |= byte(bits.OnesCount32(d&mask)&1) << i
	}
	return ecc
}
