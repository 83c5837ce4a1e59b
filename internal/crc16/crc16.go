// Package crc16 implements the CRC-16/CCITT checksum shared by the packet
// codec and the frame wire header: polynomial 0x1021, initial value 0xFFFF,
// non-reflected input and output, no final XOR.
package crc16

// Init is the starting register value. The checksum of an empty buffer is
// Init unchanged.
const Init uint16 = 0xFFFF

// table holds the precomputed remainders for every possible high byte.
var table = func() [256]uint16 {
	var t [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// Update feeds data through the CRC register and returns the new value.
// Use Init as the first crc argument; chained calls checksum a logically
// concatenated buffer.
func Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = table[byte(crc>>8)^b] ^ (crc << 8)
	}
	return crc
}

// Checksum returns the CRC-16/CCITT of data.
func Checksum(data []byte) uint16 {
	return Update(Init, data)
}
