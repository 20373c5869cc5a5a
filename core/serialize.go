package core

import (
	"encoding/binary"
	"hash/crc32"
	"math"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes a CRC32-C over the little-endian encoding of words.
// Two regions holding bit-identical parameters produce the same checksum.
func Checksum(words []float64) uint32 {
	var buf [WordSize]byte
	crc := uint32(0)
	for _, w := range words {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(w))
		crc = crc32.Update(crc, crcTable, buf[:])
	}
	return crc
}

// Int decodes an integral packed word.
func Int(w float64) int { return int(w) }
