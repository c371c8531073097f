// Package fcs computes and forges the frame check sequence used by
// legacy Ethernet controllers.
//
// The checksum is the AUTODIN-II CRC-32 in its reflected, table-driven
// form. Controllers such as the PCnet keep the raw shift register: it
// starts at all ones and is not inverted at the end. Sum returns that
// raw register, which is also what the controller stores after a frame
// (in big-endian byte order).
package fcs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math/bits"
)

// TrailerSize is the size of the frame check sequence in bytes.
const TrailerSize = 4

var (
	// ErrShortFrame is returned for frames that cannot hold a trailer.
	ErrShortFrame = errors.New("frame is shorter than its trailer")

	table = crc32.MakeTable(crc32.IEEE)

	// byTopByte maps the most significant byte of a table entry back
	// to its index. The top bytes of a CRC table are a permutation
	// of 0-255.
	byTopByte [256]byte
)

func init() {
	for i, entry := range table {
		byTopByte[entry>>24] = byte(i)
	}
}

// Update feeds p into the raw register crc.
func Update(crc uint32, p []byte) uint32 {
	for _, b := range p {
		crc = crc>>8 ^ table[byte(crc)^b]
	}
	return crc
}

// Sum returns the raw register after feeding p into an all-ones
// register.
func Sum(p []byte) uint32 {
	return Update(^uint32(0), p)
}

// PatchTrailer returns the four bytes that move the register from
// current to target. current is the register after the bytes that
// precede the patch.
//
// The table is applied backwards. The top byte of the register after
// the last patch byte is the top byte of the last table entry used,
// which identifies that entry. Removing it exposes the top byte of
// the previous entry, and so on. The indices found this way are the
// low register bytes the patch must produce.
func PatchTrailer(current uint32, target uint32) [TrailerSize]byte {
	w := uint64(target)<<32 | uint64(current)

	for i := 0; i < TrailerSize; i++ {
		j := byTopByte[byte(w>>(56-8*i))]
		w ^= uint64(table[j]) << (32 - 8*i)
		w ^= uint64(j) << (24 - 8*i)
	}

	var patch [TrailerSize]byte
	binary.LittleEndian.PutUint32(patch[:], uint32(w))

	return patch
}

// Forge overwrites the last four bytes of frame so that Sum over the
// whole frame equals target.
func Forge(frame []byte, target uint32) error {
	if len(frame) < TrailerSize {
		return fmt.Errorf("frame is %d bytes - %w", len(frame), ErrShortFrame)
	}

	end := len(frame) - TrailerSize
	patch := PatchTrailer(Sum(frame[:end]), target)
	copy(frame[end:], patch[:])

	return nil
}

// StoredTarget returns the register value that a controller stores as
// word when it writes the register in network byte order and the word
// is read back as little-endian.
func StoredTarget(word uint32) uint32 {
	return bits.ReverseBytes32(word)
}

// Stored returns the four bytes a controller writes after a frame
// whose register is crc.
func Stored(crc uint32) [TrailerSize]byte {
	var b [TrailerSize]byte
	binary.BigEndian.PutUint32(b[:], crc)
	return b
}
