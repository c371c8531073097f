package fcs

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum(t *testing.T) {
	// The standard check value for "123456789" is 0xcbf43926,
	// the raw register is its complement.
	require.Equal(t, ^uint32(0xcbf43926), Sum([]byte("123456789")))

	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 32; i++ {
		p := make([]byte, rnd.Intn(2048))
		rnd.Read(p)
		require.Equal(t, ^crc32.ChecksumIEEE(p), Sum(p))
	}
}

func TestTable(t *testing.T) {
	require.Equal(t, uint32(0x77073096), table[1])
	require.Equal(t, uint32(0x2d02ef8d), table[255])

	seen := make(map[byte]bool)
	for _, entry := range table {
		seen[byte(entry>>24)] = true
	}
	require.Len(t, seen, 256)
}

func testFrames() map[string][]byte {
	rnd := rand.New(rand.NewSource(42))

	random := make([]byte, 1514)
	rnd.Read(random)

	pcnet := make([]byte, 4096)
	copy(pcnet, []byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56, 0x52, 0x54, 0x00, 0x12, 0x34, 0x56, 0x08, 0x00})
	for i := 0x10 * 8; i < 0x1f8*8; i += 8 {
		binary.LittleEndian.PutUint64(pcnet[i:], 0x414141414141+uint64(i))
	}

	return map[string][]byte{
		"empty prefix": make([]byte, 4),
		"zeros":        make([]byte, 64),
		"ones":         bytesOf(0xff, 128),
		"random":       random,
		"pcnet":        pcnet,
	}
}

func bytesOf(b byte, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestForge(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))

	targets := []uint32{0, 0xffffffff, 0xdeadbeef, 0x12345678, 0x80000000, 1}
	for i := 0; i < 16; i++ {
		targets = append(targets, rnd.Uint32())
	}

	for name, frame := range testFrames() {
		for _, target := range targets {
			err := Forge(frame, target)
			require.NoError(t, err)
			require.Equalf(t, target, Sum(frame), "frame %q target 0x%08x", name, target)
		}
	}
}

func TestPatchTrailer(t *testing.T) {
	for name, frame := range testFrames() {
		prefix := frame[:len(frame)-TrailerSize]
		current := Sum(prefix)

		for _, target := range []uint32{0, 0xffffffff, 0xcafebabe} {
			patch := PatchTrailer(current, target)
			require.Equalf(t, target, Update(current, patch[:]), "frame %q", name)
		}
	}
}

func TestForgeShortFrame(t *testing.T) {
	err := Forge(make([]byte, 3), 0)
	require.True(t, errors.Is(err, ErrShortFrame))
}

func TestStoredTarget(t *testing.T) {
	low := uint32(0x56551234)
	target := StoredTarget(low)

	stored := Stored(target)
	require.Equal(t, low, binary.LittleEndian.Uint32(stored[:]))
}
