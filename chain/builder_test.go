package chain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/stephen-fox/nicbreak/memory"
)

const (
	testCode = uint64(0x555555550000)
	testHeap = uint64(0x555555560000)
	testPhys = uint64(0x7f0000000000)
)

func word(buf []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(buf[offset:])
}

func TestBuilder_Handler(t *testing.T) {
	buf := make([]byte, 4096)
	b := NewBuilder(buf, 0x100, 0x12890f0, memory.PointerMakerForX86_64())

	err := b.Handler(0x12890f0, testCode+0x285b85, testHeap+0x1289140, 11)
	require.NoError(t, err)

	require.Equal(t, testCode+0x285b85, word(buf, 0x100+48))
	require.Equal(t, testHeap+0x1289140, word(buf, 0x100+56))
	require.Equal(t, uint64(11), word(buf, 0x100+64))

	// Nothing else was touched.
	clear(buf[0x100+48 : 0x100+72])
	require.Equal(t, make([]byte, 4096), buf)
}

func TestBuilder_ObjectPair(t *testing.T) {
	buf := make([]byte, 4096)
	b := NewBuilder(buf, 250*8, 0x12890f0, memory.PointerMakerForX86_64())

	err := b.ObjectPair(0x1289140, testHeap+0x1289160, testHeap+0x12891f0)
	require.NoError(t, err)

	index, err := b.Index(0x1289140)
	require.NoError(t, err)
	require.Equal(t, 10, index)

	require.Equal(t, testHeap+0x1289160, word(buf, (250+10)*8))
	require.Equal(t, testHeap+0x12891f0, word(buf, (250+11)*8))
}

func TestBuilder_Errors(t *testing.T) {
	buf := make([]byte, 512)
	b := NewBuilder(buf, 0x100, 0x1000, memory.PointerMakerForX86_64())

	err := b.Handler(0x1004, 1, 2, 3)
	require.True(t, errors.Is(err, ErrMisaligned))

	err = b.ObjectPair(0xff8, 1, 2)
	require.True(t, errors.Is(err, ErrMisaligned))

	// Index 24 puts the handler words at 0x100+(24+6)*8 = 496..520.
	err = b.Handler(0x1000+24*8, 1, 2, 3)
	require.True(t, errors.Is(err, ErrOutOfRange))

	err = b.Handler(0x1000+23*8, 1, 2, 3)
	require.NoError(t, err)

	err = b.Spray(60, 66, 0, 0)
	require.True(t, errors.Is(err, ErrOutOfRange))

	err = b.Spray(4, 2, 0, 0)
	require.Error(t, err)
}

func TestBuilder_Spray(t *testing.T) {
	buf := make([]byte, 4096)
	b := NewBuilder(buf, 250*8, 0x12890f0, memory.PointerMakerForX86_64())

	err := b.Spray(0x10, 0x1f8, 0x414141414141, testHeap+0x12889b0)
	require.NoError(t, err)

	require.Equal(t, make([]byte, 0x10*8), buf[:0x10*8])
	require.Equal(t, uint64(0x414141414141), word(buf, 0x10*8))
	require.Equal(t, testHeap+0x12889b0, word(buf, 0x11*8))
	require.Equal(t, uint64(0x414141414141+1), word(buf, 0x12*8))
	require.Equal(t, uint64(0x414141414141+(0x1f6-0x10)/2), word(buf, 0x1f6*8))
	require.Equal(t, testHeap+0x12889b0, word(buf, 0x1f7*8))
	require.Equal(t, make([]byte, 4096-0x1f8*8), buf[0x1f8*8:])
}

func TestBuilder_Idempotent(t *testing.T) {
	write := func(buf []byte) {
		b := NewBuilder(buf, 0x100, 0x12890f0, memory.PointerMakerForX86_64())
		require.NoError(t, b.Handler(0x12890f0, testCode+0x285b85, testHeap+0x1289140, 11))
		require.NoError(t, b.ObjectPair(0x1289140, testHeap+0x1289160, testHeap+0x12891f0))
		require.NoError(t, b.Handler(0x12891a0, testCode+0xa7bd0, testPhys, 0x80000000))
	}

	once := make([]byte, 4096)
	write(once)

	twice := make([]byte, 4096)
	write(twice)
	write(twice)

	require.True(t, bytes.Equal(once, twice))
}
