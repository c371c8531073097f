package leak

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSignatures() Signatures {
	return Signatures{
		Code: CodeSignature{
			Mask:    0xfffff00000000000,
			Match:   0x500000000000,
			Offsets: []uint64{0x943460, 0x943220, 0x943120, 0x399982, 0xfb737, 0xb02e1},
		},
		Phys: PhysSignature{
			Mask:       0xfffff00000000000,
			Match:      0x700000000000,
			AlignMask:  0xffffffffff000000,
			RegionSize: 0x80000000,
		},
		Heap: HeapSignature{
			RegionMask:  0xffff00000000,
			MinDistance: 0xde2000,
			Offsets:     []uint64{0xb1f80, 0x11a3dc8, 0x14a31c0, 0x14fb60},
		},
	}
}

func bufWithWords(size int, words map[int]uint64) []byte {
	buf := make([]byte, size)
	for offset, value := range words {
		binary.LittleEndian.PutUint64(buf[offset:], value)
	}
	return buf
}

func TestScanner_ScanCodeSyntheticOffset(t *testing.T) {
	sigs := testSignatures()
	sigs.Code.Offsets = []uint64{0x100, 0x345}

	buf := bufWithWords(4096, map[int]uint64{0x200: 0x0000500000012345})

	base, ok := NewScanner(sigs).ScanCode(buf)
	require.True(t, ok)
	require.Equal(t, uint64(0x0000500000012000), base)
}

func TestScanner_ScanCodeAnyPage(t *testing.T) {
	scanner := NewScanner(testSignatures())

	for k := uint64(0); k < 64; k++ {
		codeBase := uint64(0x555555550000) + k*0x1000
		buf := bufWithWords(1514, map[int]uint64{
			0x10:  0x4141414141414141,
			0x3a8: codeBase + 0xfb737,
		})

		base, ok := scanner.ScanCode(buf)
		require.True(t, ok)
		require.Equal(t, codeBase, base)
	}
}

func TestScanner_ScanCodeOffsetOrder(t *testing.T) {
	sigs := testSignatures()
	// Both offsets page align the candidate, the first listed wins.
	sigs.Code.Offsets = []uint64{0x1460, 0x460}

	buf := bufWithWords(64, map[int]uint64{8: 0x555555553460})

	base, ok := NewScanner(sigs).ScanCode(buf)
	require.True(t, ok)
	require.Equal(t, uint64(0x555555552000), base)
}

func TestScanner_ScanCodeNotFound(t *testing.T) {
	scanner := NewScanner(testSignatures())

	_, ok := scanner.ScanCode(make([]byte, 4096))
	require.False(t, ok)

	// Right region, but no offset page aligns it.
	_, ok = scanner.ScanCode(bufWithWords(4096, map[int]uint64{0: 0x555555550001}))
	require.False(t, ok)

	// Unaligned windows are not examined.
	buf := make([]byte, 64)
	binary.LittleEndian.PutUint64(buf[4:], 0x555555550000+0xfb737)
	_, ok = scanner.ScanCode(buf)
	require.False(t, ok)
}

func TestScanner_ScanSkipsLastWord(t *testing.T) {
	scanner := NewScanner(testSignatures())

	buf := bufWithWords(4096, map[int]uint64{4088: 0x555555550000 + 0xfb737})
	_, ok := scanner.ScanCode(buf)
	require.False(t, ok)

	buf = bufWithWords(4096, map[int]uint64{4080: 0x555555550000 + 0xfb737})
	_, ok = scanner.ScanCode(buf)
	require.True(t, ok)

	_, ok = scanner.ScanCode(make([]byte, 7))
	require.False(t, ok)
}

func TestScanner_ScanPhys(t *testing.T) {
	scanner := NewScanner(testSignatures())

	buf := bufWithWords(1514, map[int]uint64{
		0x40: 0x555555551000,
		0x80: 0x7f0080001234,
		0x88: 0x7fffffffe000,
	})

	base, ok := scanner.ScanPhys(buf)
	require.True(t, ok)
	require.Equal(t, uint64(0x7f0000000000), base)

	_, ok = scanner.ScanPhys(bufWithWords(256, map[int]uint64{0: 0x600000000000}))
	require.False(t, ok)
}

func TestScanner_ScanHeap(t *testing.T) {
	scanner := NewScanner(testSignatures())
	codeBase := uint64(0x555555550000)
	heapBase := uint64(0x555556550000)

	buf := bufWithWords(1514, map[int]uint64{
		// Code segment pointer, too close to the code base.
		0x08: codeBase + 0xb1f80,
		// Different region.
		0x10: 0x7f0000000000 + 0xb1f80,
		0x18: heapBase + 0x14fb60,
	})

	base, ok := scanner.ScanHeap(buf, codeBase)
	require.True(t, ok)
	require.Equal(t, heapBase, base)

	_, ok = scanner.ScanHeap(buf[:0x18], codeBase)
	require.False(t, ok)
}

func TestScanner_ScanHeapBelowCode(t *testing.T) {
	scanner := NewScanner(testSignatures())
	codeBase := uint64(0x555555550000)
	heapBase := codeBase - 0x2000000

	buf := bufWithWords(64, map[int]uint64{
		// Same as the code base.
		0x00: codeBase,
		0x08: heapBase + 0x14fb60,
	})

	base, ok := scanner.ScanHeap(buf, codeBase)
	require.True(t, ok)
	require.Equal(t, heapBase, base)
}

func TestScanner_ScanHeapRequiresCode(t *testing.T) {
	scanner := NewScanner(testSignatures())

	_, _, err := scanner.Scan(make([]byte, 64), HeapBase, Bases{})
	require.True(t, errors.Is(err, ErrCodeBaseRequired))
}

func TestScanner_FindAll(t *testing.T) {
	scanner := NewScanner(testSignatures())
	codeBase := uint64(0x555555550000)

	bufs := [][]byte{
		make([]byte, 1514),
		bufWithWords(1514, map[int]uint64{0x100: 0x7f0080001234}),
		bufWithWords(1514, map[int]uint64{0x20: codeBase + 0x943460}),
		bufWithWords(1514, map[int]uint64{0x30: codeBase + 0x1000000 + 0x11a3dc8}),
	}

	bases, err := scanner.FindAll(bufs)
	require.NoError(t, err)
	require.True(t, bases.Complete())
	require.Equal(t, Bases{
		Code:    codeBase,
		PhysMem: 0x7f0000000000,
		Heap:    codeBase + 0x1000000,
	}, bases)
}

func TestScanner_FindNotFound(t *testing.T) {
	scanner := NewScanner(testSignatures())

	bufs := [][]byte{
		bufWithWords(1514, map[int]uint64{0x20: 0x555555550000 + 0x943460}),
	}

	bases, err := scanner.FindAll(bufs)
	require.True(t, errors.Is(err, ErrBaseNotFound))
	require.Contains(t, err.Error(), "phys")
	require.Equal(t, uint64(0x555555550000), bases.Code)
	require.False(t, bases.Complete())
}
