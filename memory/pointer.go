package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when a word does not fit in the
	// buffer at the requested offset.
	ErrOutOfRange = errors.New("word is out of range")
)

// PointerMakerForX86_32 returns a PointerMaker for 32-bit x86 targets.
func PointerMakerForX86_32() PointerMaker {
	return PointerMaker{
		byteOrder: binary.LittleEndian,
		ptrSize:   4,
	}
}

// PointerMakerForX86_64 returns a PointerMaker for 64-bit x86 targets.
func PointerMakerForX86_64() PointerMaker {
	return PointerMaker{
		byteOrder: binary.LittleEndian,
		ptrSize:   8,
	}
}

func PointerMakerForOrExit(endianness binary.ByteOrder, pointerSize int) PointerMaker {
	pm, err := PointerMakerFor(endianness, pointerSize)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to create pointer maker - %w", err))
	}
	return pm
}

// PointerMakerFor returns a PointerMaker for a target with the given
// byte order and pointer size. Only 4 and 8 byte pointers are supported.
func PointerMakerFor(endianness binary.ByteOrder, pointerSize int) (PointerMaker, error) {
	if endianness == nil {
		return PointerMaker{}, fmt.Errorf("endianness cannot be nil")
	}

	switch pointerSize {
	case 4, 8:
	default:
		return PointerMaker{}, fmt.Errorf("unsupported pointer size: %d", pointerSize)
	}

	return PointerMaker{
		byteOrder: endianness,
		ptrSize:   pointerSize,
	}, nil
}

// PointerMaker encodes and decodes machine words for a target platform.
type PointerMaker struct {
	byteOrder binary.ByteOrder
	ptrSize   int
}

// Size returns the size of a pointer in bytes.
func (o PointerMaker) Size() int {
	return o.ptrSize
}

// FromUint returns the byte image of address. Addresses wider than the
// pointer size are truncated.
func (o PointerMaker) FromUint(address uint64) Pointer {
	out := make([]byte, o.ptrSize)
	o.put(out, address)
	return Pointer{
		raw:       out,
		byteOrder: o.byteOrder,
	}
}

// PutAt writes address as one word at offset in b.
func (o PointerMaker) PutAt(b []byte, offset int, address uint64) error {
	if offset < 0 || offset+o.ptrSize > len(b) {
		return fmt.Errorf("cannot write %d bytes at offset %d of %d byte buffer - %w",
			o.ptrSize, offset, len(b), ErrOutOfRange)
	}

	o.put(b[offset:offset+o.ptrSize], address)

	return nil
}

// ReadAt decodes the word at offset in b.
func (o PointerMaker) ReadAt(b []byte, offset int) (uint64, error) {
	if offset < 0 || offset+o.ptrSize > len(b) {
		return 0, fmt.Errorf("cannot read %d bytes at offset %d of %d byte buffer - %w",
			o.ptrSize, offset, len(b), ErrOutOfRange)
	}

	return o.get(b[offset : offset+o.ptrSize]), nil
}

func (o PointerMaker) put(b []byte, address uint64) {
	switch o.ptrSize {
	case 4:
		o.byteOrder.PutUint32(b, uint32(address))
	case 8:
		o.byteOrder.PutUint64(b, address)
	default:
		panic(fmt.Sprintf("unsupported pointer size: %d", o.ptrSize))
	}
}

func (o PointerMaker) get(b []byte) uint64 {
	switch o.ptrSize {
	case 4:
		return uint64(o.byteOrder.Uint32(b))
	case 8:
		return o.byteOrder.Uint64(b)
	default:
		panic(fmt.Sprintf("unsupported pointer size: %d", o.ptrSize))
	}
}

// Pointer is the byte image of an address on the target.
type Pointer struct {
	raw       []byte
	byteOrder binary.ByteOrder
}

// Bytes returns the pointer as it would be stored in target memory.
func (o Pointer) Bytes() []byte {
	return o.raw
}

// Uint returns the address the pointer refers to.
func (o Pointer) Uint() uint64 {
	switch len(o.raw) {
	case 4:
		return uint64(o.byteOrder.Uint32(o.raw))
	case 8:
		return o.byteOrder.Uint64(o.raw)
	default:
		return 0
	}
}

func (o Pointer) HexString() string {
	return fmt.Sprintf("0x%x", o.Uint())
}
