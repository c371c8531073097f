// Package pagemap translates process addresses to guest-physical and
// host-reachable addresses using the kernel's per-process page map.
//
// Each 8-byte little-endian page map entry describes one virtual page.
// Bit 63 reports whether the page is present, and bits 0-54 hold the
// frame number. Entries are read on every call. A page may be remapped
// at any time, so results are never cached.
package pagemap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/apex/log"
	"golang.org/x/sys/unix"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1

	// SelfPath is the page map of the calling process.
	SelfPath = "/proc/self/pagemap"

	entrySize   = 8
	presentBit  = uint64(1) << 63
	frameNumber = uint64(1)<<55 - 1
)

var (
	// ErrTranslationFailed means the page backing an address is
	// not present.
	ErrTranslationFailed = errors.New("page is not present")

	// ErrTranslationRequired means an address was requested before
	// the base it depends on was recovered. For a Translator, that
	// base is the host address of guest physical memory.
	ErrTranslationRequired = errors.New("base address has not been recovered")

	DefaultExitFn = func(err error) {
		log.Fatal(err.Error())
	}
)

// Frame is the physical frame backing a virtual address.
type Frame struct {
	Number uint64
	Offset uint64
}

// Physical returns the guest-physical address the frame describes.
func (o Frame) Physical() uint64 {
	return o.Number<<PageShift | o.Offset
}

// EntryOffset returns the byte offset of the page map entry that
// describes addr.
func EntryOffset(addr uintptr) int64 {
	return int64((uint64(addr) >> (PageShift - 3)) &^ (entrySize - 1))
}

// Entry returns the page map entry for a present frame. It is the
// inverse of Translate and is mostly useful for building synthetic
// page maps.
func Entry(frameNum uint64) uint64 {
	return presentBit | frameNum&frameNumber
}

// New returns a Translator that reads entries from r. hostPhysBase is
// the host-side address of guest-physical address zero. Zero means
// it is not known yet; see SetHostPhysBase.
func New(r io.ReaderAt, hostPhysBase uint64) *Translator {
	return &Translator{
		entries:      r,
		hostPhysBase: hostPhysBase,
	}
}

func OpenSelfOrExit(hostPhysBase uint64) *Translator {
	t, err := OpenSelf(hostPhysBase)
	if err != nil {
		DefaultExitFn(err)
	}
	return t
}

// OpenSelf opens the page map of the calling process. The caller must
// call Close when finished.
func OpenSelf(hostPhysBase uint64) (*Translator, error) {
	fd, err := unix.Open(SelfPath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s - %w", SelfPath, err)
	}

	f := &file{fd: fd}

	t := New(f, hostPhysBase)
	t.closer = f

	return t, nil
}

// Translator maps process addresses to physical frames.
type Translator struct {
	entries      io.ReaderAt
	closer       io.Closer
	hostPhysBase uint64
}

// SetHostPhysBase sets the host-side address of guest-physical
// address zero.
func (o *Translator) SetHostPhysBase(base uint64) {
	o.hostPhysBase = base
}

// HostPhysBase returns the host-side address of guest-physical
// address zero, and whether it is known.
func (o *Translator) HostPhysBase() (uint64, bool) {
	return o.hostPhysBase, o.hostPhysBase != 0
}

func (o *Translator) TranslateOrExit(addr uintptr) Frame {
	f, err := o.Translate(addr)
	if err != nil {
		DefaultExitFn(err)
	}
	return f
}

// Translate returns the physical frame that backs addr.
func (o *Translator) Translate(addr uintptr) (Frame, error) {
	var raw [entrySize]byte

	offset := EntryOffset(addr)

	n, err := o.entries.ReadAt(raw[:], offset)
	if n != entrySize || (err != nil && !errors.Is(err, io.EOF)) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, fmt.Errorf("failed to read page map entry for 0x%x at offset 0x%x - %w",
			addr, offset, err)
	}

	entry := binary.LittleEndian.Uint64(raw[:])
	if entry&presentBit == 0 {
		return Frame{}, fmt.Errorf("failed to translate 0x%x (entry 0x%016x) - %w",
			addr, entry, ErrTranslationFailed)
	}

	return Frame{
		Number: entry & frameNumber,
		Offset: uint64(addr) & PageMask,
	}, nil
}

func (o *Translator) GuestPhysicalOrExit(addr uintptr) uint64 {
	phys, err := o.GuestPhysical(addr)
	if err != nil {
		DefaultExitFn(err)
	}
	return phys
}

// GuestPhysical returns the guest-physical address of addr.
func (o *Translator) GuestPhysical(addr uintptr) (uint64, error) {
	frame, err := o.Translate(addr)
	if err != nil {
		return 0, err
	}

	return frame.Physical(), nil
}

// HostReachable returns the address at which the host process sees
// the memory at addr.
func (o *Translator) HostReachable(addr uintptr) (uint64, error) {
	if o.hostPhysBase == 0 {
		return 0, ErrTranslationRequired
	}

	phys, err := o.GuestPhysical(addr)
	if err != nil {
		return 0, err
	}

	return phys + o.hostPhysBase, nil
}

// Close releases the page map file if the Translator opened it.
func (o *Translator) Close() error {
	if o.closer == nil {
		return nil
	}

	err := o.closer.Close()
	o.closer = nil

	return err
}

type file struct {
	fd int
}

func (o *file) ReadAt(p []byte, off int64) (int, error) {
	n, err := unix.Pread(o.fd, p, off)
	if err != nil {
		return 0, err
	}

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (o *file) Close() error {
	return unix.Close(o.fd)
}
