// Package dma allocates guest memory that emulated devices can reach
// by DMA.
//
// Devices address memory by guest-physical address, and consecutive
// virtual pages are rarely consecutive physical frames. Each Region is
// therefore mapped on its own, page aligned, and must not be used for
// device buffers that span more than one page.
package dma

import (
	"fmt"
	"unsafe"

	"github.com/apex/log"
	"golang.org/x/sys/unix"

	"gitlab.com/stephen-fox/nicbreak/pagemap"
)

// Resolver translates process addresses to guest-physical addresses.
// *pagemap.Translator implements it.
type Resolver interface {
	GuestPhysical(addr uintptr) (uint64, error)
}

// NewAllocator returns an Allocator whose regions are resolved
// with r.
func NewAllocator(r Resolver) *Allocator {
	return &Allocator{
		resolver: r,
	}
}

// Allocator maps page aligned, populated regions.
type Allocator struct {
	resolver Resolver
}

// Alloc maps size bytes rounded up to whole pages. The pages are
// populated immediately so that they have frames, and locked when the
// memory lock limit allows it.
func (o *Allocator) Alloc(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size: %d", size)
	}

	mapped := (size + pagemap.PageMask) &^ pagemap.PageMask

	mem, err := unix.Mmap(-1, 0, mapped,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE)
	if err != nil {
		return nil, fmt.Errorf("failed to map %d bytes - %w", mapped, err)
	}

	err = unix.Mlock(mem)
	if err != nil {
		log.WithError(err).Warn("failed to lock dma region, pages may move")
	}

	return &Region{
		mem:      mem,
		size:     size,
		resolver: o.resolver,
	}, nil
}

// Region is a page aligned mapping.
type Region struct {
	mem      []byte
	size     int
	resolver Resolver
}

// Bytes returns the requested bytes of the region.
func (o *Region) Bytes() []byte {
	return o.mem[:o.size]
}

// Addr returns the process address of byte off.
func (o *Region) Addr(off int) uintptr {
	return uintptr(unsafe.Pointer(&o.mem[0])) + uintptr(off)
}

// Physical returns the guest-physical address of byte off.
func (o *Region) Physical(off int) (uint64, error) {
	if off < 0 || off >= len(o.mem) {
		return 0, fmt.Errorf("offset %d is outside of %d byte region", off, len(o.mem))
	}

	return o.resolver.GuestPhysical(o.Addr(off))
}

// Physical32 returns the guest-physical address of byte off for
// devices that only take 32-bit addresses.
func (o *Region) Physical32(off int) (uint32, error) {
	phys, err := o.Physical(off)
	if err != nil {
		return 0, err
	}

	if phys > 0xffffffff {
		return 0, fmt.Errorf("guest-physical address 0x%x does not fit in 32 bits", phys)
	}

	return uint32(phys), nil
}

// Free unmaps the region.
func (o *Region) Free() error {
	if o.mem == nil {
		return nil
	}

	err := unix.Munmap(o.mem)
	o.mem = nil

	return err
}
