package dma

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/stephen-fox/nicbreak/pagemap"
)

// lowFrames resolves every address to a frame below 4 GiB.
type lowFrames struct{}

func (lowFrames) GuestPhysical(addr uintptr) (uint64, error) {
	return uint64(addr) & 0xfffffff, nil
}

func TestAllocator_Alloc(t *testing.T) {
	region, err := NewAllocator(lowFrames{}).Alloc(1514)
	require.NoError(t, err)
	defer region.Free()

	require.Len(t, region.Bytes(), 1514)
	require.Zero(t, region.Addr(0)&pagemap.PageMask)

	region.Bytes()[10] = 0x41

	phys, err := region.Physical(16)
	require.NoError(t, err)
	require.Equal(t, uint64(region.Addr(16))&0xfffffff, phys)

	phys32, err := region.Physical32(0)
	require.NoError(t, err)
	require.Equal(t, uint32(uint64(region.Addr(0))&0xfffffff), phys32)

	_, err = region.Physical(pagemap.PageSize)
	require.Error(t, err)

	require.NoError(t, region.Free())
	require.NoError(t, region.Free())
}

func TestAllocator_AllocInvalid(t *testing.T) {
	_, err := NewAllocator(lowFrames{}).Alloc(0)
	require.Error(t, err)
}

type highFrames struct{}

func (highFrames) GuestPhysical(addr uintptr) (uint64, error) {
	return 0x100000000 | uint64(addr)&pagemap.PageMask, nil
}

func TestRegion_Physical32(t *testing.T) {
	region, err := NewAllocator(highFrames{}).Alloc(16)
	require.NoError(t, err)
	defer region.Free()

	_, err = region.Physical32(0)
	require.Error(t, err)
}
