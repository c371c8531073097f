package nic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitlab.com/stephen-fox/nicbreak/dma"
	"gitlab.com/stephen-fox/nicbreak/ioport"
)

// lowFrames resolves every address to a frame below 4 GiB.
type lowFrames struct{}

func (lowFrames) GuestPhysical(addr uintptr) (uint64, error) {
	return uint64(addr) & 0xfffffff, nil
}

func testAllocator() *dma.Allocator {
	return dma.NewAllocator(lowFrames{})
}

type failingAllocator struct {
	after int
	mem   *dma.Allocator
}

func (o *failingAllocator) Alloc(size int) (*dma.Region, error) {
	if o.after == 0 {
		return nil, errors.New("out of memory")
	}
	o.after--
	return o.mem.Alloc(size)
}

func TestWait(t *testing.T) {
	calls := 0
	err := Wait(context.Background(), time.Second, func() bool {
		calls++
		return calls == 3
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWait_Timeout(t *testing.T) {
	start := time.Now()
	err := Wait(context.Background(), 50*time.Millisecond, func() bool {
		return false
	})
	require.ErrorIs(t, err, ErrNotReady)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestWait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wait(ctx, time.Second, func() bool {
		return false
	})
	require.ErrorIs(t, err, ErrNotReady)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegions_FreeOnFailure(t *testing.T) {
	_, err := NewRTL8139(ioport.NewRecorder(), &failingAllocator{after: 3, mem: testAllocator()},
		RTL8139Config{Port: 0xc000, RxDescriptors: 4})
	require.Error(t, err)
}
