// Package nic drives emulated network adapters through their
// descriptor rings.
//
// A ring is a sequence of descriptors in guest memory, each pointing at
// a buffer. The driver hands a descriptor to the device by setting its
// ownership bit. The device clears the bit when it is done with the
// buffer. That transition is the only synchronization between the two
// sides.
package nic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/cenkalti/backoff"

	"gitlab.com/stephen-fox/nicbreak/dma"
)

const (
	// DefaultSettle is how long to wait for a device to process
	// a request when the caller does not say otherwise.
	DefaultSettle = 2 * time.Second

	// MaxSettle caps every wait.
	MaxSettle = 30 * time.Second
)

var (
	// ErrNotReady is returned by Wait when the device did not
	// finish in time.
	ErrNotReady = errors.New("device did not finish processing")

	DefaultExitFn = func(err error) {
		log.Fatal(err.Error())
	}
)

// Allocator provides DMA reachable memory. *dma.Allocator implements it.
type Allocator interface {
	Alloc(size int) (*dma.Region, error)
}

// Wait polls done with an exponential backoff until it returns true,
// limit elapses or ctx is done. limit is clamped to (0, MaxSettle].
func Wait(ctx context.Context, limit time.Duration, done func() bool) error {
	if limit <= 0 {
		limit = DefaultSettle
	}

	if limit > MaxSettle {
		limit = MaxSettle
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = limit

	err := backoff.Retry(func() error {
		if done() {
			return nil
		}
		return ErrNotReady
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w - %w", ErrNotReady, ctx.Err())
		}
		return fmt.Errorf("gave up after %s - %w", limit, ErrNotReady)
	}

	return nil
}

type regions []*dma.Region

func (o *regions) alloc(mem Allocator, size int) (*dma.Region, error) {
	r, err := mem.Alloc(size)
	if err != nil {
		return nil, err
	}

	*o = append(*o, r)

	return r, nil
}

func (o *regions) free() error {
	var first error
	for _, r := range *o {
		err := r.Free()
		if err != nil && first == nil {
			first = err
		}
	}

	*o = nil

	return first
}
