package ioport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Open raises the I/O privilege level of the calling thread so that
// in and out instructions can be executed, and returns a Port that
// executes them directly.
//
// The privilege level is per thread. Callers must lock the goroutine
// to its OS thread (runtime.LockOSThread) before calling Open and
// keep it locked for as long as the Port is used.
func Open() (Port, error) {
	err := unix.Iopl(3)
	if err != nil {
		return nil, fmt.Errorf("failed to raise i/o privilege level - %w", err)
	}

	return raw{}, nil
}

type raw struct{}

func (raw) In8(port uint16) uint8 { return inb(port) }
func (raw) In16(port uint16) uint16 { return inw(port) }
func (raw) In32(port uint16) uint32 { return inl(port) }
func (raw) Out8(port uint16, value uint8) { outb(port, value) }
func (raw) Out16(port uint16, value uint16) { outw(port, value) }
func (raw) Out32(port uint16, value uint32) { outl(port, value) }

func inb(port uint16) uint8
func inw(port uint16) uint16
func inl(port uint16) uint32
func outb(port uint16, value uint8)
func outw(port uint16, value uint16)
func outl(port uint16, value uint32)
