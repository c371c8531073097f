// Package ioport accesses x86 port-mapped device registers.
package ioport

import (
	"fmt"

	"github.com/apex/log"
)

var (
	DefaultExitFn = func(err error) {
		log.Fatal(err.Error())
	}
)

// Port reads and writes device registers. Register widths are part of
// the device protocol: a 16-bit register must be accessed with In16
// and Out16, not with two byte accesses.
type Port interface {
	In8(port uint16) uint8
	In16(port uint16) uint16
	In32(port uint16) uint32
	Out8(port uint16, value uint8)
	Out16(port uint16, value uint16)
	Out32(port uint16, value uint32)
}

func OpenOrExit() Port {
	p, err := Open()
	if err != nil {
		DefaultExitFn(err)
	}
	return p
}

// Logged returns a Port that logs every access at debug level.
func Logged(p Port) Port {
	return &logged{
		port: p,
	}
}

type logged struct {
	port Port
}

func (o *logged) log(dir string, port uint16, width int, value uint32) {
	log.WithFields(log.Fields{
		"port":  fmt.Sprintf("0x%04x", port),
		"width": width,
		"value": fmt.Sprintf("0x%x", value),
	}).Debug(dir)
}

func (o *logged) In8(port uint16) uint8 {
	v := o.port.In8(port)
	o.log("in", port, 8, uint32(v))
	return v
}

func (o *logged) In16(port uint16) uint16 {
	v := o.port.In16(port)
	o.log("in", port, 16, uint32(v))
	return v
}

func (o *logged) In32(port uint16) uint32 {
	v := o.port.In32(port)
	o.log("in", port, 32, v)
	return v
}

func (o *logged) Out8(port uint16, value uint8) {
	o.log("out", port, 8, uint32(value))
	o.port.Out8(port, value)
}

func (o *logged) Out16(port uint16, value uint16) {
	o.log("out", port, 16, uint32(value))
	o.port.Out16(port, value)
}

func (o *logged) Out32(port uint16, value uint32) {
	o.log("out", port, 32, value)
	o.port.Out32(port, value)
}
