package nic

import (
	"encoding/binary"
	"fmt"

	"github.com/apex/log"

	"gitlab.com/stephen-fox/nicbreak/bstruct"
	"gitlab.com/stephen-fox/nicbreak/dma"
	"gitlab.com/stephen-fox/nicbreak/ioport"
	"gitlab.com/stephen-fox/nicbreak/pagemap"
)

// RTL8139BufferSize is the size of each RTL8139 ring buffer.
const RTL8139BufferSize = 1514

const (
	rtlDescSize = 16

	rtlRxOwn            = 1 << 31
	rtlRxEOR            = 1 << 30
	rtlRxBufferSizeMask = 1<<13 - 1

	rtlTxOwn   = 1 << 31
	rtlTxEOR   = 1 << 30
	rtlTxLS    = 1 << 28
	rtlTxLGSEN = 1 << 27
	rtlTxIPCS  = 1 << 18
	rtlTxTCPCS = 1 << 16

	rtlTxAddr0      = 0x20
	rtlChipCmd      = 0x37
	rtlTxConfig     = 0x40
	rtlRxConfig     = 0x44
	rtlTxPoll       = 0xd9
	rtlCpCmd        = 0xe0
	rtlRxRingAddrLO = 0xe4
	rtlRxRingAddrHI = 0xe8

	rtlTxPollCPlus  = 0x40
	rtlCmdRxEnb     = 0x08
	rtlCmdTxEnb     = 0x04
	rtlCPlusRxEnb   = 0x0002
	rtlCPlusTxEnb   = 0x0001
	rtlTxLoopBack   = 1<<18 | 1<<17
	rtlAcceptMyPhys = 0x02
)

// rtlDesc is a C+ mode descriptor.
type rtlDesc struct {
	DW0   uint32
	DW1   uint32
	BufLo uint32
	BufHi uint32
}

// RTL8139Config configures an RTL8139 driver.
type RTL8139Config struct {
	// Port is the base of the adapter's i/o ports.
	Port uint16

	// RxDescriptors is the number of receive descriptors.
	RxDescriptors int
}

// RTL8139 drives an RTL8139 in C+ mode with one transmit descriptor
// and a ring of receive descriptors. The adapter runs in loopback, so
// every transmitted frame lands in the receive ring.
type RTL8139 struct {
	port    ioport.Port
	base    uint16
	regions regions
	rxDesc  *dma.Region
	rxBufs  []*dma.Region
	txDesc  *dma.Region
	txBuf   *dma.Region
}

func NewRTL8139OrExit(port ioport.Port, mem Allocator, config RTL8139Config) *RTL8139 {
	r, err := NewRTL8139(port, mem, config)
	if err != nil {
		DefaultExitFn(err)
	}
	return r
}

// NewRTL8139 allocates the rings of an RTL8139. Configure must be
// called before the adapter is used.
func NewRTL8139(port ioport.Port, mem Allocator, config RTL8139Config) (*RTL8139, error) {
	if config.RxDescriptors <= 0 || config.RxDescriptors*rtlDescSize > pagemap.PageSize {
		return nil, fmt.Errorf("rtl8139 receive ring must have between 1 and %d descriptors - got %d",
			pagemap.PageSize/rtlDescSize, config.RxDescriptors)
	}

	o := &RTL8139{
		port: port,
		base: config.Port,
	}

	err := o.alloc(mem, config.RxDescriptors)
	if err != nil {
		o.regions.free()
		return nil, fmt.Errorf("failed to allocate rtl8139 rings - %w", err)
	}

	return o, nil
}

func (o *RTL8139) alloc(mem Allocator, numRx int) error {
	var err error

	o.rxDesc, err = o.regions.alloc(mem, numRx*rtlDescSize)
	if err != nil {
		return err
	}

	o.rxBufs = make([]*dma.Region, numRx)
	for i := range o.rxBufs {
		o.rxBufs[i], err = o.regions.alloc(mem, RTL8139BufferSize)
		if err != nil {
			return err
		}
	}

	o.txDesc, err = o.regions.alloc(mem, rtlDescSize)
	if err != nil {
		return err
	}

	o.txBuf, err = o.regions.alloc(mem, RTL8139BufferSize)
	if err != nil {
		return err
	}

	return nil
}

// Configure writes the descriptor rings and enables the adapter.
func (o *RTL8139) Configure() error {
	err := o.configureRx()
	if err != nil {
		return fmt.Errorf("failed to configure rtl8139 receive ring - %w", err)
	}

	err = o.configureTx()
	if err != nil {
		return fmt.Errorf("failed to configure rtl8139 transmit descriptor - %w", err)
	}

	o.port.Out32(o.base+rtlTxConfig, rtlTxLoopBack)
	o.port.Out32(o.base+rtlRxConfig, rtlAcceptMyPhys)
	o.port.Out16(o.base+rtlCpCmd, rtlCPlusRxEnb|rtlCPlusTxEnb)
	o.port.Out8(o.base+rtlChipCmd, rtlCmdRxEnb|rtlCmdTxEnb)

	return nil
}

func (o *RTL8139) configureRx() error {
	ring := o.rxDesc.Bytes()

	for i, buf := range o.rxBufs {
		clear(buf.Bytes())

		addr, err := buf.Physical32(0)
		if err != nil {
			return err
		}

		dw0 := uint32(rtlRxOwn)
		if i == len(o.rxBufs)-1 {
			dw0 |= rtlRxEOR
		}
		dw0 &^= rtlRxBufferSizeMask
		dw0 |= 0xffff

		err = bstruct.PutStruct(ring[i*rtlDescSize:], rtlDesc{
			DW0:   dw0,
			BufLo: addr,
		}, binary.LittleEndian, nil)
		if err != nil {
			return err
		}
	}

	addr, err := o.rxDesc.Physical32(0)
	if err != nil {
		return err
	}

	o.port.Out32(o.base+rtlRxRingAddrLO, addr)
	o.port.Out32(o.base+rtlRxRingAddrHI, 0)

	return nil
}

func (o *RTL8139) configureTx() error {
	addr, err := o.txBuf.Physical32(0)
	if err != nil {
		return err
	}

	dw0 := uint32(rtlTxOwn | rtlTxEOR | rtlTxLS | rtlTxLGSEN | rtlTxIPCS | rtlTxTCPCS)
	dw0 += RTL8139BufferSize

	err = bstruct.PutStruct(o.txDesc.Bytes(), rtlDesc{
		DW0:   dw0,
		BufLo: addr,
	}, binary.LittleEndian, bstruct.LogFields("rtl8139 tx descriptor"))
	if err != nil {
		return err
	}

	addr, err = o.txDesc.Physical32(0)
	if err != nil {
		return err
	}

	o.port.Out32(o.base+rtlTxAddr0, addr)
	o.port.Out32(o.base+rtlTxAddr0+4, 0)

	return nil
}

// Submit copies packet into the transmit buffer and asks the adapter
// to poll its transmit descriptor.
func (o *RTL8139) Submit(packet []byte) error {
	if len(packet) > RTL8139BufferSize {
		return fmt.Errorf("packet of %d bytes exceeds rtl8139 buffer size of %d",
			len(packet), RTL8139BufferSize)
	}

	copy(o.txBuf.Bytes(), packet)

	log.WithField("size", len(packet)).Debug("rtl8139: submitting packet")

	o.port.Out8(o.base+rtlTxPoll, rtlTxPollCPlus)

	return nil
}

// Buffers returns every receive buffer, filled or not.
func (o *RTL8139) Buffers() [][]byte {
	bufs := make([][]byte, len(o.rxBufs))
	for i, buf := range o.rxBufs {
		bufs[i] = buf.Bytes()
	}
	return bufs
}

// Filled returns the receive buffers the adapter handed back.
func (o *RTL8139) Filled() [][]byte {
	var bufs [][]byte
	for i, buf := range o.rxBufs {
		if !o.rxOwned(i) {
			bufs = append(bufs, buf.Bytes())
		}
	}
	return bufs
}

// HasFilled reports whether the adapter handed back any receive buffer.
func (o *RTL8139) HasFilled() bool {
	for i := range o.rxBufs {
		if !o.rxOwned(i) {
			return true
		}
	}
	return false
}

func (o *RTL8139) rxOwned(i int) bool {
	desc := o.rxDesc.Bytes()[i*rtlDescSize:]
	return binary.LittleEndian.Uint32(desc)&rtlRxOwn != 0
}

// Close frees the rings. The adapter must no longer use them.
func (o *RTL8139) Close() error {
	return o.regions.free()
}
