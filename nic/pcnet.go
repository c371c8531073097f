package nic

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/apex/log"

	"gitlab.com/stephen-fox/nicbreak/bstruct"
	"gitlab.com/stephen-fox/nicbreak/dma"
	"gitlab.com/stephen-fox/nicbreak/ioport"
)

// PCnetBufferSize is the size of each PCnet ring buffer.
const PCnetBufferSize = 4096

const (
	pcnetRDP     = 0x10
	pcnetRAP     = 0x12
	pcnetRST     = 0x14
	pcnetReset32 = 0x18

	pcnetModeLoop = 0x0004
	pcnetModeProm = 0x8000

	csr0Init     = 0x0001
	csr0Start    = 0x0002
	csr0Stop     = 0x0004
	csr0TxDemand = 0x0008
	csr0InitDone = 0x0100

	// Software style 2: 32-bit PCnet-PCI descriptors.
	csr58SwStyle = 0x0102

	pcnetInitBlockSize = 28
	pcnetDescSize      = 16

	pcnetDescOwn = 0x80
	// STP, ENP and ADDFCS.
	pcnetDescFrame = 0x23
)

// pcnetInitBlock is the 32-bit initialization block.
type pcnetInitBlock struct {
	Mode uint16
	// Ring lengths are log2 encoded in the high nibble.
	RLen     uint8
	TLen     uint8
	MAC      [6]byte
	Reserved uint16
	Filter   uint64
	RDRA     uint32
	TDRA     uint32
}

// pcnetDesc is a software style 2 descriptor. Status2 holds OWN.
type pcnetDesc struct {
	Addr     uint32
	Length   uint16
	Status1  uint8
	Status2  uint8
	Misc     uint32
	Reserved uint32
}

// PCnetConfig configures a PCnet driver.
type PCnetConfig struct {
	// Port is the base of the adapter's i/o ports.
	Port uint16

	// MAC is written to the initialization block.
	MAC net.HardwareAddr
}

// PCnet drives an AMD PCnet adapter with a single receive and a single
// transmit descriptor in loopback and promiscuous mode.
type PCnet struct {
	port      ioport.Port
	base      uint16
	mac       net.HardwareAddr
	regions   regions
	initBlock *dma.Region
	rxDesc    *dma.Region
	txDesc    *dma.Region
	rxBuf     *dma.Region
	txBuf     *dma.Region
}

func NewPCnetOrExit(port ioport.Port, mem Allocator, config PCnetConfig) *PCnet {
	p, err := NewPCnet(port, mem, config)
	if err != nil {
		DefaultExitFn(err)
	}
	return p
}

// NewPCnet allocates the initialization block and rings of a PCnet.
// Configure must be called before the adapter is used.
func NewPCnet(port ioport.Port, mem Allocator, config PCnetConfig) (*PCnet, error) {
	if len(config.MAC) != 6 {
		return nil, fmt.Errorf("pcnet requires a 6 byte hardware address - got %q", config.MAC)
	}

	o := &PCnet{
		port: port,
		base: config.Port,
		mac:  config.MAC,
	}

	err := o.alloc(mem)
	if err != nil {
		o.regions.free()
		return nil, fmt.Errorf("failed to allocate pcnet rings - %w", err)
	}

	return o, nil
}

func (o *PCnet) alloc(mem Allocator) error {
	var err error

	for _, region := range []struct {
		dst  **dma.Region
		size int
	}{
		{&o.initBlock, pcnetInitBlockSize},
		{&o.rxDesc, pcnetDescSize},
		{&o.txDesc, pcnetDescSize},
		{&o.rxBuf, PCnetBufferSize},
		{&o.txBuf, PCnetBufferSize},
	} {
		*region.dst, err = o.regions.alloc(mem, region.size)
		if err != nil {
			return err
		}
	}

	return nil
}

// ByteCount encodes a buffer length as the two's complement value
// PCnet descriptors hold.
func ByteCount(n int) uint16 {
	return uint16(-n)&0x0fff | 0xf000
}

func (o *PCnet) configureDesc(desc *dma.Region, buf *dma.Region, rx bool) error {
	clear(buf.Bytes())

	addr, err := buf.Physical32(0)
	if err != nil {
		return err
	}

	d := pcnetDesc{
		Addr:   addr,
		Length: ByteCount(PCnetBufferSize),
	}
	if rx {
		d.Status2 = pcnetDescOwn
	}

	return bstruct.PutStruct(desc.Bytes(), d, binary.LittleEndian, nil)
}

func (o *PCnet) writeInitBlock() (uint32, error) {
	rxAddr, err := o.rxDesc.Physical32(0)
	if err != nil {
		return 0, err
	}

	txAddr, err := o.txDesc.Physical32(0)
	if err != nil {
		return 0, err
	}

	block := pcnetInitBlock{
		Mode: pcnetModeLoop | pcnetModeProm,
		RDRA: rxAddr,
		TDRA: txAddr,
	}
	copy(block.MAC[:], o.mac)

	err = bstruct.PutStruct(o.initBlock.Bytes(), block, binary.LittleEndian,
		bstruct.LogFields("pcnet initialization block"))
	if err != nil {
		return 0, err
	}

	return o.initBlock.Physical32(0)
}

func (o *PCnet) writeCSR(csr uint16, value uint16) {
	o.port.Out16(o.base+pcnetRAP, csr)
	o.port.Out16(o.base+pcnetRDP, value)
}

// Configure resets the adapter, loads the initialization block and
// starts it. The adapter finishes initialization asynchronously, see
// Initialized.
func (o *PCnet) Configure() error {
	err := o.configureDesc(o.rxDesc, o.rxBuf, true)
	if err != nil {
		return fmt.Errorf("failed to configure pcnet receive descriptor - %w", err)
	}

	err = o.configureDesc(o.txDesc, o.txBuf, false)
	if err != nil {
		return fmt.Errorf("failed to configure pcnet transmit descriptor - %w", err)
	}

	initAddr, err := o.writeInitBlock()
	if err != nil {
		return fmt.Errorf("failed to write pcnet initialization block - %w", err)
	}

	// Reading the reset registers performs a soft reset in both
	// i/o modes.
	o.port.In32(o.base + pcnetReset32)
	o.port.In16(o.base + pcnetRST)

	o.writeCSR(58, csr58SwStyle)
	o.writeCSR(1, uint16(initAddr))
	o.writeCSR(2, uint16(initAddr>>16))
	o.writeCSR(0, csr0Init|csr0Start)

	return nil
}

// Initialized reports whether the adapter finished reading the
// initialization block.
func (o *PCnet) Initialized() bool {
	o.port.Out16(o.base+pcnetRAP, 0)
	return o.port.In16(o.base+pcnetRDP)&csr0InitDone != 0
}

// Submit copies frame into the transmit buffer, hands the descriptor
// to the adapter and demands a transmit poll. The adapter appends its
// own frame check sequence.
func (o *PCnet) Submit(frame []byte) error {
	if len(frame) > PCnetBufferSize {
		return fmt.Errorf("frame of %d bytes exceeds pcnet buffer size of %d",
			len(frame), PCnetBufferSize)
	}

	copy(o.txBuf.Bytes(), frame)

	d := o.txDesc.Bytes()
	d[7] |= pcnetDescFrame
	binary.LittleEndian.PutUint16(d[4:], ByteCount(len(frame)))
	d[7] |= pcnetDescOwn

	log.WithField("size", len(frame)).Debug("pcnet: submitting frame")

	o.writeCSR(0, csr0TxDemand)

	return nil
}

// Sent reports whether the adapter handed the transmit descriptor back.
func (o *PCnet) Sent() bool {
	return o.txDesc.Bytes()[7]&pcnetDescOwn == 0
}

// Received returns the receive buffer if the adapter handed it back.
func (o *PCnet) Received() ([]byte, bool) {
	if o.rxDesc.Bytes()[7]&pcnetDescOwn != 0 {
		return nil, false
	}
	return o.rxBuf.Bytes(), true
}

// Stop stops the adapter.
func (o *PCnet) Stop() {
	o.writeCSR(0, csr0Stop)
}

// Close frees the rings. The adapter must be stopped first.
func (o *PCnet) Close() error {
	return o.regions.free()
}
