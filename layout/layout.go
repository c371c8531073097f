// Package layout loads the build-specific description of a target:
// the signatures used to recover base addresses, symbol offsets, the
// forged chain and the device constants.
//
// Everything in a layout is specific to one build of the emulator.
// Nothing in this module hardcodes those values.
package layout

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/apex/log"
	"github.com/pelletier/go-toml/v2"

	"gitlab.com/stephen-fox/nicbreak/chain"
	"gitlab.com/stephen-fox/nicbreak/leak"
	"gitlab.com/stephen-fox/nicbreak/memory"
)

var (
	DefaultExitFn = func(err error) {
		log.Fatal(err.Error())
	}
)

// Layout is the decoded layout file.
type Layout struct {
	Build      string            `toml:"build"`
	Signatures Signatures        `toml:"signatures"`
	Symbols    map[string]string `toml:"symbols"`
	Chain      chain.Plan        `toml:"chain"`
	Strings    []GuestString     `toml:"strings"`
	Devices    Devices           `toml:"devices"`
}

// Signatures mirrors leak.Signatures with layout file encodings.
type Signatures struct {
	Code struct {
		Mask    Hex   `toml:"mask"`
		Match   Hex   `toml:"match"`
		Offsets []Hex `toml:"offsets"`
	} `toml:"code"`

	Phys struct {
		Mask       Hex `toml:"mask"`
		Match      Hex `toml:"match"`
		AlignMask  Hex `toml:"align_mask"`
		RegionSize Hex `toml:"region_size"`
	} `toml:"phys"`

	Heap struct {
		RegionMask  Hex   `toml:"region_mask"`
		MinDistance Hex   `toml:"min_distance"`
		Offsets     []Hex `toml:"offsets"`
	} `toml:"heap"`
}

// GuestString is a NUL terminated string placed in guest memory so
// that the chain can pass its host-reachable address as an argument.
type GuestString struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

// Devices holds the constants of each emulated adapter.
type Devices struct {
	RTL8139 RTL8139 `toml:"rtl8139"`
	PCnet   PCnet   `toml:"pcnet"`
}

type RTL8139 struct {
	Port          Hex    `toml:"port"`
	RxDescriptors int    `toml:"rx_descriptors"`
	MAC           string `toml:"mac"`
}

type PCnet struct {
	Port     Hex    `toml:"port"`
	MAC      string `toml:"mac"`
	FrameSrc string `toml:"frame_src"`
	FrameDst string `toml:"frame_dst"`
}

func LoadOrExit(filePath string) *Layout {
	l, err := Load(filePath)
	if err != nil {
		DefaultExitFn(err)
	}
	return l
}

// Load reads and validates the layout file at filePath.
func Load(filePath string) (*Layout, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file - %w", err)
	}

	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout file %q - %w", filePath, err)
	}

	return l, nil
}

// Parse decodes and validates a layout.
func Parse(data []byte) (*Layout, error) {
	var l Layout

	err := toml.Unmarshal(data, &l)
	if err != nil {
		return nil, err
	}

	err = l.Validate()
	if err != nil {
		return nil, err
	}

	return &l, nil
}

// Validate checks the layout for missing or malformed values.
func (o *Layout) Validate() error {
	if o.Build == "" {
		return errors.New("build name is required")
	}

	if len(o.Signatures.Code.Offsets) == 0 {
		return errors.New("code signature requires at least one offset")
	}

	if len(o.Signatures.Heap.Offsets) == 0 {
		return errors.New("heap signature requires at least one offset")
	}

	if o.Signatures.Code.Mask == 0 || o.Signatures.Phys.Mask == 0 || o.Signatures.Heap.RegionMask == 0 {
		return errors.New("signature masks cannot be zero")
	}

	for name, value := range o.Symbols {
		_, err := parseHex(value)
		if err != nil {
			return fmt.Errorf("symbol %q - %w", name, err)
		}
	}

	err := o.Chain.Validate()
	if err != nil {
		return fmt.Errorf("chain - %w", err)
	}

	if o.Chain.Trailer == "" {
		return errors.New("chain trailer is required")
	}

	seen := make(map[string]struct{})
	for _, str := range o.Strings {
		if str.Name == "" {
			return errors.New("guest strings must be named")
		}

		if _, dup := seen[str.Name]; dup {
			return fmt.Errorf("duplicate guest string %q", str.Name)
		}
		seen[str.Name] = struct{}{}
	}

	if o.Devices.RTL8139.Port == 0 || o.Devices.PCnet.Port == 0 {
		return errors.New("device ports are required")
	}

	if o.Devices.RTL8139.Port > 0xffff || o.Devices.PCnet.Port > 0xffff {
		return errors.New("device ports must fit in 16 bits")
	}

	if o.Devices.RTL8139.RxDescriptors <= 0 {
		return errors.New("rtl8139 requires at least one receive descriptor")
	}

	for _, mac := range []string{o.Devices.RTL8139.MAC, o.Devices.PCnet.MAC, o.Devices.PCnet.FrameSrc, o.Devices.PCnet.FrameDst} {
		_, err := net.ParseMAC(mac)
		if err != nil {
			return fmt.Errorf("invalid hardware address - %w", err)
		}
	}

	return nil
}

// ScannerSignatures returns the signatures in the form leak.Scanner
// expects.
func (o *Layout) ScannerSignatures() leak.Signatures {
	return leak.Signatures{
		Code: leak.CodeSignature{
			Mask:    uint64(o.Signatures.Code.Mask),
			Match:   uint64(o.Signatures.Code.Match),
			Offsets: uint64s(o.Signatures.Code.Offsets),
		},
		Phys: leak.PhysSignature{
			Mask:       uint64(o.Signatures.Phys.Mask),
			Match:      uint64(o.Signatures.Phys.Match),
			AlignMask:  uint64(o.Signatures.Phys.AlignMask),
			RegionSize: uint64(o.Signatures.Phys.RegionSize),
		},
		Heap: leak.HeapSignature{
			RegionMask:  uint64(o.Signatures.Heap.RegionMask),
			MinDistance: uint64(o.Signatures.Heap.MinDistance),
			Offsets:     uint64s(o.Signatures.Heap.Offsets),
		},
	}
}

// AddressTable returns the symbols of the layout's build.
func (o *Layout) AddressTable() *memory.AddressTable {
	table := memory.NewAddressTable(o.Build)

	for name, value := range o.Symbols {
		// Validate already rejected malformed values.
		addr, _ := parseHex(value)
		table.AddSymbolInBuild(name, addr, o.Build)
	}

	return table
}

// MustMAC parses a hardware address that Validate accepted.
func MustMAC(str string) net.HardwareAddr {
	mac, err := net.ParseMAC(str)
	if err != nil {
		panic(err)
	}
	return mac
}
