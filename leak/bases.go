package leak

import "fmt"

// Kind identifies which base address a signature family recovers.
type Kind int

const (
	// CodeBase is the load address of the emulator's code segment.
	CodeBase Kind = iota

	// PhysMemBase is the host address of guest-physical address zero.
	PhysMemBase

	// HeapBase is the base of the emulator's heap region.
	HeapBase
)

// Kinds lists every Kind in the order they must be recovered.
var Kinds = []Kind{CodeBase, PhysMemBase, HeapBase}

func (o Kind) String() string {
	switch o {
	case CodeBase:
		return "code"
	case PhysMemBase:
		return "phys"
	case HeapBase:
		return "heap"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Base is a recovered base address.
type Base struct {
	Kind  Kind
	Value uint64
}

func (o Base) String() string {
	return fmt.Sprintf("%s base: 0x%x", o.Kind, o.Value)
}

// Bases holds at most one recovered value per Kind. A zero value
// means the base has not been recovered.
type Bases struct {
	Code    uint64
	PhysMem uint64
	Heap    uint64
}

// Get returns the value recovered for kind.
func (o Bases) Get(kind Kind) uint64 {
	switch kind {
	case CodeBase:
		return o.Code
	case PhysMemBase:
		return o.PhysMem
	case HeapBase:
		return o.Heap
	default:
		return 0
	}
}

// Set records the value recovered for kind.
func (o *Bases) Set(base Base) {
	switch base.Kind {
	case CodeBase:
		o.Code = base.Value
	case PhysMemBase:
		o.PhysMem = base.Value
	case HeapBase:
		o.Heap = base.Value
	}
}

// Complete reports whether every base has been recovered.
func (o Bases) Complete() bool {
	return o.Code != 0 && o.PhysMem != 0 && o.Heap != 0
}
