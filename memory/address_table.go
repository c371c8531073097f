package memory

import (
	"fmt"
	"sort"
)

// NewAddressTable creates a new instance of an *AddressTable with
// the specified initial build. Refer to AddressTable's documentation
// for more information.
func NewAddressTable(initialBuild string) *AddressTable {
	return &AddressTable{
		currentBuild:          initialBuild,
		buildToSymbolsToAddrs: make(map[string]map[string]uint64),
	}
}

// AddressTable tracks the offsets of symbols for different builds of
// a target program.
//
// Offsets of functions inside an emulator binary change with every
// build. Rather than scattering literals through a chain description,
// the offsets are registered once per build, and the build in use is
// selected with SetBuild. A chain then refers to symbols by name.
type AddressTable struct {
	currentBuild          string
	buildToSymbolsToAddrs map[string]map[string]uint64
}

// SetBuild sets the current build to the specified value.
func (o *AddressTable) SetBuild(build string) *AddressTable {
	o.currentBuild = build
	return o
}

// AddSymbolInBuild adds or sets the offset of a symbol for
// the specified build.
func (o *AddressTable) AddSymbolInBuild(symbolName string, address uint64, build string) *AddressTable {
	symbolsToAddrs := o.buildToSymbolsToAddrs[build]
	if symbolsToAddrs == nil {
		symbolsToAddrs = make(map[string]uint64)
	}

	symbolsToAddrs[symbolName] = address
	o.buildToSymbolsToAddrs[build] = symbolsToAddrs

	return o
}

// CurrentBuild returns the current build.
func (o *AddressTable) CurrentBuild() string {
	return o.currentBuild
}

// Symbols returns the sorted symbol names known for the current build.
func (o *AddressTable) Symbols() []string {
	symbolsToAddrs := o.buildToSymbolsToAddrs[o.currentBuild]

	names := make([]string, 0, len(symbolsToAddrs))
	for name := range symbolsToAddrs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Address returns the offset of the specified symbol for the
// currently selected build.
func (o *AddressTable) Address(symbolName string) (uint64, error) {
	symbolsToAddrs, hasIt := o.buildToSymbolsToAddrs[o.currentBuild]
	if !hasIt {
		return 0, fmt.Errorf("the current build ('%s') is not in the lookup table",
			o.currentBuild)
	}

	addr, hasIt := symbolsToAddrs[symbolName]
	if !hasIt {
		return 0, fmt.Errorf("failed to find the symbol '%s' in the table for '%s'",
			symbolName, o.currentBuild)
	}

	return addr, nil
}
