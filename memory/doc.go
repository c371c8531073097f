// Package memory provides helpers for describing memory that lives in
// another address space: machine words encoded with the target's byte
// order, and per-build tables of symbol offsets.
//
// Nothing in this package dereferences memory. A Pointer is only the
// byte image of an address as the target would store it, and an
// AddressTable only maps names to offsets for the selected build.
package memory
