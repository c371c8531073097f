// Package nicbreak escapes an x86-64 guest through two emulated
// network adapters.
//
// APIs are separated into subpackages, and documented accordingly.
// The nicbreak command in cmd/nicbreak ties them together.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, the package's DefaultExitFn is invoked.
package nicbreak
