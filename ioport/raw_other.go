//go:build !(linux && amd64)

package ioport

import "errors"

// Open is only supported on linux/amd64.
func Open() (Port, error) {
	return nil, errors.New("port i/o is only supported on linux/amd64")
}
