// nicbreak leaks the base addresses of an emulator process through an
// emulated RTL8139 and delivers a forged IRQ chain through an emulated
// PCnet.
package main

import "gitlab.com/stephen-fox/nicbreak/cmd/nicbreak/cmd"

func main() {
	cmd.Execute()
}
