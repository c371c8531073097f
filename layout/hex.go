package layout

import (
	"fmt"
	"strconv"
	"strings"
)

// Hex is an unsigned 64-bit number written as a string in the layout
// file. TOML integers are signed, so masks with the top bit set cannot
// be written as integers.
type Hex uint64

func (o *Hex) UnmarshalText(text []byte) error {
	value, err := parseHex(string(text))
	if err != nil {
		return err
	}

	*o = Hex(value)

	return nil
}

func (o Hex) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o Hex) String() string {
	return fmt.Sprintf("0x%x", uint64(o))
}

func parseHex(str string) (uint64, error) {
	str = strings.ReplaceAll(strings.TrimSpace(str), "_", "")

	value, err := strconv.ParseUint(str, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q - %w", str, err)
	}

	return value, nil
}

func uint64s(hexes []Hex) []uint64 {
	out := make([]uint64, len(hexes))
	for i, h := range hexes {
		out[i] = uint64(h)
	}
	return out
}
