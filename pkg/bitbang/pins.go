package bitbang

import (
	"fmt"
	"math/bits"
)

// PinMap assigns the four JTAG lines to bits of the adapter's 8-bit
// bit-bang port. TDO is the only input; the other three are driven.
type PinMap struct {
	TMS byte
	TDI byte
	TDO byte
	TCK byte
}

// DefaultPins matches the FT232R wiring used during development:
// TMS on D4, TDI on D2, TDO on D3, TCK on D5.
var DefaultPins = PinMap{
	TMS: 1 << 4,
	TDI: 1 << 2,
	TDO: 1 << 3,
	TCK: 1 << 5,
}

// Validate checks that every line has exactly one port bit and that no two
// lines share a bit. A bad pin map is a configuration error and must be
// caught before any bytes reach the wire.
func (p PinMap) Validate() error {
	masks := []struct {
		name string
		mask byte
	}{
		{"TMS", p.TMS},
		{"TDI", p.TDI},
		{"TDO", p.TDO},
		{"TCK", p.TCK},
	}
	var seen byte
	for _, m := range masks {
		if bits.OnesCount8(m.mask) != 1 {
			return fmt.Errorf("bitbang: %s mask %#02x must have exactly one bit set", m.name, m.mask)
		}
		if seen&m.mask != 0 {
			return fmt.Errorf("bitbang: %s mask %#02x overlaps another line", m.name, m.mask)
		}
		seen |= m.mask
	}
	return nil
}

// Direction returns the output-enable mask for the port: every line except
// TDO is driven by the host.
func (p PinMap) Direction() byte {
	return p.TMS | p.TDI | p.TCK
}
