package bitbang

import "fmt"

// Decode recovers the TDO bits of a register shift from the raw sampled
// response buffer. base is the response index the Waveform returned for the
// register's first bit; every following bit lands two bytes later, one byte
// pair per clocked bit composed with the one-byte sampling lag. Decode is
// the single inverse of the waveform compiler - call sites must not
// reimplement this addressing.
func Decode(resp []byte, pins PinMap, base, nbits int) ([]byte, error) {
	if nbits <= 0 {
		return nil, fmt.Errorf("bitbang: nbits must be positive, got %d", nbits)
	}
	last := base + 2*(nbits-1)
	if base < 0 || last >= len(resp) {
		return nil, fmt.Errorf("bitbang: response too short: need index %d, have %d bytes", last, len(resp))
	}

	out := make([]byte, (nbits+7)/8)
	for bit := 0; bit < nbits; bit++ {
		if resp[base+2*bit]&pins.TDO != 0 {
			out[bit/8] |= 1 << (bit % 8)
		}
	}
	return out, nil
}
