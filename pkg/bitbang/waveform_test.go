package bitbang

import (
	"bytes"
	"testing"
)

func TestPinMapValidate(t *testing.T) {
	if err := DefaultPins.Validate(); err != nil {
		t.Fatalf("DefaultPins invalid: %v", err)
	}

	bad := PinMap{TMS: 0x03, TDI: 0x04, TDO: 0x08, TCK: 0x20}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for multi-bit TMS mask")
	}

	overlap := PinMap{TMS: 0x10, TDI: 0x10, TDO: 0x08, TCK: 0x20}
	if err := overlap.Validate(); err == nil {
		t.Fatalf("expected error for overlapping masks")
	}
}

func TestPinMapDirection(t *testing.T) {
	dir := DefaultPins.Direction()
	if dir&DefaultPins.TDO != 0 {
		t.Fatalf("TDO must not be an output, direction = %#02x", dir)
	}
	want := DefaultPins.TMS | DefaultPins.TDI | DefaultPins.TCK
	if dir != want {
		t.Fatalf("Direction() = %#02x, want %#02x", dir, want)
	}
}

func TestWaveformClockPairs(t *testing.T) {
	w := NewWaveform(DefaultPins)

	idx := w.Clock(true, false)
	if idx != 2 {
		t.Fatalf("first Clock returned %d, want 2", idx)
	}
	idx = w.Clock(false, true)
	if idx != 4 {
		t.Fatalf("second Clock returned %d, want 4", idx)
	}

	stream := w.Bytes()
	if len(stream) != 4 {
		t.Fatalf("stream length = %d, want 4", len(stream))
	}

	// Odd-index bytes are the preceding byte with TCK raised.
	for i := 0; i < len(stream); i += 2 {
		if stream[i]&DefaultPins.TCK != 0 {
			t.Fatalf("intent byte %d has TCK set", i)
		}
		if stream[i+1] != stream[i]|DefaultPins.TCK {
			t.Fatalf("byte %d = %#02x, want %#02x", i+1, stream[i+1], stream[i]|DefaultPins.TCK)
		}
	}

	if stream[0]&DefaultPins.TMS == 0 {
		t.Fatalf("first bit should drive TMS")
	}
	if stream[2]&DefaultPins.TDI == 0 {
		t.Fatalf("second bit should drive TDI")
	}
	if stream[0]&DefaultPins.TDO != 0 || stream[2]&DefaultPins.TDO != 0 {
		t.Fatalf("TDO must never be driven")
	}
}

func TestWaveformRaiseTMS(t *testing.T) {
	w := NewWaveform(DefaultPins)
	w.Clock(false, true)
	w.Clock(false, false)
	w.RaiseTMS()

	stream := w.Bytes()
	if stream[2]&DefaultPins.TMS == 0 || stream[3]&DefaultPins.TMS == 0 {
		t.Fatalf("RaiseTMS did not set TMS on the final pair: % x", stream)
	}
	if stream[0]&DefaultPins.TMS != 0 {
		t.Fatalf("RaiseTMS touched an earlier pair: % x", stream)
	}
}

func TestDecodeStrideTwo(t *testing.T) {
	pins := DefaultPins
	// Response where TDO is high at base, base+4 and base+6 only:
	// bits 0, 2, 3 -> 0x0D.
	base := 3
	resp := make([]byte, base+2*8)
	resp[base] = pins.TDO
	resp[base+4] = pins.TDO
	resp[base+6] = pins.TDO
	// A TDO level on any odd stride must not leak into the result.
	resp[base+1] = pins.TDO
	resp[base+5] = pins.TDO

	out, err := Decode(resp, pins, base, 8)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if !bytes.Equal(out, []byte{0x0D}) {
		t.Fatalf("Decode = %#02x, want 0x0D", out[0])
	}
}

func TestDecodeBounds(t *testing.T) {
	if _, err := Decode(make([]byte, 4), DefaultPins, 2, 8); err == nil {
		t.Fatalf("expected error for out-of-range read index")
	}
	if _, err := Decode(make([]byte, 4), DefaultPins, 0, 0); err == nil {
		t.Fatalf("expected error for zero bits")
	}
}
