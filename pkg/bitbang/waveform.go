package bitbang

// Waveform compiles single-bit TMS/TDI intents into the byte stream a
// synchronous bit-bang port expects. Every clocked bit contributes a pair of
// bytes: the intent with TCK low, then the same intent with TCK raised.
type Waveform struct {
	pins   PinMap
	stream []byte
}

// NewWaveform returns an empty waveform for the given pin assignment. The
// pin map is assumed valid; callers check it once with PinMap.Validate
// before compiling anything.
func NewWaveform(pins PinMap) *Waveform {
	return &Waveform{pins: pins}
}

// Clock appends one bit to the waveform: the intent byte followed by its
// rising-edge twin. The returned index is where the input state sampled on
// this edge settles in the response buffer - one full byte after the pair,
// because a synchronous port samples pins before each written byte takes
// effect. The index is meaningful only once the whole waveform has been
// exchanged for a response of equal length.
func (w *Waveform) Clock(tms, tdi bool) int {
	var intent byte
	if tms {
		intent |= w.pins.TMS
	}
	if tdi {
		intent |= w.pins.TDI
	}
	w.stream = append(w.stream, intent, intent|w.pins.TCK)
	return len(w.stream)
}

// RaiseTMS sets the TMS line in the last emitted byte pair. This is how the
// final bit of a register shift doubles as the Shift->Exit1 transition: the
// bit is clocked with TMS rewritten high rather than spending an extra
// clock.
func (w *Waveform) RaiseTMS() {
	if len(w.stream) < 2 {
		return
	}
	w.stream[len(w.stream)-2] |= w.pins.TMS
	w.stream[len(w.stream)-1] |= w.pins.TMS
}

// Len reports the number of bytes compiled so far.
func (w *Waveform) Len() int {
	return len(w.stream)
}

// Bytes exposes the compiled output stream.
func (w *Waveform) Bytes() []byte {
	return w.stream
}
