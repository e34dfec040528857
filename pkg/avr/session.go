package avr

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/avrjtag/pkg/bitbang"
	"github.com/OpenTraceLab/avrjtag/pkg/tap"
)

// Fixed TMS paths between the TAP states the shift protocol visits. Each is
// checked against the transition table by the package tests, so a typo here
// cannot survive.
var (
	// Holds in Run-Test/Idle and completes Test-Logic-Reset -> idle, so a
	// shift may start from either state.
	pathToIdle = []bool{false, false}

	pathIdleToShiftIR = []bool{true, true, false, false}

	// Exit1-IR -> Shift-DR, deliberately crossing Run-Test/Idle: the
	// programming unit executes while the TAP sits in idle, so the
	// two-bit-shorter route through Select-DR alone is not taken.
	pathExitIRToShiftDR = []bool{true, false, true, false, false}

	pathExitDRToIdle = []bool{true, false}
)

// Config carries the tunables of a programming session. The zero value
// selects the development-board defaults.
type Config struct {
	Pins   bitbang.PinMap // zero value: bitbang.DefaultPins
	Logger *logrus.Logger // nil: logrus.StandardLogger()
}

// Session implements the register shift protocol over one exclusively owned
// transport: load an instruction, shift its data register, decode the
// sampled response. Calls are strictly sequential; the TAP state is carried
// between them by the session itself.
type Session struct {
	xch   *bitbang.Exchanger
	pins  bitbang.PinMap
	state tap.State
	log   *logrus.Entry
}

// NewSession validates the pin assignment and wraps the transport. No
// hardware I/O happens until the first shift.
func NewSession(t bitbang.Transport, cfg Config) (*Session, error) {
	pins := cfg.Pins
	if pins == (bitbang.PinMap{}) {
		pins = bitbang.DefaultPins
	}
	if err := pins.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		xch:  bitbang.NewExchanger(t),
		pins: pins,
		// The hardware state is unknown until Reset; Test-Logic-Reset is
		// what Reset establishes and what Shift's entry path assumes.
		state: tap.StateTestLogicReset,
		log:   logger.WithField("pkg", "avr"),
	}, nil
}

// State reports the TAP state the session believes the hardware is in.
func (s *Session) State() tap.State {
	return s.state
}

// Reset forces the TAP into Test-Logic-Reset with five TMS-high clocks,
// valid from any state including a freshly powered, unknown one.
func (s *Session) Reset() error {
	w := bitbang.NewWaveform(s.pins)
	for i := 0; i < 5; i++ {
		s.state = tap.NextState(s.state, true)
		w.Clock(true, false)
	}
	// One settling byte so the final edge's sample lands inside the
	// response.
	out := append(w.Bytes(), 0x00)
	if _, err := s.xch.Exchange(out); err != nil {
		return err
	}
	s.state = tap.StateTestLogicReset
	return nil
}

// Shift loads the instruction's opcode into the IR, shifts its data
// register with the supplied bytes (LSB of data[0] first, zero-padded to
// the register width) and returns the ceil(nbits/8) bytes that came back on
// TDO.
func (s *Session) Shift(instr Instruction, data []byte) ([]byte, error) {
	info, ok := instructionTable[instr]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownInstruction, uint8(instr))
	}

	w := bitbang.NewWaveform(s.pins)
	clock := func(tms, tdi bool) int {
		s.state = tap.NextState(s.state, tms)
		return w.Clock(tms, tdi)
	}

	for _, tms := range pathToIdle {
		clock(tms, false)
	}
	for _, tms := range pathIdleToShiftIR {
		clock(tms, false)
	}

	opcode := info.opcode
	for i := 0; i < IRLength; i++ {
		clock(false, opcode&1 != 0)
		opcode >>= 1
	}
	s.exitShift(w)

	for _, tms := range pathExitIRToShiftDR {
		clock(tms, false)
	}

	base := 0
	for bit := 0; bit < info.bits; bit++ {
		var tdi bool
		if byteIdx := bit / 8; byteIdx < len(data) {
			tdi = data[byteIdx]>>(bit%8)&1 == 1
		}
		idx := clock(false, tdi)
		if bit == 0 {
			base = idx
		}
	}
	s.exitShift(w)

	for _, tms := range pathExitDRToIdle {
		clock(tms, false)
	}
	clock(false, false) // one idle clock before the next operation

	s.log.WithFields(logrus.Fields{
		"instruction": info.name,
		"bits":        info.bits,
		"waveform":    w.Len(),
	}).Debug("shifting register")

	resp, err := s.xch.Exchange(w.Bytes())
	if err != nil {
		return nil, fmt.Errorf("avr: %s shift: %w", info.name, err)
	}
	out, err := bitbang.Decode(resp, s.pins, base, info.bits)
	if err != nil {
		return nil, fmt.Errorf("avr: %s shift: %w", info.name, err)
	}
	return out, nil
}

// ShiftWord is Shift with the data register value given as an integer,
// little-endian like the wire order.
func (s *Session) ShiftWord(instr Instruction, value uint64) ([]byte, error) {
	width := instr.Bits()
	if width == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownInstruction, uint8(instr))
	}
	data := make([]byte, (width+7)/8)
	for i := range data {
		data[i] = byte(value >> (8 * i))
	}
	return s.Shift(instr, data)
}

// exitShift rewrites the last shifted bit's byte pair with TMS high, the
// exit-on-last-bit mechanism. The shift states loop on TMS=0, so replaying
// the last clock as TMS=1 on the state mirror yields the Exit1 state the
// hardware actually reached.
func (s *Session) exitShift(w *bitbang.Waveform) {
	w.RaiseTMS()
	s.state = tap.NextState(s.state, true)
}
