package avr

import (
	"encoding/binary"

	"github.com/OpenTraceLab/avrjtag/pkg/tap"
)

// FlashSize is the ATmega162 flash capacity in bytes.
const FlashSize = 16 * 1024

// idcodeATmega162 is the identification register of the development part.
const idcodeATmega162 uint32 = 0x7940403F

type targetMode uint8

const (
	modeNone targetMode = iota
	modeErase
	modeFlashWrite
	modeFlashRead
	modeFuseWrite
	modeFuseRead
)

// Target simulates enough of an ATmega162 behind a bitbang.Loopback for the
// whole programming flow to run without hardware: TAP controller, IR/DR
// shifting, the programming command unit, flash pages and fuses.
type Target struct {
	state   tap.State
	instr   Instruction
	irShift byte
	dr      []byte
	drBits  int
	tdo     bool

	resetHeld bool
	enabled   bool
	mode      targetMode
	addr      uint16
	data      byte
	response  uint16
	pollsLeft int

	pageBuf []byte
	flash   []byte
	fuses   FuseState

	// FuseBusyPolls is how many busy poll responses each fuse write
	// produces before reporting completion.
	FuseBusyPolls int
}

// NewTarget returns a blank target: erased flash, default fuses, TAP in
// Test-Logic-Reset.
func NewTarget() *Target {
	t := &Target{
		state:         tap.StateTestLogicReset,
		instr:         IDCode,
		pageBuf:       make([]byte, PageSize),
		flash:         make([]byte, FlashSize),
		fuses:         FuseState{Fuses: Fuses{Extended: 0xFF, High: 0x99, Low: 0xE1}, Lock: 0xFF},
		FuseBusyPolls: 1,
	}
	for i := range t.flash {
		t.flash[i] = 0xFF
	}
	return t
}

// TDO reports the level presently driven on the TDO line.
func (t *Target) TDO() bool {
	return t.tdo
}

// Clock advances the target by one TCK rising edge. Shifting happens on
// edges taken from a shift state; capture on the edge that departs a
// capture state; instruction latch and command execution on the edge that
// enters an update state.
func (t *Target) Clock(tms, tdi bool) {
	prev := t.state
	t.state = tap.NextState(prev, tms)

	switch prev {
	case tap.StateCaptureIR:
		t.irShift = 0x01 // IEEE-mandated capture pattern
	case tap.StateShiftIR:
		t.tdo = t.irShift&1 != 0
		t.irShift >>= 1
		if tdi {
			t.irShift |= 1 << (IRLength - 1)
		}
	case tap.StateCaptureDR:
		t.captureDR()
	case tap.StateShiftDR:
		t.shiftDR(tdi)
	}

	switch t.state {
	case tap.StateTestLogicReset:
		t.instr = IDCode
	case tap.StateUpdateIR:
		if instr, ok := instructionByOpcode(t.irShift & 0x0F); ok {
			t.instr = instr
		} else {
			t.instr = Bypass
		}
	case tap.StateUpdateDR:
		t.updateDR()
	}
}

func (t *Target) setDR(bits int) {
	t.drBits = bits
	t.dr = make([]byte, (bits+7)/8)
}

func (t *Target) captureDR() {
	switch t.instr {
	case IDCode:
		t.setDR(32)
		binary.LittleEndian.PutUint32(t.dr, idcodeATmega162)
	case ProgEnable:
		t.setDR(16)
	case ProgCommands:
		t.setDR(15)
		binary.LittleEndian.PutUint16(t.dr, t.response&0x7FFF)
	case ProgPageLoad:
		t.setDR(1024)
	case ProgPageRead:
		t.setDR(1032)
		base := int(t.addr) << 1
		if base+PageSize <= len(t.flash) {
			copy(t.dr[1:], t.flash[base:base+PageSize])
		}
	case AVRReset:
		t.setDR(1)
		if t.resetHeld {
			t.dr[0] = 1
		}
	default:
		t.setDR(1)
	}
}

func (t *Target) shiftDR(tdi bool) {
	t.tdo = t.dr[0]&1 != 0
	for i := 0; i < len(t.dr)-1; i++ {
		t.dr[i] = t.dr[i]>>1 | t.dr[i+1]<<7
	}
	t.dr[len(t.dr)-1] >>= 1
	if tdi {
		top := t.drBits - 1
		t.dr[top/8] |= 1 << (top % 8)
	}
}

func (t *Target) updateDR() {
	switch t.instr {
	case AVRReset:
		t.resetHeld = t.dr[0]&1 != 0
	case ProgEnable:
		t.enabled = t.resetHeld && binary.LittleEndian.Uint16(t.dr) == progEnableKey
	case ProgCommands:
		t.exec(binary.LittleEndian.Uint16(t.dr) & 0x7FFF)
	case ProgPageLoad:
		copy(t.pageBuf, t.dr[:PageSize])
	}
}

// exec runs one 15-bit programming command. Responses to read and poll
// commands are latched into the capture value of the next shift, which is
// how the hardware pipelines them.
func (t *Target) exec(cmd uint16) {
	if !t.enabled {
		return
	}

	switch cmd & 0xFF00 {
	case cmdLoadAddrHigh:
		t.addr = t.addr&0x00FF | uint16(cmd&0xFF)<<8
		return
	case cmdLoadAddrLow:
		t.addr = t.addr&0xFF00 | cmd&0xFF
		return
	case cmdLoadDataByte:
		t.data = byte(cmd)
		return
	}

	switch cmd {
	case cmdChipErase1:
		t.mode = modeErase
		return
	case cmdChipErase2:
		if t.mode == modeErase {
			for i := range t.flash {
				t.flash[i] = 0xFF
			}
		}
		return
	case cmdEnterFlashWrite:
		t.mode = modeFlashWrite
		return
	case cmdEnterFlashRead:
		t.mode = modeFlashRead
		return
	case cmdEnterFuseWrite:
		t.mode = modeFuseWrite
		return
	case cmdEnterFuseRead:
		t.mode = modeFuseRead
		t.response = 0
		return
	case cmdExitProgA:
		t.mode = modeNone
		return
	}

	switch t.mode {
	case modeFlashWrite:
		if cmd == cmdWritePageB {
			base := int(t.addr) << 1
			if base+PageSize <= len(t.flash) {
				copy(t.flash[base:base+PageSize], t.pageBuf)
			}
		}
	case modeFuseWrite:
		switch cmd {
		case cmdWriteFuseExtB:
			t.fuses.Extended = t.data
			t.pollsLeft = t.FuseBusyPolls
		case cmdWriteFuseHighB:
			t.fuses.High = t.data
			t.pollsLeft = t.FuseBusyPolls
		case cmdWriteFuseLowB:
			t.fuses.Low = t.data
			t.pollsLeft = t.FuseBusyPolls
		case cmdPollFuseWrite:
			if t.pollsLeft > 0 {
				t.pollsLeft--
				t.response = 0
			} else {
				t.response = fuseWriteDone
			}
		}
	case modeFuseRead:
		switch cmd {
		case cmdReadFuses:
			t.response = uint16(t.fuses.Extended)
		case cmdReadFuseExt:
			t.response = uint16(t.fuses.High)
		case cmdReadFuseHigh:
			t.response = uint16(t.fuses.Low)
		case cmdReadFuseLow:
			t.response = uint16(t.fuses.Lock)
		}
	}
}

// Flash returns a copy of the flash contents.
func (t *Target) Flash() []byte {
	return append([]byte(nil), t.flash...)
}

// CorruptFlash flips a flash byte behind the programmer's back. Test hook
// for exercising verification failures.
func (t *Target) CorruptFlash(offset int, value byte) {
	t.flash[offset] = value
}

// FuseValues reports the current fuse and lock bytes.
func (t *Target) FuseValues() FuseState {
	return t.fuses
}

// ProgrammingEnabled reports whether the programming unit is unlocked.
func (t *Target) ProgrammingEnabled() bool {
	return t.enabled
}

// ResetHeld reports whether the reset register holds the part in reset.
func (t *Target) ResetHeld() bool {
	return t.resetHeld
}
