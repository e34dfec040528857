package avr

import "fmt"

// Instruction selects one of the mega AVR JTAG instructions. The set is
// closed: each value carries its 4-bit opcode and the width of the data
// register it selects, and nothing outside this table can reach the wire.
type Instruction uint8

const (
	// IDCode selects the 32-bit identification register.
	IDCode Instruction = iota
	// ProgEnable selects the 16-bit programming-enable register.
	ProgEnable
	// ProgCommands selects the 15-bit programming command register.
	ProgCommands
	// ProgPageLoad selects the 1024-bit flash page buffer.
	ProgPageLoad
	// ProgPageRead selects the 1032-bit page readout register
	// (8 leading status bits, then the 1024 data bits).
	ProgPageRead
	// AVRReset selects the 1-bit reset register; shifting in 1 holds the
	// part in reset.
	AVRReset
	// Bypass selects the mandatory 1-bit bypass register.
	Bypass
)

// IRLength is the instruction register width, fixed at 4 bits for this
// family.
const IRLength = 4

type instructionInfo struct {
	name   string
	opcode byte
	bits   int
}

var instructionTable = map[Instruction]instructionInfo{
	IDCode:       {name: "IDCODE", opcode: 0x1, bits: 32},
	ProgEnable:   {name: "PROG_ENABLE", opcode: 0x4, bits: 16},
	ProgCommands: {name: "PROG_COMMANDS", opcode: 0x5, bits: 15},
	ProgPageLoad: {name: "PROG_PAGELOAD", opcode: 0x6, bits: 1024},
	ProgPageRead: {name: "PROG_PAGEREAD", opcode: 0x7, bits: 1032},
	AVRReset:     {name: "AVR_RESET", opcode: 0xC, bits: 1},
	Bypass:       {name: "BYPASS", opcode: 0xF, bits: 1},
}

// Instructions returns the full instruction set in declaration order.
func Instructions() []Instruction {
	return []Instruction{IDCode, ProgEnable, ProgCommands, ProgPageLoad, ProgPageRead, AVRReset, Bypass}
}

// Opcode returns the 4-bit instruction register value.
func (i Instruction) Opcode() byte {
	return instructionTable[i].opcode
}

// Bits returns the width of the data register the instruction selects.
func (i Instruction) Bits() int {
	return instructionTable[i].bits
}

func (i Instruction) String() string {
	if info, ok := instructionTable[i]; ok {
		return info.name
	}
	return fmt.Sprintf("Instruction(%d)", uint8(i))
}

// instructionByOpcode resolves a latched IR value back to its instruction.
// Used by the simulated target.
func instructionByOpcode(opcode byte) (Instruction, bool) {
	for instr, info := range instructionTable {
		if info.opcode == opcode {
			return instr, true
		}
	}
	return 0, false
}
