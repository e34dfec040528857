package avr

// 15-bit words for the PROG_COMMANDS register. They drive the target's
// internal programming unit, which accepts them only in the documented
// sequences; the Programmer reproduces those orderings exactly.
const (
	cmdChipErase1 uint16 = 0x2380
	cmdChipErase2 uint16 = 0x3180
	cmdChipErase3 uint16 = 0x3380

	cmdEnterFlashWrite uint16 = 0x2310
	cmdEnterFlashRead  uint16 = 0x2302
	cmdEnterFuseWrite  uint16 = 0x2340
	cmdEnterFuseRead   uint16 = 0x2304

	// Low byte carries the address or data operand.
	cmdLoadAddrHigh uint16 = 0x0700
	cmdLoadAddrLow  uint16 = 0x0300
	cmdLoadDataByte uint16 = 0x1300

	// Write strobes. The second word of each quadruple pulses the write
	// line; the repeats restore it.
	cmdWritePageA uint16 = 0x3700
	cmdWritePageB uint16 = 0x3500

	cmdWriteFuseExtA  uint16 = 0x3B00
	cmdWriteFuseExtB  uint16 = 0x3900
	cmdWriteFuseHighA uint16 = 0x3700
	cmdWriteFuseHighB uint16 = 0x3500
	cmdWriteFuseLowA  uint16 = 0x3300
	cmdWriteFuseLowB  uint16 = 0x3100

	// Polling 0x3700 after a fuse strobe returns the completion flag in
	// bit 9 of the 15-bit response.
	cmdPollFuseWrite uint16 = 0x3700

	// Fuse/lock readout: 0x3A00 starts the pipeline, each following word
	// returns one byte while selecting the next.
	cmdReadFuses    uint16 = 0x3A00
	cmdReadFuseExt  uint16 = 0x3E00
	cmdReadFuseHigh uint16 = 0x3200
	cmdReadFuseLow  uint16 = 0x3600
	cmdReadLockBits uint16 = 0x3700

	cmdExitProgA uint16 = 0x2300
	cmdExitProgB uint16 = 0x3300
)

// progEnableKey is the 16-bit signature that unlocks the programming unit
// when shifted through PROG_ENABLE while reset is held.
const progEnableKey uint16 = 0xA370

// fuseWriteDone is the completion flag in a polled PROG_COMMANDS response.
const fuseWriteDone uint16 = 0x0200
