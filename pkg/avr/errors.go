package avr

import (
	"errors"
	"fmt"
)

// ErrUnknownInstruction reports an Instruction value outside the fixed set.
// It is a configuration error and is raised before any hardware I/O.
var ErrUnknownInstruction = errors.New("avr: instruction not in the device's instruction set")

// ErrFuseTimeout reports that a fuse write never signalled completion
// within the poll bound.
var ErrFuseTimeout = errors.New("avr: fuse write did not complete")

// VerificationError reports a flash read-back mismatch after programming.
type VerificationError struct {
	Offset   int // byte offset of the failing page in the image
	Expected []byte
	Actual   []byte
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("avr: verification failed at offset %d: wrote % x, read % x",
		e.Offset, e.Expected, e.Actual)
}
