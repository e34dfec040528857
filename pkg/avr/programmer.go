package avr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PageSize is the flash page size in bytes (1024-bit pages).
const PageSize = 128

// Fuses are the three writable fuse bytes.
type Fuses struct {
	Extended byte
	High     byte
	Low      byte
}

// FuseState is a full fuse/lock readout.
type FuseState struct {
	Fuses
	Lock byte
}

// Programmer sequences the AVR programming protocol on top of a Session.
// Every operation enters programming mode, runs its command sequence and
// always executes the exit sequence, even on failure, so the part is never
// left stuck in programming mode.
type Programmer struct {
	sess *Session
	log  *logrus.Entry

	// EraseWait and WriteWait are the device-rated minimum settling times
	// after chip erase and page write.
	EraseWait time.Duration
	WriteWait time.Duration
	// PollLimit bounds the fuse-write completion poll.
	PollLimit int
}

// NewProgrammer returns a Programmer with the ATmega162 timing defaults.
func NewProgrammer(sess *Session) *Programmer {
	return &Programmer{
		sess:      sess,
		log:       sess.log,
		EraseWait: 10 * time.Millisecond,
		WriteWait: 10 * time.Millisecond,
		PollLimit: 64,
	}
}

func (p *Programmer) command(word uint16) ([]byte, error) {
	return p.sess.ShiftWord(ProgCommands, uint64(word))
}

// enter forces the TAP into a known state, asserts reset and unlocks the
// programming unit.
func (p *Programmer) enter() error {
	if err := p.sess.Reset(); err != nil {
		return fmt.Errorf("avr: tap reset: %w", err)
	}
	if _, err := p.sess.ShiftWord(AVRReset, 1); err != nil {
		return fmt.Errorf("avr: assert reset: %w", err)
	}
	if _, err := p.sess.ShiftWord(ProgEnable, uint64(progEnableKey)); err != nil {
		return fmt.Errorf("avr: programming enable: %w", err)
	}
	return nil
}

// exit leaves programming mode, clears the enable key and releases reset.
// All four steps are attempted regardless of earlier failures; the first
// error is returned.
func (p *Programmer) exit() error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_, err := p.command(cmdExitProgA)
	note(err)
	_, err = p.command(cmdExitProgB)
	note(err)
	_, err = p.sess.ShiftWord(ProgEnable, 0)
	note(err)
	_, err = p.sess.ShiftWord(AVRReset, 0)
	note(err)
	if firstErr != nil {
		return fmt.Errorf("avr: exit programming mode: %w", firstErr)
	}
	return nil
}

// finish runs the exit sequence and merges its outcome with the primary
// error: cleanup failures never mask the error that got us here.
func (p *Programmer) finish(err *error) {
	if exitErr := p.exit(); exitErr != nil {
		if *err == nil {
			*err = exitErr
		} else {
			p.log.WithError(exitErr).Warn("exit sequence failed after earlier error")
		}
	}
}

// Identify reads the 32-bit identification register. The part does not need
// to be in programming mode for this.
func (p *Programmer) Identify() (DeviceID, error) {
	if err := p.sess.Reset(); err != nil {
		return DeviceID{}, err
	}
	raw, err := p.sess.Shift(IDCode, make([]byte, 4))
	if err != nil {
		return DeviceID{}, err
	}
	return ParseDeviceID(binary.LittleEndian.Uint32(raw)), nil
}

// WriteFlash erases the chip and programs image into flash page by page,
// optionally verifying every page by read-back afterwards.
func (p *Programmer) WriteFlash(image []byte, verify bool) (err error) {
	if len(image) == 0 {
		return fmt.Errorf("avr: empty code image")
	}
	if err = p.enter(); err != nil {
		return err
	}
	defer p.finish(&err)

	if err = p.chipErase(); err != nil {
		return err
	}
	if err = p.writePages(image); err != nil {
		return err
	}
	if verify {
		if err = p.verifyPages(image); err != nil {
			return err
		}
	}
	return nil
}

// VerifyFlash compares the flash contents against image without writing.
func (p *Programmer) VerifyFlash(image []byte) (err error) {
	if len(image) == 0 {
		return fmt.Errorf("avr: empty code image")
	}
	if err = p.enter(); err != nil {
		return err
	}
	defer p.finish(&err)
	return p.verifyPages(image)
}

func (p *Programmer) chipErase() error {
	p.log.Debug("chip erase")
	for _, word := range []uint16{cmdChipErase1, cmdChipErase2, cmdChipErase3, cmdChipErase3} {
		if _, err := p.command(word); err != nil {
			return fmt.Errorf("avr: chip erase: %w", err)
		}
	}
	time.Sleep(p.EraseWait)
	return nil
}

// loadAddress issues the high/low address-byte commands for a page. Flash
// is word-addressed, so the byte offset is halved first.
func (p *Programmer) loadAddress(offset int) error {
	addr := offset >> 1
	if _, err := p.command(cmdLoadAddrHigh | uint16(addr>>8)&0xFF); err != nil {
		return err
	}
	if _, err := p.command(cmdLoadAddrLow | uint16(addr)&0xFF); err != nil {
		return err
	}
	return nil
}

func (p *Programmer) writePages(image []byte) error {
	if _, err := p.command(cmdEnterFlashWrite); err != nil {
		return err
	}
	for offset := 0; offset < len(image); offset += PageSize {
		end := offset + PageSize
		if end > len(image) {
			end = len(image)
		}
		p.log.WithFields(logrus.Fields{"offset": offset, "bytes": end - offset}).Debug("writing flash page")

		if err := p.loadAddress(offset); err != nil {
			return fmt.Errorf("avr: page at %d: %w", offset, err)
		}
		// The page buffer shift pads the tail with zeros when the image
		// ends mid-page.
		if _, err := p.sess.Shift(ProgPageLoad, image[offset:end]); err != nil {
			return fmt.Errorf("avr: page at %d: %w", offset, err)
		}
		for _, word := range []uint16{cmdWritePageA, cmdWritePageB, cmdWritePageA, cmdWritePageA} {
			if _, err := p.command(word); err != nil {
				return fmt.Errorf("avr: page at %d: %w", offset, err)
			}
		}
		time.Sleep(p.WriteWait)
	}
	return nil
}

func (p *Programmer) verifyPages(image []byte) error {
	if _, err := p.command(cmdEnterFlashRead); err != nil {
		return err
	}
	for offset := 0; offset < len(image); offset += PageSize {
		if err := p.loadAddress(offset); err != nil {
			return fmt.Errorf("avr: verify at %d: %w", offset, err)
		}
		page, err := p.sess.Shift(ProgPageRead, nil)
		if err != nil {
			return fmt.Errorf("avr: verify at %d: %w", offset, err)
		}
		// Drop the status byte ahead of the 1024 data bits.
		page = page[1:]

		end := offset + PageSize
		if end > len(image) {
			end = len(image)
		}
		want := image[offset:end]
		got := page[:len(want)]
		if !bytes.Equal(want, got) {
			return &VerificationError{
				Offset:   offset,
				Expected: append([]byte(nil), want...),
				Actual:   append([]byte(nil), got...),
			}
		}
	}
	return nil
}

// ProgramFuses writes the extended, high and low fuse bytes, polling for
// completion after each.
func (p *Programmer) ProgramFuses(f Fuses) (err error) {
	if err = p.enter(); err != nil {
		return err
	}
	defer p.finish(&err)

	if _, err = p.command(cmdEnterFuseWrite); err != nil {
		return err
	}

	steps := []struct {
		name    string
		data    byte
		strobes [4]uint16
	}{
		{"extended", f.Extended, [4]uint16{cmdWriteFuseExtA, cmdWriteFuseExtB, cmdWriteFuseExtA, cmdWriteFuseExtA}},
		{"high", f.High, [4]uint16{cmdWriteFuseHighA, cmdWriteFuseHighB, cmdWriteFuseHighA, cmdWriteFuseHighA}},
		{"low", f.Low, [4]uint16{cmdWriteFuseLowA, cmdWriteFuseLowB, cmdWriteFuseLowA, cmdWriteFuseLowA}},
	}
	for _, step := range steps {
		p.log.WithField("fuse", step.name).Debug("writing fuse byte")
		if _, err = p.command(cmdLoadDataByte | uint16(step.data)); err != nil {
			return fmt.Errorf("avr: %s fuse: %w", step.name, err)
		}
		for _, word := range step.strobes {
			if _, err = p.command(word); err != nil {
				return fmt.Errorf("avr: %s fuse: %w", step.name, err)
			}
		}
		if err = p.pollFuseWrite(); err != nil {
			return fmt.Errorf("avr: %s fuse: %w", step.name, err)
		}
	}
	return nil
}

// pollFuseWrite busy-polls the status command until the completion flag
// comes back, bounded by PollLimit.
func (p *Programmer) pollFuseWrite() error {
	for i := 0; i < p.PollLimit; i++ {
		out, err := p.command(cmdPollFuseWrite)
		if err != nil {
			return err
		}
		if binary.LittleEndian.Uint16(out)&fuseWriteDone != 0 {
			return nil
		}
	}
	return fmt.Errorf("%w after %d polls", ErrFuseTimeout, p.PollLimit)
}

// ReadFuses returns the current fuse and lock bytes. The readout is
// pipelined: each command's response arrives in the shift that carries the
// next command.
func (p *Programmer) ReadFuses() (state FuseState, err error) {
	if err = p.enter(); err != nil {
		return FuseState{}, err
	}
	defer p.finish(&err)

	if _, err = p.command(cmdEnterFuseRead); err != nil {
		return FuseState{}, err
	}
	if _, err = p.command(cmdReadFuses); err != nil {
		return FuseState{}, err
	}
	reads := []struct {
		word uint16
		dst  *byte
	}{
		{cmdReadFuseExt, &state.Extended},
		{cmdReadFuseHigh, &state.High},
		{cmdReadFuseLow, &state.Low},
		{cmdReadLockBits, &state.Lock},
	}
	for _, r := range reads {
		out, cmdErr := p.command(r.word)
		if cmdErr != nil {
			err = cmdErr
			return FuseState{}, err
		}
		*r.dst = out[0]
	}
	return state, nil
}
