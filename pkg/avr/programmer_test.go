package avr

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OpenTraceLab/avrjtag/pkg/bitbang"
)

func newTestProgrammer(t *testing.T) (*Programmer, *Target) {
	t.Helper()
	target := NewTarget()
	sess, err := NewSession(bitbang.NewLoopback(bitbang.DefaultPins, target), Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	prog := NewProgrammer(sess)
	prog.EraseWait = 0
	prog.WriteWait = 0
	return prog, target
}

func TestIdentify(t *testing.T) {
	prog, _ := newTestProgrammer(t)
	id, err := prog.Identify()
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if id.Raw != 0x7940403F {
		t.Errorf("Raw = %#08x, want 0x7940403f", id.Raw)
	}
	if got := id.String(); got != "7940403f" {
		t.Errorf("String() = %q, want %q", got, "7940403f")
	}
	if id.Version != 0x7 {
		t.Errorf("Version = %#x, want 0x7", id.Version)
	}
	if id.Manufacturer != 0x01F {
		t.Errorf("Manufacturer = %#x, want 0x01f", id.Manufacturer)
	}
}

func TestWriteFlashSmallImage(t *testing.T) {
	prog, target := newTestProgrammer(t)

	// rjmp loop; nop; sleep pattern from the board's smoke-test image.
	image := []byte{0x01, 0x96, 0x98, 0xBB, 0xFD, 0xCF}
	if err := prog.WriteFlash(image, true); err != nil {
		t.Fatalf("WriteFlash() error = %v", err)
	}

	flash := target.Flash()
	if !bytes.Equal(flash[:len(image)], image) {
		t.Errorf("flash[:6] = % x, want % x", flash[:len(image)], image)
	}
	// The partial page is zero-padded out to the page boundary.
	for i := len(image); i < PageSize; i++ {
		if flash[i] != 0 {
			t.Errorf("flash[%d] = %#02x, want zero padding", i, flash[i])
		}
	}
	// Beyond the written page the erased pattern survives.
	if flash[PageSize] != 0xFF {
		t.Errorf("flash[%d] = %#02x, want 0xff", PageSize, flash[PageSize])
	}

	if target.ProgrammingEnabled() {
		t.Error("programming mode still enabled after WriteFlash")
	}
	if target.ResetHeld() {
		t.Error("reset still asserted after WriteFlash")
	}
}

func TestWriteFlashMultiPage(t *testing.T) {
	prog, target := newTestProgrammer(t)

	image := make([]byte, 3*PageSize+17)
	for i := range image {
		image[i] = byte(i * 7)
	}
	if err := prog.WriteFlash(image, true); err != nil {
		t.Fatalf("WriteFlash() error = %v", err)
	}
	if flash := target.Flash(); !bytes.Equal(flash[:len(image)], image) {
		t.Error("flash contents do not match the image")
	}
}

func TestWriteFlashIsIdempotent(t *testing.T) {
	prog, target := newTestProgrammer(t)

	image := make([]byte, 2*PageSize)
	for i := range image {
		image[i] = byte(i ^ 0x5A)
	}
	if err := prog.WriteFlash(image, true); err != nil {
		t.Fatalf("first WriteFlash() error = %v", err)
	}
	first := target.Flash()
	if err := prog.WriteFlash(image, true); err != nil {
		t.Fatalf("second WriteFlash() error = %v", err)
	}
	if !bytes.Equal(first, target.Flash()) {
		t.Error("flash differs between identical programming runs")
	}
}

func TestWriteFlashRejectsEmptyImage(t *testing.T) {
	prog, _ := newTestProgrammer(t)
	if err := prog.WriteFlash(nil, true); err == nil {
		t.Fatal("WriteFlash(nil) did not fail")
	}
}

func TestVerifyFlashReportsPageOffset(t *testing.T) {
	prog, target := newTestProgrammer(t)

	image := make([]byte, PageSize+72)
	for i := range image {
		image[i] = byte(i)
	}
	if err := prog.WriteFlash(image, false); err != nil {
		t.Fatalf("WriteFlash() error = %v", err)
	}
	target.CorruptFlash(PageSize+2, 0xEE)

	err := prog.VerifyFlash(image)
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("VerifyFlash() error = %v, want *VerificationError", err)
	}
	if verr.Offset != PageSize {
		t.Errorf("Offset = %d, want %d", verr.Offset, PageSize)
	}
	if len(verr.Expected) != 72 || len(verr.Actual) != 72 {
		t.Errorf("page lengths = %d/%d, want 72/72", len(verr.Expected), len(verr.Actual))
	}
	if verr.Actual[2] != 0xEE {
		t.Errorf("Actual[2] = %#02x, want the corrupted byte", verr.Actual[2])
	}
	if target.ResetHeld() {
		t.Error("reset still asserted after failed verify")
	}
}

func TestVerifyFlashCleanPass(t *testing.T) {
	prog, _ := newTestProgrammer(t)
	image := []byte{0x12, 0x34, 0x56}
	if err := prog.WriteFlash(image, false); err != nil {
		t.Fatalf("WriteFlash() error = %v", err)
	}
	if err := prog.VerifyFlash(image); err != nil {
		t.Errorf("VerifyFlash() error = %v", err)
	}
}

func TestProgramFuses(t *testing.T) {
	prog, target := newTestProgrammer(t)

	want := Fuses{Extended: 0xF9, High: 0x19, Low: 0xC2}
	if err := prog.ProgramFuses(want); err != nil {
		t.Fatalf("ProgramFuses() error = %v", err)
	}
	if got := target.FuseValues().Fuses; got != want {
		t.Errorf("fuses = %+v, want %+v", got, want)
	}
	if target.ResetHeld() {
		t.Error("reset still asserted after ProgramFuses")
	}
}

func TestProgramFusesPollTimeout(t *testing.T) {
	prog, target := newTestProgrammer(t)
	target.FuseBusyPolls = 1000
	prog.PollLimit = 4

	err := prog.ProgramFuses(Fuses{Extended: 0xF9, High: 0x19, Low: 0xC2})
	if !errors.Is(err, ErrFuseTimeout) {
		t.Fatalf("ProgramFuses() error = %v, want ErrFuseTimeout", err)
	}
	// The exit sequence still runs on failure.
	if target.ProgrammingEnabled() || target.ResetHeld() {
		t.Error("part left in programming mode after poll timeout")
	}
}

func TestReadFusesFactoryDefaults(t *testing.T) {
	prog, _ := newTestProgrammer(t)
	state, err := prog.ReadFuses()
	if err != nil {
		t.Fatalf("ReadFuses() error = %v", err)
	}
	want := FuseState{Fuses: Fuses{Extended: 0xFF, High: 0x99, Low: 0xE1}, Lock: 0xFF}
	if state != want {
		t.Errorf("ReadFuses() = %+v, want %+v", state, want)
	}
}

func TestReadFusesSeesProgrammedValues(t *testing.T) {
	prog, target := newTestProgrammer(t)
	written := Fuses{Extended: 0xF9, High: 0x19, Low: 0xC2}
	if err := prog.ProgramFuses(written); err != nil {
		t.Fatalf("ProgramFuses() error = %v", err)
	}
	state, err := prog.ReadFuses()
	if err != nil {
		t.Fatalf("ReadFuses() error = %v", err)
	}
	if state.Fuses != written {
		t.Errorf("ReadFuses() = %+v, want %+v", state.Fuses, written)
	}
	if state.Lock != target.FuseValues().Lock {
		t.Errorf("Lock = %#02x, want %#02x", state.Lock, target.FuseValues().Lock)
	}
}
