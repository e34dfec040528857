// Package image loads code images for flash programming. ELF files are laid
// out from their loadable segments at physical addresses, so avr-gcc output
// programs directly; anything without an ELF magic is taken as a raw binary.
package image

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
)

// MaxSize caps the assembled image. Physical addresses come straight from
// the file, so a corrupt segment table could otherwise demand gigabytes.
const MaxSize = 4 << 20

// ErrNoLoadableSegments reports an ELF file with nothing to program.
var ErrNoLoadableSegments = errors.New("image: no loadable segments")

// Load reads and parses the file at path.
func Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	img, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("image: %s: %w", path, err)
	}
	return img, nil
}

// Parse assembles a flat image from data. ELF input places each PT_LOAD
// segment at its physical address relative to the lowest one, with gaps
// filled with the erased-flash pattern 0xFF. Non-ELF input is returned
// as-is.
func Parse(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		if len(data) > MaxSize {
			return nil, fmt.Errorf("image is %d bytes, limit %d", len(data), MaxSize)
		}
		return data, nil
	}

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse ELF: %w", err)
	}
	defer f.Close()

	type span struct {
		paddr uint64
		data  []byte
	}
	var spans []span
	base := uint64(0)
	end := uint64(0)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		seg := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(seg, 0); err != nil {
			return nil, fmt.Errorf("read segment at %#x: %w", prog.Paddr, err)
		}
		if len(spans) == 0 || prog.Paddr < base {
			base = prog.Paddr
		}
		if segEnd := prog.Paddr + prog.Filesz; segEnd > end {
			end = segEnd
		}
		spans = append(spans, span{paddr: prog.Paddr, data: seg})
	}
	if len(spans) == 0 {
		return nil, ErrNoLoadableSegments
	}
	if size := end - base; size > MaxSize {
		return nil, fmt.Errorf("image spans %d bytes, limit %d", size, MaxSize)
	}

	img := make([]byte, end-base)
	for i := range img {
		img[i] = 0xFF
	}
	for _, s := range spans {
		copy(img[s.paddr-base:], s.data)
	}
	return img, nil
}
