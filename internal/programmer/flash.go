package programmer

import (
	"fmt"

	"github.com/GreenLoofa/cupdi/internal/hexfile"
	"github.com/GreenLoofa/cupdi/internal/logging"
)

// SaveSuffix is appended to the input path by Save so the original file
// is never overwritten.
const SaveSuffix = ".save"

// FlashProgrammer runs whole-image erase/program/verify/save workflows
// over an established session.
type FlashProgrammer struct {
	s   *Session
	log *logging.Logger
}

// NewFlashProgrammer builds a flash programmer on top of a session.
func NewFlashProgrammer(s *Session, log *logging.Logger) *FlashProgrammer {
	return &FlashProgrammer{s: s, log: log}
}

// Program flashes the hex file at path, or only verifies it when doWrite
// is false. Verification always runs: a check-only pass validates the
// device contents against a reference image. The flash geometry is
// re-fetched every call; register state may have changed after a
// programming-mode re-entry.
func (p *FlashProgrammer) Program(path string, doWrite bool) error {
	flash, err := p.s.t.GetFlashInfo()
	if err != nil {
		return fmt.Errorf("flash info: %w", err)
	}

	img, err := LoadHexImage(path, flash)
	if err != nil {
		return err
	}
	p.log.Infof(logging.Updi, "image 0x%04x..0x%04x, %d bytes (%d from file)",
		img.AddrFrom, img.AddrTo, img.TotalSize, img.ActualSize)

	if doWrite {
		// Not atomic: a failure between erase and write leaves the
		// device blank, recoverable by programming again.
		if err := p.s.t.ChipErase(); err != nil {
			return fmt.Errorf("chip erase: %w", err)
		}
		if err := p.s.t.WriteFlash(img.AddrFrom, img.Data); err != nil {
			return fmt.Errorf("write flash: %w", err)
		}
	}

	return p.verify(img)
}

// verify reads the image range back and compares byte for byte.
func (p *FlashProgrammer) verify(img *HexImage) error {
	readback, err := p.s.t.ReadFlash(img.AddrFrom, img.Len())
	if err != nil {
		return fmt.Errorf("read back flash: %w", err)
	}

	for i := range img.Data {
		if img.Data[i] != readback[i] {
			return &VerifyError{Offset: i, Expected: img.Data[i], Actual: readback[i]}
		}
	}
	p.log.Infof(logging.Updi, "flash verified, %d bytes match", img.Len())
	return nil
}

// Save reads the whole flash region and writes it to path + ".save" as an
// Intel-HEX file addressed from zero.
func (p *FlashProgrammer) Save(path string) error {
	flash, err := p.s.t.GetFlashInfo()
	if err != nil {
		return fmt.Errorf("flash info: %w", err)
	}

	data, err := p.s.t.ReadFlash(flash.Start, int(flash.Size))
	if err != nil {
		return fmt.Errorf("read flash: %w", err)
	}

	out := path + SaveSuffix
	if err := hexfile.Write(out, 0, data); err != nil {
		return err
	}
	p.log.Infof(logging.Updi, "saved flash to %q", out)
	return nil
}
