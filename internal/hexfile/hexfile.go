// Package hexfile wraps the Intel-HEX codec used for firmware images.
package hexfile

import (
	"fmt"
	"os"

	"github.com/marcinbor85/gohex"
)

// Range is the minimal address range covering every data record of a file,
// plus the number of bytes the file actually carries inside that range.
type Range struct {
	From   uint32
	To     uint32
	Actual int
}

func parse(path string) (*gohex.Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hex file: %w", err)
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return mem, nil
}

// ScanRange parses the file and reports its covering address range.
func ScanRange(path string) (Range, error) {
	mem, err := parse(path)
	if err != nil {
		return Range{}, err
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return Range{}, fmt.Errorf("%s: no data records", path)
	}

	r := Range{From: segments[0].Address, To: segments[0].Address}
	for _, seg := range segments {
		end := seg.Address + uint32(len(seg.Data)) - 1
		if seg.Address < r.From {
			r.From = seg.Address
		}
		if end > r.To {
			r.To = end
		}
		r.Actual += len(seg.Data)
	}
	return r, nil
}

// ReadInto re-parses the file and copies every data record into buf, which
// represents memory starting at base. Bytes not covered by the file are
// left untouched.
func ReadInto(path string, buf []byte, base uint32) error {
	mem, err := parse(path)
	if err != nil {
		return err
	}

	for _, seg := range mem.GetDataSegments() {
		if seg.Address < base {
			return fmt.Errorf("%s: record at 0x%04x below buffer base 0x%04x", path, seg.Address, base)
		}
		off := seg.Address - base
		if int(off)+len(seg.Data) > len(buf) {
			return fmt.Errorf("%s: record at 0x%04x overruns buffer", path, seg.Address)
		}
		copy(buf[off:], seg.Data)
	}
	return nil
}

// Write dumps data as an Intel-HEX file with records based at base.
func Write(path string, base uint32, data []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(base, data); err != nil {
		return fmt.Errorf("build hex image: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := mem.DumpIntelHex(f, 16); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
