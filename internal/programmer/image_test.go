package programmer

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/GreenLoofa/cupdi/internal/device"
	"github.com/GreenLoofa/cupdi/internal/hexfile"
)

var testFlash = device.FlashInfo{Start: 0x8000, Size: 8192, PageSize: 64}

func writeHex(t *testing.T, base uint32, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.hex")
	if err := hexfile.Write(path, base, data); err != nil {
		t.Fatalf("write hex file: %v", err)
	}
	return path
}

func patternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 1)
	}
	return data
}

func TestAlignToPages_Properties(t *testing.T) {
	ranges := []struct{ a, b uint32 }{
		{0, 0},
		{0, 63},
		{1, 64},
		{17, 17},
		{63, 65},
		{100, 1000},
		{4095, 4096},
	}
	for _, pageSize := range []uint32{32, 64, 128, 256} {
		for _, r := range ranges {
			from, to := alignToPages(r.a, r.b, pageSize)
			if from > r.a {
				t.Errorf("P=%d [%d,%d]: from %d > a", pageSize, r.a, r.b, from)
			}
			if to < r.b {
				t.Errorf("P=%d [%d,%d]: to %d < b", pageSize, r.a, r.b, to)
			}
			if from%pageSize != 0 {
				t.Errorf("P=%d [%d,%d]: from %d not page aligned", pageSize, r.a, r.b, from)
			}
			if (to+1)%pageSize != 0 {
				t.Errorf("P=%d [%d,%d]: to+1 %d not page aligned", pageSize, r.a, r.b, to+1)
			}
			if (to-from+1)%pageSize != 0 {
				t.Errorf("P=%d [%d,%d]: size %d not a page multiple", pageSize, r.a, r.b, to-from+1)
			}
		}
	}
}

func TestLoadHexImage_AlignsAndTranslates(t *testing.T) {
	// Data at 0x10 in a zero-based file lands in the first page of
	// mapped flash, padded with the erased-cell value.
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	path := writeHex(t, 0x10, data)

	img, err := LoadHexImage(path, testFlash)
	if err != nil {
		t.Fatalf("LoadHexImage: %v", err)
	}

	if img.AddrFrom != 0x8000 || img.AddrTo != 0x803F {
		t.Errorf("range = 0x%04x..0x%04x, want 0x8000..0x803F", img.AddrFrom, img.AddrTo)
	}
	if img.Len() != 64 || img.TotalSize != 64 {
		t.Errorf("len = %d/%d, want 64", img.Len(), img.TotalSize)
	}
	if img.Offset != 0x10 {
		t.Errorf("offset = 0x%x, want 0x10", img.Offset)
	}
	if img.ActualSize != len(data) {
		t.Errorf("actual size = %d, want %d", img.ActualSize, len(data))
	}
	for i := 0; i < 0x10; i++ {
		if img.Data[i] != 0xFF {
			t.Fatalf("pad byte %d = 0x%02x, want 0xFF", i, img.Data[i])
		}
	}
	for i, b := range data {
		if img.Data[0x10+i] != b {
			t.Errorf("data byte %d = 0x%02x, want 0x%02x", i, img.Data[0x10+i], b)
		}
	}
	for i := 0x14; i < 64; i++ {
		if img.Data[i] != 0xFF {
			t.Fatalf("pad byte %d = 0x%02x, want 0xFF", i, img.Data[i])
		}
	}
}

func TestLoadHexImage_AbsoluteAddressesKept(t *testing.T) {
	path := writeHex(t, 0x8100, patternBytes(64))

	img, err := LoadHexImage(path, testFlash)
	if err != nil {
		t.Fatalf("LoadHexImage: %v", err)
	}
	if img.AddrFrom != 0x8100 || img.AddrTo != 0x813F {
		t.Errorf("range = 0x%04x..0x%04x, want 0x8100..0x813F", img.AddrFrom, img.AddrTo)
	}
	if img.Offset != 0 {
		t.Errorf("offset = %d, want 0", img.Offset)
	}
}

func TestLoadHexImage_Boundary(t *testing.T) {
	// Last page of an 8K part: fits exactly.
	path := writeHex(t, 8192-64, patternBytes(64))
	img, err := LoadHexImage(path, testFlash)
	if err != nil {
		t.Fatalf("image ending at flash end: %v", err)
	}
	if img.AddrTo != testFlash.Start+testFlash.Size-1 {
		t.Errorf("addr_to = 0x%04x, want 0x%04x", img.AddrTo, testFlash.Start+testFlash.Size-1)
	}

	// One byte over: the aligned range crosses the end of flash.
	path = writeHex(t, 8192-64, patternBytes(65))
	if _, err := LoadHexImage(path, testFlash); !errors.Is(err, ErrAddressOutOfRange) {
		t.Errorf("over-size image: error = %v, want ErrAddressOutOfRange", err)
	}
}

func TestLoadHexImage_RejectsBadPageSize(t *testing.T) {
	path := writeHex(t, 0, patternBytes(16))

	for _, pageSize := range []uint32{0, 100} {
		bad := testFlash
		bad.PageSize = pageSize
		if _, err := LoadHexImage(path, bad); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("page size %d: error = %v, want ErrInvalidArgument", pageSize, err)
		}
	}
}

func TestLoadHexImage_MissingFile(t *testing.T) {
	if _, err := LoadHexImage(filepath.Join(t.TempDir(), "nope.hex"), testFlash); err == nil {
		t.Fatal("expected error for missing file")
	}
}
