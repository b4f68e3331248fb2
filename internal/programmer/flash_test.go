package programmer

import (
	"errors"
	"os"
	"testing"
)

func TestProgram_WritesAndVerifies(t *testing.T) {
	mock := newMockTransport()
	s := NewSession(mock, testLogger())
	p := NewFlashProgrammer(s, testLogger())

	data := patternBytes(100)
	path := writeHex(t, 0, data)

	if err := p.Program(path, true); err != nil {
		t.Fatalf("Program: %v", err)
	}

	if mock.eraseCalls != 1 {
		t.Errorf("erase calls = %d, want 1", mock.eraseCalls)
	}
	for i, b := range data {
		if mock.flashData[i] != b {
			t.Fatalf("flash byte %d = 0x%02x, want 0x%02x", i, mock.flashData[i], b)
		}
	}
	// 100 bytes pad out to two 64-byte pages.
	for i := 100; i < 128; i++ {
		if mock.flashData[i] != 0xFF {
			t.Fatalf("pad byte %d = 0x%02x, want 0xFF", i, mock.flashData[i])
		}
	}
}

func TestProgram_CheckOnlyNeverWrites(t *testing.T) {
	mock := newMockTransport()
	p := NewFlashProgrammer(NewSession(mock, testLogger()), testLogger())

	data := patternBytes(64)
	copy(mock.flashData, data)
	path := writeHex(t, 0, data)

	if err := p.Program(path, false); err != nil {
		t.Fatalf("check-only Program: %v", err)
	}
	if mock.eraseCalls != 0 {
		t.Errorf("erase calls = %d, want 0 in check-only mode", mock.eraseCalls)
	}
}

func TestProgram_VerifyMismatch(t *testing.T) {
	mock := newMockTransport()
	p := NewFlashProgrammer(NewSession(mock, testLogger()), testLogger())

	data := patternBytes(64)
	copy(mock.flashData, data)
	mock.flashData[5] ^= 0x80 // corrupt one byte
	path := writeHex(t, 0, data)

	err := p.Program(path, false)
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want VerifyError", err)
	}
	if ve.Offset != 5 {
		t.Errorf("offset = %d, want 5", ve.Offset)
	}
	if ve.Expected != data[5] || ve.Actual != data[5]^0x80 {
		t.Errorf("expected/actual = 0x%02x/0x%02x, want 0x%02x/0x%02x",
			ve.Expected, ve.Actual, data[5], data[5]^0x80)
	}
}

func TestSave_ThenCheckRoundTrips(t *testing.T) {
	mock := newMockTransport()
	p := NewFlashProgrammer(NewSession(mock, testLogger()), testLogger())

	copy(mock.flashData, patternBytes(256))

	path := writeHex(t, 0, patternBytes(4)) // only the directory and name matter
	if err := p.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	saved := path + SaveSuffix
	if _, err := os.Stat(saved); err != nil {
		t.Fatalf("saved file: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("original file touched: %v", err)
	}

	// A check-only pass over the saved image matches the device.
	if err := p.Program(saved, false); err != nil {
		t.Fatalf("check of saved image: %v", err)
	}
	if mock.eraseCalls != 0 {
		t.Errorf("erase calls = %d, want 0", mock.eraseCalls)
	}
}
