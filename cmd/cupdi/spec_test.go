package main

import (
	"bytes"
	"testing"
)

func TestParseFuseSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    fuseSpec
		wantErr bool
	}{
		{"3:0x55", fuseSpec{3, 0x55}, false},
		{"3:55", fuseSpec{3, 0x55}, false},
		{"0:0xFF", fuseSpec{0, 0xFF}, false},
		{"3", fuseSpec{}, true},
		{"a:0x55", fuseSpec{}, true},
		{"300:0x55", fuseSpec{}, true},
		{"3:0x155", fuseSpec{}, true},
		{"3:0x55:7", fuseSpec{}, true},
	}
	for _, tt := range tests {
		got, err := parseFuseSpec(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseFuseSpec(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseFuseSpec(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseFuseSpec(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseReadSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    readSpec
		wantErr bool
	}{
		{"0x100;300", readSpec{0x100, 300}, false},
		{"3f00;16", readSpec{0x3F00, 16}, false},
		{"0x100", readSpec{}, true},
		{"0x100;0", readSpec{}, true},
		{"0x100;-4", readSpec{}, true},
		{"0x100;0x10", readSpec{}, true}, // length is decimal
		{"zz;16", readSpec{}, true},
	}
	for _, tt := range tests {
		got, err := parseReadSpec(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseReadSpec(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseReadSpec(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseReadSpec(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseWriteSpec(t *testing.T) {
	got, err := parseWriteSpec("0x3f00;0x12;0x34;ab")
	if err != nil {
		t.Fatalf("parseWriteSpec: %v", err)
	}
	if got.Address != 0x3F00 {
		t.Errorf("address = 0x%04x, want 0x3F00", got.Address)
	}
	if !bytes.Equal(got.Data, []byte{0x12, 0x34, 0xAB}) {
		t.Errorf("data = % x, want 12 34 ab", got.Data)
	}

	for _, bad := range []string{"0x3f00", "zz;0x12", "0x3f00;0x112", "0x3f00;xy"} {
		if _, err := parseWriteSpec(bad); err == nil {
			t.Errorf("parseWriteSpec(%q): expected error", bad)
		}
	}
}
