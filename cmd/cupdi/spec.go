package main

import (
	"fmt"
	"strconv"
	"strings"
)

// Command spec strings, validated up front so a typo fails before any
// serial traffic:
//
//	fuse:  "<index>:<hexValue>"          e.g. "3:0x55"
//	read:  "<hexAddress>;<decimalLength>" e.g. "0x100;64"
//	write: "<hexAddress>;<hexByte>;..."   e.g. "0x3f00;0x12;0x34"

type fuseSpec struct {
	Index int
	Value int
}

type readSpec struct {
	Address uint32
	Length  int
}

type writeSpec struct {
	Address uint32
	Data    []byte
}

func parseHex(s string, bits int) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, bits)
}

func parseFuseSpec(s string) (fuseSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return fuseSpec{}, fmt.Errorf("fuse spec %q: want <index>:<hexValue>", s)
	}
	index, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return fuseSpec{}, fmt.Errorf("fuse spec %q: bad index: %w", s, err)
	}
	value, err := parseHex(parts[1], 8)
	if err != nil {
		return fuseSpec{}, fmt.Errorf("fuse spec %q: bad value: %w", s, err)
	}
	return fuseSpec{Index: int(index), Value: int(value)}, nil
}

func parseReadSpec(s string) (readSpec, error) {
	parts := strings.Split(s, ";")
	if len(parts) != 2 {
		return readSpec{}, fmt.Errorf("read spec %q: want <hexAddress>;<length>", s)
	}
	address, err := parseHex(parts[0], 32)
	if err != nil {
		return readSpec{}, fmt.Errorf("read spec %q: bad address: %w", s, err)
	}
	length, err := strconv.ParseUint(parts[1], 10, 31)
	if err != nil || length == 0 {
		return readSpec{}, fmt.Errorf("read spec %q: bad length", s)
	}
	return readSpec{Address: uint32(address), Length: int(length)}, nil
}

func parseWriteSpec(s string) (writeSpec, error) {
	parts := strings.Split(s, ";")
	if len(parts) < 2 {
		return writeSpec{}, fmt.Errorf("write spec %q: want <hexAddress>;<hexByte>;...", s)
	}
	address, err := parseHex(parts[0], 32)
	if err != nil {
		return writeSpec{}, fmt.Errorf("write spec %q: bad address: %w", s, err)
	}
	data := make([]byte, 0, len(parts)-1)
	for _, tok := range parts[1:] {
		b, err := parseHex(tok, 8)
		if err != nil {
			return writeSpec{}, fmt.Errorf("write spec %q: bad byte %q: %w", s, tok, err)
		}
		data = append(data, byte(b))
	}
	return writeSpec{Address: uint32(address), Data: data}, nil
}
