// Package device is the profile database for UPDI-capable parts.
package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotSupported is returned by Lookup for unknown device names.
var ErrNotSupported = errors.New("device not supported")

// FlashInfo describes the flash region of a part. PageSize is the minimum
// erase/program granularity and is always a power of two.
type FlashInfo struct {
	Start    uint32
	Size     uint32
	PageSize uint32
}

// RegInfo holds the base addresses of the peripherals the programmer touches.
type RegInfo struct {
	SysCfg  uint16
	NVMCtrl uint16
	SigRow  uint16
	Fuses   uint16
	UserRow uint16
}

// Profile is one entry of the device database.
type Profile struct {
	Name  string
	Flash FlashInfo
	Reg   RegInfo
}

// All tinyAVR 0/1-series parts share the peripheral map, they differ only
// in flash size and page size.
var tinyRegs = RegInfo{
	SysCfg:  0x0F00,
	NVMCtrl: 0x1000,
	SigRow:  0x1100,
	Fuses:   0x1280,
	UserRow: 0x1300,
}

func tiny(name string, size, pageSize uint32) Profile {
	return Profile{
		Name:  name,
		Flash: FlashInfo{Start: 0x8000, Size: size, PageSize: pageSize},
		Reg:   tinyRegs,
	}
}

func mega(name string, size, pageSize uint32) Profile {
	return Profile{
		Name:  name,
		Flash: FlashInfo{Start: 0x4000, Size: size, PageSize: pageSize},
		Reg:   tinyRegs,
	}
}

var profiles = []Profile{
	tiny("tiny212", 2 * 1024, 64),
	tiny("tiny214", 2 * 1024, 64),
	tiny("tiny412", 4 * 1024, 64),
	tiny("tiny414", 4 * 1024, 64),
	tiny("tiny416", 4 * 1024, 64),
	tiny("tiny417", 4 * 1024, 64),
	tiny("tiny814", 8 * 1024, 64),
	tiny("tiny816", 8 * 1024, 64),
	tiny("tiny817", 8 * 1024, 64),
	tiny("tiny1614", 16 * 1024, 64),
	tiny("tiny1616", 16 * 1024, 64),
	tiny("tiny1617", 16 * 1024, 64),
	tiny("tiny3216", 32 * 1024, 128),
	tiny("tiny3217", 32 * 1024, 128),
	mega("mega4808", 48 * 1024, 128),
	mega("mega4809", 48 * 1024, 128),
}

// Lookup finds the profile for a device name, case-insensitively.
func Lookup(name string) (*Profile, error) {
	for i := range profiles {
		if strings.EqualFold(profiles[i].Name, name) {
			return &profiles[i], nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrNotSupported)
}

// Names returns the supported device names in sorted order.
func Names() []string {
	names := make([]string, len(profiles))
	for i := range profiles {
		names[i] = profiles[i].Name
	}
	sort.Strings(names)
	return names
}
