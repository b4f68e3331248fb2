// Package programmer is the programming orchestration layer: it turns a
// user intent (flash an image, set a fuse, write bytes) into a correctly
// sequenced set of NVM operations, handling device lock recovery, page
// alignment and transport chunk limits.
package programmer

import (
	"errors"
	"fmt"

	"github.com/GreenLoofa/cupdi/internal/device"
	"github.com/GreenLoofa/cupdi/internal/nvm"
)

// Transport is the narrow NVM surface the orchestration layer consumes.
// *nvm.Client satisfies it; tests substitute fakes. The underlying serial
// handle is never exposed.
type Transport interface {
	GetDeviceInfo() (*nvm.DeviceInfo, error)
	GetFlashInfo() (device.FlashInfo, error)
	EnterProgmode() error
	LeaveProgmode() error
	Unlock() error
	ChipErase() error
	ReadFlash(address uint32, n int) ([]byte, error)
	WriteFlash(address uint32, data []byte) error
	ReadMem(address uint32, n int) ([]byte, error)
	WriteMem(address uint32, data []byte) error
	WriteFuse(index int, value byte) error
	Close() error
}

// ErrAddressOutOfRange is returned when an image does not fit the flash
// region of the target device.
var ErrAddressOutOfRange = errors.New("address out of flash range")

// ErrLockedDevice is returned when a device reports locked even after the
// one permitted unlock-via-erase recovery.
var ErrLockedDevice = errors.New("device still locked after chip erase")

// ErrInvalidArgument is returned for operand values rejected before any
// transport call is made.
var ErrInvalidArgument = errors.New("invalid argument")

// VerifyError reports the first byte where flash contents diverge from
// the reference image.
type VerifyError struct {
	Offset   int
	Expected byte
	Actual   byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification mismatch at offset %d: expected 0x%02x, read 0x%02x",
		e.Offset, e.Expected, e.Actual)
}
