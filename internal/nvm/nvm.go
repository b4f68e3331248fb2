// Package nvm drives the non-volatile-memory controller of UPDI devices.
// It owns the datalink and exposes the operations the programming layer
// is built on: programming-mode entry, unlock, erase, paged flash access,
// direct memory access and fuse writes.
package nvm

import (
	"errors"
	"fmt"
	"time"

	"github.com/GreenLoofa/cupdi/internal/device"
	"github.com/GreenLoofa/cupdi/internal/link"
	"github.com/GreenLoofa/cupdi/internal/logging"
)

// ErrDeviceLocked is returned when programming mode cannot be entered
// because the device lockbits are set. Recovery is a chip erase through
// Unlock.
var ErrDeviceLocked = errors.New("device is locked")

// ErrNotInProgmode is returned for NVM operations that need programming
// mode before it has been entered.
var ErrNotInProgmode = errors.New("not in programming mode")

// WriteChunkLimit is the largest block WriteMem accepts in one call.
const WriteChunkLimit = 16

// maxTransfer is the ceiling of a single repeat-driven pointer transfer.
const maxTransfer = link.MaxRepeat + 1

// ProgressFunc reports paged flash transfer progress.
type ProgressFunc func(current, total int)

// wire is the datalink surface the driver consumes, satisfied by *link.Link.
type wire interface {
	LDCS(address byte) (byte, error)
	STCS(address, value byte) error
	LD(address uint16) (byte, error)
	ST(address uint16, value byte) error
	ST16(address, value uint16) error
	STPtr(address uint16) error
	STPtrInc(data []byte) error
	STPtrInc16(data []byte) error
	LDPtrInc(n int) ([]byte, error)
	LDPtrInc16(n int) ([]byte, error)
	Repeat(count int) error
	Key(key string) error
	ReadSIB() ([]byte, error)
	Close() error
}

// DeviceInfo is what the interface reveals about the connected part.
type DeviceInfo struct {
	SIB        string
	Family     string
	NVMVersion byte
	OCDVersion byte
	OscMHz     byte
	DeviceID   [3]byte
	Revision   byte
	HasID      bool
}

// Client is the NVM transport handle. It is not safe for concurrent use;
// UPDI is half-duplex with one operation in flight.
type Client struct {
	link     wire
	dev      *device.Profile
	log      *logging.Logger
	progmode bool
	progress ProgressFunc
}

// Open opens the UPDI link on the given port and wraps it in a driver for
// the given device profile.
func Open(portName string, baudRate int, dev *device.Profile, log *logging.Logger) (*Client, error) {
	l, err := link.Open(portName, baudRate, log)
	if err != nil {
		return nil, err
	}
	log.Infof(logging.Nvm, "<NVM> init for %s", dev.Name)
	return &Client{link: l, dev: dev, log: log}, nil
}

// NewClient wraps an already-open datalink. Used by tests.
func NewClient(w wire, dev *device.Profile, log *logging.Logger) *Client {
	return &Client{link: w, dev: dev, log: log}
}

// Close releases the datalink.
func (c *Client) Close() error {
	c.log.Infof(logging.Nvm, "<NVM> deinit")
	return c.link.Close()
}

// SetProgressCallback installs a per-page progress callback for flash
// reads and writes.
func (c *Client) SetProgressCallback(cb ProgressFunc) {
	c.progress = cb
}

func (c *Client) reportProgress(current, total int) {
	if c.progress != nil {
		c.progress(current, total)
	}
}

// GetFlashInfo reports the flash geometry for the attached device.
func (c *Client) GetFlashInfo() (device.FlashInfo, error) {
	return c.dev.Flash, nil
}

// InProgmode reports whether the NVMPROG flag is currently up.
func (c *Client) InProgmode() bool {
	status, err := c.link.LDCS(link.ASISysStatus)
	return err == nil && status&(1<<link.SysStatusNVMProg) != 0
}

// GetDeviceInfo reads the System Information Block and, when programming
// mode is active, the device ID and revision out of the signature row.
func (c *Client) GetDeviceInfo() (*DeviceInfo, error) {
	c.log.Infof(logging.Nvm, "<NVM> reading device info")

	sib, err := c.link.ReadSIB()
	if err != nil {
		return nil, fmt.Errorf("read sib: %w", err)
	}

	info := &DeviceInfo{
		SIB:        string(sib),
		Family:     string(sib[:8]),
		NVMVersion: sib[10],
		OCDVersion: sib[13],
		OscMHz:     sib[15],
	}
	c.log.Dump(logging.App, "<APP> SIB:", sib)

	if c.InProgmode() {
		id, err := c.readData(uint32(c.dev.Reg.SigRow), 3)
		if err != nil {
			return nil, fmt.Errorf("read device id: %w", err)
		}
		copy(info.DeviceID[:], id)

		rev, err := c.readData(uint32(c.dev.Reg.SysCfg)+1, 1)
		if err != nil {
			return nil, fmt.Errorf("read revision: %w", err)
		}
		info.Revision = rev[0]
		info.HasID = true

		c.log.Infof(logging.Nvm, "<NVM> device id %02x %02x %02x rev %c",
			id[0], id[1], id[2], 'A'+rev[0])
	}

	return info, nil
}

// EnterProgmode enters NVM programming mode via the NVMPROG key. A device
// whose lockbits are set answers the key but never unlocks; that case is
// reported as ErrDeviceLocked.
func (c *Client) EnterProgmode() error {
	c.log.Infof(logging.Nvm, "<NVM> entering programming mode")

	if c.InProgmode() {
		c.log.Infof(logging.App, "<APP> already in programming mode")
		c.progmode = true
		return nil
	}

	if err := c.link.Key(link.KeyNVMProg); err != nil {
		return fmt.Errorf("nvmprog key: %w", err)
	}
	status, err := c.link.LDCS(link.ASIKeyStatus)
	if err != nil {
		return fmt.Errorf("key status: %w", err)
	}
	if status&(1<<link.KeyStatusNVMProg) == 0 {
		return fmt.Errorf("nvmprog key not accepted (status 0x%02x)", status)
	}

	if err := c.toggleReset(); err != nil {
		return err
	}
	if err := c.waitUnlocked(100 * time.Millisecond); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceLocked, err)
	}

	if !c.InProgmode() {
		return fmt.Errorf("nvmprog flag did not rise")
	}

	c.progmode = true
	c.log.Infof(logging.Nvm, "<NVM> now in programming mode")
	return nil
}

// LeaveProgmode resets the device and disables the UPDI interface.
func (c *Client) LeaveProgmode() error {
	if !c.progmode {
		return nil
	}
	c.log.Infof(logging.Nvm, "<NVM> leaving programming mode")

	if err := c.toggleReset(); err != nil {
		return err
	}
	err := c.link.STCS(link.CSCtrlB,
		(1<<link.CtrlBUPDIDisBit)|(1<<link.CtrlBCCDetDisBit))
	if err != nil {
		return fmt.Errorf("disable updi: %w", err)
	}
	c.progmode = false
	return nil
}

// Unlock erases and unlocks a locked device using the chip-erase key.
// A successful unlock leaves the device in programming mode.
func (c *Client) Unlock() error {
	c.log.Infof(logging.Nvm, "<NVM> unlock with chip erase")

	if c.progmode {
		c.log.Infof(logging.Nvm, "<NVM> device already unlocked")
		return nil
	}

	if err := c.link.Key(link.KeyChipErase); err != nil {
		return fmt.Errorf("chip erase key: %w", err)
	}
	status, err := c.link.LDCS(link.ASIKeyStatus)
	if err != nil {
		return fmt.Errorf("key status: %w", err)
	}
	if status&(1<<link.KeyStatusChipErase) == 0 {
		return fmt.Errorf("chip erase key not accepted (status 0x%02x)", status)
	}

	if err := c.toggleReset(); err != nil {
		return err
	}
	if err := c.waitUnlocked(500 * time.Millisecond); err != nil {
		return fmt.Errorf("chip erase via key: %w", err)
	}

	c.progmode = true
	return nil
}

// ChipErase erases an unlocked device through the NVM controller.
func (c *Client) ChipErase() error {
	c.log.Infof(logging.Nvm, "<NVM> chip erase")

	if !c.progmode {
		return ErrNotInProgmode
	}

	if err := c.waitFlashReady(); err != nil {
		return fmt.Errorf("before erase: %w", err)
	}
	if err := c.execNVMCommand(link.NVMCmdChipErase); err != nil {
		return err
	}
	if err := c.waitFlashReady(); err != nil {
		return fmt.Errorf("after erase: %w", err)
	}
	return nil
}

// ReadFlash reads a page-aligned number of bytes from flash, one page per
// transfer.
func (c *Client) ReadFlash(address uint32, n int) ([]byte, error) {
	if !c.progmode {
		return nil, ErrNotInProgmode
	}
	pageSize := int(c.dev.Flash.PageSize)
	if n <= 0 || n%pageSize != 0 {
		return nil, fmt.Errorf("flash read length %d not page aligned (page %d)", n, pageSize)
	}
	c.log.Infof(logging.Nvm, "<NVM> read flash 0x%04x (%d bytes)", address, n)

	data := make([]byte, n)
	pages := n / pageSize
	for i := 0; i < pages; i++ {
		off := i * pageSize
		c.log.Infof(logging.Nvm, "<NVM> reading page %d/%d at 0x%04x", i+1, pages, address+uint32(off))

		page, err := c.readNVM(address+uint32(off), pageSize)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		copy(data[off:], page)
		c.reportProgress(i+1, pages)
	}
	return data, nil
}

// WriteFlash writes a page-aligned buffer to flash page by page.
func (c *Client) WriteFlash(address uint32, data []byte) error {
	if !c.progmode {
		return ErrNotInProgmode
	}
	pageSize := int(c.dev.Flash.PageSize)
	if len(data) == 0 || len(data)%pageSize != 0 {
		return fmt.Errorf("flash write length %d not page aligned (page %d)", len(data), pageSize)
	}
	c.log.Infof(logging.Nvm, "<NVM> write flash 0x%04x (%d bytes)", address, len(data))

	pages := len(data) / pageSize
	for i := 0; i < pages; i++ {
		off := i * pageSize
		c.log.Infof(logging.Nvm, "<NVM> writing page %d/%d at 0x%04x", i+1, pages, address+uint32(off))

		if err := c.writeNVMPage(address+uint32(off), data[off:off+pageSize]); err != nil {
			return fmt.Errorf("write page %d: %w", i, err)
		}
		c.reportProgress(i+1, pages)
	}
	return nil
}

// ReadMem reads up to one repeat transfer of bytes from a memory-mapped
// address.
func (c *Client) ReadMem(address uint32, n int) ([]byte, error) {
	if n <= 0 || n > maxTransfer {
		return nil, fmt.Errorf("memory read length %d out of range (max %d)", n, maxTransfer)
	}
	c.log.Infof(logging.Nvm, "<NVM> read memory 0x%04x (%d bytes)", address, n)
	return c.readData(address, n)
}

// WriteMem writes one block of at most WriteChunkLimit bytes to a
// memory-mapped address. Larger buffers have to be chunked by the caller.
func (c *Client) WriteMem(address uint32, data []byte) error {
	if len(data) == 0 || len(data) > WriteChunkLimit {
		return fmt.Errorf("memory write length %d out of range (max %d)", len(data), WriteChunkLimit)
	}
	c.log.Infof(logging.Nvm, "<NVM> write memory 0x%04x (%d bytes)", address, len(data))
	return c.writeData(address, data)
}

// WriteFuse writes one fuse byte through the NVM controller's fuse
// write sequence: fuse address into ADDR, value into DATA, then the
// write-fuse command.
func (c *Client) WriteFuse(index int, value byte) error {
	if !c.progmode {
		return ErrNotInProgmode
	}
	c.log.Infof(logging.Nvm, "<NVM> write fuse %d = 0x%02x", index, value)

	fuseAddr := c.dev.Reg.Fuses + uint16(index)
	ctl := c.dev.Reg.NVMCtrl

	if err := c.link.ST(ctl+link.NVMAddrL, byte(fuseAddr)); err != nil {
		return fmt.Errorf("fuse addr low: %w", err)
	}
	if err := c.link.ST(ctl+link.NVMAddrH, byte(fuseAddr>>8)); err != nil {
		return fmt.Errorf("fuse addr high: %w", err)
	}
	if err := c.link.ST(ctl+link.NVMDataL, value); err != nil {
		return fmt.Errorf("fuse data: %w", err)
	}
	if err := c.execNVMCommand(link.NVMCmdWriteFuse); err != nil {
		return err
	}
	return c.waitFlashReady()
}

func (c *Client) toggleReset() error {
	c.log.Infof(logging.App, "<APP> toggling reset")

	if err := c.link.STCS(link.ASIResetReq, link.ResetReqValue); err != nil {
		return fmt.Errorf("apply reset: %w", err)
	}
	time.Sleep(time.Millisecond)
	if err := c.link.STCS(link.ASIResetReq, 0); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	return nil
}

// waitUnlocked polls the lock status until it clears or the timeout runs
// out. All devices boot up as locked until proven otherwise.
func (c *Client) waitUnlocked(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := c.link.LDCS(link.ASISysStatus)
		if err == nil && status&(1<<link.SysStatusLockStatus) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for unlock (status 0x%02x)", status)
		}
		time.Sleep(time.Millisecond)
	}
}

// waitFlashReady polls the NVM controller status until both busy flags
// clear. A write error aborts immediately.
func (c *Client) waitFlashReady() error {
	deadline := time.Now().Add(time.Second)
	for {
		status, err := c.link.LD(c.dev.Reg.NVMCtrl + link.NVMStatus)
		if err != nil {
			return fmt.Errorf("nvm status: %w", err)
		}
		if status&(1<<link.NVMStatusWriteError) != 0 {
			return fmt.Errorf("nvm controller write error (status 0x%02x)", status)
		}
		busy := (1 << link.NVMStatusFlashBusy) | (1 << link.NVMStatusEEPROMBusy)
		if status&byte(busy) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for nvm controller (status 0x%02x)", status)
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Client) execNVMCommand(cmd byte) error {
	c.log.Infof(logging.App, "<APP> nvm command 0x%02x", cmd)

	if err := c.link.ST(c.dev.Reg.NVMCtrl+link.NVMCtrlA, cmd); err != nil {
		return fmt.Errorf("nvm command 0x%02x: %w", cmd, err)
	}
	return nil
}

// writeNVMPage loads one flash page into the page buffer and commits it.
// The page must already be erased; whole-chip erase precedes programming.
func (c *Client) writeNVMPage(address uint32, page []byte) error {
	if err := c.waitFlashReady(); err != nil {
		return fmt.Errorf("before page buffer clear: %w", err)
	}
	if err := c.execNVMCommand(link.NVMCmdPageBufferClr); err != nil {
		return err
	}
	if err := c.waitFlashReady(); err != nil {
		return fmt.Errorf("after page buffer clear: %w", err)
	}

	// Word access halves the number of transfers; odd sizes fall back
	// to byte access.
	var err error
	if len(page)%2 == 0 {
		err = c.writeDataWords(address, page)
	} else {
		err = c.writeData(address, page)
	}
	if err != nil {
		return err
	}

	if err := c.execNVMCommand(link.NVMCmdWritePage); err != nil {
		return err
	}
	return c.waitFlashReady()
}

func (c *Client) readNVM(address uint32, n int) ([]byte, error) {
	if n%2 == 0 {
		return c.readDataWords(address, n)
	}
	return c.readData(address, n)
}

func (c *Client) writeData(address uint32, data []byte) error {
	c.log.Infof(logging.App, "<APP> write data (%d bytes) at 0x%04x", len(data), address)

	if len(data) == 1 {
		return c.link.ST(uint16(address), data[0])
	}
	if len(data) > maxTransfer {
		return fmt.Errorf("write length %d over repeat limit", len(data))
	}

	if err := c.link.STPtr(uint16(address)); err != nil {
		return err
	}
	if err := c.link.Repeat(len(data)); err != nil {
		return err
	}
	return c.link.STPtrInc(data)
}

func (c *Client) writeDataWords(address uint32, data []byte) error {
	c.log.Infof(logging.App, "<APP> write words (%d bytes) at 0x%04x", len(data), address)

	if len(data) == 2 {
		return c.link.ST16(uint16(address), uint16(data[0])|uint16(data[1])<<8)
	}
	if len(data) > maxTransfer*2 {
		return fmt.Errorf("write length %d over repeat limit", len(data))
	}

	if err := c.link.STPtr(uint16(address)); err != nil {
		return err
	}
	if err := c.link.Repeat(len(data) / 2); err != nil {
		return err
	}
	return c.link.STPtrInc16(data)
}

func (c *Client) readData(address uint32, n int) ([]byte, error) {
	c.log.Infof(logging.App, "<APP> read data (%d bytes) at 0x%04x", n, address)

	if n > maxTransfer {
		return nil, fmt.Errorf("read length %d over repeat limit", n)
	}

	if err := c.link.STPtr(uint16(address)); err != nil {
		return nil, err
	}
	if n > 1 {
		if err := c.link.Repeat(n); err != nil {
			return nil, err
		}
	}
	return c.link.LDPtrInc(n)
}

func (c *Client) readDataWords(address uint32, n int) ([]byte, error) {
	c.log.Infof(logging.App, "<APP> read words (%d bytes) at 0x%04x", n, address)

	if n > maxTransfer*2 {
		return nil, fmt.Errorf("read length %d over repeat limit", n)
	}

	if err := c.link.STPtr(uint16(address)); err != nil {
		return nil, err
	}
	if n > 2 {
		if err := c.link.Repeat(n / 2); err != nil {
			return nil, err
		}
	}
	return c.link.LDPtrInc16(n)
}
