package programmer

import (
	"fmt"

	"github.com/GreenLoofa/cupdi/internal/device"
	"github.com/GreenLoofa/cupdi/internal/nvm"
)

type memCall struct {
	addr uint32
	data []byte
}

type readCall struct {
	addr uint32
	n    int
}

// mockTransport simulates a tiny817 with in-memory flash.
type mockTransport struct {
	flash     device.FlashInfo
	flashData []byte

	enterResults []error // popped per EnterProgmode call; nil when empty
	leaveErr     error
	closeErr     error
	readMemErr   error

	infoCalls   int
	enterCalls  int
	unlockCalls int
	eraseCalls  int
	leaveCalls  int
	closeCalls  int

	memSpace  map[uint32]byte
	memWrites []memCall
	memReads  []readCall
	fuses     map[int]byte
}

func newMockTransport() *mockTransport {
	fi := device.FlashInfo{Start: 0x8000, Size: 8192, PageSize: 64}
	data := make([]byte, fi.Size)
	for i := range data {
		data[i] = 0xFF
	}
	return &mockTransport{
		flash:     fi,
		flashData: data,
		memSpace:  make(map[uint32]byte),
		fuses:     make(map[int]byte),
	}
}

func (m *mockTransport) GetDeviceInfo() (*nvm.DeviceInfo, error) {
	m.infoCalls++
	return &nvm.DeviceInfo{SIB: "tinyAVR P:0D:0-3", Family: "tinyAVR "}, nil
}

func (m *mockTransport) GetFlashInfo() (device.FlashInfo, error) {
	return m.flash, nil
}

func (m *mockTransport) EnterProgmode() error {
	m.enterCalls++
	if len(m.enterResults) > 0 {
		err := m.enterResults[0]
		m.enterResults = m.enterResults[1:]
		return err
	}
	return nil
}

func (m *mockTransport) LeaveProgmode() error {
	m.leaveCalls++
	return m.leaveErr
}

func (m *mockTransport) Unlock() error {
	m.unlockCalls++
	for i := range m.flashData {
		m.flashData[i] = 0xFF
	}
	return nil
}

func (m *mockTransport) ChipErase() error {
	m.eraseCalls++
	for i := range m.flashData {
		m.flashData[i] = 0xFF
	}
	return nil
}

func (m *mockTransport) flashIndex(address uint32, n int) (int, error) {
	if address < m.flash.Start {
		return 0, fmt.Errorf("address 0x%04x below flash", address)
	}
	off := int(address - m.flash.Start)
	if off+n > len(m.flashData) {
		return 0, fmt.Errorf("range 0x%04x+%d beyond flash", address, n)
	}
	return off, nil
}

func (m *mockTransport) ReadFlash(address uint32, n int) ([]byte, error) {
	off, err := m.flashIndex(address, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.flashData[off:off+n])
	return out, nil
}

func (m *mockTransport) WriteFlash(address uint32, data []byte) error {
	off, err := m.flashIndex(address, len(data))
	if err != nil {
		return err
	}
	copy(m.flashData[off:], data)
	return nil
}

func (m *mockTransport) ReadMem(address uint32, n int) ([]byte, error) {
	m.memReads = append(m.memReads, readCall{addr: address, n: n})
	if m.readMemErr != nil {
		return nil, m.readMemErr
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = m.memSpace[address+uint32(i)]
	}
	return out, nil
}

func (m *mockTransport) WriteMem(address uint32, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.memWrites = append(m.memWrites, memCall{addr: address, data: cp})
	for i, b := range data {
		m.memSpace[address+uint32(i)] = b
	}
	return nil
}

func (m *mockTransport) WriteFuse(index int, value byte) error {
	m.fuses[index] = value
	return nil
}

func (m *mockTransport) Close() error {
	m.closeCalls++
	return m.closeErr
}
