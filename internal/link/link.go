// Package link implements the UPDI datalink layer: instruction framing on
// top of the one-wire serial physical layer.
package link

import (
	"fmt"

	"github.com/GreenLoofa/cupdi/internal/logging"
)

// ErrInit is returned when the port opened but the UPDI interface did not
// answer the initialisation sequence.
var ErrInit = fmt.Errorf("updi link init failed")

// phy is the physical layer consumed by Link.
type phy interface {
	Send(data []byte) error
	Receive(n int) ([]byte, error)
	SendDoubleBreak() error
	Close() error
}

// Link speaks the UPDI instruction set over a physical line.
type Link struct {
	phy phy
	log *logging.Logger
}

// Open opens the serial port and brings the UPDI interface up: collision
// detection off, inter-byte delay on, then a liveness check on STATUSA.
func Open(portName string, baudRate int, log *logging.Logger) (*Link, error) {
	p, err := OpenPhysical(portName, baudRate, log)
	if err != nil {
		return nil, err
	}

	l := &Link{phy: p, log: log}
	if err := l.init(); err != nil {
		p.Close()
		return nil, err
	}
	return l, nil
}

func (l *Link) init() error {
	if err := l.STCS(CSCtrlB, 1<<CtrlBCCDetDisBit); err != nil {
		return fmt.Errorf("%w: disable collision detection: %v", ErrInit, err)
	}
	if err := l.STCS(CSCtrlA, 1<<CtrlAIBDlyBit); err != nil {
		return fmt.Errorf("%w: enable inter-byte delay: %v", ErrInit, err)
	}

	status, err := l.LDCS(CSStatusA)
	if err != nil || status == 0 {
		return fmt.Errorf("%w: no answer on STATUSA", ErrInit)
	}
	l.log.Infof(logging.Link, "<LINK> UPDI init OK (statusa %02x)", status)
	return nil
}

// Close releases the physical layer.
func (l *Link) Close() error {
	return l.phy.Close()
}

// LDCS loads a byte from control/status space.
func (l *Link) LDCS(address byte) (byte, error) {
	l.log.Infof(logging.Link, "<LINK> LDCS from 0x%02x", address)

	cmd := []byte{Sync, OpLDCS | (address & 0x0F)}
	if err := l.phy.Send(cmd); err != nil {
		return 0, err
	}
	resp, err := l.phy.Receive(1)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// STCS stores a byte to control/status space. No ACK is generated.
func (l *Link) STCS(address, value byte) error {
	l.log.Infof(logging.Link, "<LINK> STCS 0x%02x to 0x%02x", value, address)

	return l.phy.Send([]byte{Sync, OpSTCS | (address & 0x0F), value})
}

// LD loads a single byte from a 16-bit address.
func (l *Link) LD(address uint16) (byte, error) {
	l.log.Infof(logging.Link, "<LINK> LD from 0x%04x", address)

	cmd := []byte{Sync, OpLDS | Address16 | Data8, byte(address), byte(address >> 8)}
	if err := l.phy.Send(cmd); err != nil {
		return 0, err
	}
	resp, err := l.phy.Receive(1)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// ST stores a single byte to a 16-bit address.
func (l *Link) ST(address uint16, value byte) error {
	l.log.Infof(logging.Link, "<LINK> ST 0x%02x to 0x%04x", value, address)

	cmd := []byte{Sync, OpSTS | Address16 | Data8, byte(address), byte(address >> 8)}
	if err := l.sendAck(cmd); err != nil {
		return fmt.Errorf("st address phase: %w", err)
	}
	if err := l.sendAck([]byte{value}); err != nil {
		return fmt.Errorf("st data phase: %w", err)
	}
	return nil
}

// ST16 stores a 16-bit word to a 16-bit address.
func (l *Link) ST16(address, value uint16) error {
	l.log.Infof(logging.Link, "<LINK> ST16 0x%04x to 0x%04x", value, address)

	cmd := []byte{Sync, OpSTS | Address16 | Data16, byte(address), byte(address >> 8)}
	if err := l.sendAck(cmd); err != nil {
		return fmt.Errorf("st16 address phase: %w", err)
	}
	if err := l.sendAck([]byte{byte(value), byte(value >> 8)}); err != nil {
		return fmt.Errorf("st16 data phase: %w", err)
	}
	return nil
}

// STPtr sets the UPDI pointer register to a 16-bit address.
func (l *Link) STPtr(address uint16) error {
	l.log.Infof(logging.Link, "<LINK> ST ptr 0x%04x", address)

	cmd := []byte{Sync, OpST | PtrAddress | Data16, byte(address), byte(address >> 8)}
	if err := l.sendAck(cmd); err != nil {
		return fmt.Errorf("st ptr: %w", err)
	}
	return nil
}

// STPtrInc stores bytes through the pointer with auto-increment. Each byte
// is individually acknowledged.
func (l *Link) STPtrInc(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	l.log.Infof(logging.Link, "<LINK> ST ptr inc (%d bytes)", len(data))

	cmd := []byte{Sync, OpST | PtrInc | Data8, data[0]}
	if err := l.sendAck(cmd); err != nil {
		return fmt.Errorf("st ptr inc: %w", err)
	}
	for _, b := range data[1:] {
		if err := l.sendAck([]byte{b}); err != nil {
			return fmt.Errorf("st ptr inc: %w", err)
		}
	}
	return nil
}

// STPtrInc16 stores words through the pointer with auto-increment.
// len(data) must be even.
func (l *Link) STPtrInc16(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data)%2 != 0 {
		return fmt.Errorf("st ptr inc16: odd length %d", len(data))
	}
	l.log.Infof(logging.Link, "<LINK> ST ptr inc16 (%d bytes)", len(data))

	cmd := []byte{Sync, OpST | PtrInc | Data16, data[0], data[1]}
	if err := l.sendAck(cmd); err != nil {
		return fmt.Errorf("st ptr inc16: %w", err)
	}
	for i := 2; i < len(data); i += 2 {
		if err := l.sendAck(data[i : i+2]); err != nil {
			return fmt.Errorf("st ptr inc16: %w", err)
		}
	}
	return nil
}

// LDPtrInc loads n bytes through the pointer with auto-increment.
func (l *Link) LDPtrInc(n int) ([]byte, error) {
	l.log.Infof(logging.Link, "<LINK> LD ptr inc (%d bytes)", n)

	if err := l.phy.Send([]byte{Sync, OpLD | PtrInc | Data8}); err != nil {
		return nil, err
	}
	return l.phy.Receive(n)
}

// LDPtrInc16 loads n bytes (n/2 words) through the pointer.
func (l *Link) LDPtrInc16(n int) ([]byte, error) {
	l.log.Infof(logging.Link, "<LINK> LD ptr inc16 (%d bytes)", n)

	if err := l.phy.Send([]byte{Sync, OpLD | PtrInc | Data16}); err != nil {
		return nil, err
	}
	return l.phy.Receive(n)
}

// Repeat arms the repeat counter so the next pointer operation runs count
// times. count must not exceed MaxRepeat+1.
func (l *Link) Repeat(count int) error {
	if count < 1 || count > MaxRepeat+1 {
		return fmt.Errorf("repeat count %d out of range", count)
	}
	l.log.Infof(logging.Link, "<LINK> repeat %d", count)

	n := uint16(count - 1)
	cmd := []byte{Sync, OpRepeat | RepeatWord, byte(n), byte(n >> 8)}
	return l.phy.Send(cmd)
}

// Key transmits a 64-bit activation key. The key string is sent in reverse
// byte order, as the interface expects.
func (l *Link) Key(key string) error {
	if len(key) != 8 {
		return fmt.Errorf("key must be 8 bytes, got %d", len(key))
	}
	l.log.Infof(logging.Link, "<LINK> writing key %q", key)

	if err := l.phy.Send([]byte{Sync, OpKey | KeyWrite | Key64}); err != nil {
		return err
	}
	rev := make([]byte, 8)
	for i := 0; i < 8; i++ {
		rev[i] = key[7-i]
	}
	return l.phy.Send(rev)
}

// ReadSIB reads the 16-byte System Information Block.
func (l *Link) ReadSIB() ([]byte, error) {
	l.log.Infof(logging.Link, "<LINK> reading SIB")

	if err := l.phy.Send([]byte{Sync, OpKey | KeySIB | SIB16Bytes}); err != nil {
		return nil, err
	}
	return l.phy.Receive(16)
}

// sendAck sends a frame and checks the single ACK byte that follows.
func (l *Link) sendAck(cmd []byte) error {
	if err := l.phy.Send(cmd); err != nil {
		return err
	}
	resp, err := l.phy.Receive(1)
	if err != nil {
		return err
	}
	if resp[0] != Ack {
		return fmt.Errorf("expected ack, got 0x%02x", resp[0])
	}
	return nil
}
