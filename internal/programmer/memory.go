package programmer

import (
	"fmt"

	"github.com/GreenLoofa/cupdi/internal/logging"
)

// MaxReadLength is the most ReadMemory returns in one call: the capacity
// of a single transport frame. Callers needing more loop externally.
const MaxReadLength = 255

// WriteChunkSize is the transport's block-write limit. WriteMemory splits
// larger buffers into chunks of this size.
const WriteChunkSize = 16

// MemoryAccessor performs generic chunked access to memory-mapped
// addresses and single fuse writes.
type MemoryAccessor struct {
	s   *Session
	log *logging.Logger
}

// NewMemoryAccessor builds a memory accessor on top of a session.
func NewMemoryAccessor(s *Session, log *logging.Logger) *MemoryAccessor {
	return &MemoryAccessor{s: s, log: log}
}

// ReadMemory reads length bytes starting at address. Requests over
// MaxReadLength are silently clamped; that ceiling is a transport
// constraint, not a configuration knob.
func (m *MemoryAccessor) ReadMemory(address uint32, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: read length %d", ErrInvalidArgument, length)
	}
	if length > MaxReadLength {
		m.log.Infof(logging.Updi, "read length %d over frame capacity, clamped to %d", length, MaxReadLength)
		length = MaxReadLength
	}

	data, err := m.s.t.ReadMem(address, length)
	if err != nil {
		return nil, fmt.Errorf("read memory at 0x%04x: %w", address, err)
	}
	return data, nil
}

// WriteMemory writes data starting at address in WriteChunkSize blocks.
// After all writes a best-effort readback over the same range is logged
// for inspection; it is not compared against the written data.
func (m *MemoryAccessor) WriteMemory(address uint32, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty write", ErrInvalidArgument)
	}

	for off := 0; off < len(data); off += WriteChunkSize {
		end := off + WriteChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		if err := m.s.t.WriteMem(address+uint32(off), chunk); err != nil {
			return fmt.Errorf("write memory at 0x%04x: %w", address+uint32(off), err)
		}
		m.log.Dump(logging.Updi, fmt.Sprintf("wrote 0x%04x:", address+uint32(off)), chunk)
	}

	m.readbackEcho(address, len(data))
	return nil
}

// readbackEcho dumps the freshly written range for manual inspection.
// Failures here are logged, never propagated: the write itself already
// completed.
func (m *MemoryAccessor) readbackEcho(address uint32, length int) {
	for off := 0; off < length; off += WriteChunkSize {
		n := length - off
		if n > WriteChunkSize {
			n = WriteChunkSize
		}
		data, err := m.s.t.ReadMem(address+uint32(off), n)
		if err != nil {
			m.log.Infof(logging.Updi, "readback at 0x%04x failed: %v", address+uint32(off), err)
			return
		}
		m.log.Dump(logging.Updi, fmt.Sprintf("readback 0x%04x:", address+uint32(off)), data)
	}
}

// WriteFuse writes a single fuse byte. Both operands are bytes; anything
// out of range fails before a transport call is made.
func (m *MemoryAccessor) WriteFuse(index, value int) error {
	if index < 0 || index > 0xFF {
		return fmt.Errorf("%w: fuse index %d", ErrInvalidArgument, index)
	}
	if value < 0 || value > 0xFF {
		return fmt.Errorf("%w: fuse value %d", ErrInvalidArgument, value)
	}

	if err := m.s.t.WriteFuse(index, byte(value)); err != nil {
		return fmt.Errorf("write fuse %d: %w", index, err)
	}
	m.log.Infof(logging.Updi, "fuse[%d] = 0x%02x", index, value)
	return nil
}
