package programmer

import (
	"errors"
	"fmt"

	"github.com/GreenLoofa/cupdi/internal/logging"
	"github.com/GreenLoofa/cupdi/internal/nvm"
)

// Mode is the connection state of a programming session.
type Mode int

const (
	Closed Mode = iota
	Connected
	ProgrammingEntered
	Unlocked // programming mode reached through the one-time erase recovery
)

// Session owns the transport handle for the duration of one programmer
// invocation. It is created once, torn down exactly once, and is the only
// component that drives connection state transitions.
type Session struct {
	t      Transport
	mode   Mode
	closed bool
	info   *nvm.DeviceInfo
	log    *logging.Logger
}

// NewSession wraps an opened transport. The session takes ownership: the
// handle lives exactly as long as the session.
func NewSession(t Transport, log *logging.Logger) *Session {
	return &Session{t: t, log: log}
}

// Mode returns the current session state.
func (s *Session) Mode() Mode {
	return s.mode
}

// DeviceInfo returns the identity fetched by the last Connect.
func (s *Session) DeviceInfo() *nvm.DeviceInfo {
	return s.info
}

// Connect fetches the device identity, moving the session to Connected.
func (s *Session) Connect() error {
	info, err := s.t.GetDeviceInfo()
	if err != nil {
		return fmt.Errorf("device info: %w", err)
	}
	s.info = info
	if s.mode == Closed {
		s.mode = Connected
	}
	s.log.Infof(logging.Updi, "connected, family %s nvm rev %c", info.Family, info.NVMVersion)
	return nil
}

// EnsureProgrammingMode enters NVM programming mode if the session is not
// there yet. A locked device is recovered exactly once: chip erase via the
// unlock key, device info re-fetch, then one more entry attempt. A second
// lock report is fatal. Calling this again once entered is a no-op.
func (s *Session) EnsureProgrammingMode() error {
	if s.mode == ProgrammingEntered || s.mode == Unlocked {
		return nil
	}

	err := s.t.EnterProgmode()
	if err == nil {
		s.mode = ProgrammingEntered
		return nil
	}
	if !errors.Is(err, nvm.ErrDeviceLocked) {
		return fmt.Errorf("enter programming mode: %w", err)
	}

	s.log.Infof(logging.Updi, "device is locked, performing unlock with chip erase")

	if err := s.t.Unlock(); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	// Register state changed under us; refresh the identity.
	if err := s.Connect(); err != nil {
		return err
	}
	if err := s.t.EnterProgmode(); err != nil {
		if errors.Is(err, nvm.ErrDeviceLocked) {
			return fmt.Errorf("%w: %v", ErrLockedDevice, err)
		}
		return fmt.Errorf("enter programming mode after unlock: %w", err)
	}

	s.mode = Unlocked
	return nil
}

// Close tears the session down: best-effort leave of programming mode,
// then release of the transport. Secondary errors are logged and
// swallowed; Close also runs on paths that already failed. A session
// without a valid handle has nothing to close.
func (s *Session) Close() {
	if s.t == nil || s.closed {
		return
	}
	s.closed = true

	if s.mode == ProgrammingEntered || s.mode == Unlocked {
		if err := s.t.LeaveProgmode(); err != nil {
			s.log.Infof(logging.Updi, "leave programming mode: %v", err)
		}
	}
	if err := s.t.Close(); err != nil {
		s.log.Infof(logging.Updi, "close transport: %v", err)
	}
	s.mode = Closed
}
