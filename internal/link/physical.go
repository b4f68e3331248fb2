package link

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/GreenLoofa/cupdi/internal/logging"
)

// ErrPortOpen wraps serial port open failures so callers can tell them
// apart from protocol-level init failures.
var ErrPortOpen = fmt.Errorf("serial port open failed")

// Physical drives the half-duplex UPDI serial line. UPDI is a one-wire
// interface with RX and TX tied together, so every transmitted byte is
// echoed back and has to be consumed before the device's response.
type Physical struct {
	port     serial.Port
	portName string
	mode     serial.Mode
	log      *logging.Logger
}

const readTimeout = 100 * time.Millisecond

// OpenPhysical opens the serial port with UPDI framing (8 data bits, even
// parity, two stop bits) and sends the initial double break handshake.
func OpenPhysical(portName string, baudRate int, log *logging.Logger) (*Physical, error) {
	mode := serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}

	log.Infof(logging.Phy, "<PHY> opening port %s, baudrate %d", portName, baudRate)

	port, err := serial.Open(portName, &mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPortOpen, portName, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: set read timeout: %v", ErrPortOpen, err)
	}

	p := &Physical{
		port:     port,
		portName: portName,
		mode:     mode,
		log:      log,
	}

	if err := p.SendDoubleBreak(); err != nil {
		p.Close()
		return nil, fmt.Errorf("double break handshake: %w", err)
	}

	return p, nil
}

// Close releases the serial port.
func (p *Physical) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// SendDoubleBreak forces the UPDI state machine into a known state.
// A break is just a slow zero frame: at 300 baud the line is held low for
// about 30ms, above the 24.6ms the datasheet asks for.
func (p *Physical) SendDoubleBreak() error {
	p.log.Infof(logging.Phy, "<PHY> sending double break")

	slow := serial.Mode{
		BaudRate: 300,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	if err := p.port.SetMode(&slow); err != nil {
		return fmt.Errorf("set break baudrate: %w", err)
	}

	if _, err := p.port.Write([]byte{BreakChar, BreakChar}); err != nil {
		return fmt.Errorf("send break: %w", err)
	}

	// Wait for the breaks to clock out, then discard whatever the echo
	// produced; break frames arrive garbled.
	time.Sleep(150 * time.Millisecond)
	p.drain()

	if err := p.port.SetMode(&p.mode); err != nil {
		return fmt.Errorf("restore baudrate: %w", err)
	}
	return p.port.ResetInputBuffer()
}

func (p *Physical) drain() {
	buf := make([]byte, 64)
	for {
		n, err := p.port.Read(buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

// Send writes data and consumes the loopback echo.
func (p *Physical) Send(data []byte) error {
	p.log.Dump(logging.Phy, "<PHY> send:", data)

	if _, err := p.port.Write(data); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}

	if _, err := p.Receive(len(data)); err != nil {
		return fmt.Errorf("echo readback: %w", err)
	}
	return nil
}

// Receive reads exactly n bytes, or fails once the line goes quiet.
func (p *Physical) Receive(n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	chunk := make([]byte, n)
	deadline := time.Now().Add(time.Second)

	for len(buf) < n && time.Now().Before(deadline) {
		got, err := p.port.Read(chunk[:n-len(buf)])
		if got > 0 {
			buf = append(buf, chunk[:got]...)
		}
		if err != nil && got == 0 {
			break
		}
	}

	if len(buf) < n {
		return nil, fmt.Errorf("serial read: want %d bytes, got %d", n, len(buf))
	}
	p.log.Dump(logging.Phy, "<PHY> recv:", buf)
	return buf, nil
}

// ListPorts returns the names of the serial ports on this machine.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
