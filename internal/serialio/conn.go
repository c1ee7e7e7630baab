package serialio

import (
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"
)

// Opener opens an OS serial port. Injected so the transport can be
// tested without hardware; the default is the platform implementation.
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Lister lists OS serial port names.
type Lister func() ([]string, error)

// Settings are the wire parameters applied to a connection. Invalid
// values are rejected before touching the open port.
type Settings struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"` // none, odd, even
}

// Mode validates the settings and translates them to a serial mode.
func (s Settings) Mode() (*serial.Mode, error) {
	if s.BaudRate <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", s.BaudRate)
	}
	switch s.DataBits {
	case 5, 6, 7, 8:
	default:
		return nil, fmt.Errorf("invalid data bits %d (must be 5-8)", s.DataBits)
	}
	mode := &serial.Mode{BaudRate: s.BaudRate, DataBits: s.DataBits}

	switch s.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d (must be 1 or 2)", s.StopBits)
	}

	switch s.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("invalid parity %q (must be none, odd or even)", s.Parity)
	}
	return mode, nil
}

// Connection is a thin synchronous wrapper around one open port handle.
// It has exactly one logical owner; concurrent use requires external
// serialization.
type Connection struct {
	port serial.Port
	name string
	baud int
	list Lister
}

// Open opens a port at 8N1 with the given baud rate. It fails if the
// port does not exist or is claimed by another process. A nil opener
// uses the OS serial implementation.
func Open(name string, baud int, opener Opener) (*Connection, error) {
	if opener == nil {
		opener = serial.Open
	}
	mode, err := Settings{BaudRate: baud, DataBits: 8, StopBits: 1, Parity: "none"}.Mode()
	if err != nil {
		return nil, err
	}

	port, err := opener(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open port %s: %w", name, err)
	}

	log.Printf("serial: opened %s at %d baud", name, baud)
	return &Connection{
		port: port,
		name: name,
		baud: baud,
		list: serial.GetPortsList,
	}, nil
}

// PortName returns the OS port name.
func (c *Connection) PortName() string { return c.name }

// BaudRate returns the baud rate the port was opened with.
func (c *Connection) BaudRate() int { return c.baud }

// Write sends raw bytes.
func (c *Connection) Write(data []byte) (int, error) {
	n, err := c.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("write to %s: %w", c.name, err)
	}
	return n, nil
}

// WriteLine sends text with a trailing newline.
func (c *Connection) WriteLine(text string) (int, error) {
	return c.Write([]byte(text + "\n"))
}

// Read fills the buffer with whatever is pending.
func (c *Connection) Read(buf []byte) (int, error) {
	n, err := c.port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read from %s: %w", c.name, err)
	}
	return n, nil
}

// ReadLine accumulates bytes until a line terminator or the timeout.
// Hitting the timeout is not an error: whatever was collected so far is
// returned as a valid "nothing more yet" result.
func (c *Connection) ReadLine(timeout time.Duration) (string, error) {
	if err := c.port.SetReadTimeout(10 * time.Millisecond); err != nil {
		return "", fmt.Errorf("set read timeout on %s: %w", c.name, err)
	}

	var line []byte
	single := make([]byte, 1)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		n, err := c.port.Read(single)
		if err != nil {
			return "", fmt.Errorf("read from %s: %w", c.name, err)
		}
		if n == 0 {
			continue
		}
		b := single[0]
		if b == '\n' || b == '\r' {
			if len(line) > 0 {
				break
			}
			continue
		}
		line = append(line, b)
	}
	return string(line), nil
}

// FlushInput discards pending unread input.
func (c *Connection) FlushInput() error {
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flush input on %s: %w", c.name, err)
	}
	return nil
}

// FlushOutput blocks until buffered output has been transmitted.
func (c *Connection) FlushOutput() error {
	if err := c.port.Drain(); err != nil {
		return fmt.Errorf("flush output on %s: %w", c.name, err)
	}
	return nil
}

// ApplyMode reconfigures wire parameters on the open port after
// validating them.
func (c *Connection) ApplyMode(s Settings) error {
	mode, err := s.Mode()
	if err != nil {
		return err
	}
	if err := c.port.SetMode(mode); err != nil {
		return fmt.Errorf("set mode on %s: %w", c.name, err)
	}
	c.baud = s.BaudRate
	return nil
}

// ResetDevice toggles DTR and RTS low then high with a settle delay,
// which forces many boards into their bootloader or a restart.
func (c *Connection) ResetDevice() error {
	log.Printf("serial: resetting device on %s", c.name)

	if err := c.port.SetDTR(false); err != nil {
		return fmt.Errorf("reset %s: %w", c.name, err)
	}
	if err := c.port.SetRTS(false); err != nil {
		return fmt.Errorf("reset %s: %w", c.name, err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := c.port.SetDTR(true); err != nil {
		return fmt.Errorf("reset %s: %w", c.name, err)
	}
	if err := c.port.SetRTS(true); err != nil {
		return fmt.Errorf("reset %s: %w", c.name, err)
	}
	time.Sleep(100 * time.Millisecond)

	return nil
}

// IsAvailable re-checks the OS port list for this port's name. It does
// not prove the handle itself is still valid.
func (c *Connection) IsAvailable() bool {
	ports, err := c.list()
	if err != nil {
		return false
	}
	for _, p := range ports {
		if p == c.name {
			return true
		}
	}
	return false
}

// Close releases the OS handle.
func (c *Connection) Close() error {
	log.Printf("serial: closing %s", c.name)
	return c.port.Close()
}
