package serialio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
)

// fakePort is an in-memory serial.Port for transport tests.
type fakePort struct {
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	closed   bool
	dtr      []bool
	rts      []bool
	mode     *serial.Mode
	drained  bool
	inReset  bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.readBuf.Len() == 0 {
		return 0, nil // timeout-style empty read
	}
	return f.readBuf.Read(p)
}

func (f *fakePort) Write(p []byte) (int, error)                       { return f.writeBuf.Write(p) }
func (f *fakePort) Close() error                                      { f.closed = true; return nil }
func (f *fakePort) SetMode(mode *serial.Mode) error                   { f.mode = mode; return nil }
func (f *fakePort) SetReadTimeout(t time.Duration) error              { return nil }
func (f *fakePort) SetDTR(v bool) error                               { f.dtr = append(f.dtr, v); return nil }
func (f *fakePort) SetRTS(v bool) error                               { f.rts = append(f.rts, v); return nil }
func (f *fakePort) Drain() error                                      { f.drained = true; return nil }
func (f *fakePort) ResetInputBuffer() error                           { f.inReset = true; f.readBuf.Reset(); return nil }
func (f *fakePort) ResetOutputBuffer() error                          { f.writeBuf.Reset(); return nil }
func (f *fakePort) Break(d time.Duration) error                       { return nil }
func (f *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return &serial.ModemStatusBits{}, nil }

func fakeOpener(port *fakePort) Opener {
	return func(name string, mode *serial.Mode) (serial.Port, error) {
		return port, nil
	}
}

func TestSettingsValidation(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"valid 8N1", Settings{9600, 8, 1, "none"}, false},
		{"valid 7E2", Settings{115200, 7, 2, "even"}, false},
		{"valid odd parity", Settings{9600, 5, 1, "odd"}, false},
		{"empty parity defaults to none", Settings{9600, 8, 1, ""}, false},
		{"zero baud", Settings{0, 8, 1, "none"}, true},
		{"bad data bits", Settings{9600, 9, 1, "none"}, true},
		{"bad stop bits", Settings{9600, 8, 3, "none"}, true},
		{"bad parity", Settings{9600, 8, 1, "mark"}, true},
	}
	for _, tt := range tests {
		_, err := tt.s.Mode()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestWriteLineAppendsNewline(t *testing.T) {
	port := &fakePort{}
	conn, err := Open("/dev/fake0", 9600, fakeOpener(port))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := conn.WriteLine("hello"); err != nil {
		t.Fatalf("write line: %v", err)
	}
	if got := port.writeBuf.String(); got != "hello\n" {
		t.Errorf("wrote %q", got)
	}
}

func TestReadLineStopsAtTerminator(t *testing.T) {
	port := &fakePort{}
	port.readBuf.WriteString("ok\r\nrest")
	conn, _ := Open("/dev/fake0", 9600, fakeOpener(port))

	line, err := conn.ReadLine(time.Second)
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if line != "ok" {
		t.Errorf("line = %q", line)
	}
}

func TestReadLineSkipsLeadingTerminators(t *testing.T) {
	port := &fakePort{}
	port.readBuf.WriteString("\r\n\r\ndata\n")
	conn, _ := Open("/dev/fake0", 9600, fakeOpener(port))

	line, err := conn.ReadLine(time.Second)
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if line != "data" {
		t.Errorf("line = %q", line)
	}
}

func TestReadLineTimeoutReturnsPartial(t *testing.T) {
	port := &fakePort{}
	port.readBuf.WriteString("partial") // no terminator ever arrives
	conn, _ := Open("/dev/fake0", 9600, fakeOpener(port))

	start := time.Now()
	line, err := conn.ReadLine(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if line != "partial" {
		t.Errorf("line = %q", line)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("returned before the timeout elapsed")
	}
}

func TestResetDeviceTogglesControlLines(t *testing.T) {
	port := &fakePort{}
	conn, _ := Open("/dev/fake0", 9600, fakeOpener(port))

	if err := conn.ResetDevice(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	want := []bool{false, true}
	for i, v := range want {
		if port.dtr[i] != v || port.rts[i] != v {
			t.Fatalf("control lines toggled %v/%v, want low-then-high", port.dtr, port.rts)
		}
	}
}

func TestApplyModeValidatesBeforeTouchingPort(t *testing.T) {
	port := &fakePort{}
	conn, _ := Open("/dev/fake0", 9600, fakeOpener(port))
	applied := port.mode

	if err := conn.ApplyMode(Settings{9600, 9, 1, "none"}); err == nil {
		t.Fatal("expected validation error")
	}
	if port.mode != applied {
		t.Error("invalid settings reached the open port")
	}

	if err := conn.ApplyMode(Settings{115200, 7, 2, "even"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if port.mode == nil || port.mode.BaudRate != 115200 || port.mode.DataBits != 7 {
		t.Errorf("mode not applied: %+v", port.mode)
	}
	if conn.BaudRate() != 115200 {
		t.Errorf("baud not tracked: %d", conn.BaudRate())
	}
}

func TestFlushInput(t *testing.T) {
	port := &fakePort{}
	port.readBuf.WriteString("stale")
	conn, _ := Open("/dev/fake0", 9600, fakeOpener(port))

	if err := conn.FlushInput(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !port.inReset || port.readBuf.Len() != 0 {
		t.Error("input buffer was not discarded")
	}
}

func TestIsAvailable(t *testing.T) {
	port := &fakePort{}
	conn, _ := Open("/dev/fake0", 9600, fakeOpener(port))

	conn.list = func() ([]string, error) { return []string{"/dev/fake0"}, nil }
	if !conn.IsAvailable() {
		t.Error("port in the OS list must be available")
	}

	conn.list = func() ([]string, error) { return []string{"/dev/other"}, nil }
	if conn.IsAvailable() {
		t.Error("port missing from the OS list must be unavailable")
	}

	conn.list = func() ([]string, error) { return nil, errors.New("boom") }
	if conn.IsAvailable() {
		t.Error("enumeration failure must read as unavailable")
	}
}
