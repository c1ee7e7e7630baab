package serialio

import (
	"errors"
	"testing"

	"go.bug.st/serial"
)

func TestRegistryRejectsSecondOpen(t *testing.T) {
	r := NewRegistry(fakeOpener(&fakePort{}))

	if _, err := r.Connect("/dev/fake0", 9600); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if _, err := r.Connect("/dev/fake0", 9600); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second open must fail with ErrAlreadyConnected, got %v", err)
	}
}

func TestRegistryDisconnect(t *testing.T) {
	port := &fakePort{}
	r := NewRegistry(fakeOpener(port))

	r.Connect("/dev/fake0", 9600)
	if err := r.Disconnect("/dev/fake0"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if !port.closed {
		t.Error("underlying handle was not closed")
	}
	if r.Connected("/dev/fake0") {
		t.Error("port still registered after disconnect")
	}

	// Reconnecting after disconnect must work again.
	if _, err := r.Connect("/dev/fake0", 9600); err != nil {
		t.Errorf("reconnect after disconnect: %v", err)
	}
}

func TestRegistryDisconnectUnknownPort(t *testing.T) {
	r := NewRegistry(fakeOpener(&fakePort{}))
	if err := r.Disconnect("/dev/ghost"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestRegistryOpenFailureNotRecorded(t *testing.T) {
	r := NewRegistry(func(name string, mode *serial.Mode) (serial.Port, error) {
		return nil, errors.New("device busy")
	})

	if _, err := r.Connect("/dev/fake0", 9600); err == nil {
		t.Fatal("expected open failure")
	}
	if r.Connected("/dev/fake0") {
		t.Error("failed open must not leave a registry entry")
	}
}

func TestRegistryPorts(t *testing.T) {
	r := NewRegistry(fakeOpener(&fakePort{}))
	r.Connect("/dev/fake0", 9600)
	r.Connect("/dev/fake1", 115200)

	ports := r.Ports()
	if len(ports) != 2 {
		t.Errorf("expected 2 ports, got %v", ports)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	a := &fakePort{}
	opened := 0
	r := NewRegistry(func(name string, mode *serial.Mode) (serial.Port, error) {
		opened++
		return a, nil
	})
	r.Connect("/dev/fake0", 9600)
	r.Connect("/dev/fake1", 9600)

	r.CloseAll()
	if len(r.Ports()) != 0 {
		t.Error("registry not empty after CloseAll")
	}
}
