package driver

import (
	"errors"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"sync"

	"tether/internal/models"
)

// ErrNotFound is returned when a driver key or USB identity has no
// catalog entry.
var ErrNotFound = errors.New("driver not found")

// Info is one entry in the static driver catalog. The VID/PID pair is
// the matching key and identifies at most one driver.
type Info struct {
	Key         string              `json:"key"`
	Name        string              `json:"name"`
	Version     string              `json:"version,omitempty"`
	VendorID    uint16              `json:"vendor_id"`
	ProductID   uint16              `json:"product_id"`
	Description string              `json:"description"`
	Installed   bool                `json:"installed"`
	RequiredFor []models.DeviceType `json:"required_for_devices"`
}

// CommandRunner executes an OS command and returns its combined output.
// Injected so platform probes can be tested against captured output.
type CommandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Registry is the static driver catalog plus installed-state detection.
// Detection is best-effort: probe failures degrade to "not confirmed
// installed", never to an error for the caller.
type Registry struct {
	run  CommandRunner
	goos string

	mu      sync.RWMutex
	drivers map[string]*Info
}

// NewRegistry builds the catalog. A nil runner uses os/exec.
func NewRegistry(run CommandRunner) *Registry {
	return newRegistry(run, runtime.GOOS)
}

func newRegistry(run CommandRunner, goos string) *Registry {
	if run == nil {
		run = execRunner
	}
	r := &Registry{run: run, goos: goos, drivers: make(map[string]*Info)}
	r.initCatalog()
	return r
}

func (r *Registry) initCatalog() {
	add := func(d *Info) { r.drivers[d.Key] = d }

	add(&Info{
		Key:         "ch340",
		Name:        "CH340/CH341 USB Serial Driver",
		VendorID:    0x1a86,
		ProductID:   0x7523,
		Description: "CH340/CH341 USB to Serial converter driver",
		RequiredFor: []models.DeviceType{models.Arduino, models.ESP32},
	})
	add(&Info{
		Key:         "arduino_usb",
		Name:        "Arduino USB Driver",
		VendorID:    0x2341,
		ProductID:   0x0043,
		Description: "Official Arduino USB driver",
		RequiredFor: []models.DeviceType{models.Arduino},
	})
	add(&Info{
		Key:         "cp210x",
		Name:        "Silicon Labs CP210x USB to UART Bridge",
		VendorID:    0x10c4,
		ProductID:   0xea60,
		Description: "CP210x USB to Serial converter driver",
		RequiredFor: []models.DeviceType{models.ESP32},
	})
	add(&Info{
		Key:         "microbit_usb",
		Name:        "micro:bit USB Driver",
		VendorID:    0x0d28,
		ProductID:   0x0204,
		Description: "BBC micro:bit USB interface driver",
		RequiredFor: []models.DeviceType{models.MicroBit},
	})
	add(&Info{
		Key:         "pico_usb",
		Name:        "Raspberry Pi Pico USB Driver",
		VendorID:    0x2e8a,
		ProductID:   0x0005,
		Description: "Raspberry Pi Pico USB interface driver",
		RequiredFor: []models.DeviceType{models.RaspberryPiPico},
	})
}

// All returns every catalog entry.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.drivers))
	for _, d := range r.drivers {
		out = append(out, *d)
	}
	return out
}

// Installed returns entries whose installed flag is set.
func (r *Registry) Installed() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for _, d := range r.drivers {
		if d.Installed {
			out = append(out, *d)
		}
	}
	return out
}

// Lookup finds the driver matching a USB identity exactly.
func (r *Registry) Lookup(vid, pid uint16) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.drivers {
		if d.VendorID == vid && d.ProductID == pid {
			return *d, true
		}
	}
	return Info{}, false
}

// IsReady reports whether the driver for a USB identity is confirmed
// installed. An unknown identity is never ready.
func (r *Registry) IsReady(vid, pid uint16) bool {
	d, ok := r.Lookup(vid, pid)
	return ok && d.Installed
}

// ScanInstalled probes the OS for installed drivers and updates the
// catalog's installed flags. Probe failures are logged and treated as
// "not confirmed installed"; the scan itself never fails.
func (r *Registry) ScanInstalled() []Info {
	keys := r.probe()

	r.mu.Lock()
	for _, key := range keys {
		if d, ok := r.drivers[key]; ok {
			d.Installed = true
		}
	}
	r.mu.Unlock()

	return r.Installed()
}

// markInstalled is used by install paths that can confirm success.
func (r *Registry) markInstalled(key string) {
	r.mu.Lock()
	if d, ok := r.drivers[key]; ok {
		d.Installed = true
	}
	r.mu.Unlock()
}

// keyForVendor maps a vendor id to the catalog key used by install
// flows when only the vendor is known.
func keyForVendor(vid uint16) (string, bool) {
	switch vid {
	case 0x1a86:
		return "ch340", true
	case 0x2341:
		return "arduino_usb", true
	case 0x10c4:
		return "cp210x", true
	case 0x0d28:
		return "microbit_usb", true
	case 0x2e8a:
		return "pico_usb", true
	default:
		return "", false
	}
}

// keyForDeviceType infers the most likely driver when a device exposes
// no USB identity at all.
func keyForDeviceType(t models.DeviceType) (string, bool) {
	switch t {
	case models.Arduino:
		// CH340 bridges are the most common Arduino clones.
		return "ch340", true
	case models.ESP32:
		return "cp210x", true
	case models.MicroBit:
		return "microbit_usb", true
	case models.RaspberryPiPico:
		return "pico_usb", true
	default:
		return "", false
	}
}

// InstallForDevice resolves which driver a device needs and attempts a
// best-effort install, falling back to device-type inference when the
// USB identity is missing or unmatched.
func (r *Registry) InstallForDevice(dev models.DeviceInfo) (string, error) {
	if dev.HasUSBID {
		if r.IsReady(dev.VendorID, dev.ProductID) {
			return "Device driver is already installed.", nil
		}
		if key, ok := keyForVendor(dev.VendorID); ok {
			return r.Install(key)
		}
	}

	if key, ok := keyForDeviceType(dev.DeviceType); ok {
		log.Printf("driver: no usable USB identity for %s, inferring %s from device type", dev.ID, key)
		return r.Install(key)
	}

	return fmt.Sprintf(
		"Device type is unknown; install a driver manually:\n"+
			"1. For Arduino boards try the CH340 driver\n"+
			"2. For ESP32 boards try the CP210x driver\n"+
			"3. Or let the OS search for a driver automatically\n"+
			"Device: port=%s, manufacturer=%s", dev.Port, dev.Manufacturer), nil
}

// Install attempts a best-effort driver installation and returns
// human-readable guidance. Failures that only mean "cannot verify" are
// reported as advisory text, not errors.
func (r *Registry) Install(key string) (string, error) {
	r.mu.RLock()
	d, ok := r.drivers[key]
	installed := ok && d.Installed
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if installed {
		return fmt.Sprintf("Driver %s is already installed.", d.Name), nil
	}

	switch r.goos {
	case "windows":
		return r.installWindows(key)
	case "darwin":
		return r.installDarwin(key)
	default:
		return r.installLinux(key)
	}
}
