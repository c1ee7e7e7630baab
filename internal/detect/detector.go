package detect

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial/enumerator"

	"tether/internal/events"
	"tether/internal/models"
)

// PortLister enumerates serial ports. Injected so scans can be tested
// without hardware; the default is the OS enumerator.
type PortLister func() ([]*enumerator.PortDetails, error)

// noiseSubstrings are port-name fragments that never belong to a
// programmable board: platform debug consoles, Bluetooth "incoming"
// virtual ports and OS accessory ports.
var noiseSubstrings = []string{
	"debug-console",
	"bluetooth-incoming-port",
	"ams",
	"airpods",
}

// Detector owns the device catalog. The catalog is replaced wholesale
// on every scan, never merged.
type Detector struct {
	list PortLister
	bus  *events.Bus

	mu      sync.RWMutex
	devices map[string]models.DeviceInfo
}

// NewDetector creates a detector using the given port lister.
// A nil lister falls back to the OS serial enumerator.
func NewDetector(list PortLister, bus *events.Bus) *Detector {
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	return &Detector{
		list:    list,
		bus:     bus,
		devices: make(map[string]models.DeviceInfo),
	}
}

// Scan enumerates serial ports and rebuilds the device catalog.
// It fails only if the OS enumeration itself fails; everything after
// that is filtering. Two ports with the same hardware identity produce
// a single DeviceInfo.
func (d *Detector) Scan() ([]models.DeviceInfo, error) {
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("serial port enumeration failed: %w", err)
	}

	names := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		names[p.Name] = struct{}{}
	}

	fresh := make(map[string]models.DeviceInfo)
	seenHardware := make(map[string]struct{})
	var detected []models.DeviceInfo

	for _, p := range ports {
		if isNoisePort(p.Name) {
			log.Printf("detect: skipping system port %s", p.Name)
			continue
		}

		// macOS exposes /dev/cu.* and /dev/tty.* nodes for the same
		// physical port; keep the call-up node when both are present.
		if strings.HasPrefix(p.Name, "/dev/tty.") {
			cu := strings.Replace(p.Name, "/dev/tty.", "/dev/cu.", 1)
			if _, ok := names[cu]; ok {
				log.Printf("detect: preferring %s over %s", cu, p.Name)
				continue
			}
		}

		vid, pid, hasUSB := usbIdentity(p)
		key := hardwareKey(p.Name, vid, pid, hasUSB)
		if _, dup := seenHardware[key]; dup {
			log.Printf("detect: skipping duplicate device %s (hardware key %s)", p.Name, key)
			continue
		}
		seenHardware[key] = struct{}{}

		info := newDeviceInfo(p, vid, pid, hasUSB)
		if _, exists := fresh[info.ID]; exists {
			log.Printf("detect: device id collision, skipping %s", info.ID)
			continue
		}
		fresh[info.ID] = info
		detected = append(detected, info)
	}

	d.mu.Lock()
	prev := d.devices
	d.devices = fresh
	d.mu.Unlock()

	d.publishDiff(prev, fresh)

	log.Printf("detect: scan complete, %d unique device(s)", len(detected))
	return detected, nil
}

// publishDiff emits appeared/disappeared events for catalog changes.
func (d *Detector) publishDiff(prev, fresh map[string]models.DeviceInfo) {
	if d.bus == nil {
		return
	}
	for id, info := range fresh {
		if _, ok := prev[id]; !ok {
			d.bus.Publish(events.Event{
				Type:     events.DeviceAppeared,
				Severity: events.SeverityInfo,
				DeviceID: id,
				Port:     info.Port,
				Message:  fmt.Sprintf("%s detected", info.Name),
			})
		}
	}
	for id, info := range prev {
		if _, ok := fresh[id]; !ok {
			d.bus.Publish(events.Event{
				Type:     events.DeviceDisappeared,
				Severity: events.SeverityWarning,
				DeviceID: id,
				Port:     info.Port,
				Message:  fmt.Sprintf("%s no longer present", info.Name),
			})
		}
	}
}

// Device returns one catalog entry by id.
func (d *Detector) Device(id string) (models.DeviceInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.devices[id]
	return info, ok
}

// Devices returns the current catalog.
func (d *Detector) Devices() []models.DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.DeviceInfo, 0, len(d.devices))
	for _, info := range d.devices {
		out = append(out, info)
	}
	return out
}

// SetConnected flags a catalog entry's connected state. Connected is
// the only field mutated after creation.
func (d *Detector) SetConnected(id string, connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.devices[id]; ok {
		info.Connected = connected
		d.devices[id] = info
	}
}

func isNoisePort(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range noiseSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func usbIdentity(p *enumerator.PortDetails) (vid, pid uint16, ok bool) {
	if !p.IsUSB {
		return 0, 0, false
	}
	v, errV := strconv.ParseUint(p.VID, 16, 16)
	q, errP := strconv.ParseUint(p.PID, 16, 16)
	if errV != nil || errP != nil {
		return 0, 0, false
	}
	return uint16(v), uint16(q), true
}

// hardwareKey derives the deduplication key: the VID/PID hex pair when
// USB identity is available, otherwise the port's base name with
// platform path prefixes stripped.
func hardwareKey(name string, vid, pid uint16, hasUSB bool) string {
	if hasUSB {
		return fmt.Sprintf("%04x:%04x", vid, pid)
	}
	base := name
	for _, prefix := range []string{"/dev/cu.", "/dev/tty."} {
		if strings.HasPrefix(base, prefix) {
			base = strings.TrimPrefix(base, prefix)
			break
		}
	}
	return base
}

func newDeviceInfo(p *enumerator.PortDetails, vid, pid uint16, hasUSB bool) models.DeviceInfo {
	deviceType := models.UnknownDevice
	if hasUSB {
		deviceType = Classify(vid, pid)
	}
	info := models.DeviceInfo{
		ID:          deviceID(p.Name),
		Name:        deviceName(deviceType, p.Name),
		DeviceType:  deviceType,
		Port:        p.Name,
		Description: p.Product,
	}
	if hasUSB {
		info.VendorID = vid
		info.ProductID = pid
		info.HasUSBID = true
	}
	return info
}

// deviceID derives a stable id from the port name. It is constant for
// the current scan but not guaranteed stable across plug cycles.
func deviceID(port string) string {
	id := strings.TrimPrefix(port, "/dev/")
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(id)
}

func deviceName(t models.DeviceType, port string) string {
	switch t {
	case models.Arduino:
		return fmt.Sprintf("Arduino on %s", port)
	case models.MicroBit:
		return fmt.Sprintf("micro:bit on %s", port)
	case models.ESP32:
		return fmt.Sprintf("ESP32 on %s", port)
	case models.RaspberryPiPico:
		return fmt.Sprintf("Raspberry Pi Pico on %s", port)
	default:
		return fmt.Sprintf("Unknown Device on %s", port)
	}
}
