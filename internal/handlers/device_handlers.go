package handlers

import (
	"log"
	"net/http"

	"tether/internal/detect"
	"tether/internal/driver"
	"tether/internal/profile"
	"tether/internal/serialio"
)

// DeviceHandlers serves the device discovery and status endpoints.
type DeviceHandlers struct {
	Detector *detect.Detector
	Drivers  *driver.Registry
	Profiles *profile.Manager
	Serial   *serialio.Registry
}

// DeviceStatus is the aggregate view of one device: identity, driver
// readiness, serial state, and connection tracking.
type DeviceStatus struct {
	Device             interface{} `json:"device"`
	DriverKnown        bool        `json:"driver_known"`
	DriverReady        bool        `json:"driver_ready"`
	SerialOpen         bool        `json:"serial_open"`
	SupportedLanguages []string    `json:"supported_languages"`
	RecommendedBaud    int         `json:"recommended_baud"`
	Profile            interface{} `json:"profile,omitempty"`
	Connection         interface{} `json:"connection,omitempty"`
	ReconnectActive    bool        `json:"reconnect_active"`
}

// ListDevices rescans the serial ports and returns the fresh catalog.
// GET /api/devices
func (h *DeviceHandlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Detector.Scan()
	if err != nil {
		log.Printf("❌ Device scan: %v", err)
		JSONError(w, "Failed to scan devices", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, devices)
}

// GetDevice returns one device from the current catalog.
// GET /api/devices/{id}
func (h *DeviceHandlers) GetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.Detector.Device(r.PathValue("id"))
	if !ok {
		JSONError(w, "Device not found", http.StatusNotFound)
		return
	}
	JSONResponse(w, dev)
}

// GetDeviceStatus returns the aggregate status for one device.
// GET /api/devices/{id}/status
func (h *DeviceHandlers) GetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dev, ok := h.Detector.Device(id)
	if !ok {
		JSONError(w, "Device not found", http.StatusNotFound)
		return
	}

	status := DeviceStatus{
		Device:             dev,
		SerialOpen:         h.Serial.Connected(dev.Port),
		SupportedLanguages: detect.SupportedLanguages(dev.DeviceType),
		RecommendedBaud:    detect.BaudRate(dev.DeviceType),
		ReconnectActive:    h.Profiles.ReconnectActive(id),
	}

	if dev.HasUSBID {
		_, status.DriverKnown = h.Drivers.Lookup(dev.VendorID, dev.ProductID)
		status.DriverReady = h.Drivers.IsReady(dev.VendorID, dev.ProductID)
	}
	if prof, ok := h.Profiles.DeviceProfile(id); ok {
		status.Profile = prof
	}
	if conn, ok := h.Profiles.ConnectionStatus(id); ok {
		status.Connection = conn
	}

	JSONResponse(w, status)
}
