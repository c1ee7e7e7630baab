package models

// DeviceType classifies an attached board by its USB identity.
type DeviceType string

const (
	Arduino         DeviceType = "arduino"
	MicroBit        DeviceType = "microbit"
	ESP32           DeviceType = "esp32"
	RaspberryPiPico DeviceType = "raspberry_pi_pico"
	UnknownDevice   DeviceType = "unknown"
)

// DeviceInfo describes one physically distinct board found during a scan.
// The catalog is rebuilt wholesale on every scan; after creation only
// Connected is ever mutated.
type DeviceInfo struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DeviceType   DeviceType `json:"device_type"`
	Port         string     `json:"port"`
	VendorID     uint16     `json:"vendor_id,omitempty"`
	ProductID    uint16     `json:"product_id,omitempty"`
	HasUSBID     bool       `json:"has_usb_id"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Description  string     `json:"description,omitempty"`
	Connected    bool       `json:"connected"`
}

// UploadOptions is one upload job request.
type UploadOptions struct {
	DeviceID  string `json:"device_id"`
	Code      string `json:"code"`
	Language  string `json:"language"` // "arduino" or "micropython"
	BoardType string `json:"board_type"`
}

// Config holds server configuration
type Config struct {
	Port                string
	DBPath              string
	ReconnectIntervalMS int
	CleanupOlderThanHrs int
}
