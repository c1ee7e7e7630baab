package profile

import (
	"time"

	"github.com/google/uuid"

	"tether/internal/detect"
	"tether/internal/models"
)

// DeviceProfile is a user-defined named configuration for a device
// type. Unknown fields in an update patch land in CustomSettings
// verbatim rather than being rejected.
type DeviceProfile struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	DeviceType          models.DeviceType      `json:"device_type"`
	PreferredLanguage   string                 `json:"preferred_language"`
	BaudRate            int                    `json:"baud_rate"`
	AutoReconnect       bool                   `json:"auto_reconnect"`
	ReconnectIntervalMS int                    `json:"reconnect_interval_ms"`
	CustomSettings      map[string]interface{} `json:"custom_settings"`
	CreatedAt           time.Time              `json:"created_at"`
	LastModified        time.Time              `json:"last_modified"`
}

// NewProfile builds a profile with per-type defaults: the recommended
// language and baud rate for the device type, reconnection on at a
// 5 second interval.
func NewProfile(name string, deviceType models.DeviceType) *DeviceProfile {
	now := time.Now().UTC()
	return &DeviceProfile{
		ID:                  uuid.NewString(),
		Name:                name,
		DeviceType:          deviceType,
		PreferredLanguage:   detect.RecommendedLanguage(deviceType),
		BaudRate:            detect.BaudRate(deviceType),
		AutoReconnect:       true,
		ReconnectIntervalMS: 5000,
		CustomSettings:      make(map[string]interface{}),
		CreatedAt:           now,
		LastModified:        now,
	}
}

// ConnectionStatus is the per-device connection record. Created lazily
// on first status update, never proactively.
type ConnectionStatus struct {
	Connected          bool      `json:"connected"`
	LastSeen           time.Time `json:"last_seen"`
	ConnectionAttempts int       `json:"connection_attempts"`
	LastError          string    `json:"last_error,omitempty"`
}

// BatchResult is the per-device outcome of a batch operation.
type BatchResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
