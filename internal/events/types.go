package events

import "time"

// EventType identifies the kind of event being published.
type EventType string

const (
	// Device lifecycle events
	DeviceAppeared     EventType = "device_appeared"
	DeviceDisappeared  EventType = "device_disappeared"
	DeviceConnected    EventType = "device_connected"
	DeviceDisconnected EventType = "device_disconnected"
	ReconnectSucceeded EventType = "reconnect_succeeded"
	ReconnectFailed    EventType = "reconnect_failed"

	// Driver events
	DriverMissing   EventType = "driver_missing"
	DriverInstalled EventType = "driver_installed"

	// Upload events
	UploadStarted  EventType = "upload_started"
	UploadComplete EventType = "upload_complete"
	UploadFailed   EventType = "upload_failed"
)

// Severity indicates the urgency of an event.
type Severity int

const (
	SeverityInfo     Severity = 0
	SeverityWarning  Severity = 1
	SeverityCritical Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Event is the payload published through the bus.
type Event struct {
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	DeviceID  string            `json:"device_id,omitempty"`
	Port      string            `json:"port,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
