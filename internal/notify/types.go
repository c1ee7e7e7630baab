package notify

import "time"

// Service is a configured Shoutrrr destination. Stored in the
// notification_settings table.
type Service struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	ConfigJSON       string    `json:"config_json"`
	Enabled          bool      `json:"enabled"`
	NotifyOnCritical bool      `json:"notify_on_critical"`
	NotifyOnWarning  bool      `json:"notify_on_warning"`
	NotifyOnInfo     bool      `json:"notify_on_info"`
	CooldownSeconds  int       `json:"cooldown_seconds"`
	CreatedAt        time.Time `json:"created_at"`
}

// Record is a row from notification_history.
type Record struct {
	ID           int64     `json:"id"`
	SettingID    int64     `json:"setting_id"`
	EventType    string    `json:"event_type"`
	DeviceID     string    `json:"device_id,omitempty"`
	Message      string    `json:"message"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	SentAt       time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
