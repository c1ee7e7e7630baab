package profile

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tether/internal/models"
)

// Store persists profiles and device associations to sqlite so they
// survive daemon restarts. The manager keeps the authoritative copy in
// memory and writes through on every mutation.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveProfile upserts one profile row.
func (s *Store) SaveProfile(p *DeviceProfile) error {
	settings, err := json.Marshal(p.CustomSettings)
	if err != nil {
		return fmt.Errorf("marshal custom settings: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO profiles
			(id, name, device_type, preferred_language, baud_rate,
			 auto_reconnect, reconnect_interval_ms, custom_settings,
			 created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			device_type = excluded.device_type,
			preferred_language = excluded.preferred_language,
			baud_rate = excluded.baud_rate,
			auto_reconnect = excluded.auto_reconnect,
			reconnect_interval_ms = excluded.reconnect_interval_ms,
			custom_settings = excluded.custom_settings,
			last_modified = excluded.last_modified`,
		p.ID, p.Name, string(p.DeviceType), p.PreferredLanguage, p.BaudRate,
		boolInt(p.AutoReconnect), p.ReconnectIntervalMS, string(settings),
		p.CreatedAt.Format(time.RFC3339), p.LastModified.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProfile removes a profile row; its associations go with it.
func (s *Store) DeleteProfile(profileID string) error {
	if _, err := s.db.Exec(`DELETE FROM device_profiles WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("delete associations for %s: %w", profileID, err)
	}
	if _, err := s.db.Exec(`DELETE FROM profiles WHERE id = ?`, profileID); err != nil {
		return fmt.Errorf("delete profile %s: %w", profileID, err)
	}
	return nil
}

// LoadProfiles reads the full profile table.
func (s *Store) LoadProfiles() (map[string]*DeviceProfile, error) {
	rows, err := s.db.Query(`
		SELECT id, name, device_type, preferred_language, baud_rate,
		       auto_reconnect, reconnect_interval_ms, custom_settings,
		       created_at, last_modified
		FROM profiles`)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*DeviceProfile)
	for rows.Next() {
		var (
			p                      DeviceProfile
			deviceType             string
			autoReconnect          int
			settings, created, mod string
		)
		if err := rows.Scan(&p.ID, &p.Name, &deviceType, &p.PreferredLanguage,
			&p.BaudRate, &autoReconnect, &p.ReconnectIntervalMS,
			&settings, &created, &mod); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		p.DeviceType = models.DeviceType(deviceType)
		p.AutoReconnect = autoReconnect != 0
		if err := json.Unmarshal([]byte(settings), &p.CustomSettings); err != nil {
			p.CustomSettings = make(map[string]interface{})
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, created)
		p.LastModified, _ = time.Parse(time.RFC3339, mod)
		out[p.ID] = &p
	}
	return out, rows.Err()
}

// SaveAssociation upserts a device→profile mapping.
func (s *Store) SaveAssociation(deviceID, profileID string) error {
	_, err := s.db.Exec(`
		INSERT INTO device_profiles (device_id, profile_id)
		VALUES (?, ?)
		ON CONFLICT(device_id) DO UPDATE SET profile_id = excluded.profile_id`,
		deviceID, profileID)
	if err != nil {
		return fmt.Errorf("save association %s→%s: %w", deviceID, profileID, err)
	}
	return nil
}

// LoadAssociations reads the device→profile table.
func (s *Store) LoadAssociations() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT device_id, profile_id FROM device_profiles`)
	if err != nil {
		return nil, fmt.Errorf("load associations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var deviceID, profileID string
		if err := rows.Scan(&deviceID, &profileID); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		out[deviceID] = profileID
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
