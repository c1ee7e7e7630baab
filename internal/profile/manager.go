package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tether/internal/events"
)

// ErrNotFound is returned for profile or device ids absent from the
// relevant table.
var ErrNotFound = errors.New("not found")

// Manager owns profiles, device→profile associations and connection
// statuses. Each table has its own reader/writer lock; the tables are
// independent so no cross-table lock ordering is needed.
type Manager struct {
	bus   *events.Bus
	store *Store // optional write-through persistence

	profilesMu sync.RWMutex
	profiles   map[string]*DeviceProfile

	assocMu        sync.RWMutex
	deviceProfiles map[string]string // device id → profile id

	statusMu sync.RWMutex
	statuses map[string]*ConnectionStatus

	loopsMu sync.Mutex
	loops   map[string]*reconnectLoop

	transitions chan transition
	consumerWG  sync.WaitGroup
	closeOnce   sync.Once
	closed      chan struct{}
}

// NewManager creates a manager. A non-nil store is loaded immediately
// and kept in sync on every mutation; a nil store keeps everything in
// memory only.
func NewManager(bus *events.Bus, store *Store) (*Manager, error) {
	m := &Manager{
		bus:            bus,
		store:          store,
		profiles:       make(map[string]*DeviceProfile),
		deviceProfiles: make(map[string]string),
		statuses:       make(map[string]*ConnectionStatus),
		loops:          make(map[string]*reconnectLoop),
		transitions:    make(chan transition, 64),
		closed:         make(chan struct{}),
	}

	if store != nil {
		profiles, err := store.LoadProfiles()
		if err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
		m.profiles = profiles

		assocs, err := store.LoadAssociations()
		if err != nil {
			return nil, fmt.Errorf("load associations: %w", err)
		}
		m.deviceProfiles = assocs
	}

	m.consumerWG.Add(1)
	go m.consumeTransitions()

	return m, nil
}

// Close stops all reconnect loops and the transition consumer.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.loopsMu.Lock()
		for id, loop := range m.loops {
			loop.stop()
			delete(m.loops, id)
		}
		m.loopsMu.Unlock()

		close(m.closed)
		m.consumerWG.Wait()
	})
}

// ── Profile CRUD ────────────────────────────────────────────────────────

// CreateProfile registers a profile and returns its id.
func (m *Manager) CreateProfile(p *DeviceProfile) (string, error) {
	if p.CustomSettings == nil {
		p.CustomSettings = make(map[string]interface{})
	}

	m.profilesMu.Lock()
	m.profiles[p.ID] = p
	m.profilesMu.Unlock()

	if m.store != nil {
		if err := m.store.SaveProfile(p); err != nil {
			return "", fmt.Errorf("persist profile: %w", err)
		}
	}

	log.Printf("profile: created %s (%s)", p.ID, p.Name)
	return p.ID, nil
}

// UpdateProfile applies a partial patch by field name. Known fields are
// coerced; anything else is stored verbatim in the custom-settings map.
func (m *Manager) UpdateProfile(profileID string, updates map[string]interface{}) error {
	m.profilesMu.Lock()
	p, ok := m.profiles[profileID]
	if !ok {
		m.profilesMu.Unlock()
		return fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
	}

	for key, value := range updates {
		switch key {
		case "name":
			if s, ok := value.(string); ok {
				p.Name = s
			}
		case "preferred_language":
			if s, ok := value.(string); ok {
				p.PreferredLanguage = s
			}
		case "baud_rate":
			if n, ok := asInt(value); ok {
				p.BaudRate = n
			}
		case "auto_reconnect":
			if b, ok := value.(bool); ok {
				p.AutoReconnect = b
			}
		case "reconnect_interval_ms":
			if n, ok := asInt(value); ok {
				p.ReconnectIntervalMS = n
			}
		default:
			p.CustomSettings[key] = value
		}
	}
	p.LastModified = time.Now().UTC()
	snapshot := *p
	m.profilesMu.Unlock()

	if m.store != nil {
		if err := m.store.SaveProfile(&snapshot); err != nil {
			return fmt.Errorf("persist profile: %w", err)
		}
	}

	log.Printf("profile: updated %s", profileID)
	return nil
}

// DeleteProfile removes a profile and every device association that
// pointed at it.
func (m *Manager) DeleteProfile(profileID string) error {
	m.profilesMu.Lock()
	if _, ok := m.profiles[profileID]; !ok {
		m.profilesMu.Unlock()
		return fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
	}
	delete(m.profiles, profileID)
	m.profilesMu.Unlock()

	m.assocMu.Lock()
	for deviceID, pid := range m.deviceProfiles {
		if pid == profileID {
			delete(m.deviceProfiles, deviceID)
		}
	}
	m.assocMu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteProfile(profileID); err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}
	}

	log.Printf("profile: deleted %s", profileID)
	return nil
}

// GetProfile returns a copy of one profile.
func (m *Manager) GetProfile(profileID string) (DeviceProfile, error) {
	m.profilesMu.RLock()
	defer m.profilesMu.RUnlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return DeviceProfile{}, fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
	}
	return *p, nil
}

// ListProfiles returns copies of all profiles.
func (m *Manager) ListProfiles() []DeviceProfile {
	m.profilesMu.RLock()
	defer m.profilesMu.RUnlock()
	out := make([]DeviceProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, *p)
	}
	return out
}

// ── Associations ────────────────────────────────────────────────────────

// AssociateDevice maps a device id to a profile. Re-associating
// overwrites the prior mapping; a missing profile is an error.
func (m *Manager) AssociateDevice(deviceID, profileID string) error {
	m.profilesMu.RLock()
	_, ok := m.profiles[profileID]
	m.profilesMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
	}

	m.assocMu.Lock()
	m.deviceProfiles[deviceID] = profileID
	m.assocMu.Unlock()

	if m.store != nil {
		if err := m.store.SaveAssociation(deviceID, profileID); err != nil {
			return fmt.Errorf("persist association: %w", err)
		}
	}

	log.Printf("profile: device %s associated with profile %s", deviceID, profileID)
	return nil
}

// DeviceProfile returns the profile associated with a device, if any.
func (m *Manager) DeviceProfile(deviceID string) (DeviceProfile, bool) {
	m.assocMu.RLock()
	profileID, ok := m.deviceProfiles[deviceID]
	m.assocMu.RUnlock()
	if !ok {
		return DeviceProfile{}, false
	}

	m.profilesMu.RLock()
	defer m.profilesMu.RUnlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return DeviceProfile{}, false
	}
	return *p, true
}

// ── Connection status ───────────────────────────────────────────────────

// UpdateConnectionStatus upserts a device's status and stamps last_seen.
func (m *Manager) UpdateConnectionStatus(deviceID string, connected bool, errMsg string) {
	m.statusMu.Lock()
	status, ok := m.statuses[deviceID]
	if !ok {
		status = &ConnectionStatus{}
		m.statuses[deviceID] = status
	}
	wasConnected := ok && status.Connected
	status.Connected = connected
	status.LastSeen = time.Now().UTC()
	if errMsg != "" {
		status.LastError = errMsg
	}
	m.statusMu.Unlock()

	if m.bus != nil && wasConnected != connected {
		eventType := events.DeviceConnected
		severity := events.SeverityInfo
		msg := fmt.Sprintf("device %s connected", deviceID)
		if !connected {
			eventType = events.DeviceDisconnected
			severity = events.SeverityWarning
			msg = fmt.Sprintf("device %s disconnected", deviceID)
			if errMsg != "" {
				msg = fmt.Sprintf("%s: %s", msg, errMsg)
			}
		}
		m.bus.Publish(events.Event{
			Type:     eventType,
			Severity: severity,
			DeviceID: deviceID,
			Message:  msg,
		})
	}
}

// ConnectionStatus returns a copy of a device's status.
func (m *Manager) ConnectionStatus(deviceID string) (ConnectionStatus, bool) {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	status, ok := m.statuses[deviceID]
	if !ok {
		return ConnectionStatus{}, false
	}
	return *status, true
}

// CleanupDisconnected removes statuses that are disconnected and whose
// last_seen predates the cutoff. Connected statuses are never removed.
func (m *Manager) CleanupDisconnected(olderThanHours int) int {
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanHours) * time.Hour)

	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	removed := 0
	for deviceID, status := range m.statuses {
		if !status.Connected && status.LastSeen.Before(cutoff) {
			log.Printf("profile: cleaning up stale status for %s", deviceID)
			delete(m.statuses, deviceID)
			removed++
		}
	}
	return removed
}

// ── Batch operations ────────────────────────────────────────────────────

// BatchConnect applies a connect function to each device independently.
// One device's failure never aborts the rest.
func (m *Manager) BatchConnect(deviceIDs []string, connect func(deviceID string) error) map[string]BatchResult {
	log.Printf("profile: batch connecting %d device(s)", len(deviceIDs))
	results := make(map[string]BatchResult, len(deviceIDs))

	for _, deviceID := range deviceIDs {
		err := connect(deviceID)
		if err != nil {
			m.UpdateConnectionStatus(deviceID, false, err.Error())
			results[deviceID] = BatchResult{Error: err.Error()}
			continue
		}
		m.UpdateConnectionStatus(deviceID, true, "")
		results[deviceID] = BatchResult{OK: true}
	}
	return results
}

// BatchDisconnect stops each device's reconnect loop, then applies the
// disconnect function, independently per device.
func (m *Manager) BatchDisconnect(deviceIDs []string, disconnect func(deviceID string) error) map[string]BatchResult {
	log.Printf("profile: batch disconnecting %d device(s)", len(deviceIDs))
	results := make(map[string]BatchResult, len(deviceIDs))

	for _, deviceID := range deviceIDs {
		m.StopAutoReconnect(deviceID)

		err := disconnect(deviceID)
		if err != nil {
			m.UpdateConnectionStatus(deviceID, false, err.Error())
			results[deviceID] = BatchResult{Error: err.Error()}
			continue
		}
		m.UpdateConnectionStatus(deviceID, false, "")
		results[deviceID] = BatchResult{OK: true}
	}
	return results
}

// BatchApplyProfile associates a profile with each device independently.
func (m *Manager) BatchApplyProfile(deviceIDs []string, profileID string) map[string]BatchResult {
	log.Printf("profile: applying profile %s to %d device(s)", profileID, len(deviceIDs))
	results := make(map[string]BatchResult, len(deviceIDs))

	for _, deviceID := range deviceIDs {
		if err := m.AssociateDevice(deviceID, profileID); err != nil {
			results[deviceID] = BatchResult{Error: err.Error()}
			continue
		}
		results[deviceID] = BatchResult{OK: true}
	}
	return results
}

// ── Import / export ─────────────────────────────────────────────────────

// ExportProfiles returns the full profile catalog as a JSON object
// keyed by profile id.
func (m *Manager) ExportProfiles() ([]byte, error) {
	m.profilesMu.RLock()
	snapshot := make(map[string]*DeviceProfile, len(m.profiles))
	for id, p := range m.profiles {
		snapshot[id] = p
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	m.profilesMu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("export profiles: %w", err)
	}
	return data, nil
}

// ImportProfiles merges a JSON snapshot into the catalog by profile id:
// existing ids are overwritten, new ids added, absent ids untouched.
// Returns the count imported.
func (m *Manager) ImportProfiles(data []byte) (int, error) {
	var imported map[string]*DeviceProfile
	if err := json.Unmarshal(data, &imported); err != nil {
		return 0, fmt.Errorf("import profiles: %w", err)
	}

	m.profilesMu.Lock()
	for id, p := range imported {
		p.ID = id
		if p.CustomSettings == nil {
			p.CustomSettings = make(map[string]interface{})
		}
		m.profiles[id] = p
	}
	m.profilesMu.Unlock()

	if m.store != nil {
		for _, p := range imported {
			if err := m.store.SaveProfile(p); err != nil {
				return 0, fmt.Errorf("persist imported profile %s: %w", p.ID, err)
			}
		}
	}

	log.Printf("profile: imported %d profile(s)", len(imported))
	return len(imported), nil
}

// asInt accepts the numeric shapes a JSON patch can arrive in.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
