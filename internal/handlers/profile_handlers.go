package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"tether/internal/detect"
	"tether/internal/models"
	"tether/internal/profile"
	"tether/internal/serialio"
)

// ProfileHandlers serves the connection profile endpoints.
type ProfileHandlers struct {
	Profiles *profile.Manager
	Detector *detect.Detector
	Serial   *serialio.Registry

	// DefaultReconnectMS overrides the built-in reconnect interval for
	// newly created profiles when set.
	DefaultReconnectMS int
}

// ListProfiles returns every stored profile.
// GET /api/profiles
func (h *ProfileHandlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, h.Profiles.ListProfiles())
}

// CreateProfile creates a profile with per-device-type defaults; any
// field in the request overrides the default.
// POST /api/profiles
func (h *ProfileHandlers) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name                string            `json:"name"`
		DeviceType          models.DeviceType `json:"device_type"`
		PreferredLanguage   string            `json:"preferred_language"`
		BaudRate            int               `json:"baud_rate"`
		AutoReconnect       *bool             `json:"auto_reconnect"`
		ReconnectIntervalMS int               `json:"reconnect_interval_ms"`
	}
	if err := decodeBody(r, &req); err != nil {
		JSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.DeviceType == "" {
		JSONError(w, "name and device_type are required", http.StatusBadRequest)
		return
	}

	p := profile.NewProfile(req.Name, req.DeviceType)
	if h.DefaultReconnectMS > 0 {
		p.ReconnectIntervalMS = h.DefaultReconnectMS
	}
	if req.PreferredLanguage != "" {
		p.PreferredLanguage = req.PreferredLanguage
	}
	if req.BaudRate > 0 {
		p.BaudRate = req.BaudRate
	}
	if req.AutoReconnect != nil {
		p.AutoReconnect = *req.AutoReconnect
	}
	if req.ReconnectIntervalMS > 0 {
		p.ReconnectIntervalMS = req.ReconnectIntervalMS
	}

	id, err := h.Profiles.CreateProfile(p)
	if err != nil {
		log.Printf("❌ Create profile: %v", err)
		JSONError(w, "Failed to create profile", http.StatusInternalServerError)
		return
	}

	log.Printf("profiles: created %q (%s) for %s", p.Name, id, p.DeviceType)
	w.WriteHeader(http.StatusCreated)
	JSONResponse(w, p)
}

// GetProfile returns one profile by ID.
// GET /api/profiles/{id}
func (h *ProfileHandlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Profiles.GetProfile(r.PathValue("id"))
	if err != nil {
		JSONError(w, "Profile not found", http.StatusNotFound)
		return
	}
	JSONResponse(w, p)
}

// UpdateProfile applies a partial update; unrecognized fields land in
// the profile's custom settings.
// PATCH /api/profiles/{id}
func (h *ProfileHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var updates map[string]interface{}
	if err := decodeBody(r, &updates); err != nil {
		JSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.Profiles.UpdateProfile(id, updates); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			JSONError(w, "Profile not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Update profile %s: %v", id, err)
		JSONError(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}

	p, _ := h.Profiles.GetProfile(id)
	JSONResponse(w, p)
}

// DeleteProfile removes a profile and its device associations.
// DELETE /api/profiles/{id}
func (h *ProfileHandlers) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Profiles.DeleteProfile(id); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			JSONError(w, "Profile not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Delete profile %s: %v", id, err)
		JSONError(w, "Failed to delete profile", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]string{"deleted": id})
}

// AssociateProfile binds a device to a profile, replacing any previous
// association.
// POST /api/devices/{id}/profile
func (h *ProfileHandlers) AssociateProfile(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	var req struct {
		ProfileID string `json:"profile_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.ProfileID == "" {
		JSONError(w, "profile_id is required", http.StatusBadRequest)
		return
	}

	if err := h.Profiles.AssociateDevice(deviceID, req.ProfileID); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			JSONError(w, "Profile not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Associate %s with %s: %v", deviceID, req.ProfileID, err)
		JSONError(w, "Failed to associate profile", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]string{"device_id": deviceID, "profile_id": req.ProfileID})
}

// GetDeviceProfile returns the profile associated with a device.
// GET /api/devices/{id}/profile
func (h *ProfileHandlers) GetDeviceProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Profiles.DeviceProfile(r.PathValue("id"))
	if !ok {
		JSONError(w, "No profile associated with device", http.StatusNotFound)
		return
	}
	JSONResponse(w, p)
}

// StartReconnect begins the auto-reconnect loop for a device using its
// associated profile's interval and baud rate.
// POST /api/devices/{id}/reconnect/start
func (h *ProfileHandlers) StartReconnect(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	err := h.Profiles.StartAutoReconnect(deviceID, h.reconnectFunc(deviceID))
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			JSONError(w, "No profile associated with device", http.StatusNotFound)
			return
		}
		log.Printf("❌ Start reconnect for %s: %v", deviceID, err)
		JSONError(w, "Failed to start reconnection", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]interface{}{
		"device_id": deviceID,
		"active":    h.Profiles.ReconnectActive(deviceID),
	})
}

// StopReconnect stops the auto-reconnect loop for a device.
// POST /api/devices/{id}/reconnect/stop
func (h *ProfileHandlers) StopReconnect(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	h.Profiles.StopAutoReconnect(deviceID)
	JSONResponse(w, map[string]interface{}{"device_id": deviceID, "active": false})
}

// reconnectFunc builds the attempt closure for one device: rescan for
// the port, then reopen the serial connection at the profile's baud.
func (h *ProfileHandlers) reconnectFunc(deviceID string) profile.ReconnectFunc {
	return func() bool {
		h.Detector.Scan()
		dev, ok := h.Detector.Device(deviceID)
		if !ok {
			return false
		}
		if h.Serial.Connected(dev.Port) {
			return true
		}

		baud := detect.BaudRate(dev.DeviceType)
		if p, ok := h.Profiles.DeviceProfile(deviceID); ok {
			baud = p.BaudRate
		}
		if _, err := h.Serial.Connect(dev.Port, baud); err != nil {
			return false
		}
		h.Detector.SetConnected(deviceID, true)
		return true
	}
}

// BatchConnect opens serial connections for a set of devices; failures
// are reported per device.
// POST /api/profiles/batch/connect
func (h *ProfileHandlers) BatchConnect(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeDeviceIDs(w, r)
	if !ok {
		return
	}

	results := h.Profiles.BatchConnect(ids, func(deviceID string) error {
		dev, found := h.Detector.Device(deviceID)
		if !found {
			return errors.New("device not found")
		}
		baud := detect.BaudRate(dev.DeviceType)
		if p, ok := h.Profiles.DeviceProfile(deviceID); ok {
			baud = p.BaudRate
		}
		if _, err := h.Serial.Connect(dev.Port, baud); err != nil {
			return err
		}
		h.Detector.SetConnected(deviceID, true)
		return nil
	})
	JSONResponse(w, results)
}

// BatchDisconnect closes serial connections for a set of devices.
// POST /api/profiles/batch/disconnect
func (h *ProfileHandlers) BatchDisconnect(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeDeviceIDs(w, r)
	if !ok {
		return
	}

	results := h.Profiles.BatchDisconnect(ids, func(deviceID string) error {
		dev, found := h.Detector.Device(deviceID)
		if !found {
			return errors.New("device not found")
		}
		if err := h.Serial.Disconnect(dev.Port); err != nil {
			return err
		}
		h.Detector.SetConnected(deviceID, false)
		return nil
	})
	JSONResponse(w, results)
}

// BatchApplyProfile associates one profile with a set of devices.
// POST /api/profiles/batch/apply
func (h *ProfileHandlers) BatchApplyProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceIDs []string `json:"device_ids"`
		ProfileID string   `json:"profile_id"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.DeviceIDs) == 0 || req.ProfileID == "" {
		JSONError(w, "device_ids and profile_id are required", http.StatusBadRequest)
		return
	}
	JSONResponse(w, h.Profiles.BatchApplyProfile(req.DeviceIDs, req.ProfileID))
}

// ExportProfiles returns all profiles as a JSON document keyed by ID.
// GET /api/profiles/export
func (h *ProfileHandlers) ExportProfiles(w http.ResponseWriter, r *http.Request) {
	data, err := h.Profiles.ExportProfiles()
	if err != nil {
		log.Printf("❌ Export profiles: %v", err)
		JSONError(w, "Failed to export profiles", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="profiles.json"`)
	w.Write(data)
}

// ImportProfiles merges a previously exported document into the store.
// POST /api/profiles/import
func (h *ProfileHandlers) ImportProfiles(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	r.Body.Close()
	if err != nil {
		JSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	count, err := h.Profiles.ImportProfiles(data)
	if err != nil {
		JSONError(w, "Invalid profile document", http.StatusBadRequest)
		return
	}
	log.Printf("profiles: imported %d profiles", count)
	JSONResponse(w, map[string]int{"imported": count})
}

func decodeDeviceIDs(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req struct {
		DeviceIDs []string `json:"device_ids"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.DeviceIDs) == 0 {
		JSONError(w, "device_ids is required", http.StatusBadRequest)
		return nil, false
	}
	return req.DeviceIDs, true
}
