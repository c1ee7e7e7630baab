package handlers

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"tether/internal/notify"
)

// NotificationHandlers serves the notification settings endpoints.
type NotificationHandlers struct {
	DB     *sql.DB
	Sender notify.Sender // used for test-fire
}

// ListServices returns all configured notification destinations.
// GET /api/notifications/services
func (h *NotificationHandlers) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := notify.ListServices(h.DB)
	if err != nil {
		log.Printf("❌ List notification services: %v", err)
		JSONError(w, "Failed to list services", http.StatusInternalServerError)
		return
	}
	if services == nil {
		services = []notify.Service{}
	}
	JSONResponse(w, services)
}

// GetService returns one notification destination.
// GET /api/notifications/services/{id}
func (h *NotificationHandlers) GetService(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		JSONError(w, "Invalid service ID", http.StatusBadRequest)
		return
	}

	svc, err := notify.GetService(h.DB, id)
	if err != nil {
		log.Printf("❌ Get notification service: %v", err)
		JSONError(w, "Failed to get service", http.StatusInternalServerError)
		return
	}
	if svc == nil {
		JSONError(w, "Service not found", http.StatusNotFound)
		return
	}
	JSONResponse(w, svc)
}

// CreateService adds a new notification destination.
// POST /api/notifications/services
func (h *NotificationHandlers) CreateService(w http.ResponseWriter, r *http.Request) {
	var svc notify.Service
	if err := decodeBody(r, &svc); err != nil {
		JSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if svc.Name == "" || svc.ConfigJSON == "" {
		JSONError(w, "name and config_json are required", http.StatusBadRequest)
		return
	}
	if !json.Valid([]byte(svc.ConfigJSON)) {
		JSONError(w, "config_json must be valid JSON", http.StatusBadRequest)
		return
	}

	id, err := notify.CreateService(h.DB, &svc)
	if err != nil {
		log.Printf("❌ Create notification service: %v", err)
		JSONError(w, "Failed to create service", http.StatusInternalServerError)
		return
	}

	svc.ID = id
	log.Printf("🔔 Notification service created: %s", svc.Name)
	w.WriteHeader(http.StatusCreated)
	JSONResponse(w, svc)
}

// UpdateService modifies a notification destination.
// PUT /api/notifications/services/{id}
func (h *NotificationHandlers) UpdateService(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		JSONError(w, "Invalid service ID", http.StatusBadRequest)
		return
	}

	var svc notify.Service
	if err := decodeBody(r, &svc); err != nil {
		JSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	svc.ID = id

	if err := notify.UpdateService(h.DB, &svc); err != nil {
		log.Printf("❌ Update notification service %d: %v", id, err)
		JSONError(w, "Failed to update service", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, svc)
}

// DeleteService removes a notification destination.
// DELETE /api/notifications/services/{id}
func (h *NotificationHandlers) DeleteService(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		JSONError(w, "Invalid service ID", http.StatusBadRequest)
		return
	}

	if err := notify.DeleteService(h.DB, id); err != nil {
		JSONError(w, "Failed to delete service", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]int64{"deleted": id})
}

// TestService fires a test notification at one destination.
// POST /api/notifications/services/{id}/test
func (h *NotificationHandlers) TestService(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		JSONError(w, "Invalid service ID", http.StatusBadRequest)
		return
	}

	svc, err := notify.GetService(h.DB, id)
	if err != nil || svc == nil {
		JSONError(w, "Service not found", http.StatusNotFound)
		return
	}

	var cfg struct {
		ShoutrrrURL string `json:"shoutrrr_url"`
	}
	if err := json.Unmarshal([]byte(svc.ConfigJSON), &cfg); err != nil || cfg.ShoutrrrURL == "" {
		JSONError(w, "Service has no shoutrrr_url configured", http.StatusBadRequest)
		return
	}

	sender := h.Sender
	if sender == nil {
		sender = notify.ShoutrrrSender{}
	}
	if err := sender.Send(cfg.ShoutrrrURL, "Test notification from tether"); err != nil {
		JSONError(w, "Send failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	JSONResponse(w, map[string]string{"status": "sent"})
}

// History returns the most recent notification attempts.
// GET /api/notifications/history
func (h *NotificationHandlers) History(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	history, err := notify.RecentHistory(h.DB, limit)
	if err != nil {
		log.Printf("❌ Notification history: %v", err)
		JSONError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []notify.Record{}
	}
	JSONResponse(w, history)
}

func parseID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.PathValue(key), 10, 64)
}
