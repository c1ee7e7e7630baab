package handlers

import (
	"errors"
	"log"
	"net/http"

	"tether/internal/detect"
	"tether/internal/models"
	"tether/internal/serialio"
	"tether/internal/upload"
)

// UploadHandlers serves the code upload endpoints.
type UploadHandlers struct {
	Uploader *upload.Orchestrator
	Detector *detect.Detector
	Serial   *serialio.Registry
}

// Upload flashes code to a device. An open serial connection on the
// device's port is closed first so the toolchain can claim it.
// POST /api/upload
func (h *UploadHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	var opts models.UploadOptions
	if err := decodeBody(r, &opts); err != nil {
		JSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if opts.DeviceID == "" || opts.Code == "" || opts.Language == "" {
		JSONError(w, "device_id, code and language are required", http.StatusBadRequest)
		return
	}

	dev, ok := h.Detector.Device(opts.DeviceID)
	if !ok {
		JSONError(w, "Device not found", http.StatusNotFound)
		return
	}

	if h.Serial.Connected(dev.Port) {
		log.Printf("upload: releasing %s before flashing", dev.Port)
		h.Serial.Disconnect(dev.Port)
		h.Detector.SetConnected(dev.ID, false)
	}

	msg, err := h.Uploader.Upload(dev, opts)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUnsupported):
			JSONError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, upload.ErrToolMissing):
			JSONError(w, err.Error(), http.StatusFailedDependency)
		case errors.Is(err, upload.ErrCompileFailed):
			JSONError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			log.Printf("❌ Upload to %s: %v", dev.ID, err)
			JSONError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	JSONResponse(w, map[string]string{"device_id": dev.ID, "message": msg})
}

// ListTools reports which external upload tools are installed.
// GET /api/upload/tools
func (h *UploadHandlers) ListTools(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, h.Uploader.CheckTools())
}

// ListBoards returns the board catalog for a device type.
// GET /api/boards/{type}
func (h *UploadHandlers) ListBoards(w http.ResponseWriter, r *http.Request) {
	deviceType := models.DeviceType(r.PathValue("type"))
	boards := upload.BoardConfigs(deviceType)
	if len(boards) == 0 {
		JSONError(w, "No boards for device type", http.StatusNotFound)
		return
	}
	JSONResponse(w, boards)
}
