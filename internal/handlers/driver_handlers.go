package handlers

import (
	"errors"
	"log"
	"net/http"

	"tether/internal/detect"
	"tether/internal/driver"
)

// DriverHandlers serves the driver registry endpoints.
type DriverHandlers struct {
	Drivers  *driver.Registry
	Detector *detect.Detector
}

// ListDrivers returns the full driver catalog with install state.
// GET /api/drivers
func (h *DriverHandlers) ListDrivers(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, h.Drivers.All())
}

// ScanDrivers re-probes the OS for installed drivers and returns the
// refreshed catalog.
// POST /api/drivers/scan
func (h *DriverHandlers) ScanDrivers(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, h.Drivers.ScanInstalled())
}

// InstallDriver attempts a best-effort install for one catalog entry
// and returns guidance for the user.
// POST /api/drivers/{key}/install
func (h *DriverHandlers) InstallDriver(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	guidance, err := h.Drivers.Install(key)
	if err != nil {
		if errors.Is(err, driver.ErrNotFound) {
			JSONError(w, "Unknown driver: "+key, http.StatusNotFound)
			return
		}
		log.Printf("❌ Driver install %s: %v", key, err)
		JSONError(w, "Driver install failed", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]string{"driver": key, "guidance": guidance})
}

// InstallDeviceDriver resolves the driver a device needs and attempts
// to install it.
// POST /api/devices/{id}/driver/install
func (h *DriverHandlers) InstallDeviceDriver(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.Detector.Device(r.PathValue("id"))
	if !ok {
		JSONError(w, "Device not found", http.StatusNotFound)
		return
	}

	guidance, err := h.Drivers.InstallForDevice(dev)
	if err != nil {
		log.Printf("❌ Driver install for %s: %v", dev.ID, err)
		JSONError(w, "Driver install failed", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]string{"device_id": dev.ID, "guidance": guidance})
}

// CheckDeviceDriver reports whether the device's driver is installed.
// GET /api/devices/{id}/driver
func (h *DriverHandlers) CheckDeviceDriver(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.Detector.Device(r.PathValue("id"))
	if !ok {
		JSONError(w, "Device not found", http.StatusNotFound)
		return
	}

	resp := map[string]interface{}{
		"device_id": dev.ID,
		"known":     false,
		"ready":     false,
	}
	if dev.HasUSBID {
		if info, ok := h.Drivers.Lookup(dev.VendorID, dev.ProductID); ok {
			resp["known"] = true
			resp["ready"] = info.Installed
			resp["driver"] = info
		}
	}
	JSONResponse(w, resp)
}
