package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"tether/internal/detect"
	"tether/internal/profile"
	"tether/internal/serialio"
)

// SerialHandlers serves the raw serial transport endpoints.
type SerialHandlers struct {
	Serial   *serialio.Registry
	Detector *detect.Detector
	Profiles *profile.Manager
}

// Connect opens a serial connection to a port.
// POST /api/serial/connect
func (h *SerialHandlers) Connect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port     string `json:"port"`
		BaudRate int    `json:"baud_rate"`
	}
	if err := decodeBody(r, &req); err != nil || req.Port == "" {
		JSONError(w, "port is required", http.StatusBadRequest)
		return
	}
	if req.BaudRate <= 0 {
		req.BaudRate = 9600
	}

	conn, err := h.Serial.Connect(req.Port, req.BaudRate)
	if err != nil {
		if errors.Is(err, serialio.ErrAlreadyConnected) {
			JSONError(w, "Port already connected", http.StatusConflict)
			return
		}
		log.Printf("❌ Serial connect %s: %v", req.Port, err)
		JSONError(w, "Failed to open port", http.StatusInternalServerError)
		return
	}

	h.markConnected(req.Port, true, "")
	JSONResponse(w, map[string]interface{}{
		"port":      conn.PortName(),
		"baud_rate": conn.BaudRate(),
		"connected": true,
	})
}

// Disconnect closes the connection on a port.
// POST /api/serial/disconnect
func (h *SerialHandlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	port, ok := h.portFromBody(w, r)
	if !ok {
		return
	}

	if err := h.Serial.Disconnect(port); err != nil {
		if errors.Is(err, serialio.ErrNotConnected) {
			JSONError(w, "Port not connected", http.StatusNotFound)
			return
		}
		log.Printf("❌ Serial disconnect %s: %v", port, err)
		JSONError(w, "Failed to close port", http.StatusInternalServerError)
		return
	}

	h.markConnected(port, false, "")
	JSONResponse(w, map[string]interface{}{"port": port, "connected": false})
}

// ListPorts returns the ports with open connections.
// GET /api/serial/ports
func (h *SerialHandlers) ListPorts(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, h.Serial.Ports())
}

// Write sends data to a connected port, optionally appending a newline.
// POST /api/serial/write
func (h *SerialHandlers) Write(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port string `json:"port"`
		Data string `json:"data"`
		Line bool   `json:"line"`
	}
	if err := decodeBody(r, &req); err != nil || req.Port == "" {
		JSONError(w, "port is required", http.StatusBadRequest)
		return
	}

	conn, ok := h.Serial.Get(req.Port)
	if !ok {
		JSONError(w, "Port not connected", http.StatusNotFound)
		return
	}

	var n int
	var err error
	if req.Line {
		n, err = conn.WriteLine(req.Data)
	} else {
		n, err = conn.Write([]byte(req.Data))
	}
	if err != nil {
		log.Printf("❌ Serial write %s: %v", req.Port, err)
		JSONError(w, "Write failed", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]int{"written": n})
}

// ReadLine reads one line from a connected port. A timeout returns
// whatever arrived so far.
// POST /api/serial/read
func (h *SerialHandlers) ReadLine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port      string `json:"port"`
		TimeoutMS int    `json:"timeout_ms"`
	}
	if err := decodeBody(r, &req); err != nil || req.Port == "" {
		JSONError(w, "port is required", http.StatusBadRequest)
		return
	}
	if req.TimeoutMS <= 0 {
		req.TimeoutMS = 1000
	}

	conn, ok := h.Serial.Get(req.Port)
	if !ok {
		JSONError(w, "Port not connected", http.StatusNotFound)
		return
	}

	line, err := conn.ReadLine(time.Duration(req.TimeoutMS) * time.Millisecond)
	if err != nil {
		log.Printf("❌ Serial read %s: %v", req.Port, err)
		JSONError(w, "Read failed", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]string{"line": line})
}

// Reset toggles DTR/RTS to restart the board on a connected port.
// POST /api/serial/reset
func (h *SerialHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	port, ok := h.portFromBody(w, r)
	if !ok {
		return
	}

	conn, found := h.Serial.Get(port)
	if !found {
		JSONError(w, "Port not connected", http.StatusNotFound)
		return
	}
	if err := conn.ResetDevice(); err != nil {
		log.Printf("❌ Serial reset %s: %v", port, err)
		JSONError(w, "Reset failed", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]string{"port": port, "status": "reset"})
}

// ApplyMode reconfigures wire parameters on a connected port.
// POST /api/serial/mode
func (h *SerialHandlers) ApplyMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port     string           `json:"port"`
		Settings serialio.Settings `json:"settings"`
	}
	if err := decodeBody(r, &req); err != nil || req.Port == "" {
		JSONError(w, "port is required", http.StatusBadRequest)
		return
	}

	conn, ok := h.Serial.Get(req.Port)
	if !ok {
		JSONError(w, "Port not connected", http.StatusNotFound)
		return
	}
	if err := conn.ApplyMode(req.Settings); err != nil {
		JSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	JSONResponse(w, req.Settings)
}

// Flush discards pending input or drains pending output.
// POST /api/serial/flush
func (h *SerialHandlers) Flush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port      string `json:"port"`
		Direction string `json:"direction"` // input, output
	}
	if err := decodeBody(r, &req); err != nil || req.Port == "" {
		JSONError(w, "port is required", http.StatusBadRequest)
		return
	}

	conn, ok := h.Serial.Get(req.Port)
	if !ok {
		JSONError(w, "Port not connected", http.StatusNotFound)
		return
	}

	var err error
	switch req.Direction {
	case "", "input":
		err = conn.FlushInput()
	case "output":
		err = conn.FlushOutput()
	default:
		JSONError(w, "direction must be input or output", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("❌ Serial flush %s: %v", req.Port, err)
		JSONError(w, "Flush failed", http.StatusInternalServerError)
		return
	}
	JSONResponse(w, map[string]string{"port": req.Port, "flushed": req.Direction})
}

func (h *SerialHandlers) portFromBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Port string `json:"port"`
	}
	if err := decodeBody(r, &req); err != nil || req.Port == "" {
		JSONError(w, "port is required", http.StatusBadRequest)
		return "", false
	}
	return req.Port, true
}

// markConnected mirrors a serial state change into the device catalog
// and connection tracking, matching the port back to its device.
func (h *SerialHandlers) markConnected(port string, connected bool, errMsg string) {
	for _, dev := range h.Detector.Devices() {
		if dev.Port != port {
			continue
		}
		h.Detector.SetConnected(dev.ID, connected)
		h.Profiles.UpdateConnectionStatus(dev.ID, connected, errMsg)
		return
	}
}
