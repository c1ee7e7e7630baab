package main

import (
	"database/sql"
	"net/http"
	"time"

	"tether/internal/detect"
	"tether/internal/driver"
	"tether/internal/events"
	"tether/internal/handlers"
	"tether/internal/middleware"
	"tether/internal/models"
	"tether/internal/profile"
	"tether/internal/serialio"
	"tether/internal/upload"
)

// buildRoutes wires every handler onto a mux. The event stream is
// returned so shutdown can close its connections.
func buildRoutes(
	conn *sql.DB,
	cfg models.Config,
	bus *events.Bus,
	detector *detect.Detector,
	drivers *driver.Registry,
	profiles *profile.Manager,
	serialReg *serialio.Registry,
	uploader *upload.Orchestrator,
) (*http.ServeMux, *handlers.EventStream) {
	device := &handlers.DeviceHandlers{Detector: detector, Drivers: drivers, Profiles: profiles, Serial: serialReg}
	driverH := &handlers.DriverHandlers{Drivers: drivers, Detector: detector}
	profileH := &handlers.ProfileHandlers{
		Profiles: profiles, Detector: detector, Serial: serialReg,
		DefaultReconnectMS: cfg.ReconnectIntervalMS,
	}
	serialH := &handlers.SerialHandlers{Serial: serialReg, Detector: detector, Profiles: profiles}
	uploadH := &handlers.UploadHandlers{Uploader: uploader, Detector: detector, Serial: serialReg}
	notifyH := &handlers.NotificationHandlers{DB: conn}
	versionH := handlers.NewVersionHandlers("tether-dev", "tether")
	stream := handlers.NewEventStream(bus)

	// Uploads spawn compiler processes; keep them at a sane rate.
	uploadLimiter := middleware.NewRateLimiter(10, time.Minute)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("tether is online"))
	})

	// Devices
	mux.HandleFunc("GET /api/devices", device.ListDevices)
	mux.HandleFunc("GET /api/devices/{id}", device.GetDevice)
	mux.HandleFunc("GET /api/devices/{id}/status", device.GetDeviceStatus)

	// Drivers
	mux.HandleFunc("GET /api/drivers", driverH.ListDrivers)
	mux.HandleFunc("POST /api/drivers/scan", driverH.ScanDrivers)
	mux.HandleFunc("POST /api/drivers/{key}/install", driverH.InstallDriver)
	mux.HandleFunc("GET /api/devices/{id}/driver", driverH.CheckDeviceDriver)
	mux.HandleFunc("POST /api/devices/{id}/driver/install", driverH.InstallDeviceDriver)

	// Profiles
	mux.HandleFunc("GET /api/profiles", profileH.ListProfiles)
	mux.HandleFunc("POST /api/profiles", profileH.CreateProfile)
	mux.HandleFunc("GET /api/profiles/export", profileH.ExportProfiles)
	mux.HandleFunc("POST /api/profiles/import", profileH.ImportProfiles)
	mux.HandleFunc("GET /api/profiles/{id}", profileH.GetProfile)
	mux.HandleFunc("PATCH /api/profiles/{id}", profileH.UpdateProfile)
	mux.HandleFunc("DELETE /api/profiles/{id}", profileH.DeleteProfile)
	mux.HandleFunc("POST /api/profiles/batch/connect", profileH.BatchConnect)
	mux.HandleFunc("POST /api/profiles/batch/disconnect", profileH.BatchDisconnect)
	mux.HandleFunc("POST /api/profiles/batch/apply", profileH.BatchApplyProfile)
	mux.HandleFunc("POST /api/devices/{id}/profile", profileH.AssociateProfile)
	mux.HandleFunc("GET /api/devices/{id}/profile", profileH.GetDeviceProfile)
	mux.HandleFunc("POST /api/devices/{id}/reconnect/start", profileH.StartReconnect)
	mux.HandleFunc("POST /api/devices/{id}/reconnect/stop", profileH.StopReconnect)

	// Serial transport
	mux.HandleFunc("GET /api/serial/ports", serialH.ListPorts)
	mux.HandleFunc("POST /api/serial/connect", serialH.Connect)
	mux.HandleFunc("POST /api/serial/disconnect", serialH.Disconnect)
	mux.HandleFunc("POST /api/serial/write", serialH.Write)
	mux.HandleFunc("POST /api/serial/read", serialH.ReadLine)
	mux.HandleFunc("POST /api/serial/reset", serialH.Reset)
	mux.HandleFunc("POST /api/serial/mode", serialH.ApplyMode)
	mux.HandleFunc("POST /api/serial/flush", serialH.Flush)

	// Uploads
	mux.HandleFunc("POST /api/upload", uploadLimiter.Limit(uploadH.Upload))
	mux.HandleFunc("GET /api/upload/tools", uploadH.ListTools)
	mux.HandleFunc("GET /api/boards/{type}", uploadH.ListBoards)

	// Notifications
	mux.HandleFunc("GET /api/notifications/services", notifyH.ListServices)
	mux.HandleFunc("POST /api/notifications/services", notifyH.CreateService)
	mux.HandleFunc("GET /api/notifications/services/{id}", notifyH.GetService)
	mux.HandleFunc("PUT /api/notifications/services/{id}", notifyH.UpdateService)
	mux.HandleFunc("DELETE /api/notifications/services/{id}", notifyH.DeleteService)
	mux.HandleFunc("POST /api/notifications/services/{id}/test", notifyH.TestService)
	mux.HandleFunc("GET /api/notifications/history", notifyH.History)

	// Version
	mux.HandleFunc("GET /api/version", versionH.GetVersion)
	mux.HandleFunc("GET /api/version/check", versionH.CheckVersion)

	// Event stream
	mux.HandleFunc("GET /api/events/ws", stream.HandleConnection)

	return mux, stream
}
