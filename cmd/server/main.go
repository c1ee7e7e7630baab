package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tether/internal/config"
	"tether/internal/db"
	"tether/internal/detect"
	"tether/internal/driver"
	"tether/internal/events"
	"tether/internal/middleware"
	"tether/internal/notify"
	"tether/internal/profile"
	"tether/internal/serialio"
	"tether/internal/upload"
	"tether/internal/version"
)

func main() {
	cfg := config.Load()

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Database: %v", err)
	}
	defer conn.Close()
	log.Printf("✅ Database connected (%s)", cfg.DBPath)

	bus := events.NewBus()

	detector := detect.NewDetector(nil, bus)
	drivers := driver.NewRegistry(nil)
	drivers.ScanInstalled()

	serialReg := serialio.NewRegistry(nil)
	uploader := upload.NewOrchestrator(nil, bus)

	profiles, err := profile.NewManager(bus, profile.NewStore(conn))
	if err != nil {
		log.Fatalf("❌ Profile manager: %v", err)
	}
	defer profiles.Close()

	dispatcher := notify.NewDispatcher(conn, bus, nil)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Initial scan so the catalog is warm before the first request.
	if devices, err := detector.Scan(); err != nil {
		log.Printf("⚠️  Initial device scan failed: %v", err)
	} else {
		log.Printf("🔌 Found %d device(s)", len(devices))
	}

	// Periodically prune tracking entries for devices that have been
	// gone for a while.
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupDone:
				return
			case <-ticker.C:
				if n := profiles.CleanupDisconnected(cfg.CleanupOlderThanHrs); n > 0 {
					log.Printf("profiles: pruned %d stale device entries", n)
				}
			}
		}
	}()
	defer close(cleanupDone)

	mux, stream := buildRoutes(conn, cfg, bus, detector, drivers, profiles, serialReg, uploader)
	defer stream.CloseAll()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: middleware.CORS(middleware.Logging(mux)),
	}

	go func() {
		log.Printf("🚀 tether %s listening on port %s", version.Current, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Shutdown: %v", err)
	}
	serialReg.CloseAll()
}
