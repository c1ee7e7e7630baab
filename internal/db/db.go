package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open initializes the database connection and schema.
func Open(path string) (*sql.DB, error) {
	if err := ensureDirectory(path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	enableWAL(conn)
	if err = createSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func ensureDirectory(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	return nil
}

func enableWAL(conn *sql.DB) {
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Printf("db: could not enable WAL mode: %v", err)
	}
}

func createSchema(conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		device_type TEXT NOT NULL,
		preferred_language TEXT NOT NULL,
		baud_rate INTEGER NOT NULL,
		auto_reconnect INTEGER NOT NULL DEFAULT 1,
		reconnect_interval_ms INTEGER NOT NULL DEFAULT 5000,
		custom_settings JSON NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		last_modified DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_profiles (
		device_id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		FOREIGN KEY (profile_id) REFERENCES profiles(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_device_profiles_profile ON device_profiles(profile_id);

	CREATE TABLE IF NOT EXISTS notification_settings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		notify_on_critical INTEGER NOT NULL DEFAULT 1,
		notify_on_warning INTEGER NOT NULL DEFAULT 1,
		notify_on_info INTEGER NOT NULL DEFAULT 0,
		cooldown_seconds INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS notification_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		setting_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		device_id TEXT,
		message TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		sent_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_history_setting ON notification_history(setting_id);
	`

	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}
