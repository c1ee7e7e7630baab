package notify

import (
	"database/sql"
	"fmt"
	"time"
)

const timeFormat = "2006-01-02 15:04:05"

// CreateService inserts a new notification destination.
func CreateService(db *sql.DB, svc *Service) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO notification_settings
			(name, config_json, enabled,
			 notify_on_critical, notify_on_warning, notify_on_info, cooldown_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		svc.Name, svc.ConfigJSON,
		boolInt(svc.Enabled),
		boolInt(svc.NotifyOnCritical),
		boolInt(svc.NotifyOnWarning),
		boolInt(svc.NotifyOnInfo),
		svc.CooldownSeconds)
	if err != nil {
		return 0, fmt.Errorf("create notification service: %w", err)
	}
	return res.LastInsertId()
}

// GetService retrieves a notification service by ID, or nil when the
// row does not exist.
func GetService(db *sql.DB, id int64) (*Service, error) {
	row := db.QueryRow(`
		SELECT id, name, config_json, enabled,
		       notify_on_critical, notify_on_warning, notify_on_info,
		       cooldown_seconds, created_at
		FROM notification_settings WHERE id = ?`, id)

	svc, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification service: %w", err)
	}
	return &svc, nil
}

// ListServices returns all notification services.
func ListServices(db *sql.DB) ([]Service, error) {
	return listServices(db, `
		SELECT id, name, config_json, enabled,
		       notify_on_critical, notify_on_warning, notify_on_info,
		       cooldown_seconds, created_at
		FROM notification_settings ORDER BY name`)
}

// ListEnabledServices returns only enabled notification services.
func ListEnabledServices(db *sql.DB) ([]Service, error) {
	return listServices(db, `
		SELECT id, name, config_json, enabled,
		       notify_on_critical, notify_on_warning, notify_on_info,
		       cooldown_seconds, created_at
		FROM notification_settings WHERE enabled = 1 ORDER BY name`)
}

func listServices(db *sql.DB, query string) ([]Service, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list notification services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// UpdateService updates a notification service's configuration.
func UpdateService(db *sql.DB, svc *Service) error {
	res, err := db.Exec(`
		UPDATE notification_settings SET
			name = ?, config_json = ?, enabled = ?,
			notify_on_critical = ?, notify_on_warning = ?, notify_on_info = ?,
			cooldown_seconds = ?
		WHERE id = ?`,
		svc.Name, svc.ConfigJSON,
		boolInt(svc.Enabled),
		boolInt(svc.NotifyOnCritical),
		boolInt(svc.NotifyOnWarning),
		boolInt(svc.NotifyOnInfo),
		svc.CooldownSeconds,
		svc.ID)
	if err != nil {
		return fmt.Errorf("update notification service: %w", err)
	}
	return expectOneRow(res, "update notification service")
}

// DeleteService removes a notification service.
func DeleteService(db *sql.DB, id int64) error {
	res, err := db.Exec(`DELETE FROM notification_settings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notification service: %w", err)
	}
	return expectOneRow(res, "delete notification service")
}

// RecordNotification inserts a row into notification_history.
func RecordNotification(db *sql.DB, rec *Record) (int64, error) {
	var sentAt interface{}
	if !rec.SentAt.IsZero() {
		sentAt = rec.SentAt.UTC().Format(timeFormat)
	}

	res, err := db.Exec(`
		INSERT INTO notification_history
			(setting_id, event_type, device_id, message, status, error_message, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SettingID, rec.EventType, rec.DeviceID,
		rec.Message, rec.Status, rec.ErrorMessage, sentAt)
	if err != nil {
		return 0, fmt.Errorf("record notification: %w", err)
	}
	return res.LastInsertId()
}

// RecentHistory returns the latest N notification records.
func RecentHistory(db *sql.DB, limit int) ([]Record, error) {
	rows, err := db.Query(`
		SELECT id, setting_id, event_type, COALESCE(device_id,''),
		       message, status, COALESCE(error_message,''),
		       COALESCE(sent_at,''), created_at
		FROM notification_history
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var sentAt, createdAt string
		if err := rows.Scan(&r.ID, &r.SettingID, &r.EventType, &r.DeviceID,
			&r.Message, &r.Status, &r.ErrorMessage, &sentAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.SentAt = parseTime(sentAt)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanService(s scannable) (Service, error) {
	var svc Service
	var enabled, critical, warning, info int
	var createdAt string

	err := s.Scan(&svc.ID, &svc.Name, &svc.ConfigJSON,
		&enabled, &critical, &warning, &info, &svc.CooldownSeconds, &createdAt)
	if err != nil {
		return svc, err
	}
	svc.Enabled = enabled == 1
	svc.NotifyOnCritical = critical == 1
	svc.NotifyOnWarning = warning == 1
	svc.NotifyOnInfo = info == 1
	svc.CreatedAt = parseTime(createdAt)
	return svc, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: not found", op)
	}
	return nil
}
