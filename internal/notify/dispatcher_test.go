package notify

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tether/internal/db"
	"tether/internal/events"
)

// mockSender records calls for assertion.
type mockSender struct {
	mu       sync.Mutex
	calls    []string
	failNext bool
}

func (m *mockSender) Send(url, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, message)
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("mock send error")
	}
	return nil
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockSender) lastMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// setupDispatcherTest creates a temp DB, bus, mock sender, and dispatcher.
func setupDispatcherTest(t *testing.T) (*sql.DB, *events.Bus, *mockSender, *Dispatcher) {
	t.Helper()
	conn := setupTestDB(t)
	bus := events.NewBus()
	sender := &mockSender{}
	d := NewDispatcher(conn, bus, sender)
	return conn, bus, sender, d
}

func TestDispatcherSendsOnMatchingSeverity(t *testing.T) {
	conn, bus, sender, d := setupDispatcherTest(t)

	CreateService(conn, &Service{
		Name:             "test",
		ConfigJSON:       `{"shoutrrr_url":"generic://example.com"}`,
		Enabled:          true,
		NotifyOnCritical: true,
	})

	d.Start()
	defer d.Stop()

	bus.Publish(events.Event{
		Type:     events.UploadFailed,
		Severity: events.SeverityCritical,
		DeviceID: "usb-0",
		Message:  "upload failed: compilation failed",
	})

	// Give the async goroutine time to process
	time.Sleep(100 * time.Millisecond)

	if sender.callCount() != 1 {
		t.Errorf("expected 1 send, got %d", sender.callCount())
	}
}

func TestDispatcherSkipsDisabledSeverity(t *testing.T) {
	conn, bus, sender, d := setupDispatcherTest(t)

	// Service only notifies on critical, NOT warning
	CreateService(conn, &Service{
		Name:             "crit-only",
		ConfigJSON:       `{"shoutrrr_url":"generic://example.com"}`,
		Enabled:          true,
		NotifyOnCritical: true,
		NotifyOnWarning:  false,
	})

	d.Start()
	defer d.Stop()

	bus.Publish(events.Event{
		Type:     events.DeviceDisappeared,
		Severity: events.SeverityWarning,
		Message:  "device unplugged",
	})

	time.Sleep(100 * time.Millisecond)

	if sender.callCount() != 0 {
		t.Errorf("expected 0 sends for warning, got %d", sender.callCount())
	}
}

func TestDispatcherSkipsDisabledService(t *testing.T) {
	conn, bus, sender, d := setupDispatcherTest(t)

	CreateService(conn, &Service{
		Name:             "disabled",
		ConfigJSON:       `{"shoutrrr_url":"generic://example.com"}`,
		Enabled:          false,
		NotifyOnCritical: true,
	})

	d.Start()
	defer d.Stop()

	bus.Publish(events.Event{
		Type:     events.UploadFailed,
		Severity: events.SeverityCritical,
		Message:  "upload failed",
	})

	time.Sleep(100 * time.Millisecond)

	if sender.callCount() != 0 {
		t.Errorf("disabled service must not send, got %d", sender.callCount())
	}
}

func TestDispatcherEnforcesCooldown(t *testing.T) {
	conn, bus, sender, d := setupDispatcherTest(t)

	CreateService(conn, &Service{
		Name:             "cooldown-test",
		ConfigJSON:       `{"shoutrrr_url":"generic://example.com"}`,
		Enabled:          true,
		NotifyOnWarning:  true,
		NotifyOnCritical: true,
		CooldownSeconds:  10,
	})

	d.Start()
	defer d.Stop()

	for i := 0; i < 3; i++ {
		bus.Publish(events.Event{
			Type:     events.ReconnectFailed,
			Severity: events.SeverityWarning,
			DeviceID: "usb-0",
			Message:  "reconnect attempt failed",
		})
	}

	time.Sleep(100 * time.Millisecond)

	if sender.callCount() != 1 {
		t.Errorf("expected 1 send inside cooldown window, got %d", sender.callCount())
	}
}

func TestDispatcherCooldownIsPerEventType(t *testing.T) {
	conn, bus, sender, d := setupDispatcherTest(t)

	CreateService(conn, &Service{
		Name:             "per-type",
		ConfigJSON:       `{"shoutrrr_url":"generic://example.com"}`,
		Enabled:          true,
		NotifyOnWarning:  true,
		NotifyOnCritical: true,
		CooldownSeconds:  10,
	})

	d.Start()
	defer d.Stop()

	bus.Publish(events.Event{
		Type: events.ReconnectFailed, Severity: events.SeverityWarning, Message: "a",
	})
	bus.Publish(events.Event{
		Type: events.UploadFailed, Severity: events.SeverityCritical, Message: "b",
	})

	time.Sleep(100 * time.Millisecond)

	if sender.callCount() != 2 {
		t.Errorf("different event types must not share a cooldown, got %d sends", sender.callCount())
	}
}

func TestDispatcherRecordsHistory(t *testing.T) {
	conn, bus, sender, d := setupDispatcherTest(t)

	CreateService(conn, &Service{
		Name:             "history",
		ConfigJSON:       `{"shoutrrr_url":"generic://example.com"}`,
		Enabled:          true,
		NotifyOnCritical: true,
	})

	d.Start()
	bus.Publish(events.Event{
		Type:     events.UploadFailed,
		Severity: events.SeverityCritical,
		DeviceID: "usb-7",
		Message:  "upload failed",
	})
	time.Sleep(100 * time.Millisecond)
	d.Stop()

	if sender.callCount() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.callCount())
	}

	history, err := RecentHistory(conn, 10)
	if err != nil {
		t.Fatalf("recent history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(history))
	}
	if history[0].Status != "sent" || history[0].DeviceID != "usb-7" {
		t.Errorf("history row = %+v", history[0])
	}
}

func TestDispatcherRecordsFailedSend(t *testing.T) {
	conn, bus, sender, d := setupDispatcherTest(t)
	sender.failNext = true

	CreateService(conn, &Service{
		Name:             "failing",
		ConfigJSON:       `{"shoutrrr_url":"generic://example.com"}`,
		Enabled:          true,
		NotifyOnCritical: true,
	})

	d.Start()
	bus.Publish(events.Event{
		Type:     events.UploadFailed,
		Severity: events.SeverityCritical,
		Message:  "upload failed",
	})
	time.Sleep(100 * time.Millisecond)
	d.Stop()

	history, err := RecentHistory(conn, 10)
	if err != nil {
		t.Fatalf("recent history: %v", err)
	}
	if len(history) != 1 || history[0].Status != "failed" || history[0].ErrorMessage == "" {
		t.Errorf("failed send not recorded: %+v", history)
	}
}

func TestDispatcherMessageIncludesPort(t *testing.T) {
	conn, bus, sender, d := setupDispatcherTest(t)

	CreateService(conn, &Service{
		Name:            "msg",
		ConfigJSON:      `{"shoutrrr_url":"generic://example.com"}`,
		Enabled:         true,
		NotifyOnWarning: true,
	})

	d.Start()
	bus.Publish(events.Event{
		Type:     events.DeviceDisappeared,
		Severity: events.SeverityWarning,
		Port:     "/dev/ttyUSB0",
		Message:  "device unplugged",
	})
	time.Sleep(100 * time.Millisecond)
	d.Stop()

	msg := sender.lastMessage()
	if msg != "[warning] [/dev/ttyUSB0] device unplugged" {
		t.Errorf("message = %q", msg)
	}
}

func TestDispatcherDrainsOnStop(t *testing.T) {
	conn, bus, sender, d := setupDispatcherTest(t)

	CreateService(conn, &Service{
		Name:             "drain",
		ConfigJSON:       `{"shoutrrr_url":"generic://example.com"}`,
		Enabled:          true,
		NotifyOnCritical: true,
	})

	d.Start()
	bus.Publish(events.Event{
		Type:     events.UploadFailed,
		Severity: events.SeverityCritical,
		Message:  "upload failed",
	})
	d.Stop() // must process the queued event before returning

	if sender.callCount() != 1 {
		t.Errorf("expected queued event to be drained, got %d sends", sender.callCount())
	}
}
