package profile

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tether/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(nil, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestProfileDefaults(t *testing.T) {
	tests := []struct {
		deviceType models.DeviceType
		language   string
		baud       int
	}{
		{models.Arduino, "arduino", 9600},
		{models.ESP32, "arduino", 115200},
		{models.MicroBit, "micropython", 115200},
		{models.RaspberryPiPico, "micropython", 115200},
		{models.UnknownDevice, "arduino", 9600},
	}
	for _, tt := range tests {
		p := NewProfile("test", tt.deviceType)
		if p.PreferredLanguage != tt.language {
			t.Errorf("%s: language %q, want %q", tt.deviceType, p.PreferredLanguage, tt.language)
		}
		if p.BaudRate != tt.baud {
			t.Errorf("%s: baud %d, want %d", tt.deviceType, p.BaudRate, tt.baud)
		}
		if !p.AutoReconnect || p.ReconnectIntervalMS != 5000 {
			t.Errorf("%s: unexpected reconnect defaults %+v", tt.deviceType, p)
		}
		if p.ID == "" {
			t.Error("profile id was not generated")
		}
	}
}

func TestProfileCRUD(t *testing.T) {
	m := newTestManager(t)

	p := NewProfile("Arduino bench", models.Arduino)
	id, err := m.CreateProfile(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := m.GetProfile(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Arduino bench" {
		t.Errorf("name = %q", got.Name)
	}

	if err := m.UpdateProfile(id, map[string]interface{}{"baud_rate": float64(115200)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = m.GetProfile(id)
	if got.BaudRate != 115200 {
		t.Errorf("baud after patch = %d", got.BaudRate)
	}

	if err := m.DeleteProfile(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.GetProfile(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateUnknownFieldGoesToCustomSettings(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateProfile(NewProfile("esp", models.ESP32))

	if err := m.UpdateProfile(id, map[string]interface{}{"led_pin": float64(13)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := m.GetProfile(id)
	if got.CustomSettings["led_pin"] != float64(13) {
		t.Errorf("unknown field was not stored verbatim: %v", got.CustomSettings)
	}
}

func TestUpdateMissingProfile(t *testing.T) {
	m := newTestManager(t)
	if err := m.UpdateProfile("nope", map[string]interface{}{"name": "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProfileClearsAssociations(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateProfile(NewProfile("pico", models.RaspberryPiPico))

	if err := m.AssociateDevice("dev-a", id); err != nil {
		t.Fatalf("associate: %v", err)
	}
	if err := m.AssociateDevice("dev-b", id); err != nil {
		t.Fatalf("associate: %v", err)
	}

	if err := m.DeleteProfile(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := m.DeviceProfile("dev-a"); ok {
		t.Error("association dev-a survived profile deletion")
	}
	if _, ok := m.DeviceProfile("dev-b"); ok {
		t.Error("association dev-b survived profile deletion")
	}
}

func TestAssociateMissingProfileFails(t *testing.T) {
	m := newTestManager(t)
	if err := m.AssociateDevice("dev", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReassociateOverwrites(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.CreateProfile(NewProfile("a", models.Arduino))
	b, _ := m.CreateProfile(NewProfile("b", models.ESP32))

	m.AssociateDevice("dev", a)
	m.AssociateDevice("dev", b)

	got, ok := m.DeviceProfile("dev")
	if !ok || got.ID != b {
		t.Errorf("re-association did not overwrite: got %v", got.ID)
	}
}

func TestConnectionStatusUpsert(t *testing.T) {
	m := newTestManager(t)

	if _, ok := m.ConnectionStatus("dev"); ok {
		t.Fatal("status must not exist before first update")
	}

	m.UpdateConnectionStatus("dev", true, "")
	status, ok := m.ConnectionStatus("dev")
	if !ok || !status.Connected {
		t.Fatal("status not created on first update")
	}
	if status.LastSeen.IsZero() {
		t.Error("last_seen was not stamped")
	}

	m.UpdateConnectionStatus("dev", false, "cable pulled")
	status, _ = m.ConnectionStatus("dev")
	if status.Connected {
		t.Error("connected flag not cleared")
	}
	if status.LastError != "cable pulled" {
		t.Errorf("last_error = %q", status.LastError)
	}
}

func TestCleanupDisconnected(t *testing.T) {
	m := newTestManager(t)

	m.UpdateConnectionStatus("stale", false, "")
	m.UpdateConnectionStatus("fresh", false, "")
	m.UpdateConnectionStatus("old-but-connected", true, "")

	// Backdate two entries past the cutoff.
	m.statusMu.Lock()
	m.statuses["stale"].LastSeen = time.Now().UTC().Add(-48 * time.Hour)
	m.statuses["old-but-connected"].LastSeen = time.Now().UTC().Add(-500 * time.Hour)
	m.statusMu.Unlock()

	removed := m.CleanupDisconnected(24)
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, ok := m.ConnectionStatus("stale"); ok {
		t.Error("stale disconnected status survived cleanup")
	}
	if _, ok := m.ConnectionStatus("fresh"); !ok {
		t.Error("recent status was removed")
	}
	if _, ok := m.ConnectionStatus("old-but-connected"); !ok {
		t.Error("connected status must never be removed regardless of age")
	}
}

func TestBatchConnectIsolatesFailures(t *testing.T) {
	m := newTestManager(t)

	ids := []string{"a", "bad", "c"}
	results := m.BatchConnect(ids, func(deviceID string) error {
		if deviceID == "bad" {
			return errors.New("no such device")
		}
		return nil
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	failures := 0
	for id, r := range results {
		if !r.OK {
			failures++
			if id != "bad" {
				t.Errorf("unexpected failure for %s", id)
			}
		}
	}
	if failures != 1 {
		t.Errorf("expected exactly 1 failure, got %d", failures)
	}

	status, _ := m.ConnectionStatus("a")
	if !status.Connected {
		t.Error("successful connect did not mark status connected")
	}
	status, _ = m.ConnectionStatus("bad")
	if status.Connected || status.LastError == "" {
		t.Error("failed connect did not record the error")
	}
}

func TestBatchApplyProfile(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateProfile(NewProfile("shared", models.ESP32))

	results := m.BatchApplyProfile([]string{"a", "b"}, id)
	for deviceID, r := range results {
		if !r.OK {
			t.Errorf("apply failed for %s: %s", deviceID, r.Error)
		}
	}

	results = m.BatchApplyProfile([]string{"a"}, "ghost")
	if results["a"].OK {
		t.Error("applying a missing profile must fail")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateProfile(NewProfile("exported", models.MicroBit))

	data, err := m.ExportProfiles()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	var snapshot map[string]*DeviceProfile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("export is not a profile-id keyed object: %v", err)
	}
	if _, ok := snapshot[id]; !ok {
		t.Fatal("exported snapshot missing the profile")
	}

	other := newTestManager(t)
	keep, _ := other.CreateProfile(NewProfile("local", models.Arduino))

	count, err := other.ImportProfiles(data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if count != 1 {
		t.Errorf("imported count = %d", count)
	}
	if _, err := other.GetProfile(id); err != nil {
		t.Error("imported profile missing")
	}
	// Import is additive: ids absent from the payload survive.
	if _, err := other.GetProfile(keep); err != nil {
		t.Error("import deleted a profile absent from the payload")
	}
}

func TestImportOverwritesById(t *testing.T) {
	m := newTestManager(t)
	p := NewProfile("original", models.Arduino)
	id, _ := m.CreateProfile(p)

	renamed := *p
	renamed.Name = "renamed"
	data, _ := json.Marshal(map[string]*DeviceProfile{id: &renamed})

	if _, err := m.ImportProfiles(data); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, _ := m.GetProfile(id)
	if got.Name != "renamed" {
		t.Errorf("import did not overwrite existing id: %q", got.Name)
	}
}

func TestImportRejectsMalformedJSON(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.ImportProfiles([]byte("{not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}
