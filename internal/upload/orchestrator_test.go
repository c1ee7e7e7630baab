package upload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tether/internal/events"
	"tether/internal/models"
)

// fakeRunner stands in for the external toolchains. Availability is
// controlled per tool; failures are keyed by "tool subcommand".
type fakeRunner struct {
	available map[string]bool
	fail      map[string]string // stderr to report for a failing invocation
	calls     [][]string
	dirs      []string
	sawIni    bool
	sawMain   bool
}

func (f *fakeRunner) run(dir, name string, args ...string) ([]byte, []byte, error) {
	if len(args) == 1 && args[0] == "--version" {
		if f.available[name] {
			return []byte("1.0.0"), nil, nil
		}
		return nil, nil, errors.New("executable file not found")
	}

	f.calls = append(f.calls, append([]string{name}, args...))
	f.dirs = append(f.dirs, dir)

	if name == "pio" {
		if _, err := os.Stat(filepath.Join(dir, "platformio.ini")); err == nil {
			f.sawIni = true
		}
		if _, err := os.Stat(filepath.Join(dir, "src", "main.cpp")); err == nil {
			f.sawMain = true
		}
	}

	key := name
	if len(args) > 0 {
		key = name + " " + args[0]
	}
	if stderr, ok := f.fail[key]; ok {
		return nil, []byte(stderr), errors.New("exit status 1")
	}
	return []byte("ok"), nil, nil
}

func newTestOrchestrator(t *testing.T, runner *fakeRunner, bus *events.Bus) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(runner.run, bus)
	o.tempRoot = t.TempDir()
	return o
}

func testDevice(deviceType models.DeviceType) models.DeviceInfo {
	return models.DeviceInfo{
		ID:         "usb-0",
		Name:       "test board",
		DeviceType: deviceType,
		Port:       "/dev/ttyUSB0",
	}
}

func TestUploadRejectsUnsupportedLanguage(t *testing.T) {
	runner := &fakeRunner{available: map[string]bool{"arduino-cli": true}}
	o := newTestOrchestrator(t, runner, nil)

	_, err := o.Upload(testDevice(models.MicroBit), models.UploadOptions{
		Code: "print(1)", Language: "arduino",
	})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if !strings.Contains(err.Error(), "micropython") {
		t.Errorf("error should suggest the recommended language: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("no tool may run for an unsupported combination, ran %v", runner.calls)
	}
}

func TestArduinoUploadCompilesThenFlashes(t *testing.T) {
	runner := &fakeRunner{available: map[string]bool{"arduino-cli": true}}
	o := newTestOrchestrator(t, runner, nil)

	msg, err := o.Upload(testDevice(models.Arduino), models.UploadOptions{
		Code: "void setup() {}", Language: "arduino",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected compile + upload, got %v", runner.calls)
	}
	if runner.calls[0][1] != "compile" || runner.calls[1][1] != "upload" {
		t.Errorf("wrong invocation order: %v", runner.calls)
	}
	if !contains(runner.calls[0], "arduino:avr:uno") {
		t.Errorf("default Uno FQBN not passed to compile: %v", runner.calls[0])
	}
	if !contains(runner.calls[1], "/dev/ttyUSB0") {
		t.Errorf("port not passed to upload: %v", runner.calls[1])
	}
	if !strings.Contains(msg, "Arduino Uno") {
		t.Errorf("result message = %q", msg)
	}
}

func TestCompileFailureShortCircuitsUpload(t *testing.T) {
	runner := &fakeRunner{
		available: map[string]bool{"arduino-cli": true},
		fail:      map[string]string{"arduino-cli compile": "sketch.ino:1: error: expected ';'"},
	}
	o := newTestOrchestrator(t, runner, nil)

	_, err := o.Upload(testDevice(models.Arduino), models.UploadOptions{
		Code: "broken", Language: "arduino",
	})
	if !errors.Is(err, ErrCompileFailed) {
		t.Fatalf("expected ErrCompileFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "expected ';'") {
		t.Errorf("compiler stderr missing from error: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Errorf("upload must not run after a failed compile: %v", runner.calls)
	}
}

func TestPlatformIOFallbackWhenArduinoCLIMissing(t *testing.T) {
	runner := &fakeRunner{available: map[string]bool{"pio": true}}
	o := newTestOrchestrator(t, runner, nil)

	msg, err := o.Upload(testDevice(models.ESP32), models.UploadOptions{
		Code: "void setup() {}", Language: "arduino",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0][0] != "pio" {
		t.Fatalf("expected a single pio invocation, got %v", runner.calls)
	}
	if !runner.sawIni || !runner.sawMain {
		t.Error("platformio project was not staged before pio ran")
	}
	if !strings.Contains(msg, "platformio") {
		t.Errorf("result message = %q", msg)
	}
}

func TestNoCompiledToolchainInstalled(t *testing.T) {
	runner := &fakeRunner{available: map[string]bool{}}
	o := newTestOrchestrator(t, runner, nil)

	_, err := o.Upload(testDevice(models.Arduino), models.UploadOptions{
		Code: "void setup() {}", Language: "arduino",
	})
	if !errors.Is(err, ErrToolMissing) {
		t.Fatalf("expected ErrToolMissing, got %v", err)
	}
	for _, tool := range []string{"arduino-cli", "pio"} {
		if !strings.Contains(err.Error(), tool) {
			t.Errorf("error should name %s: %v", tool, err)
		}
	}
}

func TestMicroPythonUsesFirstAvailableTool(t *testing.T) {
	runner := &fakeRunner{available: map[string]bool{"ampy": true, "rshell": true}}
	o := newTestOrchestrator(t, runner, nil)

	msg, err := o.Upload(testDevice(models.MicroBit), models.UploadOptions{
		Code: "print(1)", Language: "micropython",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0][0] != "ampy" {
		t.Fatalf("mpremote absent, ampy must be used next: %v", runner.calls)
	}
	if !contains(runner.calls[0], "/dev/ttyUSB0") {
		t.Errorf("port not passed to ampy: %v", runner.calls[0])
	}
	if !strings.Contains(msg, "ampy") {
		t.Errorf("result message = %q", msg)
	}
}

func TestMicroPythonNoToolsInstalled(t *testing.T) {
	runner := &fakeRunner{available: map[string]bool{}}
	o := newTestOrchestrator(t, runner, nil)

	_, err := o.Upload(testDevice(models.RaspberryPiPico), models.UploadOptions{
		Code: "print(1)", Language: "micropython",
	})
	if !errors.Is(err, ErrToolMissing) {
		t.Fatalf("expected ErrToolMissing, got %v", err)
	}
	for _, tool := range micropythonTools {
		if !strings.Contains(err.Error(), tool) {
			t.Errorf("error should name %s: %v", tool, err)
		}
	}
}

func TestTempDirRemovedAfterFailure(t *testing.T) {
	runner := &fakeRunner{
		available: map[string]bool{"arduino-cli": true},
		fail:      map[string]string{"arduino-cli compile": "boom"},
	}
	o := newTestOrchestrator(t, runner, nil)

	o.Upload(testDevice(models.Arduino), models.UploadOptions{Code: "x", Language: "arduino"})

	if len(runner.dirs) == 0 {
		t.Fatal("compile was never invoked")
	}
	if _, err := os.Stat(runner.dirs[0]); !os.IsNotExist(err) {
		t.Errorf("staging dir %s survived the upload", runner.dirs[0])
	}
}

func TestBoardTypeOverridesDetectedType(t *testing.T) {
	runner := &fakeRunner{available: map[string]bool{"arduino-cli": true}}
	o := newTestOrchestrator(t, runner, nil)

	_, err := o.Upload(testDevice(models.UnknownDevice), models.UploadOptions{
		Code: "void setup() {}", Language: "arduino", BoardType: "esp32",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !contains(runner.calls[0], "esp32:esp32:esp32") {
		t.Errorf("board type override not honored: %v", runner.calls[0])
	}
}

func TestUploadPublishesLifecycleEvents(t *testing.T) {
	runner := &fakeRunner{available: map[string]bool{"arduino-cli": true}}
	bus := events.NewBus()
	var seen []events.EventType
	bus.Subscribe(func(e events.Event) {
		seen = append(seen, e.Type)
	}, events.UploadStarted, events.UploadComplete, events.UploadFailed)

	o := newTestOrchestrator(t, runner, bus)
	if _, err := o.Upload(testDevice(models.Arduino), models.UploadOptions{
		Code: "void setup() {}", Language: "arduino",
	}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if len(seen) != 2 || seen[0] != events.UploadStarted || seen[1] != events.UploadComplete {
		t.Errorf("events = %v", seen)
	}
}

func TestCheckTools(t *testing.T) {
	runner := &fakeRunner{available: map[string]bool{"arduino-cli": true, "mpremote": true}}
	o := newTestOrchestrator(t, runner, nil)

	tools := o.CheckTools()
	if !tools["arduino-cli"] || !tools["mpremote"] {
		t.Errorf("installed tools not reported: %v", tools)
	}
	if tools["pio"] || tools["rshell"] {
		t.Errorf("absent tools reported installed: %v", tools)
	}
}

func TestDefaultBoardIsFirstCatalogEntry(t *testing.T) {
	board, err := DefaultBoard(models.Arduino)
	if err != nil {
		t.Fatalf("default board: %v", err)
	}
	if board.FQBN != "arduino:avr:uno" {
		t.Errorf("default Arduino board = %s", board.FQBN)
	}

	if _, err := resolveBoard(models.Arduino, "Arduino Nano"); err != nil {
		t.Errorf("named board lookup failed: %v", err)
	}
	board, _ = resolveBoard(models.Arduino, "nonexistent board")
	if board.FQBN != "arduino:avr:uno" {
		t.Errorf("unknown board name must fall back to the default, got %s", board.FQBN)
	}
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
