package upload

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"tether/internal/detect"
	"tether/internal/events"
	"tether/internal/models"
)

// Sentinel errors for the upload pipeline. Callers match with errors.Is
// to translate into API responses.
var (
	ErrUnsupported   = errors.New("unsupported language for device")
	ErrToolMissing   = errors.New("no upload tool available")
	ErrCompileFailed = errors.New("compilation failed")
	ErrUploadFailed  = errors.New("upload failed")
)

// Commander executes an external tool in a working directory and
// returns its stdout and stderr. Injected so the orchestrator can be
// tested without any toolchain installed.
type Commander func(dir, name string, args ...string) (stdout, stderr []byte, err error)

func execCommander(dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// micropythonTools is the fallback chain for direct file pushes, tried
// in order.
var micropythonTools = []string{"mpremote", "ampy", "rshell"}

// Orchestrator turns an upload request into toolchain invocations. It
// owns nothing long-lived: every upload stages its sources in a fresh
// temp directory that is removed when the upload finishes, successfully
// or not.
type Orchestrator struct {
	run      Commander
	bus      *events.Bus
	tempRoot string
}

// NewOrchestrator creates an orchestrator. A nil commander executes
// real processes.
func NewOrchestrator(run Commander, bus *events.Bus) *Orchestrator {
	if run == nil {
		run = execCommander
	}
	return &Orchestrator{run: run, bus: bus, tempRoot: os.TempDir()}
}

// Upload compiles (when the language needs it) and flashes code to a
// device, returning a human-readable result message.
func (o *Orchestrator) Upload(device models.DeviceInfo, opts models.UploadOptions) (string, error) {
	family, ok := capability(device.DeviceType, opts.Language)
	if !ok {
		return "", fmt.Errorf("%w: %s does not support %s (try %s)",
			ErrUnsupported, device.DeviceType, opts.Language, detect.RecommendedLanguage(device.DeviceType))
	}

	o.publish(events.UploadStarted, events.SeverityInfo, device,
		fmt.Sprintf("Uploading %s code to %s", opts.Language, device.Name))

	var msg string
	var err error
	switch family {
	case familyCompiled:
		msg, err = o.uploadCompiled(device, opts)
	case familyInterpreted:
		msg, err = o.uploadInterpreted(device, opts)
	}

	if err != nil {
		o.publish(events.UploadFailed, events.SeverityCritical, device, err.Error())
		return "", err
	}
	o.publish(events.UploadComplete, events.SeverityInfo, device, msg)
	return msg, nil
}

// uploadCompiled stages an Arduino sketch and drives arduino-cli, or
// PlatformIO when arduino-cli is not installed.
func (o *Orchestrator) uploadCompiled(device models.DeviceInfo, opts models.UploadOptions) (string, error) {
	deviceType := device.DeviceType
	if opts.BoardType != "" {
		if parsed, err := parseBoardType(opts.BoardType); err == nil {
			deviceType = parsed
		}
	}
	board, err := resolveBoard(deviceType, opts.BoardType)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp(o.tempRoot, "tether_sketch_")
	if err != nil {
		return "", fmt.Errorf("create sketch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// arduino-cli requires the sketch file to share the directory name.
	sketch := filepath.Join(dir, filepath.Base(dir)+".ino")
	if err := os.WriteFile(sketch, []byte(opts.Code), 0o644); err != nil {
		return "", fmt.Errorf("write sketch: %w", err)
	}

	if o.toolAvailable("arduino-cli") {
		return o.runArduinoCLI(dir, board, device.Port)
	}
	if o.toolAvailable("pio") {
		return o.runPlatformIO(dir, board, device.Port, opts.Code)
	}
	return "", fmt.Errorf("%w: install arduino-cli or platformio (pio)", ErrToolMissing)
}

func (o *Orchestrator) runArduinoCLI(dir string, board BoardConfig, port string) (string, error) {
	log.Printf("upload: compiling for %s (%s)", board.Name, board.FQBN)
	_, stderr, err := o.run(dir, "arduino-cli", "compile", "--fqbn", board.FQBN, dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCompileFailed, firstLines(stderr, err))
	}

	log.Printf("upload: flashing %s via %s", board.Name, port)
	_, stderr, err = o.run(dir, "arduino-cli", "upload", "--fqbn", board.FQBN, "--port", port, dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUploadFailed, firstLines(stderr, err))
	}
	return fmt.Sprintf("Uploaded to %s on %s", board.Name, port), nil
}

// runPlatformIO generates a minimal PlatformIO project around the code
// and runs its upload target.
func (o *Orchestrator) runPlatformIO(dir string, board BoardConfig, port, code string) (string, error) {
	ini := platformioIni(board, port)
	if err := os.WriteFile(filepath.Join(dir, "platformio.ini"), []byte(ini), 0o644); err != nil {
		return "", fmt.Errorf("write platformio.ini: %w", err)
	}
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return "", fmt.Errorf("create src dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "main.cpp"), []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("write main.cpp: %w", err)
	}

	log.Printf("upload: flashing %s via platformio on %s", board.Name, port)
	_, stderr, err := o.run(dir, "pio", "run", "--target", "upload")
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUploadFailed, firstLines(stderr, err))
	}
	return fmt.Sprintf("Uploaded to %s on %s (platformio)", board.Name, port), nil
}

func platformioIni(board BoardConfig, port string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[env:%s]\n", boardForFQBN(board.FQBN))
	fmt.Fprintf(&b, "platform = %s\n", platformForFQBN(board.FQBN))
	fmt.Fprintf(&b, "board = %s\n", boardForFQBN(board.FQBN))
	fmt.Fprintf(&b, "framework = arduino\n")
	fmt.Fprintf(&b, "upload_port = %s\n", port)
	fmt.Fprintf(&b, "upload_speed = %d\n", board.UploadSpeed)
	return b.String()
}

// uploadInterpreted writes the script to a temp file and pushes it with
// the first available MicroPython tool.
func (o *Orchestrator) uploadInterpreted(device models.DeviceInfo, opts models.UploadOptions) (string, error) {
	dir, err := os.MkdirTemp(o.tempRoot, "tether_py_")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "main.py")
	if err := os.WriteFile(script, []byte(opts.Code), 0o644); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}

	for _, tool := range micropythonTools {
		if !o.toolAvailable(tool) {
			continue
		}
		_, stderr, err := o.run(dir, tool, micropythonArgs(tool, device.Port, script)...)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %s", ErrUploadFailed, tool, firstLines(stderr, err))
		}
		return fmt.Sprintf("Uploaded main.py to %s with %s", device.Port, tool), nil
	}
	return "", fmt.Errorf("%w: install one of %s", ErrToolMissing, strings.Join(micropythonTools, ", "))
}

// micropythonArgs builds the fixed, tool-specific argument shape for a
// port and local script path.
func micropythonArgs(tool, port, script string) []string {
	switch tool {
	case "mpremote":
		return []string{"connect", port, "fs", "cp", script, ":main.py"}
	case "ampy":
		return []string{"--port", port, "put", script, "main.py"}
	case "rshell":
		return []string{"-p", port, "cp", script, "/pyboard/main.py"}
	default:
		return nil
	}
}

// CheckTools reports which external upload tools respond to a version
// probe. Used by the tool inventory endpoint.
func (o *Orchestrator) CheckTools() map[string]bool {
	tools := []string{"arduino-cli", "pio", "mpremote", "ampy", "rshell", "esptool.py"}
	out := make(map[string]bool, len(tools))
	for _, tool := range tools {
		out[tool] = o.toolAvailable(tool)
	}
	return out
}

func (o *Orchestrator) toolAvailable(tool string) bool {
	_, _, err := o.run("", tool, "--version")
	return err == nil
}

func (o *Orchestrator) publish(t events.EventType, sev events.Severity, device models.DeviceInfo, msg string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type:     t,
		Severity: sev,
		DeviceID: device.ID,
		Port:     device.Port,
		Message:  msg,
	})
}

// firstLines trims tool output to something readable in an error.
func firstLines(stderr []byte, err error) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return err.Error()
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
