package upload

import (
	"fmt"
	"strings"

	"tether/internal/models"
)

// BoardConfig is the static per-board descriptor a toolchain needs: the
// fully qualified board name for the compiler, the upload protocol and
// speed, and any extra flags.
type BoardConfig struct {
	Name           string   `json:"name"`
	FQBN           string   `json:"fqbn"`
	UploadProtocol string   `json:"upload_protocol"`
	UploadSpeed    int      `json:"upload_speed"`
	ExtraFlags     []string `json:"extra_flags,omitempty"`
}

// boardCatalog maps each device type to its candidate boards, default
// first. Adding a board is a data change.
var boardCatalog = map[models.DeviceType][]BoardConfig{
	models.Arduino: {
		{Name: "Arduino Uno", FQBN: "arduino:avr:uno", UploadProtocol: "arduino", UploadSpeed: 115200},
		{Name: "Arduino Nano", FQBN: "arduino:avr:nano", UploadProtocol: "arduino", UploadSpeed: 57600},
		{Name: "Arduino Leonardo", FQBN: "arduino:avr:leonardo", UploadProtocol: "avr109", UploadSpeed: 57600},
	},
	models.ESP32: {
		{Name: "ESP32 Dev Module", FQBN: "esp32:esp32:esp32", UploadProtocol: "esptool", UploadSpeed: 921600,
			ExtraFlags: []string{"--before=default_reset", "--after=hard_reset"}},
		{Name: "ESP32-S2", FQBN: "esp32:esp32:esp32s2", UploadProtocol: "esptool", UploadSpeed: 460800,
			ExtraFlags: []string{"--before=default_reset", "--after=hard_reset"}},
	},
	models.MicroBit: {
		{Name: "BBC micro:bit", FQBN: "microbit", UploadProtocol: "copy", UploadSpeed: 115200},
	},
	models.RaspberryPiPico: {
		{Name: "Raspberry Pi Pico", FQBN: "rp2040:rp2040:rpipico", UploadProtocol: "picotool", UploadSpeed: 115200},
	},
}

// BoardConfigs returns the candidate boards for a device type.
func BoardConfigs(t models.DeviceType) []BoardConfig {
	configs := boardCatalog[t]
	out := make([]BoardConfig, len(configs))
	copy(out, configs)
	return out
}

// DefaultBoard returns the first catalog entry for a device type.
func DefaultBoard(t models.DeviceType) (BoardConfig, error) {
	configs := boardCatalog[t]
	if len(configs) == 0 {
		return BoardConfig{}, fmt.Errorf("no board configuration for device type %s", t)
	}
	return configs[0], nil
}

// resolveBoard picks a board: an exact name match when the caller named
// one, otherwise the type's default.
func resolveBoard(t models.DeviceType, boardName string) (BoardConfig, error) {
	if boardName != "" {
		for _, b := range boardCatalog[t] {
			if strings.EqualFold(b.Name, boardName) {
				return b, nil
			}
		}
	}
	return DefaultBoard(t)
}

// parseBoardType resolves a free-form board type string to a device
// type.
func parseBoardType(boardType string) (models.DeviceType, error) {
	s := strings.ToLower(boardType)
	switch {
	case strings.Contains(s, "arduino"):
		return models.Arduino, nil
	case strings.Contains(s, "esp32"):
		return models.ESP32, nil
	case strings.Contains(s, "microbit"), strings.Contains(s, "micro:bit"):
		return models.MicroBit, nil
	case strings.Contains(s, "pico"):
		return models.RaspberryPiPico, nil
	default:
		return models.UnknownDevice, fmt.Errorf("unsupported board type: %s", boardType)
	}
}

// toolchainFamily selects the upload path for a supported combination.
type toolchainFamily int

const (
	familyCompiled    toolchainFamily = iota // build + flash
	familyInterpreted                        // direct file push
)

type capabilityKey struct {
	deviceType models.DeviceType
	language   string
}

// capabilities is the dispatch table over (device type, language).
// Absent keys are unsupported combinations.
var capabilities = map[capabilityKey]toolchainFamily{
	{models.Arduino, "arduino"}:             familyCompiled,
	{models.ESP32, "arduino"}:               familyCompiled,
	{models.ESP32, "micropython"}:           familyInterpreted,
	{models.MicroBit, "micropython"}:        familyInterpreted,
	{models.RaspberryPiPico, "arduino"}:     familyCompiled,
	{models.RaspberryPiPico, "micropython"}: familyInterpreted,
	{models.UnknownDevice, "arduino"}:       familyCompiled,
}

func capability(t models.DeviceType, language string) (toolchainFamily, bool) {
	family, ok := capabilities[capabilityKey{t, language}]
	return family, ok
}

// platformForFQBN maps an Arduino FQBN to its PlatformIO platform.
func platformForFQBN(fqbn string) string {
	switch {
	case strings.HasPrefix(fqbn, "arduino:avr"):
		return "atmelavr"
	case strings.HasPrefix(fqbn, "esp32:"):
		return "espressif32"
	case strings.HasPrefix(fqbn, "rp2040:"):
		return "raspberrypi"
	default:
		return "arduino"
	}
}

// boardForFQBN maps an Arduino FQBN to its PlatformIO board id.
func boardForFQBN(fqbn string) string {
	switch {
	case strings.Contains(fqbn, "uno"):
		return "uno"
	case strings.Contains(fqbn, "nano"):
		return "nanoatmega328"
	case strings.Contains(fqbn, "esp32"):
		return "esp32dev"
	case strings.Contains(fqbn, "rpipico"):
		return "pico"
	default:
		return "uno"
	}
}
