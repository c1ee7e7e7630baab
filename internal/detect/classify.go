package detect

import "tether/internal/models"

// usbKey is a (vendor id, product id) pair.
type usbKey struct {
	vid uint16
	pid uint16
}

// classification maps exact USB identities to device types. Matching is
// exact equality, never wildcarded; adding a board is a data change.
var classification = map[usbKey]models.DeviceType{
	// Arduino Uno (official)
	{0x2341, 0x0043}: models.Arduino,
	{0x2341, 0x0001}: models.Arduino,
	// Arduino Nano clones (CH340 bridge)
	{0x1a86, 0x7523}: models.Arduino,
	// BBC micro:bit (DAPLink)
	{0x0d28, 0x0204}: models.MicroBit,
	// ESP32 dev boards (CP210x bridge)
	{0x10c4, 0xea60}: models.ESP32,
	// ESP32 with native USB
	{0x303a, 0x1001}: models.ESP32,
	// Raspberry Pi Pico
	{0x2e8a, 0x0005}: models.RaspberryPiPico,
	{0x2e8a, 0x000a}: models.RaspberryPiPico,
}

// Classify resolves a device type from a USB identity. Identities not
// in the table classify as Unknown.
func Classify(vid, pid uint16) models.DeviceType {
	if t, ok := classification[usbKey{vid, pid}]; ok {
		return t
	}
	return models.UnknownDevice
}

// languageMatrix lists the languages each device type can run,
// recommended language first.
var languageMatrix = map[models.DeviceType][]string{
	models.Arduino:         {"arduino"},
	models.ESP32:           {"arduino", "micropython"},
	models.MicroBit:        {"micropython"},
	models.RaspberryPiPico: {"micropython", "arduino"},
	models.UnknownDevice:   {"arduino"},
}

// SupportedLanguages returns the languages a device type can run.
func SupportedLanguages(t models.DeviceType) []string {
	langs, ok := languageMatrix[t]
	if !ok {
		return nil
	}
	out := make([]string, len(langs))
	copy(out, langs)
	return out
}

// SupportsLanguage reports whether a device type can run a language.
func SupportsLanguage(t models.DeviceType, language string) bool {
	for _, l := range languageMatrix[t] {
		if l == language {
			return true
		}
	}
	return false
}

// RecommendedLanguage returns the default language for a device type.
func RecommendedLanguage(t models.DeviceType) string {
	if langs := languageMatrix[t]; len(langs) > 0 {
		return langs[0]
	}
	return "arduino"
}

// BaudRate returns the default serial baud rate for a device type.
func BaudRate(t models.DeviceType) int {
	switch t {
	case models.ESP32, models.MicroBit, models.RaspberryPiPico:
		return 115200
	default:
		// Arduino and unclassified boards
		return 9600
	}
}
