package driver

import (
	"log"
	"strings"
)

// probe shells out to platform USB/driver listing tools and returns the
// catalog keys whose chips were recognized in the output. Absence of a
// recognized string means "not confirmed installed", not "absent".
func (r *Registry) probe() []string {
	switch r.goos {
	case "windows":
		return r.probeWindows()
	case "darwin":
		return r.probeDarwin()
	default:
		return r.probeLinux()
	}
}

func (r *Registry) probeWindows() []string {
	var keys []string

	out, err := r.run("powershell", "-Command",
		"Get-WmiObject Win32_PnPEntity | Where-Object {$_.DeviceID -like '*USB*'} | Select-Object Name, DeviceID, Status")
	if err != nil {
		log.Printf("driver: windows device listing failed: %v", err)
	} else {
		keys = append(keys, keysInWindowsDeviceList(string(out))...)
	}

	out, err = r.run("driverquery", "/v", "/fo", "csv")
	if err != nil {
		log.Printf("driver: driverquery failed: %v", err)
	} else {
		keys = append(keys, keysInDriverQuery(string(out))...)
	}

	return keys
}

func (r *Registry) probeDarwin() []string {
	var keys []string

	out, err := r.run("system_profiler", "SPUSBDataType", "-json")
	if err != nil {
		log.Printf("driver: system_profiler failed: %v", err)
	} else {
		keys = append(keys, keysInSystemProfiler(string(out))...)
	}

	out, err = r.run("kextstat")
	if err != nil {
		log.Printf("driver: kextstat failed: %v", err)
	} else {
		keys = append(keys, keysInKextstat(string(out))...)
	}

	return keys
}

func (r *Registry) probeLinux() []string {
	var keys []string

	out, err := r.run("lsusb", "-v")
	if err != nil {
		log.Printf("driver: lsusb failed: %v", err)
	} else {
		keys = append(keys, keysInLsusb(string(out))...)
	}

	out, err = r.run("lsmod")
	if err != nil {
		log.Printf("driver: lsmod failed: %v", err)
	} else {
		keys = append(keys, keysInLsmod(string(out))...)
	}

	return keys
}

// ── Output parsers ──────────────────────────────────────────────────────
//
// Pure string matching over captured tool output. Deliberately loose:
// these are soft signals, and unrecognized lines are ignored.

func keysInWindowsDeviceList(output string) []string {
	var keys []string
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.Contains(line, "CH340") || strings.Contains(line, "CH341"):
			keys = append(keys, "ch340")
		case strings.Contains(line, "Arduino"):
			keys = append(keys, "arduino_usb")
		case strings.Contains(line, "CP210") || strings.Contains(line, "Silicon Labs"):
			keys = append(keys, "cp210x")
		case strings.Contains(line, "DAPLink") || strings.Contains(line, "micro:bit"):
			keys = append(keys, "microbit_usb")
		}
	}
	return keys
}

func keysInDriverQuery(output string) []string {
	var keys []string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), "ch34") {
			keys = append(keys, "ch340")
		}
	}
	return keys
}

func keysInSystemProfiler(output string) []string {
	var keys []string
	if strings.Contains(output, "1a86") {
		keys = append(keys, "ch340")
	}
	if strings.Contains(output, "2341") {
		keys = append(keys, "arduino_usb")
	}
	if strings.Contains(output, "10c4") {
		keys = append(keys, "cp210x")
	}
	if strings.Contains(output, "0d28") {
		keys = append(keys, "microbit_usb")
	}
	if strings.Contains(output, "2e8a") {
		keys = append(keys, "pico_usb")
	}
	return keys
}

func keysInKextstat(output string) []string {
	var keys []string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "ch34") {
			keys = append(keys, "ch340")
		}
		if strings.Contains(line, "SiLabs") || strings.Contains(line, "silabs") {
			keys = append(keys, "cp210x")
		}
	}
	return keys
}

func keysInLsusb(output string) []string {
	var keys []string
	if strings.Contains(output, "1a86:7523") {
		keys = append(keys, "ch340")
	}
	if strings.Contains(output, "2341:0043") || strings.Contains(output, "2341:0001") {
		keys = append(keys, "arduino_usb")
	}
	if strings.Contains(output, "10c4:ea60") {
		keys = append(keys, "cp210x")
	}
	if strings.Contains(output, "0d28:0204") {
		keys = append(keys, "microbit_usb")
	}
	if strings.Contains(output, "2e8a:") {
		keys = append(keys, "pico_usb")
	}
	return keys
}

func keysInLsmod(output string) []string {
	var keys []string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "ch341") || strings.Contains(line, "ch340") {
			keys = append(keys, "ch340")
		} else if strings.Contains(line, "cp210x") {
			keys = append(keys, "cp210x")
		}
	}
	return keys
}
