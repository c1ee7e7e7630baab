package driver

import (
	"log"
	"time"
)

// installWindows triggers the OS driver-prompt machinery and rescans.
// Outcomes cannot be verified synchronously on every path, so the
// return value is guidance text alongside the attempt.
func (r *Registry) installWindows(key string) (string, error) {
	switch key {
	case "ch340":
		if _, err := r.run("pnputil", "/scan-devices"); err == nil {
			log.Printf("driver: triggered Windows device scan for %s", key)
			time.Sleep(3 * time.Second)
			r.probeAndMark()
			if r.isInstalled(key) {
				return "CH340 driver installed successfully.", nil
			}
		}
		return "CH340 driver installation guide:\n" +
			"1. Download CH341SER.EXE from the WCH website (http://www.wch.cn/downloads/CH341SER_EXE.html)\n" +
			"2. Run the installer as administrator\n" +
			"3. Replug the device and refresh\n" +
			"\n" +
			"Or let Windows install it automatically:\n" +
			"1. Connect the device\n" +
			"2. Open Device Manager, right-click the unknown device\n" +
			"3. Choose \"Update driver\" then \"Search automatically\"", nil
	case "arduino_usb":
		if _, err := r.run("where", "arduino"); err == nil {
			return "The Arduino driver ships with the Arduino IDE and is already present.", nil
		}
		return "Install the Arduino IDE for full driver support: https://www.arduino.cc/en/software", nil
	case "cp210x":
		if _, err := r.run("pnputil", "/scan-devices"); err == nil {
			time.Sleep(3 * time.Second)
			r.probeAndMark()
			if r.isInstalled(key) {
				return "CP210x driver installed successfully.", nil
			}
		}
		return "Windows normally installs the CP210x driver automatically. If not, download it from Silicon Labs: https://www.silabs.com/developers/usb-to-uart-bridge-vcp-drivers", nil
	default:
		return "Download and install the driver from the device manufacturer's website.", nil
	}
}

func (r *Registry) installDarwin(key string) (string, error) {
	switch key {
	case "ch340":
		return "Download the CH340 macOS driver from the WCH website.", nil
	default:
		return "macOS recognizes most USB serial devices automatically. Install the vendor driver if the port does not appear.", nil
	}
}

func (r *Registry) installLinux(key string) (string, error) {
	switch key {
	case "ch340":
		if _, err := r.run("sudo", "modprobe", "ch341"); err == nil {
			r.markInstalled(key)
			return "CH340 kernel module loaded.", nil
		}
		return "The kernel lacks the CH340 module; build and install ch341 manually.", nil
	default:
		return "Linux ships most USB serial drivers in the kernel. Check loaded modules if the port does not appear.", nil
	}
}

func (r *Registry) probeAndMark() {
	for _, key := range r.probe() {
		r.markInstalled(key)
	}
}

func (r *Registry) isInstalled(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[key]
	return ok && d.Installed
}
