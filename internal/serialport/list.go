package serialport

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes an enumerated serial device.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Description is a one-line human readable summary of the device.
func (p PortInfo) Description() string {
	if !p.IsUSB {
		return "non-USB serial port"
	}
	desc := fmt.Sprintf("USB %s:%s", p.VID, p.PID)
	if p.Product != "" {
		desc += " " + p.Product
	}
	if p.SerialNumber != "" {
		desc += " (" + p.SerialNumber + ")"
	}
	return desc
}

// Lister enumerates candidate serial devices.
type Lister func() ([]string, error)

// ListPorts returns the serial devices present on the system in a stable
// order, so discovery probes candidates deterministically.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}

// DescribePorts returns USB details for every serial device. Known
// USB-to-serial bridges (the SDS011 ships with a CH340) are sorted first.
func DescribePorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		bi, bj := IsKnownBridge(infos[i]), IsKnownBridge(infos[j])
		if bi != bj {
			return bi
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

// knownBridges are VID:PID pairs of USB-to-serial chips commonly bundled with
// the sensor.
var knownBridges = map[string]bool{
	"1A86:7523": true, // QinHeng CH340
	"10C4:EA60": true, // Silicon Labs CP210x
	"0403:6001": true, // FTDI FT232
}

// IsKnownBridge reports whether the device is a USB-serial bridge the sensor
// is usually sold with.
func IsKnownBridge(p PortInfo) bool {
	if !p.IsUSB {
		return false
	}
	return knownBridges[strings.ToUpper(p.VID)+":"+strings.ToUpper(p.PID)]
}
