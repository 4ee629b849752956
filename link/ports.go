package link

import (
	"slices"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortDetails describes a serial port found on the system.
type PortDetails struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// AvailablePorts lists the serial ports of the system, sorted by name.
//
// USB details are filled when the platform supports detailed enumeration.
func AvailablePorts() ([]PortDetails, error) {
	detailed, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]PortDetails, 0, len(detailed))
		for _, d := range detailed {
			ports = append(ports, PortDetails{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		sortPorts(ports)

		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]PortDetails, 0, len(names))
	for _, name := range names {
		ports = append(ports, PortDetails{Name: name})
	}
	sortPorts(ports)

	return ports, nil
}

func sortPorts(ports []PortDetails) {
	slices.SortFunc(ports, func(a, b PortDetails) int {
		return strings.Compare(a.Name, b.Name)
	})
}
