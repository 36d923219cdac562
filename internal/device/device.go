// internal/device/device.go
package device

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// BaudRate is the fixed line rate of the wheel firmware.
const BaudRate = 9600

// DefaultMatch selects eligible boards by their description.
const DefaultMatch = "Arduino"

// Device identifies one attached board.
type Device struct {
	Locator      string `json:"port" mapstructure:"port"`
	SerialNumber string `json:"serial_number" mapstructure:"serial_number"`
	Description  string `json:"description,omitempty" mapstructure:"description"`
}

// Conn is an open device connection. Read returns (0, nil) when the read
// timeout elapses without data.
type Conn interface {
	io.ReadCloser
	SetReadTimeout(d time.Duration) error
}

// Opener opens device connections by locator.
type Opener interface {
	Open(locator string, baud int) (Conn, error)
}

// SerialOpener opens real serial ports.
type SerialOpener struct{}

func (SerialOpener) Open(locator string, baud int) (Conn, error) {
	port, err := serial.Open(locator, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", locator, err)
	}
	return port, nil
}

// Lister enumerates candidate ports.
type Lister interface {
	List() ([]Device, error)
}

// SerialLister lists USB serial ports through the OS enumerator.
type SerialLister struct{}

func (SerialLister) List() ([]Device, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	out := make([]Device, 0, len(ports))
	for _, p := range ports {
		out = append(out, Device{
			Locator:      p.Name,
			SerialNumber: p.SerialNumber,
			Description:  p.Product,
		})
	}
	return out, nil
}

// Discover returns the devices from l whose description contains match,
// ordered by locator.
func Discover(l Lister, match string) ([]Device, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	var eligible []Device
	for _, d := range all {
		if strings.Contains(d.Description, match) {
			eligible = append(eligible, d)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Locator < eligible[j].Locator })
	return eligible, nil
}

// Lookup finds the eligible device at locator.
func Lookup(l Lister, match, locator string) (Device, error) {
	devices, err := Discover(l, match)
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.Locator == locator {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("no eligible device at %s", locator)
}
