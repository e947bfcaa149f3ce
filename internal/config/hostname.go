package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

var errNoHardwareAddr = errors.New("no network interface with a hardware address")

// Interface is the network interface the hardware id was taken from.
type Interface struct {
	Name string
	MAC  string
	IPs  []string
}

// Hostname returns "<name>-<id>", e.g. "relay-3FA2C1".
func Hostname(name, hardwareID string) string {
	return fmt.Sprintf("%s-%s", name, strings.ToUpper(hardwareID))
}

// HardwareID formats the low 24 bits of mac as six hex digits.
func HardwareID(mac net.HardwareAddr) (string, error) {
	if len(mac) < 3 {
		return "", fmt.Errorf("hardware address %q too short", mac)
	}
	tail := mac[len(mac)-3:]
	id := uint32(tail[0])<<16 | uint32(tail[1])<<8 | uint32(tail[2])
	return fmt.Sprintf("%06X", id), nil
}

// ResolveHostname derives the network hostname from the device settings.
// The id comes from device.hardware_id when set, otherwise from the first
// non-loopback interface with a hardware address.
func (c *Config) ResolveHostname() (string, error) {
	if c.Device.HardwareID != "" {
		return Hostname(c.Device.Name, c.Device.HardwareID), nil
	}

	iface, err := PrimaryInterface()
	if err != nil {
		return "", err
	}
	mac, err := net.ParseMAC(iface.MAC)
	if err != nil {
		return "", fmt.Errorf("parse %s address: %w", iface.Name, err)
	}
	id, err := HardwareID(mac)
	if err != nil {
		return "", err
	}
	return Hostname(c.Device.Name, id), nil
}

// PrimaryInterface returns the lowest-indexed non-loopback interface that
// has a hardware address.
func PrimaryInterface() (*Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Index < ifaces[j].Index })

	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		out := &Interface{Name: ifc.Name, MAC: ifc.HardwareAddr.String()}
		if addrs, err := ifc.Addrs(); err == nil {
			for _, a := range addrs {
				out.IPs = append(out.IPs, a.String())
			}
		}
		return out, nil
	}
	return nil, errNoHardwareAddr
}
