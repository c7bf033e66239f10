package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Device is a local V4L2 capture device usable as a numeric source ref.
type Device struct {
	Index  int    `yaml:"index" json:"index"`
	Path   string `yaml:"path" json:"path"`
	Name   string `yaml:"name" json:"name"`
	Vendor string `yaml:"vendor,omitempty" json:"vendor,omitempty"`
	Model  string `yaml:"model,omitempty" json:"model,omitempty"`
}

// DeviceScanner finds capture devices. Zero values scan /dev and
// /sys/class/video4linux.
type DeviceScanner struct {
	DevDir   string
	SysfsDir string
}

// Scan returns the character devices named video<N>, ordered by index.
func (s DeviceScanner) Scan() ([]Device, error) {
	devDir := s.DevDir
	if devDir == "" {
		devDir = "/dev"
	}
	sysfsDir := s.SysfsDir
	if sysfsDir == "" {
		sysfsDir = "/sys/class/video4linux"
	}

	matches, err := filepath.Glob(filepath.Join(devDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob video devices: %w", err)
	}

	var devices []Device
	for _, match := range matches {
		base := filepath.Base(match)
		idx, err := strconv.Atoi(strings.TrimPrefix(base, "video"))
		if err != nil || idx < 0 {
			continue
		}
		info, err := os.Stat(match)
		if err != nil || info.Mode()&os.ModeCharDevice == 0 {
			continue
		}

		dev := Device{Index: idx, Path: match, Name: "USB Camera"}
		sys := filepath.Join(sysfsDir, base)
		if name := readTrimmed(filepath.Join(sys, "name")); name != "" {
			dev.Name = name
		}
		// device links to the USB interface; ids live on its parent.
		if iface, err := filepath.EvalSymlinks(filepath.Join(sys, "device")); err == nil {
			dev.Vendor = readTrimmed(filepath.Join(filepath.Dir(iface), "idVendor"))
			dev.Model = readTrimmed(filepath.Join(filepath.Dir(iface), "idProduct"))
		}
		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
