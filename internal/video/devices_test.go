package video_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/scene-sentry/internal/video"
)

func TestDeviceScanner_FindsCharacterDevices(t *testing.T) {
	if _, err := os.Stat("/dev/null"); err != nil {
		t.Skip("no /dev/null to stand in for a capture device")
	}
	dev := t.TempDir()
	sys := t.TempDir()

	// Symlinks to /dev/null stat as character devices.
	require.NoError(t, os.Symlink("/dev/null", filepath.Join(dev, "video2")))
	require.NoError(t, os.Symlink("/dev/null", filepath.Join(dev, "video0")))
	require.NoError(t, os.WriteFile(filepath.Join(dev, "video1"), nil, 0644))
	require.NoError(t, os.Symlink("/dev/null", filepath.Join(dev, "video-meta")))

	require.NoError(t, os.MkdirAll(filepath.Join(sys, "video0"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sys, "video0", "name"), []byte("HD Webcam\n"), 0644))

	usb := filepath.Join(sys, "usb", "1-1")
	require.NoError(t, os.MkdirAll(filepath.Join(usb, "1-1:1.0"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(usb, "idVendor"), []byte("046d\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(usb, "idProduct"), []byte("0825\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(sys, "video2"), 0755))
	require.NoError(t, os.Symlink(filepath.Join(usb, "1-1:1.0"), filepath.Join(sys, "video2", "device")))

	devices, err := video.DeviceScanner{DevDir: dev, SysfsDir: sys}.Scan()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, 0, devices[0].Index)
	assert.Equal(t, "HD Webcam", devices[0].Name)
	assert.Equal(t, 2, devices[1].Index)
	assert.Equal(t, "USB Camera", devices[1].Name)
	assert.Equal(t, "046d", devices[1].Vendor)
	assert.Equal(t, "0825", devices[1].Model)
	assert.Empty(t, devices[0].Vendor)
}

func TestDeviceScanner_EmptyDir(t *testing.T) {
	sys := t.TempDir()
	usb := filepath.Join(sys, "usb", "1-1")
	require.NoError(t, os.MkdirAll(filepath.Join(usb, "1-1:1.0"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(usb, "idVendor"), []byte("046d\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(usb, "idProduct"), []byte("0825\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(sys, "video2"), 0755))
	require.NoError(t, os.Symlink(filepath.Join(usb, "1-1:1.0"), filepath.Join(sys, "video2", "device")))

	devices, err := video.DeviceScanner{DevDir: t.TempDir(), SysfsDir: t.TempDir()}.Scan()
	require.NoError(t, err)
	assert.Empty(t, devices)
}
