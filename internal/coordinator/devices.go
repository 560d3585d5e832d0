package coordinator

import (
	"context"
	"slices"
	"time"

	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

// DeviceAPI is the subset of the Voltalis client used for devices.
type DeviceAPI interface {
	GetDevices(ctx context.Context) (map[int]voltalis.Device, error)
	SetDevicePreset(ctx context.Context, device voltalis.Device, preset voltalis.Preset) error
}

// DeviceCoordinator polls managed appliances.
type DeviceCoordinator struct {
	*Coordinator[map[int]voltalis.Device]
	api DeviceAPI
}

// NewDeviceCoordinator creates a device coordinator.
func NewDeviceCoordinator(api DeviceAPI, interval time.Duration) *DeviceCoordinator {
	return &DeviceCoordinator{
		Coordinator: New("devices", interval, api.GetDevices),
		api:         api,
	}
}

// Data returns a copy of the cached devices.
func (d *DeviceCoordinator) Data() (map[int]voltalis.Device, bool) {
	devices, ok := d.Coordinator.Data()
	if devices == nil {
		return nil, ok
	}
	out := make(map[int]voltalis.Device, len(devices))
	for id, device := range devices {
		out[id] = copyDevice(device)
	}
	return out, ok
}

// Device returns a copy of the cached device with the given id.
func (d *DeviceCoordinator) Device(id int) (voltalis.Device, bool) {
	devices, ok := d.Coordinator.Data()
	if !ok {
		return voltalis.Device{}, false
	}
	device, ok := devices[id]
	return copyDevice(device), ok
}

func copyDevice(device voltalis.Device) voltalis.Device {
	device.Presets = slices.Clone(device.Presets)
	return device
}

// SetPreset switches a device to preset.
func (d *DeviceCoordinator) SetPreset(ctx context.Context, device voltalis.Device, preset voltalis.Preset) error {
	return d.api.SetDevicePreset(ctx, device, preset)
}
