package entity

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

// DevicePresetSelect switches one appliance between its presets.
type DevicePresetSelect struct {
	deviceID int
	name     string
	model    string
	source   DeviceSource
}

// NewDevicePresetSelect creates a preset select for device.
func NewDevicePresetSelect(device voltalis.Device, source DeviceSource) *DevicePresetSelect {
	model := device.Type
	if model == "" {
		model = "Appliance"
	}
	return &DevicePresetSelect{
		deviceID: device.ID,
		name:     device.Name,
		model:    model,
		source:   source,
	}
}

func (s *DevicePresetSelect) ID() string   { return "device_" + strconv.Itoa(s.deviceID) + "_preset" }
func (s *DevicePresetSelect) Name() string { return s.name + " preset" }
func (s *DevicePresetSelect) Kind() Kind   { return KindSelect }

func (s *DevicePresetSelect) Device() DeviceInfo {
	return DeviceInfo{
		Identifier:   "device_" + strconv.Itoa(s.deviceID),
		Name:         s.name,
		Manufacturer: Manufacturer,
		Model:        s.model,
	}
}

func (s *DevicePresetSelect) State() State {
	device, ok := s.source.Device(s.deviceID)
	if !ok {
		return State{}
	}
	return State{
		Value:     device.CurrentPreset().Option(),
		Available: s.source.LastUpdateSuccess(),
		Options:   presetOptions(device),
		Attributes: map[string]any{
			"device_id":    device.ID,
			"program_type": string(device.Programming.ProgType),
			"program_name": device.Programming.ProgName,
		},
	}
}

// HandleAction applies the preset named value.
func (s *DevicePresetSelect) HandleAction(ctx context.Context, value string) error {
	device, ok := s.source.Device(s.deviceID)
	if !ok || !s.source.LastUpdateSuccess() {
		return ErrUnavailable
	}
	if !slices.Contains(presetOptions(device), value) {
		return fmt.Errorf("%w: device %d has no preset %q", ErrInvalidValue, s.deviceID, value)
	}

	preset := voltalis.PresetFromOption(value)
	if preset == device.CurrentPreset() {
		return nil
	}
	if err := s.source.SetPreset(ctx, device, preset); err != nil {
		return err
	}

	log.Info().Int("device_id", s.deviceID).Str("preset", value).Msg("Device preset selected")
	s.source.RequestRefresh()
	return nil
}

// presetOptions lists the device presets plus off.
func presetOptions(device voltalis.Device) []string {
	options := make([]string, 0, len(device.Presets)+1)
	for _, p := range device.Presets {
		if p == voltalis.PresetOff {
			continue
		}
		options = append(options, p.Option())
	}
	return append(options, voltalis.PresetOff.Option())
}
