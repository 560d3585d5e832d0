package voltalis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProgramType is the kind of programming a program or device follows.
type ProgramType string

const (
	ProgramTypeUser    ProgramType = "USER"
	ProgramTypeQuick   ProgramType = "QUICK"
	ProgramTypeDefault ProgramType = "DEFAULT"
	ProgramTypeManual  ProgramType = "MANUAL"
)

// Valid reports whether t is a known program type.
func (t ProgramType) Valid() bool {
	switch t {
	case ProgramTypeUser, ProgramTypeQuick, ProgramTypeDefault, ProgramTypeManual:
		return true
	}
	return false
}

// Program is a named operating mode; at most one is expected to be enabled.
type Program struct {
	ID      int         `json:"id"`
	Type    ProgramType `json:"type"`
	Name    string      `json:"name"`
	Enabled bool        `json:"enabled"`

	apiName string
}

// APIName returns the name as known by the API.
func (p Program) APIName() string {
	if p.apiName == "" {
		return p.Name
	}
	return p.apiName
}

// programNames maps API names to the names exposed as select options.
var programNames = map[string]string{
	"quicksettings.longleave":  "quicksettings-longleave",
	"quicksettings.shortleave": "quicksettings-shortleave",
	"quicksettings.athome":     "quicksettings-athome",
}

// CanonicalProgramName returns the exposed name for an API program name.
func CanonicalProgramName(name string) string {
	if mapped, ok := programNames[name]; ok {
		return mapped
	}
	return name
}

// ProgramDTO is a program as returned by the API.
type ProgramDTO struct {
	ID      *int    `json:"id"`
	Enabled *bool   `json:"enabled"`
	Name    *string `json:"name"`
}

// ToProgram validates the DTO and converts it into a Program of the given type.
func (d ProgramDTO) ToProgram(t ProgramType) (Program, error) {
	if d.ID == nil || d.Enabled == nil || d.Name == nil {
		return Program{}, fmt.Errorf("%w: program requires id, name and enabled", ErrMalformedResponse)
	}
	if !t.Valid() {
		return Program{}, fmt.Errorf("%w: unknown program type %q", ErrMalformedResponse, t)
	}
	return Program{
		ID:      *d.ID,
		Type:    t,
		Name:    CanonicalProgramName(*d.Name),
		Enabled: *d.Enabled,
		apiName: *d.Name,
	}, nil
}

// ProgramUpdateDTO is the body used to enable or disable a program.
type ProgramUpdateDTO struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Preset is a heating mode a device can be switched to.
type Preset string

const (
	PresetComfort     Preset = "CONFORT"
	PresetEco         Preset = "ECO"
	PresetFrostFree   Preset = "HORS_GEL"
	PresetTemperature Preset = "TEMPERATURE"
	PresetNormal      Preset = "NORMAL"
	PresetOff         Preset = "OFF"
)

// Option returns the select option name for the preset.
func (p Preset) Option() string {
	return strings.ToLower(string(p))
}

// PresetFromOption parses a select option back into a preset.
func PresetFromOption(option string) Preset {
	return Preset(strings.ToUpper(option))
}

// Programming describes what a device currently follows.
type Programming struct {
	ProgType        ProgramType `json:"progType"`
	ProgName        string      `json:"progName"`
	Mode            Preset      `json:"mode"`
	IsOn            bool        `json:"isOn"`
	ManualSettingID int         `json:"idManualSetting"`
}

// Device is a managed appliance.
type Device struct {
	ID            int         `json:"id"`
	Name          string      `json:"name"`
	Type          string      `json:"applianceType"`
	ModulatorType string      `json:"modulatorType"`
	Presets       []Preset    `json:"availableModes"`
	Programming   Programming `json:"programming"`
}

// CurrentPreset returns the active preset, PresetOff when the device is off.
func (d Device) CurrentPreset() Preset {
	if !d.Programming.IsOn {
		return PresetOff
	}
	return d.Programming.Mode
}

// DeviceDTO is a managed appliance as returned by the API.
type DeviceDTO struct {
	ID             *int     `json:"id"`
	Name           *string  `json:"name"`
	ApplianceType  string   `json:"applianceType"`
	ModulatorType  string   `json:"modulatorType"`
	AvailableModes []string `json:"availableModes"`
	Programming    *struct {
		ProgType        string `json:"progType"`
		ProgName        string `json:"progName"`
		Mode            string `json:"mode"`
		IsOn            bool   `json:"isOn"`
		ManualSettingID *int   `json:"idManualSetting"`
	} `json:"programming"`
}

// ToDevice validates the DTO and converts it into a Device.
func (d DeviceDTO) ToDevice() (Device, error) {
	if d.ID == nil || d.Name == nil {
		return Device{}, fmt.Errorf("%w: device requires id and name", ErrMalformedResponse)
	}

	dev := Device{
		ID:            *d.ID,
		Name:          *d.Name,
		Type:          d.ApplianceType,
		ModulatorType: d.ModulatorType,
	}
	for _, mode := range d.AvailableModes {
		dev.Presets = append(dev.Presets, Preset(mode))
	}

	if d.Programming != nil {
		t := ProgramType(d.Programming.ProgType)
		if t != "" && !t.Valid() {
			return Device{}, fmt.Errorf("%w: device %d has unknown programming type %q", ErrMalformedResponse, *d.ID, t)
		}
		dev.Programming = Programming{
			ProgType: t,
			ProgName: d.Programming.ProgName,
			Mode:     Preset(d.Programming.Mode),
			IsOn:     d.Programming.IsOn,
		}
		if d.Programming.ManualSettingID != nil {
			dev.Programming.ManualSettingID = *d.Programming.ManualSettingID
		}
	}

	return dev, nil
}

// ManualSettingDTO is the body used to switch a device to a preset.
type ManualSettingDTO struct {
	Enabled            bool   `json:"enabled"`
	ApplianceID        int    `json:"idAppliance"`
	IsOn               bool   `json:"isOn"`
	Mode               Preset `json:"mode"`
	UntilFurtherNotice bool   `json:"untilFurtherNotice"`
}

// jsonID accepts identifiers encoded either as JSON numbers or strings.
type jsonID string

func (id *jsonID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = jsonID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = jsonID(strconv.FormatInt(n, 10))
	return nil
}
