package voltalis

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/httpclient"
)

const (
	programsRoute      = "/api/site/{site_id}/programming/program"
	programRoute       = "/api/site/{site_id}/programming/program/%d"
	quickSettingsRoute = "/api/site/{site_id}/quicksettings"
	quickSettingRoute  = "/api/site/{site_id}/quicksettings/%d/enable"
	appliancesRoute    = "/api/site/{site_id}/managed-appliance"
	manualSettingRoute = "/api/site/{site_id}/manualsetting/%d"
)

// GetPrograms returns user programs and quick settings keyed by id.
func (c *Client) GetPrograms(ctx context.Context) (map[int]Program, error) {
	programs := make(map[int]Program)

	sources := []struct {
		route string
		kind  ProgramType
	}{
		{programsRoute, ProgramTypeUser},
		{quickSettingsRoute, ProgramTypeQuick},
	}

	for _, src := range sources {
		resp, err := c.SendRequest(ctx, httpclient.Request{Method: http.MethodGet, URL: src.route, CanRetry: true})
		if err != nil {
			return nil, err
		}

		dtos, err := httpclient.Decode[[]ProgramDTO](resp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}

		for _, dto := range dtos {
			program, err := dto.ToProgram(src.kind)
			if err != nil {
				return nil, err
			}
			programs[program.ID] = program
		}
	}

	log.Debug().Int("programs", len(programs)).Msg("Programs fetched")
	return programs, nil
}

// ToggleProgram pushes the program's Enabled flag to the API.
func (c *Client) ToggleProgram(ctx context.Context, program Program) error {
	var route string
	switch program.Type {
	case ProgramTypeUser:
		route = fmt.Sprintf(programRoute, program.ID)
	case ProgramTypeQuick:
		route = fmt.Sprintf(quickSettingRoute, program.ID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProgram, program.Type)
	}

	_, err := c.SendRequest(ctx, httpclient.Request{
		Method: http.MethodPut,
		URL:    route,
		Body:   ProgramUpdateDTO{Name: program.APIName(), Enabled: program.Enabled},
	})
	if err != nil {
		return fmt.Errorf("failed to toggle program %d: %w", program.ID, err)
	}

	log.Info().
		Int("program", program.ID).
		Str("name", program.Name).
		Bool("enabled", program.Enabled).
		Msg("Program toggled")
	return nil
}

// GetDevices returns the managed appliances keyed by id.
func (c *Client) GetDevices(ctx context.Context) (map[int]Device, error) {
	resp, err := c.SendRequest(ctx, httpclient.Request{Method: http.MethodGet, URL: appliancesRoute, CanRetry: true})
	if err != nil {
		return nil, err
	}

	dtos, err := httpclient.Decode[[]DeviceDTO](resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	devices := make(map[int]Device, len(dtos))
	for _, dto := range dtos {
		device, err := dto.ToDevice()
		if err != nil {
			return nil, err
		}
		devices[device.ID] = device
	}

	log.Debug().Int("devices", len(devices)).Msg("Devices fetched")
	return devices, nil
}

// SetDevicePreset switches a device to the given preset until further notice.
// PresetOff turns the device off.
func (c *Client) SetDevicePreset(ctx context.Context, device Device, preset Preset) error {
	if device.Programming.ManualSettingID == 0 {
		return fmt.Errorf("device %d has no manual setting", device.ID)
	}

	body := ManualSettingDTO{
		Enabled:            true,
		ApplianceID:        device.ID,
		IsOn:               preset != PresetOff,
		Mode:               preset,
		UntilFurtherNotice: true,
	}
	if preset == PresetOff {
		body.Mode = device.Programming.Mode
	}

	_, err := c.SendRequest(ctx, httpclient.Request{
		Method: http.MethodPut,
		URL:    fmt.Sprintf(manualSettingRoute, device.Programming.ManualSettingID),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to set preset of device %d: %w", device.ID, err)
	}

	log.Info().Int("device", device.ID).Str("preset", string(preset)).Msg("Device preset set")
	return nil
}
