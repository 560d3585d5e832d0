package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/voltalisd/internal/config"
	"github.com/dokzlo13/voltalisd/internal/coordinator"
	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
	"github.com/dokzlo13/voltalisd/internal/httpclient"
	"github.com/dokzlo13/voltalisd/internal/ledger"
	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

// VoltalisService wraps the vendor client, its coordinators and the entities
// built on them.
type VoltalisService struct {
	cfg *config.Config

	HTTP     *httpclient.Client
	Client   *voltalis.Client
	Programs *coordinator.ProgramCoordinator
	Devices  *coordinator.DeviceCoordinator
	Entities *entity.Registry

	bus    *eventbus.Bus
	ledger *ledger.Ledger

	reauthLimiter *rate.Limiter
}

// NewVoltalisService creates the client and coordinators without contacting the API.
func NewVoltalisService(cfg *config.Config, bus *eventbus.Bus, l *ledger.Ledger, registry *entity.Registry) *VoltalisService {
	vc := cfg.Voltalis

	retry := httpclient.RetryConfig{
		MaxRetries:     vc.Retry.MaxRetries,
		InitialBackoff: vc.Retry.InitialBackoff.Duration(),
		MaxBackoff:     vc.Retry.MaxBackoff.Duration(),
		Multiplier:     vc.Retry.Multiplier,
	}
	transport := httpclient.New(
		vc.BaseURL,
		httpclient.WithTimeout(vc.Timeout.Duration()),
		httpclient.WithRetry(&retry),
		httpclient.WithRateLimit(vc.RateLimitRPS),
	)

	client := voltalis.NewClient(transport, voltalis.WithTokenLifetime(vc.GetTokenLifetime()))

	s := &VoltalisService{
		cfg:      cfg,
		HTTP:     transport,
		Client:   client,
		Programs: coordinator.NewProgramCoordinator(client, cfg.Coordinators.ProgramsInterval.Duration()),
		Devices:  coordinator.NewDeviceCoordinator(client, cfg.Coordinators.DevicesInterval.Duration()),
		Entities: registry,
		bus:      bus,
		ledger:   l,
		// One attempt per interval, the first one immediately.
		reauthLimiter: rate.NewLimiter(rate.Every(vc.ReauthMinInterval.Duration()), 1),
	}

	s.Programs.SetAuthFailureHandler(s.onAuthFailure)
	s.Devices.SetAuthFailureHandler(s.onAuthFailure)

	return s
}

// Start logs in, loads the first snapshots and registers entities.
// Invalid credentials are fatal, other login failures are retried by the
// re-authentication flow.
func (s *VoltalisService) Start(ctx context.Context) error {
	s.bus.Subscribe(eventbus.EventTypeAuthFailed, func(event eventbus.Event) {
		s.reauthenticate(ctx, event.String(eventbus.KeyCoordinator))
	})

	s.reauthLimiter.Allow() // the startup login uses the first token
	if err := s.login(ctx, "startup"); err != nil {
		if errors.Is(err, voltalis.ErrInvalidCredentials) {
			return err
		}
		log.Warn().Err(err).Msg("Initial login failed, will retry")
	}

	// First refresh before entities are registered, so device entities exist
	// for every known appliance.
	s.Programs.Refresh(ctx)
	s.Devices.Refresh(ctx)

	s.registerEntities()
	return nil
}

func (s *VoltalisService) registerEntities() {
	program := entity.NewProgramSelect(s.Programs)
	revoke := entity.NewRevokeTokenButton(s.Client)
	lifetime := entity.NewTokenLifetimeNumber(s.Client)

	s.Entities.Add(revoke, lifetime, program)
	s.Entities.Bind(s.Programs, program)
	program.HandleUpdate()

	s.syncDeviceEntities()
	s.Devices.AddListener(s.syncDeviceEntities)
}

// syncDeviceEntities registers preset selects for appliances not seen before
// and publishes all device states.
func (s *VoltalisService) syncDeviceEntities() {
	devices, ok := s.Devices.Data()
	if !ok {
		return
	}
	for _, device := range devices {
		sel := entity.NewDevicePresetSelect(device, s.Devices)
		if _, exists := s.Entities.Get(sel.ID()); !exists {
			s.Entities.Add(sel)
		}
		s.Entities.Publish(sel.ID())
	}
}

// StartBackground starts the coordinator polling loops.
func (s *VoltalisService) StartBackground(ctx context.Context) {
	go func() {
		if err := s.Programs.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Program coordinator error")
		}
	}()
	go func() {
		if err := s.Devices.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Device coordinator error")
		}
	}()
}

// onAuthFailure runs on the refreshing goroutine; the login happens on the bus.
func (s *VoltalisService) onAuthFailure(name string, err error) {
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeAuthFailed,
		Data: map[string]interface{}{
			eventbus.KeyCoordinator: name,
			eventbus.KeyError:       err.Error(),
		},
	})
}

// reauthenticate logs in again, at most once per reauth_min_interval.
func (s *VoltalisService) reauthenticate(ctx context.Context, trigger string) {
	if s.Client.Session().Authenticated {
		return
	}
	if !s.reauthLimiter.Allow() {
		log.Debug().Str("trigger", trigger).Msg("Re-authentication throttled")
		return
	}

	s.appendLedger(ledger.EventAuthFailed, map[string]any{"coordinator": trigger})

	if err := s.login(ctx, trigger); err != nil {
		log.Error().Err(err).Str("trigger", trigger).Msg("Re-authentication failed")
		return
	}

	s.Programs.RequestRefresh()
	s.Devices.RequestRefresh()
}

func (s *VoltalisService) login(ctx context.Context, trigger string) error {
	err := s.Client.Login(ctx, s.cfg.Voltalis.Username, s.cfg.Voltalis.Password)
	if err != nil {
		s.appendLedger(ledger.EventLoginFailed, map[string]any{
			"trigger": trigger,
			"status":  httpclient.StatusOf(err),
		})
		return err
	}

	info := s.Client.Session()
	log.Info().Str("site_id", info.SiteID).Str("trigger", trigger).Msg("Logged in to Voltalis")
	s.appendLedger(ledger.EventLogin, map[string]any{"trigger": trigger, "site_id": info.SiteID})

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSession,
		Data: map[string]interface{}{eventbus.KeyAction: "login"},
	})
	return nil
}

// Stop logs out from the vendor API.
func (s *VoltalisService) Stop(timeout time.Duration) {
	s.Entities.Unbind()

	if !s.Client.Session().Authenticated {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Client.Logout(ctx); err != nil {
		log.Warn().Err(err).Msg("Logout call failed, local session cleared")
	} else {
		log.Info().Msg("Logged out from Voltalis")
	}
	s.appendLedger(ledger.EventLogout, nil)
}

// Ready reports whether the session is authenticated and every coordinator's
// last refresh succeeded.
func (s *VoltalisService) Ready() bool {
	return s.Client.Session().Authenticated &&
		s.Programs.LastUpdateSuccess() &&
		s.Devices.LastUpdateSuccess()
}

func (s *VoltalisService) appendLedger(eventType ledger.EventType, payload map[string]any) {
	if err := s.ledger.AppendWithSource(eventType, "", "app", "", payload); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to record ledger event")
	}
}

// Close releases the HTTP transport.
func (s *VoltalisService) Close() {
	s.HTTP.Close()
}
