package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/config"
	"github.com/dokzlo13/voltalisd/internal/control"
	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
	"github.com/dokzlo13/voltalisd/internal/ledger"
)

// ControlService wraps the control HTTP server.
type ControlService struct {
	cfg    *config.Config
	server *control.Server
}

// NewControlService creates a new ControlService.
func NewControlService(cfg *config.Config, registry *entity.Registry, bus *eventbus.Bus, l *ledger.Ledger) *ControlService {
	server := control.NewServer(cfg.Control.Host, cfg.Control.Port, registry, bus, l)
	return &ControlService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the control server if enabled.
func (s *ControlService) Start(ctx context.Context) {
	if !s.cfg.Control.IsEnabled() {
		log.Debug().Msg("Control server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("Control server error")
		}
	}()
}
