package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/config"
	"github.com/dokzlo13/voltalisd/internal/db"
	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
	"github.com/dokzlo13/voltalisd/internal/ledger"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Entities exposed to the host
	Entities *entity.Registry

	// High-level services
	Voltalis *VoltalisService
	Commands *CommandService
	MQTT     *MQTTService
	Control  *ControlService
	Health   *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Entities = entity.NewRegistry()

	s.Voltalis = NewVoltalisService(cfg, s.Bus, s.Ledger, s.Entities)
	s.Commands = NewCommandService(s.Entities, s.Ledger, s.Bus)
	s.MQTT = NewMQTTService(cfg, s.Entities, s.Bus)
	s.Control = NewControlService(cfg, s.Entities, s.Bus, s.Ledger)
	s.Health = NewHealthService(cfg, s.Voltalis.Ready)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., MQTT broker unreachable).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Log in and register entities
	if err := s.Voltalis.Start(ctx); err != nil {
		return err
	}

	s.Commands.Start(ctx)

	// Start all background services
	s.Voltalis.StartBackground(ctx)
	s.MQTT.Start(ctx, onFatalError)
	s.Control.Start(ctx)
	s.Health.Start(ctx)

	go s.runLedgerCleanup(ctx)

	return nil
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Voltalis != nil {
		s.Voltalis.Stop(s.cfg.ShutdownTimeout.Duration())
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close(s.cfg.ShutdownTimeout.Duration())
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Voltalis != nil {
		s.Voltalis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
