package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/config"
)

// App owns the services and their lifecycle.
type App struct {
	services *Services

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

// New wires all services without starting them.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create services: %w", err)
	}
	return &App{services: services}, nil
}

// Start logs in, registers entities and starts the background services.
// A fatal error in a background service cancels the app context.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		a.cancel()
		return err
	}

	info := a.services.Voltalis.Client.Session()
	log.Info().
		Str("site_id", info.SiteID).
		Int("entities", len(a.services.Entities.All())).
		Bool("ready", a.Ready()).
		Msg("voltalisd started")
	return nil
}

// Ready reports whether the vendor session and every coordinator are healthy.
func (a *App) Ready() bool {
	return a.services.Voltalis.Ready()
}

// Stop logs out and releases all resources. Safe to call more than once.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		log.Info().Msg("Shutting down...")
		if a.cancel != nil {
			a.cancel()
		}
		a.stopErr = a.services.Stop()
	})
	return a.stopErr
}

// Wait blocks until the app context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
