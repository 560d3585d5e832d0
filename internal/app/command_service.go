package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
	"github.com/dokzlo13/voltalisd/internal/ledger"
)

const commandTimeout = 30 * time.Second

// Dispatcher applies a user action to an entity.
type Dispatcher interface {
	Dispatch(ctx context.Context, id, value string) error
}

// CommandService executes entity commands received on the event bus and
// records their outcome in the ledger.
type CommandService struct {
	entities Dispatcher
	ledger   *ledger.Ledger
	bus      *eventbus.Bus

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewCommandService creates a new CommandService.
func NewCommandService(entities Dispatcher, l *ledger.Ledger, bus *eventbus.Bus) *CommandService {
	return &CommandService{
		entities: entities,
		ledger:   l,
		bus:      bus,
		inFlight: make(map[string]struct{}),
	}
}

// Start subscribes to command events.
func (s *CommandService) Start(ctx context.Context) {
	s.bus.Subscribe(eventbus.EventTypeCommand, func(event eventbus.Event) {
		s.handle(ctx, event)
	})
}

func (s *CommandService) handle(ctx context.Context, event eventbus.Event) {
	entityID := event.String(eventbus.KeyEntityID)
	value := event.String(eventbus.KeyValue)
	commandID := event.String(eventbus.KeyCommandID)
	source := event.String(eventbus.KeySource)

	logger := log.With().
		Str("entity_id", entityID).
		Str("command_id", commandID).
		Str("source", source).
		Logger()

	if !s.claim(commandID) {
		logger.Debug().Msg("Command already completed or running, skipping")
		return
	}
	defer s.release(commandID)

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	start := time.Now()
	err := s.entities.Dispatch(cmdCtx, entityID, value)

	payload := map[string]any{
		"value":       value,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	eventType := ledger.EventCommandCompleted
	if err != nil {
		eventType = ledger.EventCommandFailed
		payload["error"] = err.Error()
		logger.Error().Err(err).Str("value", value).Msg("Command failed")
	} else {
		logger.Info().Str("value", value).Msg("Command applied")
	}

	if lerr := s.ledger.AppendWithSource(eventType, commandID, source, entityID, payload); lerr != nil {
		logger.Warn().Err(lerr).Msg("Failed to record command in ledger")
	}
}

// claim marks commandID as running. It fails when the same id is running on
// another worker or already completed. Commands without an id always run.
func (s *CommandService) claim(commandID string) bool {
	if commandID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inFlight[commandID]; running {
		return false
	}
	if s.ledger.HasCompleted(commandID) {
		return false
	}
	s.inFlight[commandID] = struct{}{}
	return true
}

// release runs after the outcome is in the ledger, so a later duplicate is
// caught by HasCompleted.
func (s *CommandService) release(commandID string) {
	if commandID == "" {
		return
	}
	s.mu.Lock()
	delete(s.inFlight, commandID)
	s.mu.Unlock()
}

var _ Dispatcher = (*entity.Registry)(nil)
