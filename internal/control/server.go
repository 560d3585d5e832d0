// Package control serves a local HTTP API to read entity states and queue
// entity commands.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
	"github.com/dokzlo13/voltalisd/internal/ledger"
)

// SourceControl marks commands received over the control API.
const SourceControl = "control"

const (
	maxBodySize = 64 << 10

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Entities is the read side of the entity registry.
type Entities interface {
	All() []entity.Entity
	Get(id string) (entity.Entity, bool)
}

// History is the read side of the ledger.
type History interface {
	HasCompleted(commandID string) bool
	GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
	GetByEntity(entityID string, limit int) ([]*ledger.Entry, error)
	GetByTimeRange(start, end time.Time, limit int) ([]*ledger.Entry, error)
}

// EntityView is the JSON representation of an entity.
type EntityView struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Kind   entity.Kind       `json:"kind"`
	Device entity.DeviceInfo `json:"device"`
	State  entity.State      `json:"state"`
}

// CommandRequest is the body of POST /entities/{id}.
type CommandRequest struct {
	Value     any    `json:"value"`
	CommandID string `json:"command_id,omitempty"`
}

// Server is an HTTP server that exposes entities and publishes commands to the bus.
type Server struct {
	addr       string
	entities   Entities
	bus        *eventbus.Bus
	ledger     History
	httpServer *http.Server
}

// NewServer creates a new control server. Without a ledger, commands are not
// deduplicated and the history routes answer 404.
func NewServer(host string, port int, entities Entities, bus *eventbus.Bus, ledger History) *Server {
	return &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		entities: entities,
		bus:      bus,
		ledger:   ledger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /entities", s.handleList)
	mux.HandleFunc("GET /entities/{id}", s.handleGet)
	mux.HandleFunc("POST /entities/{id}", s.handleCommand)
	mux.HandleFunc("GET /entities/{id}/history", s.handleEntityHistory)
	mux.HandleFunc("GET /ledger", s.handleLedger)
	return mux
}

// Run starts the control server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting control server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func view(e entity.Entity) EntityView {
	return EntityView{
		ID:     e.ID(),
		Name:   e.Name(),
		Kind:   e.Kind(),
		Device: e.Device(),
		State:  e.State(),
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	all := s.entities.All()
	views := make([]EntityView, 0, len(all))
	for _, e := range all {
		views = append(views, view(e))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entities.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	writeJSON(w, http.StatusOK, view(e))
}

// handleCommand validates the target and queues the command on the bus.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.entities.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read control request body")
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var req CommandRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	commandID := req.CommandID
	if commandID == "" {
		commandID = r.Header.Get("Idempotency-Key")
	}
	if commandID != "" && s.ledger != nil && s.ledger.HasCompleted(commandID) {
		log.Debug().Str("command_id", commandID).Msg("Duplicate command ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "command_id": commandID})
		return
	}
	if commandID == "" {
		commandID = uuid.NewString()
	}

	value := ""
	if req.Value != nil {
		value = fmt.Sprint(req.Value)
	}

	log.Debug().
		Str("entity_id", id).
		Str("command_id", commandID).
		Msg("Received control command")

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeCommand,
		Data: map[string]interface{}{
			eventbus.KeyEntityID:  id,
			eventbus.KeyValue:     value,
			eventbus.KeyCommandID: commandID,
			eventbus.KeySource:    SourceControl,
		},
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "command_id": commandID})
}

// handleEntityHistory lists the commands recorded for one entity, newest first.
func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	id := r.PathValue("id")
	if _, ok := s.entities.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.ledger.GetByEntity(id, limit)
	if err != nil {
		log.Error().Err(err).Str("entity_id", id).Msg("Failed to read entity history")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// handleLedger lists ledger entries filtered by ?type= or by ?since=/?until=
// (RFC 3339), newest first.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if eventType := q.Get("type"); eventType != "" {
		entries, err := s.ledger.GetByType(ledger.EventType(eventType), limit)
		if err != nil {
			log.Error().Err(err).Str("event_type", eventType).Msg("Failed to read ledger")
			writeError(w, http.StatusInternalServerError, "failed to read ledger")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(entries))
		return
	}

	since := time.Unix(0, 0)
	until := time.Now()
	for name, target := range map[string]*time.Time{"since": &since, "until": &until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
			return
		}
		*target = t
	}

	entries, err := s.ledger.GetByTimeRange(since, until, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(limit, maxHistoryLimit), true
}

func nonNil(entries []*ledger.Entry) []*ledger.Entry {
	if entries == nil {
		return []*ledger.Entry{}
	}
	return entries
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
