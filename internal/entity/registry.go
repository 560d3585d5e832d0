package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Sink receives entity state changes.
type Sink func(id string, state State)

// Notifier is a data source that calls listeners after each successful refresh.
type Notifier interface {
	AddListener(fn func()) (remove func())
}

// Registry holds the entities exposed to the host.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]Entity
	order    []string
	sinks    []Sink
	removers []func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]Entity),
	}
}

// Add registers entities. Registering an id twice replaces the earlier entity.
func (r *Registry) Add(entities ...Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entities {
		if _, exists := r.entities[e.ID()]; !exists {
			r.order = append(r.order, e.ID())
		}
		r.entities[e.ID()] = e
		log.Debug().Str("entity", e.ID()).Str("kind", string(e.Kind())).Msg("Entity registered")
	}
}

// Get returns the entity with the given id.
func (r *Registry) Get(id string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// All returns entities in registration order.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entities[id])
	}
	return out
}

// AddSink registers a receiver for state changes.
func (r *Registry) AddSink(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Bind re-derives and publishes the state of the given entities whenever
// source refreshes.
func (r *Registry) Bind(source Notifier, entities ...Entity) {
	remove := source.AddListener(func() {
		for _, e := range entities {
			if u, ok := e.(Updatable); ok {
				u.HandleUpdate()
			}
			r.Publish(e.ID())
		}
	})

	r.mu.Lock()
	r.removers = append(r.removers, remove)
	r.mu.Unlock()
}

// Unbind detaches every listener added by Bind.
func (r *Registry) Unbind() {
	r.mu.Lock()
	removers := r.removers
	r.removers = nil
	r.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}

// Publish sends the current state of one entity to every sink.
func (r *Registry) Publish(id string) {
	r.mu.RLock()
	e, ok := r.entities[id]
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()

	if !ok {
		return
	}
	state := e.State()
	for _, sink := range sinks {
		sink(id, state)
	}
}

// PublishAll sends the current state of every entity.
func (r *Registry) PublishAll() {
	for _, e := range r.All() {
		r.Publish(e.ID())
	}
}

// Dispatch applies a user action to an entity and publishes its new state.
func (r *Registry) Dispatch(ctx context.Context, id, value string) error {
	e, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	if err := e.HandleAction(ctx, value); err != nil {
		return err
	}
	r.Publish(id)
	return nil
}
