// Package coordinator polls the Voltalis API on a fixed interval and caches the
// last successful result for entities.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

// FetchFunc loads a fresh snapshot.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// AuthFailureHandler is told when a refresh failed because the session must be re-established.
type AuthFailureHandler func(name string, err error)

// Coordinator keeps the latest successful snapshot of one data domain.
type Coordinator[T any] struct {
	name     string
	interval time.Duration
	fetch    FetchFunc[T]
	onAuth   AuthFailureHandler
	now      func() time.Time

	mu          sync.RWMutex
	data        T
	hasData     bool
	lastSuccess bool
	lastUpdate  time.Time
	lastErr     error
	attempted   bool

	// refreshes never overlap
	refreshMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int

	trigger chan struct{}
}

// New creates a coordinator. interval 0 uses one minute.
func New[T any](name string, interval time.Duration, fetch FetchFunc[T]) *Coordinator[T] {
	if interval == 0 {
		interval = time.Minute
	}
	return &Coordinator[T]{
		name:      name,
		interval:  interval,
		fetch:     fetch,
		now:       time.Now,
		listeners: make(map[int]func()),
		trigger:   make(chan struct{}, 1),
	}
}

// Name returns the coordinator name.
func (c *Coordinator[T]) Name() string {
	return c.name
}

// SetAuthFailureHandler sets the handler called when a refresh fails with an auth error.
func (c *Coordinator[T]) SetAuthFailureHandler(h AuthFailureHandler) {
	c.mu.Lock()
	c.onAuth = h
	c.mu.Unlock()
}

// Data returns the last successful snapshot and whether one exists. The
// snapshot is shared with every other reader and must not be modified;
// typed coordinators return copies.
func (c *Coordinator[T]) Data() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data, c.hasData
}

// LastUpdateSuccess reports whether the most recent refresh succeeded.
func (c *Coordinator[T]) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// LastUpdate returns the time of the last successful refresh.
func (c *Coordinator[T]) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// LastError returns the error of the most recent refresh, nil after a success.
func (c *Coordinator[T]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// AddListener registers fn to run after every successful refresh.
// The returned function removes it.
func (c *Coordinator[T]) AddListener(fn func()) (remove func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// RequestRefresh asks the Run loop for a refresh as soon as possible.
func (c *Coordinator[T]) RequestRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Refresh fetches a new snapshot. On failure, including cancellation, the
// previous snapshot is kept and the failure flag is set.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	data, err := c.fetch(ctx)
	if err == nil {
		err = ctx.Err()
	}

	if err != nil {
		c.mu.Lock()
		c.attempted = true
		c.lastSuccess = false
		c.lastErr = err
		onAuth := c.onAuth
		c.mu.Unlock()

		log.Warn().Err(err).Str("coordinator", c.name).Msg("Refresh failed, keeping previous data")

		if voltalis.IsAuthError(err) && onAuth != nil {
			onAuth(c.name, err)
		}
		return err
	}

	c.mu.Lock()
	c.attempted = true
	c.data = data
	c.hasData = true
	c.lastSuccess = true
	c.lastUpdate = c.now()
	c.lastErr = nil
	c.mu.Unlock()

	log.Debug().Str("coordinator", c.name).Msg("Refresh succeeded")
	c.notify()
	return nil
}

func (c *Coordinator[T]) notify() {
	c.listenersMu.Lock()
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Run refreshes on every tick or RequestRefresh until ctx is done. It also
// refreshes immediately unless a refresh was already attempted.
func (c *Coordinator[T]) Run(ctx context.Context) error {
	log.Info().Str("coordinator", c.name).Dur("interval", c.interval).Msg("Coordinator started")

	c.mu.RLock()
	attempted := c.attempted
	c.mu.RUnlock()
	if !attempted {
		c.Refresh(ctx)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("coordinator", c.name).Msg("Coordinator stopping")
			return nil

		case <-c.trigger:
			c.Refresh(ctx)

		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
