package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/config"
	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
	"github.com/dokzlo13/voltalisd/internal/mqtt"
)

// MQTTService wraps the MQTT host bridge.
type MQTTService struct {
	cfg       *config.Config
	Bridge    *mqtt.Bridge
	coalescer *mqtt.Coalescer

	run  func(ctx context.Context) error
	done chan struct{} // closed when run returns; nil until Start
}

// NewMQTTService creates the bridge and wires it to the entity registry.
func NewMQTTService(cfg *config.Config, registry *entity.Registry, bus *eventbus.Bus) *MQTTService {
	bridge := mqtt.New(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         cfg.MQTT.GetQoS(),
	}, bus)

	coalescer := mqtt.NewCoalescer(cfg.MQTT.PublishQuiet.Duration(), bridge.PublishState)
	if cfg.MQTT.Enabled {
		registry.AddSink(coalescer.Publish)
		bridge.OnConnect(registry.PublishAll)
	}

	return &MQTTService{cfg: cfg, Bridge: bridge, coalescer: coalescer, run: bridge.Run}
}

// Start connects the bridge in the background if enabled.
// A failed initial connection is fatal.
func (s *MQTTService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.MQTT.Enabled {
		log.Debug().Msg("MQTT bridge disabled")
		return
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.run(ctx); err != nil {
			log.Error().Err(err).Msg("MQTT bridge error")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()
}

// Close drops state updates still waiting for their quiet period and waits up
// to timeout for the bridge to announce offline and disconnect. The context
// passed to Start must already be cancelled.
func (s *MQTTService) Close(timeout time.Duration) {
	s.coalescer.Close()
	if !s.wait(timeout) {
		log.Warn().Dur("timeout", timeout).Msg("MQTT bridge did not stop in time")
	}
}

func (s *MQTTService) wait(timeout time.Duration) bool {
	if s.done == nil {
		return true
	}
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
