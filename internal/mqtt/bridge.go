// Package mqtt bridges entities to a host runtime over MQTT.
//
// Topics, under a configurable prefix:
//
//	<prefix>/status            online/offline, retained, last will
//	<prefix>/<entity_id>/state  retained JSON entity state
//	<prefix>/<entity_id>/set    command payload from the host
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	// SourceMQTT marks commands received over MQTT.
	SourceMQTT = "mqtt"

	disconnectQuiesce = 250 // ms
	publishTimeout    = 5 * time.Second
)

// Options configures the bridge.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Bridge publishes entity states and turns command messages into bus events.
type Bridge struct {
	opts Options
	bus  *eventbus.Bus

	mu        sync.Mutex
	client    paho.Client
	onConnect []func()
}

// New creates a bridge. An empty client id gets a random one.
func New(opts Options, bus *eventbus.Bus) *Bridge {
	if opts.ClientID == "" {
		opts.ClientID = "voltalisd-" + uuid.NewString()[:8]
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "voltalis"
	}
	opts.TopicPrefix = strings.TrimSuffix(opts.TopicPrefix, "/")
	return &Bridge{opts: opts, bus: bus}
}

// OnConnect registers fn to run after every (re)connection.
func (b *Bridge) OnConnect(fn func()) {
	b.mu.Lock()
	b.onConnect = append(b.onConnect, fn)
	b.mu.Unlock()
}

// StatusTopic returns the availability topic.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// StateTopic returns the state topic of an entity.
func StateTopic(prefix, entityID string) string {
	return prefix + "/" + entityID + "/state"
}

// CommandFilter returns the subscription filter for all command topics.
func CommandFilter(prefix string) string {
	return prefix + "/+/set"
}

// ParseCommandTopic extracts the entity id from a command topic.
func ParseCommandTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// EncodeState renders an entity state as a retained payload.
func EncodeState(state entity.State) ([]byte, error) {
	return json.Marshal(state)
}

// DecodeCommand accepts a bare value or a JSON object {"value": ...}.
func DecodeCommand(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var body struct {
			Value any `json:"value"`
		}
		if err := json.Unmarshal([]byte(trimmed), &body); err == nil && body.Value != nil {
			return fmt.Sprint(body.Value)
		}
	}
	return trimmed
}

// Run connects to the broker and blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	prefix := b.opts.TopicPrefix

	clientOpts := paho.NewClientOptions().
		AddBroker(b.opts.Broker).
		SetClientID(b.opts.ClientID).
		SetUsername(b.opts.Username).
		SetPassword(b.opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetWill(StatusTopic(prefix), StatusOffline, b.opts.QoS, true).
		SetOnConnectHandler(b.handleConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Str("broker", b.opts.Broker).Msg("MQTT connection lost")
		})

	client := paho.NewClient(clientOpts)

	log.Info().Str("broker", b.opts.Broker).Str("client_id", b.opts.ClientID).Msg("Connecting to MQTT broker")
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect failed: %w", token.Error())
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()

	<-ctx.Done()

	token := client.Publish(StatusTopic(prefix), b.opts.QoS, true, StatusOffline)
	token.WaitTimeout(publishTimeout)
	client.Disconnect(disconnectQuiesce)

	b.mu.Lock()
	b.client = nil
	b.mu.Unlock()

	log.Info().Msg("MQTT bridge stopped")
	return nil
}

// handleConnect subscribes to commands and announces availability. paho calls
// it after the initial connection and after every automatic reconnect.
func (b *Bridge) handleConnect(client paho.Client) {
	prefix := b.opts.TopicPrefix

	token := client.Subscribe(CommandFilter(prefix), b.opts.QoS, b.handleMessage)
	if token.Wait() && token.Error() != nil {
		log.Error().Err(token.Error()).Str("filter", CommandFilter(prefix)).Msg("MQTT subscribe failed")
		return
	}

	client.Publish(StatusTopic(prefix), b.opts.QoS, true, StatusOnline)
	log.Info().Str("filter", CommandFilter(prefix)).Msg("MQTT connected, listening for commands")

	b.mu.Lock()
	if b.client == nil {
		b.client = client
	}
	hooks := append([]func(){}, b.onConnect...)
	b.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	entityID, ok := ParseCommandTopic(b.opts.TopicPrefix, msg.Topic())
	if !ok {
		log.Debug().Str("topic", msg.Topic()).Msg("Ignoring message on unexpected topic")
		return
	}

	commandID := uuid.NewString()
	value := DecodeCommand(msg.Payload())

	log.Debug().
		Str("entity_id", entityID).
		Str("command_id", commandID).
		Bool("duplicate", msg.Duplicate()).
		Msg("Received MQTT command")

	b.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeCommand,
		Data: map[string]interface{}{
			eventbus.KeyEntityID:  entityID,
			eventbus.KeyValue:     value,
			eventbus.KeyCommandID: commandID,
			eventbus.KeySource:    SourceMQTT,
		},
	})
}

// PublishState is an entity.Sink publishing retained state. States published
// while disconnected are dropped; the full set is republished on connect.
func (b *Bridge) PublishState(id string, state entity.State) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	if client == nil || !client.IsConnected() {
		log.Debug().Str("entity_id", id).Msg("MQTT not connected, skipping state publish")
		return
	}

	payload, err := EncodeState(state)
	if err != nil {
		log.Error().Err(err).Str("entity_id", id).Msg("Failed to encode entity state")
		return
	}

	token := client.Publish(StateTopic(b.opts.TopicPrefix, id), b.opts.QoS, true, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		log.Warn().Err(token.Error()).Str("entity_id", id).Msg("Failed to publish entity state")
	}
}
