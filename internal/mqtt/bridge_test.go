package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestParseCommandTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"voltalis/program_select/set", "program_select", true},
		{"voltalis/device_11_preset/set", "device_11_preset", true},
		{"voltalis/program_select/state", "", false},
		{"voltalis//set", "", false},
		{"voltalis/a/b/set", "", false},
		{"other/program_select/set", "", false},
		{"voltalis/status", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := ParseCommandTopic("voltalis", tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ParseCommandTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	if got := StatusTopic("home/voltalis"); got != "home/voltalis/status" {
		t.Errorf("StatusTopic = %q", got)
	}
	if got := StateTopic("voltalis", "token_lifetime"); got != "voltalis/token_lifetime/state" {
		t.Errorf("StateTopic = %q", got)
	}
	if got := CommandFilter("voltalis"); got != "voltalis/+/set" {
		t.Errorf("CommandFilter = %q", got)
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{"Semaine", "Semaine"},
		{"  eco \n", "eco"},
		{`{"value":"Vacances"}`, "Vacances"},
		{`{"value":14}`, "14"},
		{`{"other":1}`, `{"other":1}`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DecodeCommand([]byte(tt.payload)); got != tt.want {
			t.Errorf("DecodeCommand(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestEncodeState(t *testing.T) {
	data, err := EncodeState(entity.State{Value: "eco", Available: true, Options: []string{"eco", "off"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["value"] != "eco" || got["available"] != true {
		t.Errorf("state = %v", got)
	}
	if _, ok := got["attributes"]; ok {
		t.Error("empty attributes should be omitted")
	}
}

func TestHandleMessage_PublishesCommand(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	received := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.EventTypeCommand, func(e eventbus.Event) { received <- e })

	b := New(Options{TopicPrefix: "voltalis/"}, bus)
	b.handleMessage(nil, &fakeMessage{topic: "voltalis/token_lifetime/set", payload: []byte("14")})
	b.handleMessage(nil, &fakeMessage{topic: "voltalis/token_lifetime/state", payload: []byte("14")})

	select {
	case e := <-received:
		if e.String(eventbus.KeyEntityID) != "token_lifetime" || e.String(eventbus.KeyValue) != "14" {
			t.Errorf("event = %+v", e.Data)
		}
		if e.String(eventbus.KeySource) != SourceMQTT || e.String(eventbus.KeyCommandID) == "" {
			t.Errorf("event = %+v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no command event published")
	}

	select {
	case e := <-received:
		t.Errorf("unexpected second event: %+v", e.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New(Options{}, nil)
	if b.opts.TopicPrefix != "voltalis" {
		t.Errorf("prefix = %q", b.opts.TopicPrefix)
	}
	if !strings.HasPrefix(b.opts.ClientID, "voltalisd-") {
		t.Errorf("client id = %q", b.opts.ClientID)
	}
}

func TestPublishState_NotConnected(t *testing.T) {
	b := New(Options{}, nil)
	// Must not panic without a client.
	b.PublishState("revoke_token", entity.State{Available: true})
}
