package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
	"github.com/dokzlo13/voltalisd/internal/ledger"
	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

type stubSession struct{ lifetime *int }

func (s *stubSession) Revoke()                       {}
func (s *stubSession) TokenLifetime() *int           { return s.lifetime }
func (s *stubSession) Session() voltalis.SessionInfo { return voltalis.SessionInfo{Authenticated: true} }
func (s *stubSession) SetTokenLifetime(d *int) error { s.lifetime = d; return nil }

// memHistory is an in-memory History. Entries are kept newest first.
type memHistory struct {
	done    map[string]bool
	entries []*ledger.Entry
}

func (h *memHistory) HasCompleted(id string) bool { return h.done[id] }

func (h *memHistory) GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error) {
	return h.filter(limit, func(e *ledger.Entry) bool { return e.EventType == eventType }), nil
}

func (h *memHistory) GetByEntity(entityID string, limit int) ([]*ledger.Entry, error) {
	return h.filter(limit, func(e *ledger.Entry) bool { return e.EntityID == entityID }), nil
}

func (h *memHistory) GetByTimeRange(start, end time.Time, limit int) ([]*ledger.Entry, error) {
	return h.filter(limit, func(e *ledger.Entry) bool {
		return !e.Timestamp.Before(start) && !e.Timestamp.After(end)
	}), nil
}

func (h *memHistory) filter(limit int, keep func(*ledger.Entry) bool) []*ledger.Entry {
	var out []*ledger.Entry
	for _, e := range h.entries {
		if len(out) == limit {
			break
		}
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func newTestServer(t *testing.T, done History) (*httptest.Server, chan eventbus.Event) {
	t.Helper()

	session := &stubSession{}
	registry := entity.NewRegistry()
	registry.Add(entity.NewRevokeTokenButton(session), entity.NewTokenLifetimeNumber(session))

	bus := eventbus.NewWithConfig(1, 10)
	t.Cleanup(func() { bus.Close(context.Background()) })

	events := make(chan eventbus.Event, 10)
	bus.Subscribe(eventbus.EventTypeCommand, func(e eventbus.Event) { events <- e })

	srv := httptest.NewServer(NewServer("127.0.0.1", 0, registry, bus, done).Handler())
	t.Cleanup(srv.Close)
	return srv, events
}

func TestListEntities(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/entities")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var views []EntityView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 || views[0].ID != "revoke_token" || views[1].Kind != entity.KindNumber {
		t.Errorf("views = %+v", views)
	}
	if views[1].Device.Manufacturer != entity.Manufacturer {
		t.Errorf("manufacturer = %q", views[1].Device.Manufacturer)
	}
}

func TestGetEntity(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/entities/token_lifetime", http.StatusOK},
		{"/entities/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestPostCommand(t *testing.T) {
	srv, events := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/entities/token_lifetime", "application/json", strings.NewReader(`{"value": 14}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["command_id"] == "" {
		t.Error("response should carry a command id")
	}

	select {
	case e := <-events:
		if e.String(eventbus.KeyEntityID) != "token_lifetime" || e.String(eventbus.KeyValue) != "14" {
			t.Errorf("event = %+v", e.Data)
		}
		if e.String(eventbus.KeySource) != SourceControl || e.String(eventbus.KeyCommandID) != body["command_id"] {
			t.Errorf("event = %+v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no command published")
	}
}

func TestPostCommand_Rejected(t *testing.T) {
	srv, events := newTestServer(t, &memHistory{done: map[string]bool{"cmd-1": true}})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown_entity", "/entities/missing", `{"value":"x"}`, http.StatusNotFound},
		{"bad_json", "/entities/token_lifetime", `{`, http.StatusBadRequest},
		{"duplicate", "/entities/token_lifetime", `{"value":3,"command_id":"cmd-1"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	select {
	case e := <-events:
		t.Errorf("no command should be published, got %+v", e.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHistory(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := &memHistory{entries: []*ledger.Entry{
		{ID: 4, EventType: ledger.EventCommandFailed, Timestamp: base, EntityID: "token_lifetime", IdempotencyKey: "c2"},
		{ID: 3, EventType: ledger.EventLogin, Timestamp: base.Add(-time.Hour), Source: "app"},
		{ID: 2, EventType: ledger.EventCommandCompleted, Timestamp: base.Add(-2 * time.Hour), EntityID: "token_lifetime", IdempotencyKey: "c1"},
		{ID: 1, EventType: ledger.EventLogin, Timestamp: base.Add(-48 * time.Hour), Source: "app"},
	}}
	srv, _ := newTestServer(t, history)

	tests := []struct {
		name    string
		path    string
		status  int
		wantIDs []int64
	}{
		{"entity", "/entities/token_lifetime/history", http.StatusOK, []int64{4, 2}},
		{"entity_limit", "/entities/token_lifetime/history?limit=1", http.StatusOK, []int64{4}},
		{"entity_empty", "/entities/revoke_token/history", http.StatusOK, []int64{}},
		{"entity_unknown", "/entities/missing/history", http.StatusNotFound, nil},
		{"by_type", "/ledger?type=login", http.StatusOK, []int64{3, 1}},
		{"by_range", "/ledger?since=2026-03-01T00:00:00Z&until=2026-03-01T23:00:00Z", http.StatusOK, []int64{4, 3, 2}},
		{"all", "/ledger", http.StatusOK, []int64{4, 3, 2, 1}},
		{"bad_limit", "/ledger?limit=0", http.StatusBadRequest, nil},
		{"bad_since", "/ledger?since=yesterday", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.wantIDs == nil {
				return
			}

			var entries []ledger.Entry
			if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if entries == nil {
				t.Fatal("expected a JSON array, got null")
			}
			if len(entries) != len(tt.wantIDs) {
				t.Fatalf("got %d entries, want %v", len(entries), tt.wantIDs)
			}
			for i, id := range tt.wantIDs {
				if entries[i].ID != id {
					t.Errorf("entry %d id = %d, want %d", i, entries[i].ID, id)
				}
			}
		})
	}
}

func TestHistory_WithoutLedger(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, path := range []string{"/ledger", "/entities/token_lifetime/history"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}
