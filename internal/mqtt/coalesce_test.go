package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/voltalisd/internal/entity"
)

type recordingSink struct {
	mu     sync.Mutex
	states []string
	values []any
}

func (r *recordingSink) publish(id string, state entity.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, id)
	r.values = append(r.values, state.Value)
}

func (r *recordingSink) snapshot() ([]string, []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...), append([]any(nil), r.values...)
}

func TestCoalescer_Immediate(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoalescer(0, sink.publish)

	c.Publish("a", entity.State{Value: 1})
	c.Publish("a", entity.State{Value: 2})

	ids, _ := sink.snapshot()
	if len(ids) != 2 {
		t.Errorf("got %d publications, want 2", len(ids))
	}
}

func TestCoalescer_KeepsLatestPerEntity(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoalescer(time.Hour, sink.publish)
	defer c.Close()

	c.Publish("a", entity.State{Value: 1})
	c.Publish("b", entity.State{Value: "x"})
	c.Publish("a", entity.State{Value: 2})

	if ids, _ := sink.snapshot(); len(ids) != 0 {
		t.Fatalf("published before the quiet period: %v", ids)
	}

	c.Flush()

	ids, values := sink.snapshot()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ids = %v, want [a b]", ids)
	}
	if values[0] != 2 {
		t.Errorf("a = %v, want latest value 2", values[0])
	}
}

func TestCoalescer_FlushesAfterQuietPeriod(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoalescer(20*time.Millisecond, sink.publish)
	defer c.Close()

	c.Publish("a", entity.State{Value: 1})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ids, _ := sink.snapshot(); len(ids) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("state was not flushed")
}

func TestCoalescer_ClosedDropsUpdates(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoalescer(time.Hour, sink.publish)
	c.Close()

	c.Publish("a", entity.State{Value: 1})
	c.Flush()

	if ids, _ := sink.snapshot(); len(ids) != 0 {
		t.Errorf("closed coalescer published %v", ids)
	}
}
