package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dokzlo13/voltalisd/internal/db"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
	"github.com/dokzlo13/voltalisd/internal/ledger"
)

type slowDispatcher struct {
	delay time.Duration
	err   error
	calls atomic.Int32
}

func (d *slowDispatcher) Dispatch(ctx context.Context, id, value string) error {
	d.calls.Add(1)
	time.Sleep(d.delay)
	return d.err
}

func newCommandService(t *testing.T, dispatcher Dispatcher, workers int) (*CommandService, *eventbus.Bus, *ledger.Ledger) {
	t.Helper()
	database, err := db.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	bus := eventbus.NewWithConfig(workers, 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bus.Close(ctx)
	})

	l := ledger.New(database.DB)
	s := NewCommandService(dispatcher, l, bus)
	s.Start(context.Background())
	return s, bus, l
}

func commandEvent(entityID, value, commandID string) eventbus.Event {
	return eventbus.Event{
		Type: eventbus.EventTypeCommand,
		Data: map[string]interface{}{
			eventbus.KeyEntityID:  entityID,
			eventbus.KeyValue:     value,
			eventbus.KeyCommandID: commandID,
			eventbus.KeySource:    "test",
		},
	}
}

func TestCommandService_ConcurrentDuplicatesRunOnce(t *testing.T) {
	dispatcher := &slowDispatcher{delay: 50 * time.Millisecond}
	_, bus, l := newCommandService(t, dispatcher, 4)

	for i := 0; i < 4; i++ {
		bus.Publish(commandEvent("program_select", "Vacances", "cmd-dup"))
	}

	eventually(t, "command completion", func() bool { return l.HasCompleted("cmd-dup") })
	time.Sleep(100 * time.Millisecond)

	if got := dispatcher.calls.Load(); got != 1 {
		t.Errorf("dispatches for one command id = %d, want 1", got)
	}
}

func TestCommandService_FailedCommandCanBeRetried(t *testing.T) {
	dispatcher := &slowDispatcher{err: errors.New("vendor down")}
	_, bus, l := newCommandService(t, dispatcher, 1)

	bus.Publish(commandEvent("program_select", "Vacances", "cmd-retry"))
	eventually(t, "first attempt", func() bool { return dispatcher.calls.Load() == 1 })

	bus.Publish(commandEvent("program_select", "Vacances", "cmd-retry"))
	eventually(t, "second attempt", func() bool { return dispatcher.calls.Load() == 2 })

	eventually(t, "failures recorded", func() bool {
		entries, _ := l.GetByType(ledger.EventCommandFailed, 10)
		return len(entries) == 2
	})
}

func TestCommandService_ClaimRelease(t *testing.T) {
	s, _, _ := newCommandService(t, &slowDispatcher{}, 1)

	if !s.claim("a") {
		t.Fatal("first claim should succeed")
	}
	if s.claim("a") {
		t.Error("claim of a running id should fail")
	}
	if !s.claim("") {
		t.Error("commands without id always run")
	}

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.claim("b") {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Errorf("concurrent claims won = %d, want 1", won.Load())
	}

	s.release("a")
	if !s.claim("a") {
		t.Error("released id that did not complete should be claimable again")
	}
}
