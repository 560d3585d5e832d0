package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dokzlo13/voltalisd/internal/config"
	"github.com/dokzlo13/voltalisd/internal/entity"
	"github.com/dokzlo13/voltalisd/internal/eventbus"
)

func newTestMQTTService(t *testing.T) *MQTTService {
	t.Helper()
	cfg := &config.Config{}
	cfg.MQTT.Enabled = true

	bus := eventbus.NewWithConfig(1, 10)
	t.Cleanup(func() { bus.Close(context.Background()) })

	return NewMQTTService(cfg, entity.NewRegistry(), bus)
}

func TestMQTTService_CloseWaitsForBridge(t *testing.T) {
	s := newTestMQTTService(t)

	var stopped atomic.Bool
	s.run = func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond) // offline publish and disconnect
		stopped.Store(true)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, nil)
	cancel()
	s.Close(time.Second)

	if !stopped.Load() {
		t.Error("Close returned before the bridge stopped")
	}
}

func TestMQTTService_CloseTimesOut(t *testing.T) {
	s := newTestMQTTService(t)

	release := make(chan struct{})
	defer close(release)
	s.run = func(ctx context.Context) error {
		<-release
		return nil
	}

	s.Start(context.Background(), nil)

	start := time.Now()
	s.Close(20 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close blocked for %v, want about the timeout", elapsed)
	}
}

func TestMQTTService_CloseWithoutStart(t *testing.T) {
	s := newTestMQTTService(t)
	if !s.wait(0) {
		t.Error("a bridge that never started has nothing to wait for")
	}
}

func TestMQTTService_FatalRunError(t *testing.T) {
	s := newTestMQTTService(t)
	s.run = func(ctx context.Context) error { return context.DeadlineExceeded }

	fatal := make(chan error, 1)
	s.Start(context.Background(), func(err error) { fatal <- err })

	select {
	case err := <-fatal:
		if err != context.DeadlineExceeded {
			t.Errorf("fatal error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("fatal handler not called")
	}
	if !s.wait(time.Second) {
		t.Error("done should be closed after run returned")
	}
}
