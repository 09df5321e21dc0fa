package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestCancelScopeStopsOnlyThatScope(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Shutdown()

	var platformStopped, providerStopped atomic.Bool
	started := make(chan struct{}, 2)

	m.Go(ScopePlatform, func(ctx context.Context) {
		started <- struct{}{}
		<-ctx.Done()
		platformStopped.Store(true)
	})
	m.Go(ScopeProvider, func(ctx context.Context) {
		started <- struct{}{}
		<-ctx.Done()
		providerStopped.Store(true)
	})
	<-started
	<-started

	m.CancelScope(ScopePlatform)

	deadline := time.After(time.Second)
	for !platformStopped.Load() {
		select {
		case <-deadline:
			t.Fatal("platform task did not stop")
		case <-time.After(time.Millisecond):
		}
	}
	if providerStopped.Load() {
		t.Fatal("provider task stopped by platform cancel")
	}
}

func TestScopeRestartsAfterCancel(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Shutdown()

	m.CancelScope(ScopePlugin)
	ctx := m.Context(ScopePlugin)
	if ctx.Err() != nil {
		t.Fatal("new scope context already cancelled")
	}
}

func TestShutdownWaitsForTasks(t *testing.T) {
	m := NewManager(context.Background())
	var done atomic.Bool
	m.Go(ScopeApplication, func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		done.Store(true)
	})
	m.Shutdown()
	if !done.Load() {
		t.Fatal("Shutdown returned before task finished")
	}
}
