package platform

import (
	"context"
	"sync"

	"github.com/conduitbot/conduit/pkg/models"
)

// Listeners is the subscription set adapters embed to satisfy the
// listener half of the Adapter interface.
type Listeners struct {
	mu        sync.RWMutex
	listeners map[models.EventKind][]EventListener
}

func NewListeners() *Listeners {
	return &Listeners{listeners: make(map[models.EventKind][]EventListener)}
}

func (l *Listeners) RegisterListener(kind models.EventKind, listener EventListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners[kind] = append(l.listeners[kind], listener)
}

func (l *Listeners) UnregisterListeners(kind models.EventKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.listeners, kind)
}

// Dispatch fans the event out to every listener registered for its kind.
func (l *Listeners) Dispatch(ctx context.Context, event *models.MessageEvent) {
	l.mu.RLock()
	subs := append([]EventListener(nil), l.listeners[event.Kind]...)
	l.mu.RUnlock()
	for _, fn := range subs {
		fn(ctx, event)
	}
}
