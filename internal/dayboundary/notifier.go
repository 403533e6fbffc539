package dayboundary

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Subscriber is called once per refreshed day
type Subscriber func(ctx context.Context, day Day) error

// Notifier fans a new day out to every subscriber
type Notifier struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewNotifier creates a notifier with no subscribers
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn for every future Publish
func (n *Notifier) Subscribe(fn Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

// Publish calls every subscriber in registration order. A failing subscriber
// does not stop the rest; their errors are joined.
func (n *Notifier) Publish(ctx context.Context, day Day) error {
	n.mu.RLock()
	subs := append([]Subscriber(nil), n.subs...)
	n.mu.RUnlock()

	var errs []error
	for i, fn := range subs {
		if err := fn(ctx, day); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
