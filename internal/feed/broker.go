package feed

import (
	"context"
	"sync"
)

// SubscriberBuffer is the per-subscriber queue length of the Broker.
const SubscriberBuffer = 64

// Broker is an in-process pub/sub for changes, keyed by game ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Change]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan Change]struct{}),
	}
}

// Subscribe returns a subscription receiving every change of the game.
func (b *Broker) Subscribe(_ context.Context, gameID string) (*Subscription, error) {
	ch := make(chan Change, SubscriberBuffer)
	b.mu.Lock()
	if b.subs[gameID] == nil {
		b.subs[gameID] = make(map[chan Change]struct{})
	}
	b.subs[gameID][ch] = struct{}{}
	b.mu.Unlock()

	return newSubscription(ch, func() { b.unsubscribe(gameID, ch) }), nil
}

func (b *Broker) unsubscribe(gameID string, ch chan Change) {
	b.mu.Lock()
	if _, ok := b.subs[gameID][ch]; ok {
		delete(b.subs[gameID], ch)
		close(ch)
	}
	if len(b.subs[gameID]) == 0 {
		delete(b.subs, gameID)
	}
	b.mu.Unlock()
}

// Publish sends c to all subscribers of its game.
func (b *Broker) Publish(_ context.Context, c Change) error {
	b.mu.RLock()
	for ch := range b.subs[c.GameID] {
		select {
		case ch <- c:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
	return nil
}

// Subscribers returns the number of live subscriptions for a game.
func (b *Broker) Subscribers(gameID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[gameID])
}
