package events

import (
	"sync"

	"tradefloor/internal/models"
)

type Topic string

const (
	TopicXPChanged          Topic = "xp-changed"
	TopicLevelUp            Topic = "level-up"
	TopicEntitlementChanged Topic = "entitlement-changed"
)

type XPChanged struct {
	Total int
	Delta int
}

type LevelUp struct {
	Level int
}

type EntitlementChanged struct {
	Entitlement models.Entitlement
}

// Bus is a narrow in-process publish/subscribe surface for
// cross-cutting events, replacing ambient global listeners.
// Handlers run synchronously on the publisher's goroutine and must
// not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic]map[int]func(any)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]func(any))}
}

// Subscribe registers a handler for a topic and returns an
// unsubscribe function.
func (b *Bus) Subscribe(topic Topic, fn func(payload any)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(any))
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	handlers := make([]func(any), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(payload)
	}
}
