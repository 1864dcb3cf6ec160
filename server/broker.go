package server

import (
	"fmt"
	"log/slog"
	"sync"
)

// Delivery is one routed send(target, location, message) call.
type Delivery struct {
	From     string
	To       string
	Location string
	Message  string
}

// Broker routes messages between registered parties and keeps per-location
// delivery counts.
type Broker struct {
	registry *ClientRegistry

	mu        sync.RWMutex
	counts    map[string]int // location -> delivered messages
	observers []func(Delivery)
}

func NewBroker(registry *ClientRegistry) *Broker {
	return &Broker{
		registry: registry,
		counts:   make(map[string]int),
	}
}

// Observe registers fn to be told about every successful delivery.
func (b *Broker) Observe(fn func(Delivery)) {
	b.mu.Lock()
	b.observers = append(b.observers, fn)
	b.mu.Unlock()
}

func (b *Broker) Publish(d Delivery) error {
	target, ok := b.registry.Get(d.To)
	if !ok {
		slog.Warn("Delivery target is not connected", "from", d.From, "to", d.To, "location", d.Location)
		return fmt.Errorf("'%s' is not connected", d.To)
	}

	if err := target.Send(d.From, d.Message); err != nil {
		slog.Warn("There was an error delivering a message", "from", d.From, "to", d.To, "error", err.Error())
		return fmt.Errorf("delivery to '%s' failed: %w", d.To, err)
	}

	b.mu.Lock()
	b.counts[d.Location]++
	observers := b.observers
	b.mu.Unlock()

	slog.Debug("Message delivered",
		"from", d.From,
		"to", d.To,
		"location", d.Location,
		"size", len(d.Message),
	)
	for _, fn := range observers {
		fn(d)
	}
	return nil
}

func (b *Broker) Delivered(location string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts[location]
}
