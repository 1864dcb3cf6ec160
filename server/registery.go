package server

import (
	"slices"
	"strings"
	"sync"
)

// ClientRegistry indexes connected parties by hub identity. A newer
// connection under the same name replaces the older one.
type ClientRegistry struct {
	mu    sync.RWMutex
	store map[string]Client
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{store: make(map[string]Client)}
}

func (r *ClientRegistry) Store(client Client) (replaced Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := client.Meta().Name
	replaced = r.store[name]
	r.store[name] = client
	return replaced
}

func (r *ClientRegistry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[name]
	return val, ok
}

// Delete removes client if it is still the registered party for its name.
func (r *ClientRegistry) Delete(client Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := client.Meta().Name
	if current, ok := r.store[name]; ok && current == client {
		delete(r.store, name)
		return true
	}
	return false
}

// List returns the registered clients ordered by name.
func (r *ClientRegistry) List() []Client {
	r.mu.RLock()
	clients := make([]Client, 0, len(r.store))
	for _, client := range r.store {
		clients = append(clients, client)
	}
	r.mu.RUnlock()

	slices.SortFunc(clients, func(a, b Client) int {
		return strings.Compare(a.Meta().Name, b.Meta().Name)
	})
	return clients
}
