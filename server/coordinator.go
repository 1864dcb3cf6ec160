package server

import (
	"log/slog"
)

// Coordinator wires transports to the registry and the broker.
type Coordinator struct {
	Registry   *ClientRegistry
	Broker     *Broker
	Transports []Transport
	Metrics    *Metrics // optional
}

func NewCoordinator(registry *ClientRegistry, broker *Broker) *Coordinator {
	return &Coordinator{Registry: registry, Broker: broker}
}

func (c *Coordinator) RegisterTransport(t Transport) {
	t.OnMessage(c.Handle)
	t.OnConnect(c.RegisterClient)
	t.OnDisconnect(c.UnregisterClient)
	c.Transports = append(c.Transports, t)
}

func (c *Coordinator) RegisterClient(client Client) error {
	if replaced := c.Registry.Store(client); replaced != nil {
		slog.Warn("Replaced existing client with the same name", "name", client.Meta().Name, "old", replaced.Meta().Id)
	}
	slog.Info("Registered client", "name", client.Meta().Name, "id", client.Meta().Id)
	c.Metrics.connected()
	return nil
}

func (c *Coordinator) UnregisterClient(client Client) {
	if c.Registry.Delete(client) {
		slog.Info("Unregistered client", "name", client.Meta().Name, "id", client.Meta().Id)
	}
}

func (c *Coordinator) Shutdown() {
	for _, t := range c.Transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down transport", "error", err.Error())
		}
	}
}
