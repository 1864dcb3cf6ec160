package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/cloudhw/proto"
)

type Transport interface {
	OnMessage(func(Client, proto.HubInvocation) error)
	OnConnect(func(Client) error)
	OnDisconnect(func(Client))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	Name        string // Human-friendly name, e.g., "SignalR WebSocket"
	Protocol    string // Protocol name, e.g., "signalr"
	Description string // Optional, short purpose/use case

	Clients    map[string]Client // Current active clients by connection id
	MaxClients int               // Max allowed clients (if applicable, else 0)
	Connected  bool              // Whether the transport is currently serving
}

// ClientMetadata describes one party connected to the hub. Name is the
// identity other parties address it by.
type ClientMetadata struct {
	Id          string
	Name        string
	ConnectedAt time.Time
	LastSeen    time.Time
	Transport   Transport
	Mu          sync.RWMutex
}

func (m *ClientMetadata) Touch() {
	m.Mu.Lock()
	m.LastSeen = time.Now()
	m.Mu.Unlock()
}

// Client is a hub party that can receive send(from, message) calls.
type Client interface {
	Send(from string, message string) error
	Meta() *ClientMetadata
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
