package client

import (
	"context"
	"net/url"
)

// Transport is a persistent, message-oriented connection to the hub.
//
// Hooks are registered before the first Start and stay in place across
// restarts. OnReceive is called from a single goroutine, in arrival order.
// OnError reports connection failures after a successful Start; a *HubError
// passed to OnError means the hub rejected something but the connection is
// still up.
type Transport interface {
	Start(ctx context.Context, endpoint Endpoint) (ConnectionInfo, error)
	Invoke(method string, args ...any) error
	OnReceive(fn func(from string, frame []byte))
	OnError(fn func(err error))
	Connected() bool
	Close() error
}

// Endpoint describes where and as whom to connect.
type Endpoint struct {
	URL      *url.URL
	Identity string
}

// ConnectionInfo is handed to OnConnected once the hub acknowledges the start.
type ConnectionInfo struct {
	ID       string
	Endpoint string
}
