package client

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client)

func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for configuration downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithBreaker(bc BreakerConfig) Option {
	return func(c *Client) { c.breaker = bc }
}
