package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type invocation struct {
	method string
	args   []any
}

// fakeTransport records calls and lets tests decide when and how Start ends.
type fakeTransport struct {
	mu        sync.Mutex
	starts    int
	endpoints []Endpoint
	invoked   []invocation
	closed    bool
	connected bool

	startErr error
	release  chan struct{}

	onReceive func(string, []byte)
	onError   func(error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

// blocking makes Start wait until unblock is called.
func (f *fakeTransport) blocking() *fakeTransport {
	f.release = make(chan struct{})
	return f
}

func (f *fakeTransport) unblock() {
	close(f.release)
}

func (f *fakeTransport) Start(ctx context.Context, endpoint Endpoint) (ConnectionInfo, error) {
	f.mu.Lock()
	f.starts++
	f.endpoints = append(f.endpoints, endpoint)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ConnectionInfo{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return ConnectionInfo{}, f.startErr
	}
	f.connected = true
	return ConnectionInfo{ID: "conn-1", Endpoint: endpoint.URL.String()}, nil
}

func (f *fakeTransport) Invoke(method string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.invoked = append(f.invoked, invocation{method: method, args: args})
	return nil
}

func (f *fakeTransport) OnReceive(fn func(from string, frame []byte)) {
	f.mu.Lock()
	f.onReceive = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnError(fn func(err error)) {
	f.mu.Lock()
	f.onError = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeTransport) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeTransport) invocations() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.invoked...)
}

func (f *fakeTransport) receive(from string, frame string) {
	f.mu.Lock()
	fn := f.onReceive
	f.mu.Unlock()
	fn(from, []byte(frame))
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.connected = false
	f.mu.Unlock()
	fn(err)
}

// errorSink collects errors reported through OnError.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func (s *errorSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Identity:       "pos-1",
		ControllerName: "controller-1",
		LocationID:     "loc-1",
		HubEndpoints:   Endpoints{Production: "http://hub.prod", Staging: "http://hub.staging"},
	}
}

func newTestClient(t *testing.T, cfg Config, ft *fakeTransport, h Handlers) *Client {
	t.Helper()
	c, err := NewClient(cfg, ft, WithHandlers(h), WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
