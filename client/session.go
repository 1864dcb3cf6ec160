package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
)

// BreakerConfig controls how many consecutive connect failures open the
// circuit and how long it stays open. While open, connect attempts fail
// immediately without touching the network.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
}

var errConnectionDropped = errors.New("connection dropped while starting")

type continuation struct {
	ready func()
	fail  func(error)
}

// session owns the transport and the connection state machine.
type session struct {
	settings  *settings
	transport Transport
	breaker   *gobreaker.CircuitBreaker[ConnectionInfo]
	logger    *slog.Logger

	dispatch  func(from string, frame []byte)
	report    func(error)
	connected func(ConnectionInfo)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	attempt uint64
	lost    uint64 // attempt whose connection failed before it was reported
	pending []continuation
	hooked  bool
	closed  bool
	info    ConnectionInfo
}

func newSession(st *settings, t Transport, bc BreakerConfig, logger *slog.Logger) *session {
	maxFailures := bc.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := bc.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		settings:  st,
		transport: t,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
	}
	s.breaker = gobreaker.NewCircuitBreaker[ConnectionInfo](gobreaker.Settings{
		Name:        "hub-connect",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) Info() ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// ensureConnected runs onReady once the hub connection is live. A call made
// while a connect attempt is in flight is queued and resolved with that
// attempt. A missing controller name is reported through the error handler
// and neither continuation runs.
func (s *session) ensureConnected(onReady func(), onFailure func(error)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		onFailure(ErrClosed)
		return
	}

	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		onReady()
		return
	case StateConnecting:
		s.pending = append(s.pending, continuation{ready: onReady, fail: onFailure})
		n := len(s.pending)
		s.mu.Unlock()
		s.logger.Debug("Connect in progress, continuation queued", "pending", n)
		return
	}

	cfg := s.settings.snapshot()
	if cfg.ControllerName == "" {
		s.mu.Unlock()
		s.report(newError(KindConfiguration, msgControllerNotSet, nil))
		return
	}
	hubURL, err := cfg.HubEndpoints.ResolveURL(cfg.TestMode)
	if err != nil {
		s.mu.Unlock()
		s.report(newError(KindConfiguration, "Hub endpoint not set.", err))
		return
	}

	s.state = StateConnecting
	s.attempt++
	attempt := s.attempt
	s.pending = append(s.pending, continuation{ready: onReady, fail: onFailure})
	if !s.hooked {
		s.transport.OnReceive(s.dispatch)
		s.transport.OnError(s.handleTransportError)
		s.hooked = true
	}
	s.mu.Unlock()

	endpoint := Endpoint{URL: hubURL, Identity: cfg.Identity}
	s.logger.Info("Connecting to hub", "url", hubURL.String(), "identity", cfg.Identity, "test_mode", cfg.TestMode)
	go s.connect(attempt, endpoint, cfg.ConnectTimeout)
}

func (s *session) connect(attempt uint64, endpoint Endpoint, timeout time.Duration) {
	ctx := s.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	info, err := s.breaker.Execute(func() (ConnectionInfo, error) {
		return s.transport.Start(ctx, endpoint)
	})
	if err == nil && !s.transport.Connected() {
		err = errConnectionDropped
	}

	s.mu.Lock()
	if s.closed || attempt != s.attempt {
		s.mu.Unlock()
		s.logger.Debug("Discarding stale connect result", "attempt", attempt, "error", err)
		return
	}
	if err == nil && s.lost == attempt {
		err = errConnectionDropped
	}
	pending := s.pending
	s.pending = nil
	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()

		s.logger.Error("Failed to connect to hub", "url", endpoint.URL.String(), "error", err)
		for _, p := range pending {
			p.fail(err)
		}
		return
	}
	s.state = StateConnected
	s.info = info
	s.mu.Unlock()

	s.logger.Info("Connected to hub", "connection_id", info.ID)
	if s.connected != nil {
		s.connected(info)
	}
	for _, p := range pending {
		p.ready()
	}
}

// handleTransportError is the transport's error hook. Hub errors are passed
// through; anything else means the connection is gone. A failure during
// Connecting marks the attempt lost so connect reports it.
func (s *session) handleTransportError(err error) {
	var hubErr *HubError
	if errors.As(err, &hubErr) {
		s.report(newError(KindHub, hubErr.Message, nil))
		return
	}

	s.mu.Lock()
	wasConnected := s.state == StateConnected
	switch s.state {
	case StateConnected:
		s.state = StateDisconnected
		s.info = ConnectionInfo{}
	case StateConnecting:
		s.lost = s.attempt
	}
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	if !wasConnected {
		s.logger.Debug("Transport error before connect finished", "error", err)
		return
	}
	s.logger.Warn("Hub connection lost", "error", err)
	s.report(newError(KindConnection, msgConnectionLost, err))
}

// invoke calls method on the hub. A failure that leaves the transport
// disconnected ends the session so the next command reconnects.
func (s *session) invoke(method string, args ...any) error {
	err := s.transport.Invoke(method, args...)
	if err == nil || s.transport.Connected() {
		return err
	}

	s.mu.Lock()
	dropped := s.state == StateConnected
	if dropped {
		s.state = StateDisconnected
		s.info = ConnectionInfo{}
	}
	s.mu.Unlock()
	if dropped {
		s.logger.Warn("Hub connection lost while sending", "error", err)
	}
	return err
}

func (s *session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateDisconnected
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	err := s.transport.Close()
	for _, p := range pending {
		p.fail(ErrClosed)
	}
	s.logger.Info("Session closed")
	return err
}
