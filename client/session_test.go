package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentSendsShareOneConnectAttempt(t *testing.T) {
	ft := newFakeTransport().blocking()
	c := newTestClient(t, testConfig(), ft, Handlers{})

	c.Echo("one")
	c.Echo("two")
	c.Echo("three")

	waitFor(t, func() bool { return ft.startCount() == 1 })
	assert.Equal(t, StateConnecting, c.State())
	assert.Empty(t, ft.invocations())

	ft.unblock()
	waitFor(t, func() bool { return len(ft.invocations()) == 3 })

	assert.Equal(t, 1, ft.startCount())
	assert.Equal(t, StateConnected, c.State())
	for _, inv := range ft.invocations() {
		assert.Equal(t, "send", inv.method)
		require.Len(t, inv.args, 3)
		assert.Equal(t, "controller-1", inv.args[0])
		assert.Equal(t, "loc-1", inv.args[1])
	}
}

func TestFailedConnectFailsEveryQueuedCommand(t *testing.T) {
	ft := newFakeTransport().blocking()
	ft.startErr = errors.New("dial refused")
	sink := &errorSink{}
	c := newTestClient(t, testConfig(), ft, Handlers{OnError: sink.add})

	c.Echo("one")
	c.Echo("two")
	ft.unblock()

	waitFor(t, func() bool { return sink.count() == 2 })
	for _, err := range sink.all() {
		assert.ErrorIs(t, err, ErrConnection)
		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, msgErrorConnecting, cerr.Message)
	}
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, ft.invocations())
}

func TestReconnectAfterFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.startErr = errors.New("dial refused")
	sink := &errorSink{}
	c := newTestClient(t, testConfig(), ft, Handlers{OnError: sink.add})

	c.Echo("first")
	waitFor(t, func() bool { return sink.count() == 1 })

	ft.mu.Lock()
	ft.startErr = nil
	ft.mu.Unlock()

	c.Echo("second")
	waitFor(t, func() bool { return len(ft.invocations()) == 1 })
	assert.Equal(t, 2, ft.startCount())
}

func TestMissingControllerNeverTouchesTransport(t *testing.T) {
	cfg := testConfig()
	cfg.ControllerName = ""
	ft := newFakeTransport()
	sink := &errorSink{}
	c := newTestClient(t, cfg, ft, Handlers{OnError: sink.add})

	require.NoError(t, c.CreditSale("Front", "1.00"))

	require.Equal(t, 1, sink.count())
	err := sink.all()[0]
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "ControllerName not set.", err.Error())
	assert.Equal(t, 0, ft.startCount())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectionLossReturnsToDisconnected(t *testing.T) {
	ft := newFakeTransport()
	sink := &errorSink{}
	c := newTestClient(t, testConfig(), ft, Handlers{OnError: sink.add})

	c.Echo("hello")
	waitFor(t, func() bool { return c.State() == StateConnected })

	ft.fail(errors.New("read: connection reset"))

	assert.Equal(t, StateDisconnected, c.State())
	require.Equal(t, 1, sink.count())
	assert.ErrorIs(t, sink.all()[0], ErrConnection)

	c.Echo("again")
	waitFor(t, func() bool { return len(ft.invocations()) == 2 })
	assert.Equal(t, 2, ft.startCount())
}

func TestHubErrorKeepsSession(t *testing.T) {
	ft := newFakeTransport()
	sink := &errorSink{}
	c := newTestClient(t, testConfig(), ft, Handlers{OnError: sink.add})

	c.Echo("hello")
	waitFor(t, func() bool { return c.State() == StateConnected })

	ft.mu.Lock()
	onError := ft.onError
	ft.mu.Unlock()
	onError(&HubError{Message: "Unknown controller"})

	assert.Equal(t, StateConnected, c.State())
	require.Equal(t, 1, sink.count())
	assert.ErrorIs(t, sink.all()[0], ErrHub)
	assert.Equal(t, "Unknown controller", sink.all()[0].Error())
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	ft := newFakeTransport()
	ft.startErr = errors.New("dial refused")
	sink := &errorSink{}
	c, err := NewClient(testConfig(), ft,
		WithHandlers(Handlers{OnError: sink.add}),
		WithLogger(discardLogger()),
		WithBreaker(BreakerConfig{MaxFailures: 2, Timeout: time.Minute}),
	)
	require.NoError(t, err)
	defer c.Close()

	for i := 1; i <= 4; i++ {
		c.Echo("x")
		waitFor(t, func() bool { return sink.count() == i })
	}

	// The last two attempts are rejected by the open breaker.
	assert.Equal(t, 2, ft.startCount())
}

func TestCloseFailsPendingAndLaterCommands(t *testing.T) {
	ft := newFakeTransport().blocking()
	sink := &errorSink{}
	c, err := NewClient(testConfig(), ft, WithHandlers(Handlers{OnError: sink.add}), WithLogger(discardLogger()))
	require.NoError(t, err)

	c.Echo("queued")
	waitFor(t, func() bool { return ft.startCount() == 1 })

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	waitFor(t, func() bool { return sink.count() == 1 })
	c.Echo("after close")
	require.Equal(t, 2, sink.count())

	for _, err := range sink.all() {
		assert.ErrorIs(t, err, ErrConnection)
		assert.ErrorIs(t, err, ErrClosed)
	}
	ft.mu.Lock()
	assert.True(t, ft.closed)
	ft.mu.Unlock()
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, ft.invocations())
}

func TestTestModeSelectsHubEndpoint(t *testing.T) {
	for _, tc := range []struct {
		testMode bool
		want     string
	}{
		{false, "http://hub.prod"},
		{true, "http://hub.staging"},
	} {
		cfg := testConfig()
		cfg.TestMode = tc.testMode
		ft := newFakeTransport()
		c := newTestClient(t, cfg, ft, Handlers{})

		c.Echo("hi")
		waitFor(t, func() bool { return len(ft.invocations()) == 1 })

		ft.mu.Lock()
		got := ft.endpoints[0]
		ft.mu.Unlock()
		assert.Equal(t, tc.want, got.URL.String())
		assert.Equal(t, "pos-1", got.Identity)
	}
}

// droppingTransport loses the connection inside Start, after the socket is
// up but before Start returns.
type droppingTransport struct {
	*fakeTransport
	drops int
}

func (d *droppingTransport) Start(ctx context.Context, endpoint Endpoint) (ConnectionInfo, error) {
	info, err := d.fakeTransport.Start(ctx, endpoint)
	if err != nil {
		return info, err
	}
	d.mu.Lock()
	drop := d.drops > 0
	if drop {
		d.drops--
	}
	d.mu.Unlock()
	if drop {
		d.fail(errors.New("read: connection reset by peer"))
	}
	return info, nil
}

func TestConnectionLostWhileStartingIsAFailedAttempt(t *testing.T) {
	dt := &droppingTransport{fakeTransport: newFakeTransport(), drops: 1}
	sink := &errorSink{}
	c, err := NewClient(testConfig(), dt, WithHandlers(Handlers{OnError: sink.add}), WithLogger(discardLogger()))
	require.NoError(t, err)
	defer c.Close()

	c.Echo("one")
	waitFor(t, func() bool { return sink.count() == 1 })

	assert.Equal(t, StateDisconnected, c.State())
	assert.ErrorIs(t, sink.all()[0], ErrConnection)
	var cerr *Error
	require.ErrorAs(t, sink.all()[0], &cerr)
	assert.Equal(t, msgErrorConnecting, cerr.Message)
	assert.Empty(t, dt.invocations())

	c.Echo("two")
	waitFor(t, func() bool { return len(dt.invocations()) == 1 })
	assert.Equal(t, 2, dt.startCount())
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 1, sink.count())
}

func TestFailedSendOnDeadTransportReconnects(t *testing.T) {
	ft := newFakeTransport()
	sink := &errorSink{}
	c := newTestClient(t, testConfig(), ft, Handlers{OnError: sink.add})

	c.Echo("hello")
	waitFor(t, func() bool { return len(ft.invocations()) == 1 })

	// The socket dies without the error hook firing.
	ft.mu.Lock()
	ft.connected = false
	ft.mu.Unlock()

	c.Echo("lost")
	require.Equal(t, 1, sink.count())
	var cerr *Error
	require.ErrorAs(t, sink.all()[0], &cerr)
	assert.Equal(t, msgSendFailed, cerr.Message)
	assert.Equal(t, StateDisconnected, c.State())

	c.Echo("again")
	waitFor(t, func() bool { return len(ft.invocations()) == 2 })
	assert.Equal(t, 2, ft.startCount())
}

func TestSendsWhileConnectedReuseTheConnection(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, testConfig(), ft, Handlers{})

	c.Echo("first")
	waitFor(t, func() bool { return c.State() == StateConnected })

	const more = 5
	for i := 0; i < more; i++ {
		c.Echo("again")
	}

	waitFor(t, func() bool { return len(ft.invocations()) == more+1 })
	assert.Equal(t, 1, ft.startCount())
	assert.Equal(t, StateConnected, c.State())
}
