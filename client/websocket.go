package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/cloudhw/proto"
)

var (
	ErrNotConnected    = errors.New("transport is not connected")
	ErrTransportClosed = errors.New("transport is closed")
)

// HubTransport connects to the device hub with the SignalR persistent
// connection protocol over a WebSocket.
type HubTransport struct {
	dialer     *websocket.Dialer
	httpClient *http.Client
	logger     *slog.Logger

	onReceive func(from string, frame []byte)
	onError   func(error)

	mu           sync.Mutex
	conn         *websocket.Conn
	connectionID string
	closed       bool

	writeMu   sync.Mutex
	connected atomic.Bool
	nextID    atomic.Uint64
}

func NewHubTransport(logger *slog.Logger) *HubTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &HubTransport{
		dialer:     &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		onReceive:  func(string, []byte) {},
		onError:    func(error) {},
	}
}

func (t *HubTransport) OnReceive(fn func(from string, frame []byte)) {
	t.onReceive = fn
}

func (t *HubTransport) OnError(fn func(err error)) {
	t.onError = fn
}

func (t *HubTransport) Connected() bool {
	return t.connected.Load()
}

// Start negotiates, opens the socket, waits for the hub's init message and
// confirms the start. It returns once the hub has acknowledged the connection.
func (t *HubTransport) Start(ctx context.Context, endpoint Endpoint) (ConnectionInfo, error) {
	if endpoint.URL == nil {
		return ConnectionInfo{}, errors.New("hub endpoint is required")
	}
	if t.connected.Load() {
		return ConnectionInfo{}, errors.New("transport already started")
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ConnectionInfo{}, ErrTransportClosed
	}

	base := endpoint.URL.JoinPath("signalr")
	params := url.Values{}
	params.Set("clientProtocol", proto.ClientProtocol)
	params.Set("connectionData", connectionData())
	params.Set("userName", endpoint.Identity)

	var neg proto.NegotiateResponse
	if err := t.getJSON(ctx, base.JoinPath("negotiate"), params, &neg); err != nil {
		return ConnectionInfo{}, fmt.Errorf("negotiate: %w", err)
	}
	if neg.ConnectionToken == "" {
		return ConnectionInfo{}, errors.New("negotiate: hub returned no connection token")
	}

	params.Set("transport", "webSockets")
	params.Set("connectionToken", neg.ConnectionToken)

	wsURL := *base.JoinPath("connect")
	switch wsURL.Scheme {
	case "https", "wss":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.RawQuery = params.Encode()

	conn, _, err := t.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("failed to connect to hub WebSocket: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := awaitInit(conn); err != nil {
		conn.Close()
		return ConnectionInfo{}, err
	}

	var started proto.StartResponse
	if err := t.getJSON(ctx, base.JoinPath("start"), params, &started); err != nil {
		conn.Close()
		return ConnectionInfo{}, fmt.Errorf("start: %w", err)
	}
	if started.Response != "started" {
		conn.Close()
		return ConnectionInfo{}, fmt.Errorf("start: unexpected response %q", started.Response)
	}
	if !stop() {
		// ctx ended between the start reply and now; the socket is gone.
		return ConnectionInfo{}, ctx.Err()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ConnectionInfo{}, ErrTransportClosed
	}
	t.conn = conn
	t.connectionID = neg.ConnectionID
	t.connected.Store(true)
	t.mu.Unlock()

	go t.readLoop(conn)

	return ConnectionInfo{ID: neg.ConnectionID, Endpoint: endpoint.URL.String()}, nil
}

func connectionData() string {
	return `[{"name":"` + strings.ToLower(proto.HubName) + `"}]`
}

func awaitInit(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for hub init: %w", err)
		}
		var msg proto.HubMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("invalid hub init message: %w", err)
		}
		if msg.S == 1 {
			return nil
		}
	}
}

func (t *HubTransport) getJSON(ctx context.Context, u *url.URL, params url.Values, out any) error {
	target := *u
	target.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s: %s", res.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (t *HubTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.connected.Store(false)
			t.mu.Lock()
			closed := t.closed
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			if closed {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				t.logger.Warn("Hub WebSocket connection error", "error", err)
			}
			t.onError(fmt.Errorf("connection closed: %w", err))
			return
		}
		t.handleMessage(data)
	}
}

func (t *HubTransport) handleMessage(data []byte) {
	var msg proto.HubMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Warn("Invalid JSON from hub", "error", err.Error(), "data", string(data))
		return
	}

	if msg.E != "" {
		t.onError(&HubError{Message: msg.E})
		return
	}

	for _, inv := range msg.M {
		if !strings.EqualFold(inv.H, proto.HubName) {
			t.logger.Debug("Ignoring invocation for unknown hub", "hub", inv.H, "method", inv.M)
			continue
		}
		switch strings.ToLower(inv.M) {
		case "send":
			if len(inv.A) < 2 {
				t.logger.Warn("Hub send invocation with too few arguments", "args", len(inv.A))
				continue
			}
			t.onReceive(proto.StringArg(inv.A[0]), proto.FrameArg(inv.A[1]))
		case "error":
			text := "unknown hub error"
			if len(inv.A) > 0 {
				text = proto.StringArg(inv.A[0])
			}
			t.onError(&HubError{Message: text})
		default:
			t.logger.Debug("Ignoring unhandled hub method", "method", inv.M)
		}
	}
}

// Invoke calls a server method on the hub without waiting for its reply.
// Errors in the reply arrive later through OnError as a *HubError.
func (t *HubTransport) Invoke(method string, args ...any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || !t.connected.Load() {
		return ErrNotConnected
	}

	encoded := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("failed to marshal argument: %w", err)
		}
		encoded = append(encoded, b)
	}
	data, err := json.Marshal(proto.HubInvocation{
		H: proto.HubName,
		M: method,
		A: encoded,
		I: strconv.FormatUint(t.nextID.Add(1)-1, 10),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal invocation: %w", err)
	}

	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send hub invocation: %w", err)
	}

	t.logger.Debug("Sent hub invocation", "method", method, "size", len(data))
	return nil
}

// Close ends the connection for good; a closed transport cannot be started
// again.
func (t *HubTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.closed = true
	t.mu.Unlock()
	t.connected.Store(false)

	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	if err != nil {
		t.logger.Warn("Failed to send close message", "error", err)
	}

	return conn.Close()
}
