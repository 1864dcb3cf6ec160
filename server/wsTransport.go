package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/cloudhw/proto"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

var ErrRateLimited = errors.New("Rate limit exceeded")

const (
	defaultKeepAlive  = 20 * time.Second
	negotiationExpiry = time.Minute
)

type negotiation struct {
	token    string
	id       string
	userName string
	issued   time.Time
}

// SignalRTransport serves the persistent-connection endpoints a hub client
// uses: negotiate, connect, start, abort and ping.
type SignalRTransport struct {
	onMessage    func(Client, proto.HubInvocation) error
	onConnect    func(Client) error
	onDisconnect func(Client)

	name        string
	description string
	keepAlive   time.Duration

	cmu         sync.RWMutex
	negotiating map[string]negotiation // by connection token
	clients     map[string]*WSClient   // by connection token

	maxClients int
	connected  bool

	// per-connection invocation limit
	invokeRate  rate.Limit
	invokeBurst int
	metrics     *Metrics
}

func NewSignalRTransport() *SignalRTransport {
	return &SignalRTransport{
		keepAlive:   defaultKeepAlive,
		maxClients:  64,
		negotiating: make(map[string]negotiation),
		clients:     make(map[string]*WSClient),
		connected:   true,
		invokeRate:  rate.Inf,
	}
}

// Routes returns the handler to be mounted under /signalr.
func (t *SignalRTransport) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/negotiate", t.handleNegotiate)
	r.Get("/connect", t.handleConnect)
	r.Get("/reconnect", t.handleConnect)
	r.Get("/start", t.handleStart)
	r.Post("/abort", t.handleAbort)
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, proto.StartResponse{Response: "pong"})
	})
	return r
}

func (t *SignalRTransport) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userName := q.Get("userName")
	if userName == "" {
		http.Error(w, "userName is required", http.StatusBadRequest)
		return
	}
	if !strings.Contains(strings.ToLower(q.Get("connectionData")), strings.ToLower(proto.HubName)) {
		http.Error(w, "unknown hub", http.StatusBadRequest)
		return
	}

	n := negotiation{
		token:    uuid.NewString(),
		id:       generateClientId("ws"),
		userName: userName,
		issued:   time.Now(),
	}
	t.cmu.Lock()
	t.expireNegotiations(n.issued)
	t.negotiating[n.token] = n
	t.cmu.Unlock()

	slog.Debug("Negotiated hub connection", "user", userName, "id", n.id)
	writeJSON(w, http.StatusOK, proto.NegotiateResponse{
		URL:                     "/signalr",
		ConnectionToken:         n.token,
		ConnectionID:            n.id,
		KeepAliveTimeout:        t.keepAlive.Seconds(),
		DisconnectTimeout:       30,
		ConnectionTimeout:       110,
		TryWebSockets:           true,
		ProtocolVersion:         proto.ClientProtocol,
		TransportConnectTimeout: 5,
	})
}

// expireNegotiations must be called with cmu held.
func (t *SignalRTransport) expireNegotiations(now time.Time) {
	for token, n := range t.negotiating {
		if now.Sub(n.issued) > negotiationExpiry {
			delete(t.negotiating, token)
		}
	}
}

func (t *SignalRTransport) handleConnect(w http.ResponseWriter, r *http.Request) {
	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		slog.Error("SignalR transport used outside of the coordinator")
		http.Error(w, "hub not ready", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("transport") != "webSockets" {
		http.Error(w, "only the webSockets transport is supported", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("connectionToken")
	t.cmu.Lock()
	n, ok := t.negotiating[token]
	if ok {
		delete(t.negotiating, token)
	}
	clientCount := len(t.clients)
	t.cmu.Unlock()

	if !ok {
		http.Error(w, "unrecognized connection token", http.StatusForbidden)
		return
	}
	if clientCount >= t.maxClients {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	go t.handleConnection(conn, n, r.RemoteAddr)
}

func (t *SignalRTransport) handleConnection(conn *websocket.Conn, n negotiation, remoteAddr string) {
	slog.Info("Hub client connected", "addr", remoteAddr, "user", n.userName)

	client := NewWSClient(conn, t, n)
	done := make(chan struct{})

	defer func() {
		close(done)
		t.cmu.Lock()
		delete(t.clients, client.token)
		t.cmu.Unlock()

		t.onDisconnect(client)

		conn.Close()
		slog.Info("Hub client disconnected", "addr", remoteAddr, "user", client.Name, "id", client.Id)
	}()

	if err := t.onConnect(client); err != nil {
		slog.Error("Failed to register hub client", "addr", remoteAddr, "error", err.Error())
		return
	}

	t.cmu.Lock()
	t.clients[client.token] = client
	t.cmu.Unlock()

	if err := client.writeJSON(proto.HubMessage{C: "s-0," + client.Id, S: 1}); err != nil {
		slog.Warn("Failed to send init message", "user", client.Name, "error", err)
		return
	}
	go t.keepAliveLoop(client, done)

	limiter := rate.NewLimiter(t.invokeRate, t.invokeBurst)

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("Hub WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			break
		}
		client.Touch()

		var inv proto.HubInvocation
		if err := json.Unmarshal(messageBytes, &inv); err != nil {
			slog.Warn("Invalid JSON message received", "error", err, "data", string(messageBytes))
			continue
		}

		reply := proto.HubMessage{I: inv.I}
		if !limiter.Allow() {
			slog.Warn("Hub client exceeded its invocation rate", "user", client.Name)
			t.metrics.invocation(strings.ToLower(inv.M), "throttled")
			reply.E = ErrRateLimited.Error()
		} else if !strings.EqualFold(inv.H, proto.HubName) {
			reply.E = fmt.Sprintf("'%s' Hub could not be resolved.", inv.H)
		} else if err := t.onMessage(client, inv); err != nil {
			reply.E = err.Error()
		}
		if inv.I == "" && reply.E == "" {
			continue
		}
		if err := client.writeJSON(reply); err != nil {
			slog.Warn("Failed to reply to hub invocation", "user", client.Name, "error", err)
			break
		}
	}
}

func (t *SignalRTransport) keepAliveLoop(client *WSClient, done <-chan struct{}) {
	ticker := time.NewTicker(t.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.writeRaw([]byte("{}")); err != nil {
				return
			}
		}
	}
}

func (t *SignalRTransport) handleStart(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("connectionToken")
	t.cmu.RLock()
	_, ok := t.clients[token]
	t.cmu.RUnlock()
	if !ok {
		http.Error(w, "connection not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, proto.StartResponse{Response: "started"})
}

func (t *SignalRTransport) handleAbort(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("connectionToken")
	t.cmu.RLock()
	client, ok := t.clients[token]
	t.cmu.RUnlock()
	if ok {
		client.Close()
	}
	w.WriteHeader(http.StatusOK)
}

func (t *SignalRTransport) Shutdown() error {
	slog.Info("Shutting down SignalR transport")
	t.cmu.Lock()
	t.connected = false
	clients := make([]*WSClient, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.cmu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	return nil
}

func (t *SignalRTransport) OnMessage(fn func(Client, proto.HubInvocation) error) {
	t.onMessage = fn
}

func (t *SignalRTransport) OnConnect(fn func(Client) error) {
	t.onConnect = fn
}

func (t *SignalRTransport) OnDisconnect(fn func(Client)) {
	t.onDisconnect = fn
}

func (t *SignalRTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	clients := make(map[string]Client, len(t.clients))
	for _, c := range t.clients {
		clients[c.Id] = c
	}
	return TransportMetadata{
		Name:        t.name,
		Description: t.description,
		Protocol:    "signalr",
		Clients:     clients,
		MaxClients:  t.maxClients,
		Connected:   t.connected,
	}
}

func (t *SignalRTransport) SetName(name string) {
	t.name = name
}

func (t *SignalRTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *SignalRTransport) SetKeepAlive(d time.Duration) {
	if d > 0 {
		t.keepAlive = d
	}
}

// SetInvokeLimit caps each connection at perSecond invocations with the
// given burst. A non-positive perSecond removes the limit.
func (t *SignalRTransport) SetInvokeLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		t.invokeRate, t.invokeBurst = rate.Inf, 0
		return
	}
	if burst < 1 {
		burst = 1
	}
	t.invokeRate, t.invokeBurst = rate.Limit(perSecond), burst
}

func (t *SignalRTransport) SetMetrics(m *Metrics) {
	t.metrics = m
}

func (t *SignalRTransport) SetDescription(description string) {
	t.description = description
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write JSON response", "error", err)
	}
}
