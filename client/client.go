package client

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mbocsi/cloudhw/proto"
)

// Config is the caller-supplied identity and routing for one Client.
type Config struct {
	// Identity is the unique name this client connects to the hub as.
	Identity string
	// ControllerName is the hub name of the hardware controller commands go to.
	// It may be left empty and filled in by DownloadConfiguration.
	ControllerName string
	LocationID     string
	TestMode       bool

	// LegacyEnvelope sends Data as a JSON string and Echo text in Data.
	LegacyEnvelope bool
	// APIKey, when set, is sent as the ApiKey header on configuration requests.
	APIKey string
	// ConfigPath is the configuration resource name, "Config" by default.
	ConfigPath string
	// ConnectTimeout bounds one connect attempt. Zero waits indefinitely.
	ConnectTimeout time.Duration

	HubEndpoints    Endpoints
	ConfigEndpoints Endpoints
}

func (c *Config) applyDefaults() {
	if c.HubEndpoints == (Endpoints{}) {
		c.HubEndpoints = DefaultHubEndpoints()
	}
	if c.ConfigEndpoints == (Endpoints{}) {
		c.ConfigEndpoints = DefaultConfigEndpoints()
	}
	if c.ConfigPath == "" {
		c.ConfigPath = DefaultConfigPath
	}
}

// settings is the mutable configuration shared by the facade and the session.
type settings struct {
	mu      sync.RWMutex
	cfg     Config
	devices []proto.Device
}

func (s *settings) snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *settings) replaceConfiguration(controller string, devices []proto.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ControllerName = controller
	s.devices = devices
}

type Client struct {
	settings   *settings
	session    *session
	dispatcher *dispatcher
	codec      proto.Codec
	handlers   Handlers
	httpClient *http.Client
	breaker    BreakerConfig
	logger     *slog.Logger
}

// NewClient creates a client for cfg. The hub connection is opened lazily by
// the first command. A nil transport selects a HubTransport.
func NewClient(cfg Config, t Transport, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, newError(KindConfiguration, "Identity not set.", nil)
	}
	cfg.applyDefaults()

	c := &Client{
		settings:   &settings{cfg: cfg},
		codec:      proto.Codec{Legacy: cfg.LegacyEnvelope},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("identity", cfg.Identity)

	if t == nil {
		t = NewHubTransport(c.logger)
	}

	c.dispatcher = &dispatcher{
		codec:    c.codec,
		handlers: c.handlers,
		report:   c.reportError,
		logger:   c.logger,
	}
	c.session = newSession(c.settings, t, c.breaker, c.logger)
	c.session.dispatch = c.dispatcher.dispatch
	c.session.report = c.reportError
	c.session.connected = c.notifyConnected

	return c, nil
}

// Send delivers cmd to the configured controller, connecting first if
// needed. It does not wait for the outcome: results arrive through OnResult
// and failures through OnError.
func (c *Client) Send(cmd proto.Command) {
	cfg := c.settings.snapshot()
	if cfg.ControllerName == "" {
		c.reportError(newError(KindConfiguration, msgControllerNotSet, nil))
		return
	}

	cmd.TestMode = cfg.TestMode
	payload, err := c.codec.Encode(cmd)
	if err != nil {
		c.reportError(newError(KindProtocol, "Unable to encode command.", err))
		return
	}

	c.session.ensureConnected(func() {
		if err := c.session.invoke("send", cfg.ControllerName, cfg.LocationID, string(payload)); err != nil {
			c.reportError(newError(KindConnection, msgSendFailed, err))
			return
		}
		c.logger.Debug("Command sent", "action", cmd.Action, "controller", cfg.ControllerName, "size", len(payload))
	}, func(err error) {
		if errors.Is(err, ErrClosed) {
			c.reportError(newError(KindConnection, "Client closed.", err))
			return
		}
		c.reportError(newError(KindConnection, msgErrorConnecting, err))
	})
}

func (c *Client) send(cmd proto.Command, err error) error {
	if err != nil {
		return err
	}
	c.Send(cmd)
	return nil
}

func (c *Client) testMode() bool {
	return c.settings.snapshot().TestMode
}

func (c *Client) CreditSale(deviceName, amount string, opts ...proto.TransactionOption) error {
	return c.send(proto.CreditSale(c.testMode(), deviceName, amount, opts...))
}

func (c *Client) CreditReturn(deviceName, amount string, opts ...proto.TransactionOption) error {
	return c.send(proto.CreditReturn(c.testMode(), deviceName, amount, opts...))
}

func (c *Client) CreditAuth(deviceName, amount string, opts ...proto.TransactionOption) error {
	return c.send(proto.CreditAuth(c.testMode(), deviceName, amount, opts...))
}

func (c *Client) CreditForce(deviceName, amount, voiceAuthCode string, opts ...proto.TransactionOption) error {
	return c.send(proto.CreditForce(c.testMode(), deviceName, amount, voiceAuthCode, opts...))
}

func (c *Client) CreditAddTip(deviceName, amount, uniqueTransRef string, opts ...proto.TransactionOption) error {
	return c.send(proto.CreditAddTip(c.testMode(), deviceName, amount, uniqueTransRef, opts...))
}

func (c *Client) SaveCreditCard(deviceName string, opts ...proto.TransactionOption) error {
	return c.send(proto.SaveCreditCard(c.testMode(), deviceName, opts...))
}

func (c *Client) DebitSale(deviceName, amount string, opts ...proto.TransactionOption) error {
	return c.send(proto.DebitSale(c.testMode(), deviceName, amount, opts...))
}

func (c *Client) Void(deviceName, uniqueTransRef string, opts ...proto.TransactionOption) error {
	return c.send(proto.Void(c.testMode(), deviceName, uniqueTransRef, opts...))
}

func (c *Client) RequestSignature(deviceName string, opts ...proto.TransactionOption) error {
	return c.send(proto.RequestSignature(c.testMode(), deviceName, opts...))
}

func (c *Client) DisplayText(deviceName, text string, opts ...proto.TransactionOption) error {
	return c.send(proto.DisplayText(c.testMode(), deviceName, text, opts...))
}

func (c *Client) Ping(deviceName string) error {
	return c.send(proto.Ping(c.testMode(), deviceName))
}

func (c *Client) Cancel(deviceName string) error {
	return c.send(proto.Cancel(c.testMode(), deviceName))
}

func (c *Client) Echo(message string) {
	c.Send(proto.Echo(message))
}

// AnswerYes replies to the pending Question from the device side.
func (c *Client) AnswerYes() {
	c.Send(proto.AnswerYes())
}

func (c *Client) AnswerNo() {
	c.Send(proto.AnswerNo())
}

func (c *Client) State() State {
	return c.session.State()
}

func (c *Client) Connection() ConnectionInfo {
	return c.session.Info()
}

func (c *Client) Config() Config {
	return c.settings.snapshot()
}

// Devices returns the device list from the last configuration download,
// sorted by name.
func (c *Client) Devices() []proto.Device {
	c.settings.mu.RLock()
	defer c.settings.mu.RUnlock()
	return slices.Clone(c.settings.devices)
}

func (c *Client) SetControllerName(name string) {
	c.settings.mu.Lock()
	c.settings.cfg.ControllerName = name
	c.settings.mu.Unlock()
}

func (c *Client) SetLocationID(id string) {
	c.settings.mu.Lock()
	c.settings.cfg.LocationID = id
	c.settings.mu.Unlock()
}

// Close disconnects from the hub. Commands sent afterwards are reported as
// connection errors.
func (c *Client) Close() error {
	return c.session.close()
}

func (c *Client) notifyConnected(info ConnectionInfo) {
	if c.handlers.OnConnected == nil {
		return
	}
	c.dispatcher.invoke("connected", func() { c.handlers.OnConnected(info) })
}

func (c *Client) reportError(err error) {
	c.logger.Debug("Reporting error", "error", err)
	if c.handlers.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Error handler panicked", "panic", r)
		}
	}()
	c.handlers.OnError(err)
}
