package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/cloudhw/client"
	"github.com/mbocsi/cloudhw/proto"
)

// POSClient is the part of *client.Client the MCP bridge drives.
type POSClient interface {
	CreditSale(deviceName, amount string, opts ...proto.TransactionOption) error
	CreditReturn(deviceName, amount string, opts ...proto.TransactionOption) error
	CreditAuth(deviceName, amount string, opts ...proto.TransactionOption) error
	Void(deviceName, uniqueTransRef string, opts ...proto.TransactionOption) error
	DisplayText(deviceName, text string, opts ...proto.TransactionOption) error
	Ping(deviceName string) error
	Cancel(deviceName string) error
	Echo(message string)
	AnswerYes()
	AnswerNo()
	DownloadConfiguration(ctx context.Context) error
	Devices() []proto.Device
	Config() client.Config
	State() client.State
}

var (
	ErrNotAttached = errors.New("no POS client attached")
	ErrTimeout     = errors.New("timeout waiting for device response")
)

// outcome is whatever the hub sent back after a command.
type outcome struct {
	result   *proto.ResultFrame
	echo     json.RawMessage
	question json.RawMessage
	err      error
}

// Bridge exposes a POS client as MCP tools. Results from the hub are not
// correlated with commands, so the bridge keeps a single command in flight
// and treats the next outcome as its reply.
type Bridge struct {
	mcpServer *MCPServer
	pos       POSClient
	timeout   time.Duration

	inflight sync.Mutex
	outcomes chan outcome

	mu   sync.RWMutex
	last *proto.ResultFrame
}

func NewBridge(mcpServer *MCPServer, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Bridge{
		mcpServer: mcpServer,
		timeout:   timeout,
		outcomes:  make(chan outcome, 16),
	}
}

// Handlers returns the client callbacks that feed the bridge.
func (b *Bridge) Handlers() client.Handlers {
	return client.Handlers{
		OnResult: func(f proto.ResultFrame) {
			b.mu.Lock()
			b.last = &f
			b.mu.Unlock()
			b.deliver(outcome{result: &f})
		},
		OnEcho:     func(p json.RawMessage) { b.deliver(outcome{echo: p}) },
		OnQuestion: func(p json.RawMessage) { b.deliver(outcome{question: p}) },
		OnError:    func(err error) { b.deliver(outcome{err: err}) },
		OnConnected: func(info client.ConnectionInfo) {
			slog.Info("POS client connected to hub", "connection_id", info.ID)
		},
	}
}

func (b *Bridge) Attach(pos POSClient) {
	b.pos = pos
}

func (b *Bridge) deliver(o outcome) {
	select {
	case b.outcomes <- o:
	default:
		slog.Warn("Outcome channel full, dropping device response")
	}
}

func (b *Bridge) drain() {
	for {
		select {
		case o := <-b.outcomes:
			slog.Debug("Discarding stale device response", "error", o.err)
		default:
			return
		}
	}
}

// exchange runs send and waits for the next outcome.
func (b *Bridge) exchange(ctx context.Context, send func() error) (outcome, error) {
	if b.pos == nil {
		return outcome{}, ErrNotAttached
	}
	b.inflight.Lock()
	defer b.inflight.Unlock()

	b.drain()
	if err := send(); err != nil {
		return outcome{}, err
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case o := <-b.outcomes:
		return o, nil
	case <-timer.C:
		return outcome{}, ErrTimeout
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}

func (b *Bridge) lastResult() (proto.ResultFrame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return proto.ResultFrame{}, false
	}
	return *b.last, true
}

// Run registers the tools and serves MCP over stdio.
func (b *Bridge) Run() error {
	if b.pos == nil {
		return ErrNotAttached
	}
	b.RegisterTools()
	return b.mcpServer.Run()
}

func describe(o outcome) (string, error) {
	switch {
	case o.err != nil:
		return "", o.err
	case o.result != nil:
		fields, err := o.result.Fields()
		if err != nil {
			return "", fmt.Errorf("invalid result fields: %w", err)
		}
		out, err := json.Marshal(map[string]any{
			"from":   o.result.From,
			"result": fields,
		})
		return string(out), err
	case o.question != nil:
		return fmt.Sprintf("Device asks: %s. Reply with the answer tool.", o.question), nil
	case o.echo != nil:
		return fmt.Sprintf("Echo: %s", o.echo), nil
	}
	return "", errors.New("empty device response")
}
