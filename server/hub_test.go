package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mbocsi/cloudhw/client"
	"github.com/mbocsi/cloudhw/proto"
	"github.com/mbocsi/cloudhw/server"
)

type events struct {
	results   chan proto.ResultFrame
	echoes    chan json.RawMessage
	questions chan json.RawMessage
	errs      chan error
}

func newEvents() *events {
	return &events{
		results:   make(chan proto.ResultFrame, 8),
		echoes:    make(chan json.RawMessage, 8),
		questions: make(chan json.RawMessage, 8),
		errs:      make(chan error, 8),
	}
}

func (e *events) handlers() client.Handlers {
	return client.Handlers{
		OnResult:   func(f proto.ResultFrame) { e.results <- f },
		OnEcho:     func(p json.RawMessage) { e.echoes <- p },
		OnQuestion: func(p json.RawMessage) { e.questions <- p },
		OnError:    func(err error) { e.errs <- err },
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	var zero T
	return zero
}

func startHub(t *testing.T, configure func(*server.HubServer)) *httptest.Server {
	t.Helper()
	hub := server.NewHubServer(server.HubServerOptions{
		Locations: []server.Location{{
			ID:             "loc-1",
			ControllerName: "controller-1",
			Devices: []proto.Device{
				{Name: "Lane2", Attributes: map[string]json.RawMessage{"Model": json.RawMessage(`"Ingenico"`)}},
				{Name: "Lane1", Attributes: map[string]json.RawMessage{"Model": json.RawMessage(`"Verifone"`)}},
			},
		}},
		Simulate: true,
	})
	if configure != nil {
		configure(hub)
	}
	ctx, cancel := context.WithCancel(context.Background())
	hub.RunSimulators(ctx)
	ts := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		cancel()
		hub.Shutdown(context.Background())
		ts.Close()
	})
	return ts
}

func newHubClient(t *testing.T, ts *httptest.Server, ev *events, mutate func(*client.Config)) *client.Client {
	t.Helper()
	cfg := client.Config{
		Identity:        "pos-1",
		LocationID:      "loc-1",
		TestMode:        true,
		ConnectTimeout:  5 * time.Second,
		HubEndpoints:    client.Endpoints{Production: ts.URL, Staging: ts.URL},
		ConfigEndpoints: client.Endpoints{Production: ts.URL, Staging: ts.URL},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := client.NewClient(cfg, nil, client.WithHandlers(ev.handlers()), client.WithLogger(logger))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHub_ClientRoundTrip(t *testing.T) {
	ts := startHub(t, nil)
	ev := newEvents()
	c := newHubClient(t, ts, ev, nil)

	if err := c.DownloadConfiguration(context.Background()); err != nil {
		t.Fatalf("DownloadConfiguration: %v", err)
	}
	if got := c.Config().ControllerName; got != "controller-1" {
		t.Fatalf("Expected controller-1, got %s", got)
	}
	devices := c.Devices()
	if len(devices) != 2 || devices[0].Name != "Lane1" || devices[1].Name != "Lane2" {
		t.Fatalf("Expected sorted devices, got %+v", devices)
	}

	c.Echo("hello")
	if echo := receive(t, ev.echoes); string(echo) != `"hello"` {
		t.Errorf("Unexpected echo payload %s", echo)
	}
	if c.State() != client.StateConnected {
		t.Errorf("Expected connected state, got %s", c.State())
	}

	if err := c.CreditSale("Lane1", "10.00", proto.WithCashier("amy")); err != nil {
		t.Fatal(err)
	}
	res := receive(t, ev.results)
	if res.From != "controller-1" {
		t.Errorf("Expected result from controller-1, got %s", res.From)
	}
	fields, err := res.Fields()
	if err != nil {
		t.Fatal(err)
	}
	if fields["Approved"] != true || fields["Amount"] != "10.00" || fields["TestMode"] != true {
		t.Errorf("Unexpected result fields %v", fields)
	}
}

func TestHub_SignatureQuestionAndAnswer(t *testing.T) {
	ts := startHub(t, nil)
	ev := newEvents()
	c := newHubClient(t, ts, ev, func(cfg *client.Config) { cfg.ControllerName = "controller-1" })

	if err := c.RequestSignature("Lane1"); err != nil {
		t.Fatal(err)
	}
	q := receive(t, ev.questions)
	var question map[string]string
	json.Unmarshal(q, &question)
	if question["Text"] == "" {
		t.Errorf("Expected question text, got %s", q)
	}

	c.AnswerNo()
	fields, _ := receive(t, ev.results).Fields()
	if fields["Accepted"] != false {
		t.Errorf("Expected declined signature, got %v", fields)
	}
}

func TestHub_LegacyEnvelope(t *testing.T) {
	ts := startHub(t, nil)
	ev := newEvents()
	c := newHubClient(t, ts, ev, func(cfg *client.Config) {
		cfg.ControllerName = "controller-1"
		cfg.LegacyEnvelope = true
		cfg.ConfigPath = client.LegacyConfigPath
	})

	if err := c.DownloadConfiguration(context.Background()); err != nil {
		t.Fatalf("DownloadConfiguration over the legacy path: %v", err)
	}

	if err := c.Void("Lane2", "ref-1"); err != nil {
		t.Fatal(err)
	}
	fields, _ := receive(t, ev.results).Fields()
	if fields["UniqueTransRef"] != "ref-1" || fields["TransactionType"] != "Void" {
		t.Errorf("Unexpected void result %v", fields)
	}
}

func TestHub_ResultWithoutFieldsIsReported(t *testing.T) {
	ts := startHub(t, func(hub *server.HubServer) {
		hub.Simulators()[0].EmptyResults = true
	})
	ev := newEvents()
	c := newHubClient(t, ts, ev, func(cfg *client.Config) { cfg.ControllerName = "controller-1" })

	if err := c.Ping("Lane1"); err != nil {
		t.Fatal(err)
	}
	err := receive(t, ev.errs)
	if !errors.Is(err, client.ErrProtocol) || err.Error() != "No Result returned from remote hardware." {
		t.Errorf("Unexpected error %v", err)
	}
	select {
	case f := <-ev.results:
		t.Errorf("Expected no result, got %+v", f)
	default:
	}
}

func TestHub_UnknownControllerIsHubError(t *testing.T) {
	ts := startHub(t, nil)
	ev := newEvents()
	c := newHubClient(t, ts, ev, func(cfg *client.Config) { cfg.ControllerName = "controller-9" })

	c.Echo("anyone?")
	err := receive(t, ev.errs)
	if !errors.Is(err, client.ErrHub) {
		t.Errorf("Expected a hub error, got %v", err)
	}
	if c.State() != client.StateConnected {
		t.Errorf("Expected the session to survive a hub error, got %s", c.State())
	}
}

func TestHub_UnknownLocation(t *testing.T) {
	ts := startHub(t, nil)
	ev := newEvents()
	c := newHubClient(t, ts, ev, func(cfg *client.Config) { cfg.LocationID = "loc-404" })

	err := c.DownloadConfiguration(context.Background())
	if !errors.Is(err, client.ErrConfigDownload) {
		t.Errorf("Expected a configuration download error, got %v", err)
	}
	if c.Config().ControllerName != "" {
		t.Error("Expected controller name to stay unset")
	}
}

func TestHub_ConnectFailureIsReported(t *testing.T) {
	ts := startHub(t, nil)
	url := ts.URL
	ts.Close()

	ev := newEvents()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := client.NewClient(client.Config{
		Identity:       "pos-1",
		ControllerName: "controller-1",
		HubEndpoints:   client.Endpoints{Production: url, Staging: url},
	}, nil, client.WithHandlers(ev.handlers()), client.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Echo("hello")
	err = receive(t, ev.errs)
	if !errors.Is(err, client.ErrConnection) || !containsMessage(err, "Error connecting.") {
		t.Errorf("Unexpected error %v", err)
	}
}

func containsMessage(err error, msg string) bool {
	var cerr *client.Error
	return errors.As(err, &cerr) && cerr.Message == msg
}
