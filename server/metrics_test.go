package server

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsInvocationsAndDeliveries(t *testing.T) {
	registry := NewClientRegistry()
	broker := NewBroker(registry)
	coordinator := NewCoordinator(registry, broker)
	metrics := NewMetrics(registry)
	coordinator.Metrics = metrics
	broker.Observe(metrics.delivered)

	sender := NewMockClient("pos-1")
	target := NewMockClient("controller-1")
	coordinator.RegisterClient(sender)
	coordinator.RegisterClient(target)

	if err := coordinator.Handle(sender, hubInvocation(t, "send", "controller-1", "loc-1", `{}`)); err != nil {
		t.Fatal(err)
	}
	coordinator.Handle(sender, hubInvocation(t, "send", "nobody", "loc-1", `{}`))
	coordinator.Handle(sender, hubInvocation(t, "join"))

	if got := testutil.ToFloat64(metrics.Invocations.WithLabelValues("send", "ok")); got != 1 {
		t.Errorf("Expected 1 successful send, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Invocations.WithLabelValues("send", "error")); got != 1 {
		t.Errorf("Expected 1 failed send, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Invocations.WithLabelValues("unknown", "error")); got != 1 {
		t.Errorf("Expected 1 unknown method, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Deliveries.WithLabelValues("loc-1")); got != 1 {
		t.Errorf("Expected 1 delivery for loc-1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Connections); got != 2 {
		t.Errorf("Expected 2 connections, got %v", got)
	}
}

func TestMetrics_NilRecordsNothing(t *testing.T) {
	var m *Metrics
	m.invocation("send", "ok")
	m.delivered(Delivery{Location: "loc-1"})
	m.connected()
}

func TestHubServer_ServesMetrics(t *testing.T) {
	_, ts := newTestHub(t, HubServerOptions{
		Locations: []Location{{ID: "loc-1", ControllerName: "controller-1"}},
		Simulate:  true,
	})

	res, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if res.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", res.StatusCode)
	}
	if !strings.Contains(string(body), "cloudhw_hub_clients 1") {
		t.Errorf("Expected the simulated controller to be counted, got:\n%s", body)
	}
}
