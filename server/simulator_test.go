package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func runSimulator(t *testing.T, devices []string) (*SimulatedController, *MockClient) {
	t.Helper()
	registry := NewClientRegistry()
	broker := NewBroker(registry)
	sim := NewSimulatedController("controller-1", "loc-1", devices, broker)
	pos := NewMockClient("pos-1")
	registry.Store(sim)
	registry.Store(pos)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sim.Run(ctx)
	return sim, pos
}

func waitForMessages(t *testing.T, c *MockClient, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := c.GetMessages()
		if len(msgs) >= n {
			frames := make([]map[string]any, 0, len(msgs))
			for _, m := range msgs {
				var f map[string]any
				if err := json.Unmarshal([]byte(m.message), &f); err != nil {
					t.Fatalf("Invalid frame %s: %v", m.message, err)
				}
				frames = append(frames, f)
			}
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d messages, got %d", n, len(c.GetMessages()))
	return nil
}

func TestSimulatedController_Echo(t *testing.T) {
	sim, pos := runSimulator(t, []string{"Front"})

	sim.Send("pos-1", `{"Action":"Echo","Message":"hello"}`)

	frames := waitForMessages(t, pos, 1)
	if frames[0]["Action"] != "Echo" || frames[0]["Message"] != "hello" {
		t.Errorf("Unexpected echo reply %v", frames[0])
	}
	if pos.GetMessages()[0].from != "controller-1" {
		t.Errorf("Expected reply from controller-1, got %s", pos.GetMessages()[0].from)
	}
}

func TestSimulatedController_LegacyEcho(t *testing.T) {
	sim, pos := runSimulator(t, []string{"Front"})

	sim.Send("pos-1", `{"Action":"Echo","Data":"hello"}`)

	frames := waitForMessages(t, pos, 1)
	if frames[0]["Message"] != "hello" {
		t.Errorf("Unexpected echo reply %v", frames[0])
	}
}

func TestSimulatedController_Transaction(t *testing.T) {
	sim, pos := runSimulator(t, []string{"Front"})
	sim.Decline["9.99"] = true

	sim.Send("pos-1", `{"Action":"Transaction","TestMode":true,"Data":{"TransactionType":"CreditSale","Amount":"1.00","DeviceName":"front","Cashier":"amy"}}`)
	sim.Send("pos-1", `{"Action":"Transaction","TestMode":true,"Data":"{\"TransactionType\":\"CreditSale\",\"Amount\":\"9.99\",\"DeviceName\":\"Front\"}"}`)

	frames := waitForMessages(t, pos, 2)

	approved := frames[0]["ResultFields"].(map[string]any)
	if approved["Approved"] != true || approved["Cashier"] != "amy" || approved["AuthCode"] == "" {
		t.Errorf("Unexpected approval %v", approved)
	}
	if approved["UniqueTransRef"] == "" {
		t.Error("Expected a generated UniqueTransRef")
	}

	declined := frames[1]["ResultFields"].(map[string]any)
	if declined["Approved"] != false || declined["ResultMessage"] != "DECLINED" {
		t.Errorf("Unexpected decline %v", declined)
	}
}

func TestSimulatedController_UnknownDevice(t *testing.T) {
	sim, pos := runSimulator(t, []string{"Front"})

	sim.Send("pos-1", `{"Action":"Ping","TestMode":false,"Data":{"DeviceName":"Back"}}`)

	frames := waitForMessages(t, pos, 1)
	fields := frames[0]["ResultFields"].(map[string]any)
	if fields["ResultMessage"] != "Device not found" {
		t.Errorf("Unexpected result %v", fields)
	}
}

func TestSimulatedController_SignatureQuestion(t *testing.T) {
	sim, pos := runSimulator(t, []string{"Front"})

	sim.Send("pos-1", `{"Action":"Transaction","TestMode":false,"Data":{"TransactionType":"RequestSignature","DeviceName":"Front"}}`)
	frames := waitForMessages(t, pos, 1)
	if frames[0]["Action"] != "Question" {
		t.Fatalf("Expected a Question, got %v", frames[0])
	}

	sim.Send("pos-1", `{"Action":"Answer","Success":true}`)
	frames = waitForMessages(t, pos, 2)
	fields := frames[1]["ResultFields"].(map[string]any)
	if fields["Accepted"] != true || fields["TransactionType"] != "RequestSignature" {
		t.Errorf("Unexpected answer result %v", fields)
	}
}

func TestSimulatedController_EmptyResults(t *testing.T) {
	sim, pos := runSimulator(t, []string{"Front"})
	sim.EmptyResults = true

	sim.Send("pos-1", `{"Action":"Cancel","TestMode":false,"Data":{"DeviceName":"Front"}}`)
	sim.Send("pos-1", `{"Action":"CancelTransaction","TestMode":false,"Data":{"DeviceName":"Front"}}`)

	frames := waitForMessages(t, pos, 1)
	if _, ok := frames[0]["ResultFields"]; ok {
		t.Errorf("Expected no ResultFields, got %v", frames[0])
	}
}

func TestSimulatedController_BusyInbox(t *testing.T) {
	registry := NewClientRegistry()
	sim := NewSimulatedController("controller-1", "loc-1", nil, NewBroker(registry))

	var err error
	for i := 0; i <= cap(sim.inbox); i++ {
		err = sim.Send("pos-1", "{}")
	}
	if err != ErrControllerBusy {
		t.Errorf("Expected ErrControllerBusy once the inbox is full, got %v", err)
	}
}
