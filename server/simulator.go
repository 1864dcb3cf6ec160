package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/cloudhw/proto"
)

var ErrControllerBusy = errors.New("controller inbox is full")

// SimulatedController stands in for the on-site hardware agent. It is
// registered with the hub like any connected party and answers commands with
// Echo, Question and Result frames.
type SimulatedController struct {
	ClientMetadata

	broker   *Broker
	codec    proto.Codec
	location string
	devices  map[string]bool

	// EmptyResults makes every Result carry no ResultFields.
	EmptyResults bool
	// Decline lists amounts that are declined instead of approved.
	Decline map[string]bool

	inbox chan inbound

	mu      sync.Mutex
	pending map[string]proto.TransactionData // sender -> transaction awaiting an Answer
}

type inbound struct {
	from    string
	message string
}

func NewSimulatedController(name, location string, devices []string, broker *Broker) *SimulatedController {
	known := make(map[string]bool, len(devices))
	for _, d := range devices {
		known[strings.ToLower(d)] = true
	}
	now := time.Now()
	return &SimulatedController{
		ClientMetadata: ClientMetadata{
			Id:          generateClientId("sim"),
			Name:        name,
			ConnectedAt: now,
			LastSeen:    now,
		},
		broker:   broker,
		location: location,
		devices:  known,
		Decline:  make(map[string]bool),
		inbox:    make(chan inbound, 64),
		pending:  make(map[string]proto.TransactionData),
	}
}

func (s *SimulatedController) Meta() *ClientMetadata {
	return &s.ClientMetadata
}

// Send queues a message for Run. It never blocks the caller.
func (s *SimulatedController) Send(from string, message string) error {
	select {
	case s.inbox <- inbound{from: from, message: message}:
		return nil
	default:
		return ErrControllerBusy
	}
}

// Run processes queued messages until ctx is done.
func (s *SimulatedController) Run(ctx context.Context) {
	slog.Info("Simulated controller running", "name", s.Name, "location", s.location)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Simulated controller stopped", "name", s.Name)
			return
		case in := <-s.inbox:
			s.Touch()
			s.handle(in.from, in.message)
		}
	}
}

func (s *SimulatedController) handle(from, message string) {
	cmd, err := s.codec.DecodeCommand([]byte(message))
	if err != nil {
		slog.Warn("Simulated controller received an invalid command", "from", from, "error", err)
		return
	}
	slog.Debug("Simulated controller received command", "from", from, "action", cmd.Action)

	switch cmd.Action {
	case proto.ActionEcho:
		s.reply(from, map[string]any{"Action": proto.ActionEcho, "Message": cmd.Message})

	case proto.ActionPing:
		if !s.knownDevice(from, cmd.Data) {
			return
		}
		s.result(from, map[string]any{
			"DeviceName": cmd.Data.DeviceName,
			"Status":     "Online",
			"TestMode":   cmd.TestMode,
		})

	case proto.ActionCancel:
		if !s.knownDevice(from, cmd.Data) {
			return
		}
		s.mu.Lock()
		delete(s.pending, from)
		s.mu.Unlock()
		s.result(from, map[string]any{
			"DeviceName": cmd.Data.DeviceName,
			"Cancelled":  true,
		})

	case proto.ActionTransaction:
		if !s.knownDevice(from, cmd.Data) {
			return
		}
		s.transaction(from, cmd)

	case proto.ActionAnswer:
		s.mu.Lock()
		data, ok := s.pending[from]
		delete(s.pending, from)
		s.mu.Unlock()
		if !ok {
			slog.Debug("Answer without a pending question", "from", from)
			return
		}
		s.result(from, map[string]any{
			"DeviceName":      data.DeviceName,
			"TransactionType": data.TransactionType,
			"Accepted":        cmd.Success,
		})

	default:
		slog.Debug("Simulated controller ignoring action", "action", cmd.Action)
	}
}

func (s *SimulatedController) transaction(from string, cmd proto.Command) {
	data := *cmd.Data
	switch data.TransactionType {
	case proto.RequestSignatureType:
		s.mu.Lock()
		s.pending[from] = data
		s.mu.Unlock()
		s.reply(from, map[string]any{
			"Action":  proto.ActionQuestion,
			"Message": map[string]string{"DeviceName": data.DeviceName, "Text": "Accept signature?"},
		})
		return

	case proto.DisplayTextType:
		s.result(from, map[string]any{
			"DeviceName":  data.DeviceName,
			"DisplayText": data.DisplayText,
			"Displayed":   true,
		})
		return
	}

	approved := !s.Decline[data.Amount]
	fields := map[string]any{
		"DeviceName":      data.DeviceName,
		"TransactionType": data.TransactionType,
		"Amount":          data.Amount,
		"Approved":        approved,
		"TestMode":        cmd.TestMode,
		"UniqueTransRef":  data.UniqueTransRef,
	}
	if fields["UniqueTransRef"] == "" {
		fields["UniqueTransRef"] = uuid.NewString()
	}
	if approved {
		fields["AuthCode"] = strings.ToUpper(uuid.NewString()[:6])
		fields["ResultMessage"] = "APPROVED"
	} else {
		fields["ResultMessage"] = "DECLINED"
	}
	if data.Cashier != "" {
		fields["Cashier"] = data.Cashier
	}
	if data.TransactionRef != "" {
		fields["TransactionRef"] = data.TransactionRef
	}
	s.result(from, fields)
}

func (s *SimulatedController) knownDevice(from string, data *proto.TransactionData) bool {
	if data != nil && s.devices[strings.ToLower(data.DeviceName)] {
		return true
	}
	name := ""
	if data != nil {
		name = data.DeviceName
	}
	slog.Warn("Simulated controller has no such device", "device", name)
	s.result(from, map[string]any{
		"DeviceName":    name,
		"Approved":      false,
		"ResultMessage": "Device not found",
	})
	return false
}

func (s *SimulatedController) result(to string, fields map[string]any) {
	frame := map[string]any{"Action": proto.ActionResult}
	if !s.EmptyResults {
		frame["ResultFields"] = fields
	}
	s.reply(to, frame)
}

func (s *SimulatedController) reply(to string, frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Simulated controller failed to encode reply", "error", err)
		return
	}
	err = s.broker.Publish(Delivery{From: s.Name, To: to, Location: s.location, Message: string(data)})
	if err != nil {
		slog.Warn("Simulated controller could not reply", "to", to, "error", err)
	}
}
