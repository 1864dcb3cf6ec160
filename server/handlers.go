package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbocsi/cloudhw/proto"
)

// Handle runs one DeviceHub method invoked by client. A returned error is
// sent back to the caller as the invocation's hub error.
func (c *Coordinator) Handle(client Client, inv proto.HubInvocation) error {
	method := strings.ToLower(inv.M)
	var err error
	switch method {
	case "send":
		err = c.handleSend(client, inv.A)

	default:
		slog.Warn("Unhandled hub method", "method", inv.M, "sender", client.Meta().Name)
		method = "unknown"
		err = fmt.Errorf("'%s' method could not be resolved on hub '%s'.", inv.M, proto.HubName)
	}

	if err != nil {
		c.Metrics.invocation(method, "error")
	} else {
		c.Metrics.invocation(method, "ok")
	}
	return err
}

// handleSend routes send(target, location, message) to target as
// send(sender, message).
func (c *Coordinator) handleSend(client Client, args []json.RawMessage) error {
	if len(args) != 3 {
		return fmt.Errorf("send expects 3 arguments, got %d", len(args))
	}
	target := proto.StringArg(args[0])
	if target == "" {
		return fmt.Errorf("send requires a target")
	}

	return c.Broker.Publish(Delivery{
		From:     client.Meta().Name,
		To:       target,
		Location: proto.StringArg(args[1]),
		Message:  string(proto.FrameArg(args[2])),
	})
}
