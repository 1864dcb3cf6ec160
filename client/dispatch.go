package client

import (
	"log/slog"

	"github.com/mbocsi/cloudhw/proto"
)

type dispatcher struct {
	codec    proto.Codec
	handlers Handlers
	report   func(error)
	logger   *slog.Logger
}

// dispatch decodes one inbound frame and routes it by Action. It is called
// from a single goroutine, once per frame.
func (d *dispatcher) dispatch(from string, raw []byte) {
	frame, err := d.codec.Decode(raw)
	if err != nil {
		d.logger.Warn("Invalid frame received", "from", from, "error", err, "frame", string(raw))
		d.report(newError(KindProtocol, msgInvalidFrame, err))
		return
	}
	frame.From = from
	d.logger.Debug("Frame received", "action", frame.Action, "from", from, "size", len(raw))

	switch frame.Action {
	case proto.ActionEcho:
		if d.handlers.OnEcho != nil {
			d.invoke("echo", func() { d.handlers.OnEcho(frame.Payload()) })
		}

	case proto.ActionQuestion:
		if d.handlers.OnQuestion != nil {
			d.invoke("question", func() { d.handlers.OnQuestion(frame.Payload()) })
		}

	case proto.ActionResult:
		if !frame.HasResultFields() {
			d.logger.Warn("Result frame without result fields", "from", from)
			d.report(newError(KindProtocol, msgNoResult, nil))
			return
		}
		if d.handlers.OnResult != nil {
			d.invoke("result", func() { d.handlers.OnResult(frame) })
		}

	default:
		d.logger.Debug("Ignoring frame with unhandled action", "action", frame.Action, "from", from)
	}
}

func (d *dispatcher) invoke(handler string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Handler panicked", "handler", handler, "panic", r)
		}
	}()
	fn()
}
