package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Codec converts commands to the hub wire envelope and parses inbound frames.
// Legacy selects the RemoteHardware shape: Data is a JSON-encoded string and
// the Echo text travels in Data instead of Message.
type Codec struct {
	Legacy bool
}

type wireCommand struct {
	Action   Action          `json:"Action"`
	TestMode *bool           `json:"TestMode,omitempty"`
	Data     json.RawMessage `json:"Data,omitempty"`
	Message  *string         `json:"Message,omitempty"`
	Success  *bool           `json:"Success,omitempty"`
}

func (c Codec) Encode(cmd Command) ([]byte, error) {
	wire := wireCommand{Action: cmd.Action}

	switch cmd.Action {
	case ActionTransaction, ActionPing, ActionCancel:
		if cmd.Data == nil {
			return nil, fmt.Errorf("encode %s: missing data", cmd.Action)
		}
		testMode := cmd.TestMode
		wire.TestMode = &testMode
		data, err := c.encodeData(cmd.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", cmd.Action, err)
		}
		wire.Data = data

	case ActionEcho:
		msg := cmd.Message
		if c.Legacy {
			data, err := json.Marshal(msg)
			if err != nil {
				return nil, err
			}
			wire.Data = data
		} else {
			wire.Message = &msg
		}

	case ActionAnswer:
		success := cmd.Success
		wire.Success = &success

	default:
		return nil, fmt.Errorf("encode: unknown action %q", cmd.Action)
	}

	return json.Marshal(wire)
}

func (c Codec) encodeData(data *TransactionData) (json.RawMessage, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if !c.Legacy {
		return b, nil
	}
	return json.Marshal(string(b))
}

// Decode parses one inbound frame. The returned frame keeps a copy of raw.
func (c Codec) Decode(raw []byte) (ResultFrame, error) {
	var frame ResultFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ResultFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Action == "" {
		return ResultFrame{}, fmt.Errorf("%w: missing Action", ErrMalformedFrame)
	}
	frame.Raw = append([]byte(nil), raw...)
	return frame, nil
}

// DecodeCommand parses a command envelope as a controller receives it. Data
// may be an object or, from legacy senders, a JSON string holding one.
func (c Codec) DecodeCommand(raw []byte) (Command, error) {
	var wire wireCommand
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if wire.Action == "" {
		return Command{}, fmt.Errorf("%w: missing Action", ErrMalformedFrame)
	}

	cmd := Command{Action: wire.Action}
	if wire.TestMode != nil {
		cmd.TestMode = *wire.TestMode
	}
	if wire.Success != nil {
		cmd.Success = *wire.Success
	}
	if wire.Message != nil {
		cmd.Message = *wire.Message
	}

	if !present(wire.Data) {
		return cmd, nil
	}
	data := wire.Data
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if cmd.Action == ActionEcho {
			cmd.Message = s
			return cmd, nil
		}
		data = json.RawMessage(s)
	}
	var td TransactionData
	if err := json.Unmarshal(data, &td); err != nil {
		return Command{}, fmt.Errorf("%w: invalid Data: %v", ErrMalformedFrame, err)
	}
	cmd.Data = &td
	return cmd, nil
}
