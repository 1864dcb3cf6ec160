package proto

import "encoding/json"

const (
	HubName        = "DeviceHub"
	ClientProtocol = "1.5"
)

// HubMessage is the persistent-connection envelope exchanged with the hub.
// An empty message is a keep-alive; S=1 marks the init message.
type HubMessage struct {
	C string          `json:"C,omitempty"`
	S int             `json:"S,omitempty"`
	M []HubInvocation `json:"M,omitempty"`
	I string          `json:"I,omitempty"`
	E string          `json:"E,omitempty"`
	R json.RawMessage `json:"R,omitempty"`
}

// HubInvocation calls method M on hub H with arguments A. I correlates the
// server's reply and is omitted on server-to-client calls.
type HubInvocation struct {
	H string            `json:"H"`
	M string            `json:"M"`
	A []json.RawMessage `json:"A"`
	I string            `json:"I,omitempty"`
}

type NegotiateResponse struct {
	URL                     string  `json:"Url"`
	ConnectionToken         string  `json:"ConnectionToken"`
	ConnectionID            string  `json:"ConnectionId"`
	KeepAliveTimeout        float64 `json:"KeepAliveTimeout"`
	DisconnectTimeout       float64 `json:"DisconnectTimeout"`
	ConnectionTimeout       float64 `json:"ConnectionTimeout"`
	TryWebSockets           bool    `json:"TryWebSockets"`
	ProtocolVersion         string  `json:"ProtocolVersion"`
	TransportConnectTimeout float64 `json:"TransportConnectTimeout"`
	LongPollDelay           float64 `json:"LongPollDelay"`
}

type StartResponse struct {
	Response string `json:"Response"`
}

// StringArg decodes a hub argument that is expected to be a string. Anything
// else is returned as its raw JSON text.
func StringArg(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

// FrameArg unwraps a JSON-string argument holding a frame; anything else is
// passed through as raw JSON.
func FrameArg(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}
