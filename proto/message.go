package proto

import (
	"bytes"
	"encoding/json"
)

// Version of the cloud hardware client protocol this package speaks.
const Version = "1.0.3"

type Action string

const (
	ActionTransaction Action = "Transaction"
	ActionEcho        Action = "Echo"
	ActionPing        Action = "Ping"
	ActionCancel      Action = "CancelTransaction"
	ActionAnswer      Action = "Answer"

	// Inbound only
	ActionQuestion Action = "Question"
	ActionResult   Action = "Result"
)

type TransactionType string

const (
	CreditSaleType       TransactionType = "CreditSale"
	CreditReturnType     TransactionType = "CreditReturn"
	CreditAuthType       TransactionType = "CreditAuth"
	CreditForceType      TransactionType = "CreditForce"
	CreditAddTipType     TransactionType = "CreditAddTip"
	CreditSaveCardType   TransactionType = "CreditSaveCard"
	DebitSaleType        TransactionType = "DebitSale"
	VoidType             TransactionType = "Void"
	RequestSignatureType TransactionType = "RequestSignature"
	DisplayTextType      TransactionType = "DisplayText"
)

// Command is the unit sent to the hub. Data is nil for Echo and Answer.
type Command struct {
	Action   Action
	TestMode bool
	Data     *TransactionData
	Message  string // Echo text
	Success  bool   // Answer value
}

// TransactionData is the device-facing payload of Transaction, Ping and
// CancelTransaction commands. Every field except DeviceName is passed through
// untouched; amounts are strings formatted by the caller.
type TransactionData struct {
	TransactionType TransactionType `json:"TransactionType,omitempty"`
	Amount          string          `json:"Amount,omitempty"`
	DeviceName      string          `json:"DeviceName"`
	UniqueTransRef  string          `json:"UniqueTransRef,omitempty"`
	VoiceAuthCode   string          `json:"VoiceAuthCode,omitempty"`
	DisplayText     string          `json:"DisplayText,omitempty"`
	AccountNumber   string          `json:"AccountNumber,omitempty"`
	BillingName     string          `json:"BillingName,omitempty"`
	ExpDate         string          `json:"ExpDate,omitempty"`
	CVV             string          `json:"CVV,omitempty"`
	Street          string          `json:"Street,omitempty"`
	Zip             string          `json:"Zip,omitempty"`
	Cashier         string          `json:"Cashier,omitempty"`
	TransactionRef  string          `json:"TransactionRef,omitempty"`
}

// ResultFrame is the unit received from the hub.
type ResultFrame struct {
	Action       Action          `json:"Action"`
	Message      json.RawMessage `json:"Message,omitempty"`
	Data         json.RawMessage `json:"Data,omitempty"`
	ResultFields json.RawMessage `json:"ResultFields,omitempty"`

	// From is the hub identity of the sender, filled in by the transport.
	From string `json:"-"`
	Raw  []byte `json:"-"`
}

// Payload returns the opaque Echo/Question payload. 1.0.x agents put it in
// Message, older ones in Data.
func (f ResultFrame) Payload() json.RawMessage {
	if present(f.Message) {
		return f.Message
	}
	return f.Data
}

func (f ResultFrame) HasResultFields() bool {
	return present(f.ResultFields)
}

// Fields decodes ResultFields into a map.
func (f ResultFrame) Fields() (map[string]any, error) {
	fields := make(map[string]any)
	if !f.HasResultFields() {
		return fields, nil
	}
	if err := json.Unmarshal(f.ResultFields, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// present mirrors the agent's truthiness check: missing, null, false and ""
// all count as absent.
func present(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", `""`:
		return false
	}
	return true
}

// Device is one entry of a downloaded location configuration.
type Device struct {
	Name       string
	Attributes map[string]json.RawMessage
}

func (d *Device) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if raw, ok := fields["DeviceName"]; ok {
		if err := json.Unmarshal(raw, &d.Name); err != nil {
			return err
		}
		delete(fields, "DeviceName")
	}
	d.Attributes = fields
	return nil
}

func (d Device) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Attributes)+1)
	for k, v := range d.Attributes {
		out[k] = v
	}
	out["DeviceName"] = d.Name
	return json.Marshal(out)
}

type ConfigurationResult struct {
	ControllerName string   `json:"ControllerName"`
	Devices        []Device `json:"Devices"`
}

// ConfigurationResponse is the body returned by the configuration endpoint.
type ConfigurationResponse struct {
	Success bool                `json:"Success"`
	Result  ConfigurationResult `json:"Result"`
}
