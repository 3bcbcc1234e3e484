package contracts

import (
	"encoding/json"
)

// MessageKind distinguishes the two wire payload shapes accepted from the
// transport.
type MessageKind string

const (
	KindChat  MessageKind = "chat"
	KindEvent MessageKind = "event"
)

// Envelope wraps messages for transport.
type Envelope struct {
	ID        string                 `json:"id"`
	Kind      MessageKind            `json:"kind"`
	Subject   string                 `json:"subject,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Headers   map[string]interface{} `json:"headers,omitempty"`
	Body      json.RawMessage        `json:"body"`
}
