package signal

import (
	"encoding/json"
)

const (
	typeAck  = "ack"
	typePing = "ping"
	typePong = "pong"
)

// envelope is one JSON text frame. Requests and acknowledgements carry an
// id; server events do not.
type envelope struct {
	Type string          `json:"type"`
	ID   uint64          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ackError is the failure shape of an acknowledgement.
type ackError struct {
	Error string `json:"error"`
}

func (c *Client) sendPing() error {
	b, err := json.Marshal(envelope{Type: typePing})
	if err != nil {
		return err
	}
	return c.TrySend(b)
}
