package core

import (
	"context"
	"encoding/json"
)

// Frame is a raw text payload of the signaling channel.
type Frame []byte

// EventHandler receives the raw data of a server-initiated event.
type EventHandler func(data json.RawMessage)

//go:generate mockgen -source=signal_iface.go -destination=mocks/signal_mock.go -package=mocks

// Signaler abstracts the request/acknowledgement signaling channel.
// Owned by the adapter; the adapter must Close() it.
type Signaler interface {
	// Request sends method with payload and blocks until the matching
	// acknowledgement arrives. The acknowledgement is decoded into reply
	// (may be nil). An acknowledgement carrying an error field is returned
	// as *ServerError.
	Request(ctx context.Context, method string, payload any, reply any) error
	// On registers the handler for a server event. Handlers run one at a
	// time in arrival order.
	On(event string, fn EventHandler)
	Close()
}
