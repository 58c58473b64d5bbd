package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupported           = errors.New("media engine unsupported")
	ErrMalformedResponse     = errors.New("malformed response")
	ErrSignalClosed          = errors.New("signal connection closed")
	ErrBackpressure          = errors.New("backpressure")
	ErrTransportClosed       = errors.New("transport closed")
	ErrTransportNotConnected = errors.New("transport not connected")
	ErrWrongDirection        = errors.New("wrong transport direction")
	ErrCannotProduce         = errors.New("device cannot produce kind")
	ErrNotJoined             = errors.New("session not joined")
	ErrAlreadyJoined         = errors.New("session already joined")
	ErrAlreadyPublished      = errors.New("already publishing")
	ErrProducerClosed        = errors.New("remote producer closed")
	ErrSessionClosed         = errors.New("session closed")
)

// ServerError is an acknowledgement that carried an error field.
type ServerError struct {
	Method string
	Reason string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server error: %s", e.Method, e.Reason)
}
