// Package coretest provides in-memory stand-ins for the signaling server
// and the media engine.
package coretest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/sfuclient/internal/core"
)

// HandlerFunc answers one request. The returned value is JSON encoded and
// decoded into the caller's reply, like an acknowledgement on the wire.
type HandlerFunc func(payload json.RawMessage) (any, error)

type Call struct {
	Method  string
	Payload json.RawMessage
}

// Server is a scripted core.Signaler.
type Server struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	events   map[string]core.EventHandler
	calls    []Call
	closed   bool
}

func NewServer() *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		events:   make(map[string]core.EventHandler),
	}
}

func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

func (s *Server) Request(ctx context.Context, method string, payload any, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.ErrSignalClosed
	}
	s.calls = append(s.calls, Call{Method: method, Payload: raw})
	fn, ok := s.handlers[method]
	s.mu.Unlock()

	if !ok {
		return &core.ServerError{Method: method, Reason: "unhandled"}
	}
	resp, err := fn(raw)
	if err != nil {
		return err
	}
	if reply == nil || resp == nil {
		return nil
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, reply); err != nil {
		return fmt.Errorf("%s: %w: %v", method, core.ErrMalformedResponse, err)
	}
	return nil
}

func (s *Server) On(event string, fn core.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event] = fn
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Emit delivers a server event synchronously.
func (s *Server) Emit(event string, data any) {
	b, _ := json.Marshal(data)
	s.mu.Lock()
	fn := s.events[event]
	s.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Methods lists requested methods in order.
func (s *Server) Methods() []string {
	calls := s.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Method)
	}
	return out
}

// Count returns how many times method was requested.
func (s *Server) Count(method string) int {
	n := 0
	for _, m := range s.Methods() {
		if m == method {
			n++
		}
	}
	return n
}
