package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Peer domain.PeerID
	// Produce is applied to the local producer; AppData gets peerId added.
	Produce core.ProduceOptions
	// ConsumeConcurrency bounds ConsumeAll; values below 1 mean sequential.
	ConsumeConcurrency int
	Policy             Policy
}

// Session owns the state of one participant in one room: the device, the
// send transport with its producer and the registry of consumed remote
// producers. It is created on room entry and torn down with Close.
type Session struct {
	signal core.Signaler
	engine core.MediaEngine
	opts   Options

	registry *Registry

	mu            sync.Mutex
	room          domain.RoomID
	joining       bool
	device        *core.Device
	publishing    bool
	sendTransport *core.Transport
	producer      *core.Producer
	closed        bool

	logger zerolog.Logger
}

func NewSession(signal core.Signaler, engine core.MediaEngine, opts Options) *Session {
	if opts.Policy == nil {
		opts.Policy = ContinuePolicy{}
	}
	return &Session{
		signal:   signal,
		engine:   engine,
		opts:     opts,
		registry: NewRegistry(),
		logger:   log.With().Str("module", "app.session").Str("peer", string(opts.Peer)).Logger(),
	}
}

func (s *Session) Registry() *Registry { return s.registry }

func (s *Session) Room() domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) Device() *core.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

func (s *Session) Producer() *core.Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producer
}

func (s *Session) joinedDevice() (*core.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, core.ErrSessionClosed
	}
	if s.device == nil {
		return nil, core.ErrNotJoined
	}
	return s.device, nil
}

// createTransport asks the server for a transport of dir and builds the
// local side. onProduce is only used for send transports.
func (s *Session) createTransport(ctx context.Context, dir domain.Direction, device *core.Device, onProduce core.ProduceFunc) (*core.Transport, error) {
	var resp core.CreateTransportResponse
	req := core.CreateTransportRequest{Consumer: dir == domain.DirectionRecv}
	if err := s.signal.Request(ctx, core.MethodCreateTransport, req, &resp); err != nil {
		return nil, err
	}
	if resp.Params == nil {
		return nil, fmt.Errorf("%s: %w: no params", core.MethodCreateTransport, core.ErrMalformedResponse)
	}
	if resp.Params.Error != "" {
		return nil, &core.ServerError{Method: core.MethodCreateTransport, Reason: resp.Params.Error}
	}
	if resp.Params.ID == "" {
		return nil, fmt.Errorf("%s: %w: no transport id", core.MethodCreateTransport, core.ErrMalformedResponse)
	}

	opts := resp.Params.TransportOptions
	handler, err := s.engine.NewTransport(dir, opts, device)
	if err != nil {
		return nil, fmt.Errorf("create %s transport %s: %w", dir, opts.ID, err)
	}

	onConnect := func(ctx context.Context, dtls domain.DtlsParameters) error {
		if dir == domain.DirectionSend {
			return s.signal.Request(ctx, core.MethodTransportConnect, core.TransportConnectRequest{DtlsParameters: dtls}, nil)
		}
		return s.signal.Request(ctx, core.MethodTransportRecvConnect, core.TransportRecvConnectRequest{
			DtlsParameters:            dtls,
			ServerConsumerTransportID: opts.ID,
		}, nil)
	}
	s.logger.Debug().Str("transport_id", string(opts.ID)).Str("direction", string(dir)).Msg("transport created")
	return core.NewTransport(dir, opts.ID, handler, onConnect, onProduce), nil
}

// Close tears the session down: every consumer and receive transport, the
// producer and the send transport. The signaler stays open.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	producer := s.producer
	send := s.sendTransport
	s.producer = nil
	s.sendTransport = nil
	s.mu.Unlock()

	for _, e := range s.registry.Drain() {
		e.close()
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			s.logger.Error().Err(err).Msg("producer close")
		}
	}
	if send != nil {
		send.Close()
	}
	s.logger.Info().Msg("session closed")
}
