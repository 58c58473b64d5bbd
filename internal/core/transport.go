package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type TransportState int32

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportProducing
	TransportConsuming
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportProducing:
		return "producing"
	case TransportConsuming:
		return "consuming"
	case TransportClosed:
		return "closed"
	}
	return fmt.Sprintf("TransportState(%d)", int32(s))
}

// ConnectFunc forwards the local DTLS parameters to the server and returns
// once the server acknowledged them.
type ConnectFunc func(ctx context.Context, dtls domain.DtlsParameters) error

// ProduceFunc announces a new producer and returns the server-assigned id.
type ProduceFunc func(ctx context.Context, req ProduceRequest) (domain.ProducerID, error)

// ProduceOptions tune the single outbound encoding.
type ProduceOptions struct {
	Encodings    []domain.RtpEncodingParameters
	CodecOptions map[string]any
	AppData      map[string]any
}

// Transport is the per-direction state machine:
//
//	new -> connecting -> connected -> producing|consuming
//	any -> closed
//
// Produce and Consume are only valid on a connected transport, so the
// connect handshake always precedes them. A transport that failed any step
// is closed and stays closed.
type Transport struct {
	id      domain.TransportID
	dir     domain.Direction
	handler TransportHandler

	onConnect ConnectFunc
	onProduce ProduceFunc

	mu        sync.Mutex
	state     TransportState
	ready     chan struct{}
	producer  *Producer
	consumers map[domain.ConsumerID]*Consumer

	logger zerolog.Logger
}

func NewTransport(dir domain.Direction, id domain.TransportID, handler TransportHandler, onConnect ConnectFunc, onProduce ProduceFunc) *Transport {
	return &Transport{
		id:        id,
		dir:       dir,
		handler:   handler,
		onConnect: onConnect,
		onProduce: onProduce,
		ready:     make(chan struct{}),
		consumers: make(map[domain.ConsumerID]*Consumer),
		logger: log.With().
			Str("module", "core.transport").
			Str("transport_id", string(id)).
			Str("direction", string(dir)).
			Logger(),
	}
}

func (t *Transport) ID() domain.TransportID { return t.id }
func (t *Transport) Direction() domain.Direction { return t.dir }

func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) IsClosed() bool { return t.State() == TransportClosed }

// Connect runs the connection handshake. Concurrent callers wait for the
// first one; a transport already past connecting returns at once.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case TransportConnected, TransportProducing, TransportConsuming:
		t.mu.Unlock()
		return nil
	case TransportClosed:
		t.mu.Unlock()
		return ErrTransportClosed
	case TransportConnecting:
		ready := t.ready
		t.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		if t.IsClosed() {
			return ErrTransportClosed
		}
		return nil
	}
	t.state = TransportConnecting
	t.mu.Unlock()
	t.logger.Debug().Msg("connecting")

	if err := t.connect(ctx); err != nil {
		t.logger.Error().Err(err).Msg("connect failed")
		t.Close()
		return fmt.Errorf("transport %s connect: %w", t.id, err)
	}

	t.mu.Lock()
	if t.state == TransportClosed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.state = TransportConnected
	close(t.ready)
	t.mu.Unlock()
	t.logger.Info().Msg("connected")
	return nil
}

func (t *Transport) connect(ctx context.Context) error {
	dtls, err := t.handler.LocalDTLSParameters()
	if err != nil {
		return err
	}
	if t.onConnect == nil {
		return errors.New("no connect handler")
	}
	if err := t.onConnect(ctx, dtls); err != nil {
		return err
	}
	return t.handler.Connect(ctx)
}

func (t *Transport) requireConnected(dir domain.Direction) error {
	if t.dir != dir {
		return ErrWrongDirection
	}
	switch t.state {
	case TransportClosed:
		return ErrTransportClosed
	case TransportNew, TransportConnecting:
		return ErrTransportNotConnected
	}
	return nil
}

// Produce attaches track and announces it to the server. Only one producer
// per send transport.
func (t *Transport) Produce(ctx context.Context, track webrtc.TrackLocal, opts ProduceOptions) (*Producer, error) {
	t.mu.Lock()
	if err := t.requireConnected(domain.DirectionSend); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if t.producer != nil {
		t.mu.Unlock()
		return nil, ErrAlreadyPublished
	}
	t.mu.Unlock()

	kind := domain.MediaKind(track.Kind().String())
	rtpParams, err := t.handler.Send(ctx, track, opts)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("transport %s send: %w", t.id, err)
	}

	if t.onProduce == nil {
		t.Close()
		return nil, fmt.Errorf("transport %s: no produce handler", t.id)
	}
	id, err := t.onProduce(ctx, ProduceRequest{
		Kind:          kind,
		RtpParameters: rtpParams,
		AppData:       opts.AppData,
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("produce failed")
		t.Close()
		return nil, fmt.Errorf("transport %s produce: %w", t.id, err)
	}

	p := &Producer{
		ID:            id,
		Kind:          kind,
		Track:         track,
		RtpParameters: rtpParams,
		transport:     t,
	}
	t.mu.Lock()
	if t.state == TransportClosed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.state = TransportProducing
	t.producer = p
	t.mu.Unlock()
	t.logger.Info().Str("producer_id", string(id)).Str("kind", string(kind)).Msg("producing")
	return p, nil
}

// Consume starts receiving the stream the server described in params.
func (t *Transport) Consume(ctx context.Context, params domain.ConsumerParameters) (*Consumer, error) {
	t.mu.Lock()
	if err := t.requireConnected(domain.DirectionRecv); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	track, err := t.handler.Receive(ctx, params)
	if err != nil {
		t.logger.Error().Err(err).Str("consumer_id", string(params.ID)).Msg("receive failed")
		t.Close()
		return nil, fmt.Errorf("transport %s receive: %w", t.id, err)
	}

	c := &Consumer{
		ID:            params.ID,
		ProducerID:    params.ProducerID,
		Kind:          params.Kind,
		RtpParameters: params.RtpParameters,
		Track:         track,
		transport:     t,
	}
	t.mu.Lock()
	if t.state == TransportClosed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.state = TransportConsuming
	t.consumers[c.ID] = c
	t.mu.Unlock()
	t.logger.Info().Str("consumer_id", string(c.ID)).Str("producer_id", string(c.ProducerID)).Msg("consuming")
	return c, nil
}

// Close releases the transport and everything bound to it. Safe to call
// more than once.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.state == TransportClosed {
		t.mu.Unlock()
		return
	}
	wasConnecting := t.state == TransportConnecting
	t.state = TransportClosed
	if wasConnecting {
		close(t.ready)
	}
	if t.producer != nil {
		t.producer.markClosed()
	}
	for _, c := range t.consumers {
		c.markClosed()
	}
	t.mu.Unlock()

	if err := t.handler.Close(); err != nil {
		t.logger.Error().Err(err).Msg("close error")
		return
	}
	t.logger.Info().Msg("closed")
}

func (t *Transport) removeConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}
