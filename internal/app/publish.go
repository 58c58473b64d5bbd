package app

import (
	"context"
	"fmt"
	"maps"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/webrtc/v4"
)

type PublishResult struct {
	Producer *core.Producer
	// ProducersExist is the server's hint that the room already has other
	// producers worth enumerating.
	ProducersExist bool
}

// Publish creates the send transport, connects it and produces track on
// it. A failed attempt leaves its transport closed; the next call creates
// a fresh one.
func (s *Session) Publish(ctx context.Context, track webrtc.TrackLocal) (*PublishResult, error) {
	device, err := s.joinedDevice()
	if err != nil {
		return nil, err
	}
	kind := domain.MediaKind(track.Kind().String())
	if !device.CanProduce(kind) {
		return nil, fmt.Errorf("%w: %s", core.ErrCannotProduce, kind)
	}

	s.mu.Lock()
	if s.publishing || (s.sendTransport != nil && !s.sendTransport.IsClosed()) {
		s.mu.Unlock()
		return nil, core.ErrAlreadyPublished
	}
	s.publishing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.publishing = false
		s.mu.Unlock()
	}()

	var producersExist bool
	onProduce := func(ctx context.Context, req core.ProduceRequest) (domain.ProducerID, error) {
		var resp core.ProduceResponse
		if err := s.signal.Request(ctx, core.MethodTransportProduce, req, &resp); err != nil {
			return "", err
		}
		if resp.ID == "" {
			return "", fmt.Errorf("%s: %w: no producer id", core.MethodTransportProduce, core.ErrMalformedResponse)
		}
		producersExist = resp.ProducersExist
		return resp.ID, nil
	}

	tr, err := s.createTransport(ctx, domain.DirectionSend, device, onProduce)
	if err != nil {
		s.logger.Error().Err(err).Msg("send transport")
		return nil, err
	}
	s.mu.Lock()
	s.sendTransport = tr
	s.mu.Unlock()

	if err := tr.Connect(ctx); err != nil {
		return nil, err
	}
	producer, err := tr.Produce(ctx, track, s.produceOptions())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		tr.Close()
		return nil, core.ErrSessionClosed
	}
	s.producer = producer
	s.mu.Unlock()

	s.logger.Info().
		Str("producer_id", string(producer.ID)).
		Bool("producers_exist", producersExist).
		Msg("published")
	return &PublishResult{Producer: producer, ProducersExist: producersExist}, nil
}

func (s *Session) produceOptions() core.ProduceOptions {
	opts := s.opts.Produce
	appData := make(map[string]any, len(opts.AppData)+2)
	appData["source"] = "camera"
	maps.Copy(appData, opts.AppData)
	if s.opts.Peer != "" {
		appData["peerId"] = string(s.opts.Peer)
	}
	opts.AppData = appData
	return opts
}
