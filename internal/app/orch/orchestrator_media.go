package orch

import (
	"context"

	"github.com/dkeye/sfuclient/internal/app"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/rs/zerolog/log"
)

const recorderSink = "recorder"

// startStream relays s and announces it, unless its producer closed or
// the orchestrator shut down since s was consumed.
func (o *Orchestrator) startStream(ctx context.Context, s *app.Stream) {
	logger := log.With().
		Str("module", "orch").
		Str("producer_id", string(s.ProducerID)).
		Str("consumer_id", string(s.ConsumerID)).
		Logger()

	o.streamMu.Lock()
	defer o.streamMu.Unlock()

	if o.isClosed() {
		logger.Info().Msg("stream arrived after close, dropped")
		o.Session.CloseConsumer(s.ProducerID)
		return
	}
	e, ok := o.Session.Registry().Get(s.ProducerID)
	if !ok || e.Consumer.ID != s.ConsumerID || e.Consumer.Closed() {
		logger.Info().Msg("producer closed before stream start, dropped")
		return
	}

	if o.Relays != nil {
		o.Relays.StartRelay(ctx, s.ProducerID, s.Track)
		if o.NewSink != nil {
			sink, err := o.NewSink(s)
			if err != nil {
				logger.Error().Err(err).Msg("sink")
			} else {
				o.Relays.AddSink(s.ProducerID, recorderSink, sink)
			}
		}
	}
	if o.active == nil {
		o.active = make(map[domain.ProducerID]domain.ConsumerID)
	}
	o.active[s.ProducerID] = s.ConsumerID
	logger.Info().Str("kind", string(s.Kind)).Msg("stream started")
	if o.OnStream != nil {
		o.OnStream(s)
	}
}

// stopStream releases the consumer of id. OnStreamEnded fires only for
// streams that were started.
func (o *Orchestrator) stopStream(id domain.ProducerID) {
	o.streamMu.Lock()
	defer o.streamMu.Unlock()

	o.Session.CloseConsumer(id)
	if o.Relays != nil {
		o.Relays.StopRelay(id)
	}
	if _, started := o.active[id]; !started {
		return
	}
	delete(o.active, id)
	if o.OnStreamEnded != nil {
		o.OnStreamEnded(id)
	}
}
