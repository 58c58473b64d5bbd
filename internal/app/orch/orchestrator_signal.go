package orch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/rs/zerolog/log"
)

// BindSignalHandlers subscribes to producer announcements. Consumption of
// an announced producer runs in its own goroutine under ctx.
func (o *Orchestrator) BindSignalHandlers(ctx context.Context) {
	o.Signal.On(core.EventNewProducer, func(data json.RawMessage) {
		var ev core.NewProducerEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.ProducerID == "" {
			log.Warn().Err(err).Str("module", "orch").Str("data", string(data)).Msg("bad new-producer event")
			return
		}
		o.OnNewProducer(ctx, ev.ProducerID)
	})
	o.Signal.On(core.EventProducerClosed, func(data json.RawMessage) {
		var ev core.ProducerClosedEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.RemoteProducerID == "" {
			log.Warn().Err(err).Str("module", "orch").Str("data", string(data)).Msg("bad producer-closed event")
			return
		}
		o.OnProducerClosed(ev.RemoteProducerID)
	})
}

func (o *Orchestrator) OnNewProducer(ctx context.Context, id domain.ProducerID) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	log.Info().Str("module", "orch").Str("producer_id", string(id)).Msg("new producer")
	go func() {
		defer o.wg.Done()
		stream, err := o.Session.Consume(ctx, id)
		if err != nil {
			if errors.Is(err, core.ErrProducerClosed) {
				log.Info().Str("module", "orch").Str("producer_id", string(id)).Msg("producer closed before consume finished")
				return
			}
			log.Error().Err(err).Str("module", "orch").Str("producer_id", string(id)).Msg("consume")
			return
		}
		if stream != nil {
			o.startStream(ctx, stream)
		}
	}()
}

func (o *Orchestrator) OnProducerClosed(id domain.ProducerID) {
	log.Info().Str("module", "orch").Str("producer_id", string(id)).Msg("producer closed")
	o.stopStream(id)
}
