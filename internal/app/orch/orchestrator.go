// Package orch drives a Session from server events: it joins, publishes,
// consumes what is already in the room and follows producers coming and
// going.
package orch

import (
	"context"
	"sync"

	"github.com/dkeye/sfuclient/internal/app"
	"github.com/dkeye/sfuclient/internal/app/relay"
	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// SinkFactory builds the sink a started stream is relayed into.
type SinkFactory func(s *app.Stream) (relay.Sink, error)

type Orchestrator struct {
	Session *app.Session
	Signal  core.Signaler
	Relays  *relay.Manager
	// NewSink is optional; without it streams are relayed nowhere.
	NewSink       SinkFactory
	OnStream      func(s *app.Stream)
	OnStreamEnded func(id domain.ProducerID)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// streamMu serializes stream start and stop; active maps each started
	// producer to the consumer its relay reads.
	streamMu sync.Mutex
	active   map[domain.ProducerID]domain.ConsumerID
}

// Join negotiates room, publishes track and, when the server reports
// other producers, consumes all of them. A nil track joins receive-only
// and always enumerates.
func (o *Orchestrator) Join(ctx context.Context, room domain.RoomID, track webrtc.TrackLocal) error {
	if _, err := o.Session.Negotiate(ctx, room); err != nil {
		return err
	}

	enumerate := true
	if track != nil {
		res, err := o.Session.Publish(ctx, track)
		if err != nil {
			return err
		}
		enumerate = res.ProducersExist
	}
	if !enumerate {
		log.Info().Str("module", "orch").Str("room", string(room)).Msg("alone in room")
		return nil
	}

	results, err := o.Session.ConsumeAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			log.Warn().Err(r.Err).Str("module", "orch").Str("producer_id", string(r.ProducerID)).Msg("existing producer not consumed")
			continue
		}
		if r.Stream != nil {
			o.startStream(ctx, r.Stream)
		}
	}
	return nil
}

// Close tears down the session, waits for in-flight event handling and
// stops every relay.
func (o *Orchestrator) Close(ctx context.Context) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.Session.Close()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Str("module", "orch").Msg("event handlers still running at shutdown")
	}
	o.streamMu.Lock()
	if o.Relays != nil {
		o.Relays.StopAll(ctx)
	}
	o.active = nil
	o.streamMu.Unlock()
	log.Info().Str("module", "orch").Msg("orchestrator closed")
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
