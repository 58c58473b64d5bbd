package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Stream is the media of one remote producer handed to the caller.
type Stream struct {
	ProducerID domain.ProducerID
	ConsumerID domain.ConsumerID
	Kind       domain.MediaKind
	Track      core.RemoteTrack
}

type ConsumeResult struct {
	ProducerID domain.ProducerID
	// Stream is nil when the id was already being consumed or on error.
	Stream *Stream
	Err    error
}

// Consume receives the remote producer id on a transport of its own.
// A second call for an id that is pending or registered is a no-op and
// returns nil, nil.
func (s *Session) Consume(ctx context.Context, id domain.ProducerID) (*Stream, error) {
	if id == "" {
		return nil, errors.New("consume: empty producer id")
	}
	device, err := s.joinedDevice()
	if err != nil {
		return nil, err
	}
	// Reserved before the first round trip so a concurrent announcement of
	// the same id cannot create a second transport.
	if !s.registry.Reserve(id) {
		s.logger.Debug().Str("producer_id", string(id)).Msg("already consuming, skipped")
		return nil, nil
	}

	stream, err := s.consume(ctx, id, device)
	if err != nil {
		s.registry.Release(id)
		s.logger.Error().Err(err).Str("producer_id", string(id)).Msg("consume failed")
		return nil, err
	}
	return stream, nil
}

func (s *Session) consume(ctx context.Context, id domain.ProducerID, device *core.Device) (*Stream, error) {
	tr, err := s.createTransport(ctx, domain.DirectionRecv, device, nil)
	if err != nil {
		return nil, err
	}
	if err := tr.Connect(ctx); err != nil {
		return nil, err
	}

	var resp core.ConsumeResponse
	err = s.signal.Request(ctx, core.MethodConsume, core.ConsumeRequest{
		RtpCapabilities:           device.RtpCapabilities(),
		RemoteProducerID:          id,
		ServerConsumerTransportID: tr.ID(),
	}, &resp)
	switch {
	case err != nil:
	case resp.Params == nil:
		err = fmt.Errorf("%s: %w: no params", core.MethodConsume, core.ErrMalformedResponse)
	case resp.Params.Error != "":
		err = &core.ServerError{Method: core.MethodConsume, Reason: resp.Params.Error}
	case resp.Params.ID == "":
		err = fmt.Errorf("%s: %w: no consumer id", core.MethodConsume, core.ErrMalformedResponse)
	}
	if err != nil {
		tr.Close()
		return nil, err
	}

	params := resp.Params.ConsumerParameters
	if params.ProducerID == "" {
		params.ProducerID = id
	}
	consumer, err := tr.Consume(ctx, params)
	if err != nil {
		return nil, err
	}

	entry := &Entry{ProducerID: id, Transport: tr, Consumer: consumer}
	if err := s.registry.Commit(entry); err != nil {
		entry.close()
		return nil, err
	}

	serverID := params.ServerConsumerID
	if serverID == "" {
		serverID = params.ID
	}
	if err := s.signal.Request(ctx, core.MethodConsumerResume, core.ConsumerResumeRequest{ServerConsumerID: serverID}, nil); err != nil {
		if e, ok := s.registry.Remove(id); ok {
			e.close()
		}
		return nil, fmt.Errorf("resume consumer %s: %w", params.ID, err)
	}
	if consumer.Closed() {
		return nil, core.ErrProducerClosed
	}
	if err := consumer.RequestKeyFrame(); err != nil {
		s.logger.Warn().Err(err).Str("consumer_id", string(consumer.ID)).Msg("key frame request")
	}

	s.logger.Info().
		Str("producer_id", string(id)).
		Str("consumer_id", string(consumer.ID)).
		Str("transport_id", string(tr.ID())).
		Msg("consumer resumed")
	return &Stream{
		ProducerID: id,
		ConsumerID: consumer.ID,
		Kind:       consumer.Kind,
		Track:      consumer.Track,
	}, nil
}

// ConsumeAll enumerates the producers already in the room and consumes
// each. Results keep the server's order. One failure does not stop the
// others unless the policy says so; the returned error only reports the
// enumeration itself.
func (s *Session) ConsumeAll(ctx context.Context) ([]ConsumeResult, error) {
	if _, err := s.joinedDevice(); err != nil {
		return nil, err
	}
	var ids []domain.ProducerID
	if err := s.signal.Request(ctx, core.MethodGetProducers, struct{}{}, &ids); err != nil {
		return nil, fmt.Errorf("%s: %w", core.MethodGetProducers, err)
	}
	s.logger.Info().Int("count", len(ids)).Msg("existing producers")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]ConsumeResult, len(ids))
	var g errgroup.Group
	g.SetLimit(max(1, s.opts.ConsumeConcurrency))
	for i, id := range ids {
		results[i].ProducerID = id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			stream, err := s.Consume(ctx, id)
			results[i].Stream, results[i].Err = stream, err
			if err != nil && s.opts.Policy.OnConsumeFailure(id, err) == AbortRemaining {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// CloseConsumer releases the consumer and receive transport of a remote
// producer that went away. Unknown ids are logged and ignored. Stopping
// whatever displays the stream is up to the caller.
func (s *Session) CloseConsumer(id domain.ProducerID) bool {
	e, ok := s.registry.Remove(id)
	if !ok {
		s.logger.Info().Str("producer_id", string(id)).Msg("cannot find producer, nothing to close")
		return false
	}
	e.close()
	s.logger.Info().Str("producer_id", string(id)).Str("consumer_id", string(e.Consumer.ID)).Msg("consumer closed")
	return true
}
