package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/sfuclient/internal/app"
	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/core/coretest"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/stretchr/testify/require"
)

// blockConsume makes the consume request wait for release and signals
// entered once it is in flight.
func blockConsume(sfu *coretest.SFU) (entered <-chan struct{}, release chan<- struct{}) {
	in := make(chan struct{}, 8)
	rel := make(chan struct{})
	sfu.Handle(core.MethodConsume, func(raw json.RawMessage) (any, error) {
		var req core.ConsumeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		in <- struct{}{}
		<-rel
		return core.ConsumeResponse{Params: &core.ConsumerParams{ConsumerParameters: coretest.ConsumerParameters(req.RemoteProducerID)}}, nil
	})
	return in, rel
}

func TestConsume(t *testing.T) {
	s, sfu, engine := joinedSession(t, app.Options{})

	stream, err := s.Consume(context.Background(), "p2")
	require.NoError(t, err)
	require.Equal(t, domain.ProducerID("p2"), stream.ProducerID)
	require.Equal(t, domain.ConsumerID("c-p2"), stream.ConsumerID)
	require.Equal(t, domain.MediaKindVideo, stream.Kind)
	require.NotNil(t, stream.Track)

	require.Equal(t, []string{
		core.MethodJoinRoom,
		core.MethodCreateTransport,
		core.MethodTransportRecvConnect,
		core.MethodConsume,
		core.MethodConsumerResume,
	}, sfu.Methods())

	calls := sfu.Calls()
	var create core.CreateTransportRequest
	require.NoError(t, json.Unmarshal(calls[1].Payload, &create))
	require.True(t, create.Consumer)

	var connect core.TransportRecvConnectRequest
	require.NoError(t, json.Unmarshal(calls[2].Payload, &connect))
	require.Equal(t, domain.TransportID("t1"), connect.ServerConsumerTransportID)

	var consume core.ConsumeRequest
	require.NoError(t, json.Unmarshal(calls[3].Payload, &consume))
	require.Equal(t, domain.ProducerID("p2"), consume.RemoteProducerID)
	require.Equal(t, domain.TransportID("t1"), consume.ServerConsumerTransportID)
	require.NotEmpty(t, consume.RtpCapabilities.Codecs)

	var resume core.ConsumerResumeRequest
	require.NoError(t, json.Unmarshal(calls[4].Payload, &resume))
	require.Equal(t, domain.ConsumerID("c-p2"), resume.ServerConsumerID)

	e, ok := s.Registry().Get("p2")
	require.True(t, ok)
	require.Equal(t, domain.TransportID("t1"), e.Transport.ID())
	require.Equal(t, []uint32{1111}, engine.Handlers()[0].KeyFrames())
}

func TestConsumeTwiceIsNoop(t *testing.T) {
	s, sfu, _ := joinedSession(t, app.Options{})

	_, err := s.Consume(context.Background(), "p2")
	require.NoError(t, err)
	stream, err := s.Consume(context.Background(), "p2")
	require.NoError(t, err)
	require.Nil(t, stream)
	require.Equal(t, 1, sfu.TransportCount())
	require.Equal(t, 1, s.Registry().Len())
}

func TestConcurrentConsumeSameProducer(t *testing.T) {
	s, sfu, _ := joinedSession(t, app.Options{})
	entered, release := blockConsume(sfu)

	first := make(chan error, 1)
	go func() {
		_, err := s.Consume(context.Background(), "p2")
		first <- err
	}()
	<-entered
	require.True(t, s.Registry().IsPending("p2"))

	stream, err := s.Consume(context.Background(), "p2")
	require.NoError(t, err)
	require.Nil(t, stream)

	close(release)
	require.NoError(t, <-first)
	require.Equal(t, 1, sfu.TransportCount())
	require.Equal(t, 1, sfu.Count(core.MethodConsume))
	require.Equal(t, 1, s.Registry().Len())
}

func TestConsumeFailureReleasesID(t *testing.T) {
	s, sfu, engine := joinedSession(t, app.Options{})
	sfu.Handle(core.MethodConsume, func(json.RawMessage) (any, error) {
		return core.ConsumeResponse{Params: &core.ConsumerParams{Error: "cannot consume"}}, nil
	})

	_, err := s.Consume(context.Background(), "p2")
	var serr *core.ServerError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "cannot consume", serr.Reason)
	require.False(t, s.Registry().IsPending("p2"))
	require.Zero(t, s.Registry().Len())
	require.True(t, engine.Handlers()[0].Closed())

	sfu.Handle(core.MethodConsume, func(json.RawMessage) (any, error) {
		return core.ConsumeResponse{Params: &core.ConsumerParams{ConsumerParameters: coretest.ConsumerParameters("p2")}}, nil
	})
	stream, err := s.Consume(context.Background(), "p2")
	require.NoError(t, err)
	require.NotNil(t, stream)
}

func TestConsumeFailureCases(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(sfu *coretest.SFU, engine *coretest.Engine)
		wantErr error
	}{
		{
			name: "missing params",
			prepare: func(sfu *coretest.SFU, _ *coretest.Engine) {
				sfu.Handle(core.MethodConsume, func(json.RawMessage) (any, error) { return map[string]any{}, nil })
			},
			wantErr: core.ErrMalformedResponse,
		},
		{
			name: "connect rejected",
			prepare: func(sfu *coretest.SFU, _ *coretest.Engine) {
				sfu.Handle(core.MethodTransportRecvConnect, func(json.RawMessage) (any, error) {
					return nil, core.ErrSignalClosed
				})
			},
			wantErr: core.ErrSignalClosed,
		},
		{
			name: "receive fails",
			prepare: func(_ *coretest.SFU, engine *coretest.Engine) {
				engine.ReceiveErr = errors.New("no receiver")
			},
		},
		{
			name: "resume fails",
			prepare: func(sfu *coretest.SFU, _ *coretest.Engine) {
				sfu.Handle(core.MethodConsumerResume, func(json.RawMessage) (any, error) {
					return nil, &core.ServerError{Method: core.MethodConsumerResume, Reason: "gone"}
				})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, sfu, engine := joinedSession(t, app.Options{})
			tt.prepare(sfu, engine)

			_, err := s.Consume(context.Background(), "p2")
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			require.False(t, s.Registry().IsPending("p2"))
			require.Zero(t, s.Registry().Len())
			for _, h := range engine.Handlers() {
				require.True(t, h.Closed())
			}
		})
	}
}

func TestCloseConsumer(t *testing.T) {
	s, _, engine := joinedSession(t, app.Options{})
	stream, err := s.Consume(context.Background(), "p2")
	require.NoError(t, err)

	require.True(t, s.CloseConsumer("p2"))
	require.Zero(t, s.Registry().Len())
	require.True(t, engine.Handlers()[0].Closed())
	_, _, err = stream.Track.ReadRTP()
	require.Error(t, err)

	require.False(t, s.CloseConsumer("p2"))
	require.False(t, s.CloseConsumer("unknown"))

	// consumed again after the close
	_, err = s.Consume(context.Background(), "p2")
	require.NoError(t, err)
	require.Equal(t, 1, s.Registry().Len())
}

func TestCloseConsumerWhilePending(t *testing.T) {
	s, sfu, engine := joinedSession(t, app.Options{})
	entered, release := blockConsume(sfu)

	done := make(chan error, 1)
	go func() {
		_, err := s.Consume(context.Background(), "p2")
		done <- err
	}()
	<-entered

	require.False(t, s.CloseConsumer("p2"))
	require.Zero(t, s.Registry().Len())
	close(release)

	require.ErrorIs(t, <-done, core.ErrProducerClosed)
	require.Zero(t, s.Registry().Len())
	require.False(t, s.Registry().IsPending("p2"))
	require.True(t, engine.Handlers()[0].Closed())
	require.Zero(t, sfu.Count(core.MethodConsumerResume))
}

func TestConsumeAll(t *testing.T) {
	s, sfu, _ := joinedSession(t, app.Options{ConsumeConcurrency: 2})
	sfu.Producers = []domain.ProducerID{"A", "B", "C"}

	results, err := s.ConsumeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, id := range []domain.ProducerID{"A", "B", "C"} {
		require.Equal(t, id, results[i].ProducerID)
		require.NoError(t, results[i].Err)
		require.Equal(t, id, results[i].Stream.ProducerID)
	}
	require.Equal(t, 3, s.Registry().Len())
	require.Equal(t, 3, sfu.TransportCount())
}

func TestConsumeAllEmpty(t *testing.T) {
	s, sfu, _ := joinedSession(t, app.Options{})

	results, err := s.ConsumeAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, results)
	require.Zero(t, sfu.Count(core.MethodCreateTransport))
}

func failingConsume(sfu *coretest.SFU, bad domain.ProducerID) {
	sfu.Handle(core.MethodConsume, func(raw json.RawMessage) (any, error) {
		var req core.ConsumeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		if req.RemoteProducerID == bad {
			return core.ConsumeResponse{Params: &core.ConsumerParams{Error: "boom"}}, nil
		}
		return core.ConsumeResponse{Params: &core.ConsumerParams{ConsumerParameters: coretest.ConsumerParameters(req.RemoteProducerID)}}, nil
	})
}

func TestConsumeAllContinuesAfterFailure(t *testing.T) {
	s, sfu, _ := joinedSession(t, app.Options{})
	sfu.Producers = []domain.ProducerID{"A", "B", "C"}
	failingConsume(sfu, "B")

	results, err := s.ConsumeAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.Nil(t, results[1].Stream)
	require.NoError(t, results[2].Err)
	require.Equal(t, 2, s.Registry().Len())
	require.False(t, s.Registry().IsPending("B"))
}

func TestConsumeAllAbortPolicy(t *testing.T) {
	s, sfu, _ := joinedSession(t, app.Options{Policy: app.AbortPolicy{}})
	sfu.Producers = []domain.ProducerID{"A", "B", "C"}
	failingConsume(sfu, "A")

	results, err := s.ConsumeAll(context.Background())
	require.NoError(t, err)
	require.Error(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, context.Canceled)
	require.ErrorIs(t, results[2].Err, context.Canceled)
	require.Zero(t, s.Registry().Len())
}

func TestConsumeAllEnumerationFailure(t *testing.T) {
	s, sfu, _ := joinedSession(t, app.Options{})
	sfu.Handle(core.MethodGetProducers, func(json.RawMessage) (any, error) {
		return nil, core.ErrSignalClosed
	})

	_, err := s.ConsumeAll(context.Background())
	require.ErrorIs(t, err, core.ErrSignalClosed)
}

func TestScenarioJoinPublishConsume(t *testing.T) {
	s, sfu, _ := newSession(t, app.Options{})
	sfu.ProducersExist = true
	sfu.Producers = []domain.ProducerID{"p2"}

	_, err := s.Negotiate(context.Background(), "main")
	require.NoError(t, err)
	res, err := s.Publish(context.Background(), videoTrack(t))
	require.NoError(t, err)
	require.True(t, res.ProducersExist)

	results, err := s.ConsumeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	// announcement racing the enumeration
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Consume(context.Background(), "p3")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 2, s.Registry().Len())
	require.Equal(t, 3, sfu.TransportCount())

	require.True(t, s.CloseConsumer("p2"))
	require.False(t, s.CloseConsumer("p2"))
	require.Equal(t, 1, s.Registry().Len())
}
