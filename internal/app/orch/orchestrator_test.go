package orch_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/sfuclient/internal/app"
	"github.com/dkeye/sfuclient/internal/app/orch"
	"github.com/dkeye/sfuclient/internal/app/relay"
	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/core/coretest"
	"github.com/dkeye/sfuclient/internal/core/mocks"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type nopSink struct {
	mu     sync.Mutex
	closed bool
}

func (s *nopSink) WriteRTP(*rtp.Packet) error { return nil }

func (s *nopSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func videoTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "camera")
	require.NoError(t, err)
	return track
}

func newOrchestrator(sfu *coretest.SFU, signal core.Signaler) (*orch.Orchestrator, *sync.Map) {
	sinks := &sync.Map{}
	o := &orch.Orchestrator{
		Session: app.NewSession(sfu, coretest.NewEngine(), app.Options{Peer: "peer-1"}),
		Signal:  signal,
		Relays:  relay.NewManager(),
		NewSink: func(s *app.Stream) (relay.Sink, error) {
			sink := &nopSink{}
			sinks.Store(s.ProducerID, sink)
			return sink, nil
		},
	}
	return o, sinks
}

func TestJoinConsumesExistingProducers(t *testing.T) {
	sfu := coretest.NewSFU()
	sfu.ProducersExist = true
	sfu.Producers = []domain.ProducerID{"p2", "p3"}
	o, sinks := newOrchestrator(sfu, sfu)

	var started []domain.ProducerID
	o.OnStream = func(s *app.Stream) { started = append(started, s.ProducerID) }

	require.NoError(t, o.Join(context.Background(), "main", videoTrack(t)))
	require.Equal(t, []domain.ProducerID{"p2", "p3"}, started)
	require.Equal(t, 2, o.Session.Registry().Len())
	require.True(t, o.Relays.HasRelay("p2"))
	require.True(t, o.Relays.HasRelay("p3"))
	_, ok := sinks.Load(domain.ProducerID("p2"))
	require.True(t, ok)

	methods := sfu.Methods()
	require.Equal(t, []string{
		core.MethodJoinRoom,
		core.MethodCreateTransport,
		core.MethodTransportConnect,
		core.MethodTransportProduce,
		core.MethodGetProducers,
	}, methods[:5])

	o.Close(context.Background())
	require.Zero(t, o.Session.Registry().Len())
	require.Empty(t, o.Relays.Snapshot())
}

func TestJoinAloneSkipsEnumeration(t *testing.T) {
	sfu := coretest.NewSFU()
	o, _ := newOrchestrator(sfu, sfu)

	require.NoError(t, o.Join(context.Background(), "main", videoTrack(t)))
	require.Zero(t, sfu.Count(core.MethodGetProducers))
	require.NotNil(t, o.Session.Producer())
}

func TestJoinReceiveOnly(t *testing.T) {
	sfu := coretest.NewSFU()
	sfu.Producers = []domain.ProducerID{"p2"}
	o, _ := newOrchestrator(sfu, sfu)

	require.NoError(t, o.Join(context.Background(), "main", nil))
	require.Zero(t, sfu.Count(core.MethodTransportProduce))
	require.Equal(t, 1, o.Session.Registry().Len())
}

func TestJoinNegotiationFailure(t *testing.T) {
	sfu := coretest.NewSFU()
	sfu.Handle(core.MethodJoinRoom, func(json.RawMessage) (any, error) {
		return nil, errors.New("no such room")
	})
	o, _ := newOrchestrator(sfu, sfu)

	require.Error(t, o.Join(context.Background(), "main", videoTrack(t)))
	require.Equal(t, []string{core.MethodJoinRoom}, sfu.Methods())
}

func TestSignalEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	signal := mocks.NewMockSignaler(ctrl)

	handlers := make(map[string]core.EventHandler)
	signal.EXPECT().On(core.EventNewProducer, gomock.Any()).Do(func(event string, fn core.EventHandler) {
		handlers[event] = fn
	})
	signal.EXPECT().On(core.EventProducerClosed, gomock.Any()).Do(func(event string, fn core.EventHandler) {
		handlers[event] = fn
	})

	sfu := coretest.NewSFU()
	o, sinks := newOrchestrator(sfu, signal)
	ended := make(chan domain.ProducerID, 1)
	o.OnStreamEnded = func(id domain.ProducerID) { ended <- id }

	o.BindSignalHandlers(context.Background())
	require.NoError(t, o.Join(context.Background(), "main", videoTrack(t)))

	handlers[core.EventNewProducer](json.RawMessage(`{"producerId":"p2"}`))
	require.Eventually(t, func() bool { return o.Relays.HasRelay("p2") }, time.Second, 10*time.Millisecond)

	// repeated announcement of the same producer
	handlers[core.EventNewProducer](json.RawMessage(`{"producerId":"p2"}`))
	handlers[core.EventNewProducer](json.RawMessage(`{"id":"p9"}`))

	handlers[core.EventProducerClosed](json.RawMessage(`{"remoteProducerId":"p2"}`))
	require.Equal(t, domain.ProducerID("p2"), <-ended)
	require.Zero(t, o.Session.Registry().Len())
	require.False(t, o.Relays.HasRelay("p2"))

	v, ok := sinks.Load(domain.ProducerID("p2"))
	require.True(t, ok)
	sink := v.(*nopSink)
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.closed
	}, time.Second, 10*time.Millisecond)

	// unknown producer closed
	handlers[core.EventProducerClosed](json.RawMessage(`{"remoteProducerId":"p7"}`))

	o.Close(context.Background())
	require.LessOrEqual(t, sfu.Count(core.MethodConsume), 2)
	require.Equal(t, 0, o.Session.Registry().Len())
}

func TestNewProducerAfterClose(t *testing.T) {
	sfu := coretest.NewSFU()
	o, _ := newOrchestrator(sfu, sfu)
	require.NoError(t, o.Join(context.Background(), "main", videoTrack(t)))

	o.Close(context.Background())
	o.OnNewProducer(context.Background(), "p2")
	require.Zero(t, sfu.Count(core.MethodConsume))
}

// consumeHook makes the SFU run fn while it serves the consume request of id.
func consumeHook(sfu *coretest.SFU, id domain.ProducerID, fn func()) {
	sfu.Handle(core.MethodConsume, func(raw json.RawMessage) (any, error) {
		var req core.ConsumeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		if req.RemoteProducerID == id {
			fn()
		}
		return core.ConsumeResponse{Params: &core.ConsumerParams{ConsumerParameters: coretest.ConsumerParameters(req.RemoteProducerID)}}, nil
	})
}

func TestJoinSkipsProducerClosedDuringEnumeration(t *testing.T) {
	sfu := coretest.NewSFU()
	sfu.Producers = []domain.ProducerID{"A", "B"}
	o, sinks := newOrchestrator(sfu, sfu)

	var events []string
	o.OnStream = func(s *app.Stream) { events = append(events, "start:"+string(s.ProducerID)) }
	o.OnStreamEnded = func(id domain.ProducerID) { events = append(events, "end:"+string(id)) }
	consumeHook(sfu, "B", func() { o.OnProducerClosed("A") })

	require.NoError(t, o.Join(context.Background(), "main", nil))

	require.Equal(t, []string{"start:B"}, events)
	_, ok := o.Session.Registry().Get("A")
	require.False(t, ok)
	require.False(t, o.Relays.HasRelay("A"))
	_, ok = sinks.Load(domain.ProducerID("A"))
	require.False(t, ok)
	require.True(t, o.Relays.HasRelay("B"))

	o.OnProducerClosed("B")
	require.Equal(t, []string{"start:B", "end:B"}, events)
	o.Close(context.Background())
}

func TestCloseDuringJoinStartsNoRelay(t *testing.T) {
	sfu := coretest.NewSFU()
	sfu.Producers = []domain.ProducerID{"A", "B"}
	o, sinks := newOrchestrator(sfu, sfu)

	var started []domain.ProducerID
	o.OnStream = func(s *app.Stream) { started = append(started, s.ProducerID) }
	consumeHook(sfu, "B", func() { o.Close(context.Background()) })

	require.NoError(t, o.Join(context.Background(), "main", nil))

	require.Empty(t, started)
	require.Empty(t, o.Relays.Snapshot())
	_, ok := sinks.Load(domain.ProducerID("A"))
	require.False(t, ok)
	require.Zero(t, o.Session.Registry().Len())
}
