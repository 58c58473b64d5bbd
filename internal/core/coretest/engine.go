package coretest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Engine is a core.MediaEngine that records what the pipelines ask of it.
type Engine struct {
	mu sync.Mutex

	Local           domain.RtpCapabilities
	CapabilitiesErr error
	NewTransportErr error
	// ConnectErr, SendErr and ReceiveErr are copied into every new handler.
	ConnectErr error
	SendErr    error
	ReceiveErr error

	handlers []*Handler
	events   []string
}

func NewEngine() *Engine {
	return &Engine{Local: LocalCapabilities()}
}

func (e *Engine) Capabilities() (domain.RtpCapabilities, error) {
	if e.CapabilitiesErr != nil {
		return domain.RtpCapabilities{}, e.CapabilitiesErr
	}
	return e.Local, nil
}

func (e *Engine) NewTransport(dir domain.Direction, opts domain.TransportOptions, device *core.Device) (core.TransportHandler, error) {
	if device == nil {
		return nil, errors.New("no device")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewTransportErr != nil {
		return nil, e.NewTransportErr
	}
	h := &Handler{
		engine:     e,
		ID:         opts.ID,
		Direction:  dir,
		ConnectErr: e.ConnectErr,
		SendErr:    e.SendErr,
		ReceiveErr: e.ReceiveErr,
		Tracks:     make(map[domain.ConsumerID]*RemoteTrack),
	}
	e.handlers = append(e.handlers, h)
	e.events = append(e.events, fmt.Sprintf("%s:new", opts.ID))
	return h, nil
}

func (e *Engine) record(id domain.TransportID, ev string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, fmt.Sprintf("%s:%s", id, ev))
}

// Events lists "<transport>:<step>" entries in order.
func (e *Engine) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *Engine) Handlers() []*Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Handler(nil), e.handlers...)
}

// Handler is a core.TransportHandler without any network.
type Handler struct {
	engine *Engine

	ID        domain.TransportID
	Direction domain.Direction

	ConnectErr error
	SendErr    error
	ReceiveErr error

	mu        sync.Mutex
	connected bool
	sending   bool
	closed    bool
	keyFrames []uint32
	Tracks    map[domain.ConsumerID]*RemoteTrack
}

func (h *Handler) LocalDTLSParameters() (domain.DtlsParameters, error) {
	return domain.DtlsParameters{
		Role:         "client",
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "CC:DD"}},
	}, nil
}

func (h *Handler) Connect(ctx context.Context) error {
	h.engine.record(h.ID, "connect")
	if h.ConnectErr != nil {
		return h.ConnectErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = true
	return nil
}

func (h *Handler) Send(ctx context.Context, track webrtc.TrackLocal, opts core.ProduceOptions) (domain.RtpParameters, error) {
	h.engine.record(h.ID, "send")
	if h.SendErr != nil {
		return domain.RtpParameters{}, h.SendErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sending = true
	enc := domain.RtpEncodingParameters{SSRC: 2222}
	if len(opts.Encodings) > 0 {
		enc.MaxBitrate = opts.Encodings[0].MaxBitrate
		enc.ScalabilityMode = opts.Encodings[0].ScalabilityMode
	}
	return domain.RtpParameters{
		MID:       "0",
		Codecs:    []domain.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000}},
		Encodings: []domain.RtpEncodingParameters{enc},
		Rtcp:      domain.RtcpParameters{CNAME: "local", ReducedSize: true},
	}, nil
}

func (h *Handler) StopSending() error {
	h.engine.record(h.ID, "stop-sending")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sending = false
	return nil
}

func (h *Handler) Receive(ctx context.Context, params domain.ConsumerParameters) (core.RemoteTrack, error) {
	h.engine.record(h.ID, "receive")
	if h.ReceiveErr != nil {
		return nil, h.ReceiveErr
	}
	t := NewRemoteTrack(string(params.ID), string(params.ProducerID))
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Tracks[params.ID] = t
	return t, nil
}

func (h *Handler) StopReceiving(id domain.ConsumerID) error {
	h.engine.record(h.ID, "stop-receiving")
	h.mu.Lock()
	t, ok := h.Tracks[id]
	delete(h.Tracks, id)
	h.mu.Unlock()
	if ok {
		t.Stop()
	}
	return nil
}

func (h *Handler) RequestKeyFrame(ssrc uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keyFrames = append(h.keyFrames, ssrc)
	return nil
}

func (h *Handler) Close() error {
	h.engine.record(h.ID, "close")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *Handler) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handler) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *Handler) KeyFrames() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint32(nil), h.keyFrames...)
}

func LocalCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{
		Codecs: []domain.RtpCodecCapability{
			{
				Kind: domain.MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000,
				RtcpFeedback: []domain.RtcpFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}},
			},
			{Kind: domain.MediaKindVideo, MimeType: "video/rtx", ClockRate: 90000},
			{Kind: domain.MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		},
		HeaderExtensions: []domain.RtpHeaderExtension{
			{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid"},
		},
	}
}

// RemoteTrack is a core.RemoteTrack fed from a channel.
type RemoteTrack struct {
	id       string
	streamID string
	packets  chan *rtp.Packet
	stopOnce sync.Once
}

func NewRemoteTrack(id, streamID string) *RemoteTrack {
	return &RemoteTrack{id: id, streamID: streamID, packets: make(chan *rtp.Packet, 16)}
}

func (t *RemoteTrack) ID() string                { return t.id }
func (t *RemoteTrack) StreamID() string          { return t.streamID }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

func (t *RemoteTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        101,
	}
}

func (t *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

// Push queues a packet for ReadRTP.
func (t *RemoteTrack) Push(pkt *rtp.Packet) { t.packets <- pkt }

// Stop makes ReadRTP return io.EOF once queued packets are drained.
func (t *RemoteTrack) Stop() { t.stopOnce.Do(func() { close(t.packets) }) }
