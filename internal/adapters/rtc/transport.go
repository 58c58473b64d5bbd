package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// transport is a core.TransportHandler over one ICE+DTLS pair.
type transport struct {
	id     domain.TransportID
	dir    domain.Direction
	remote domain.TransportOptions
	cname  string

	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	mu        sync.Mutex
	sender    *webrtc.RTPSender
	receivers map[domain.ConsumerID]*webrtc.RTPReceiver
	mids      int
	closed    bool

	logger zerolog.Logger
}

func (t *transport) LocalDTLSParameters() (domain.DtlsParameters, error) {
	p, err := t.dtls.GetLocalParameters()
	if err != nil {
		return domain.DtlsParameters{}, err
	}
	remote := dtlsParametersToWebRTC(t.remote.DtlsParameters)
	return dtlsParametersFromWebRTC(p, remote.Role), nil
}

// Connect gathers local candidates, runs ICE as controlling agent against
// the router and completes the DTLS handshake. Both steps block inside
// pion, so ctx cancellation closes the transport to unblock them.
func (t *transport) Connect(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- t.connect(ctx) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		_ = t.Close()
		return ctx.Err()
	}
}

func (t *transport) connect(ctx context.Context) error {
	if err := t.gather(ctx); err != nil {
		return err
	}
	candidates, err := iceCandidatesToWebRTC(t.remote.IceCandidates)
	if err != nil {
		return err
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("remote candidates: %w", err)
	}
	role := webrtc.ICERoleControlling
	if err := t.ice.Start(t.gatherer, iceParametersToWebRTC(t.remote.IceParameters), &role); err != nil {
		return fmt.Errorf("ice start: %w", err)
	}
	if err := t.dtls.Start(dtlsParametersToWebRTC(t.remote.DtlsParameters)); err != nil {
		return fmt.Errorf("dtls start: %w", err)
	}
	t.logger.Info().Msg("media transport connected")
	return nil
}

func (t *transport) gather(ctx context.Context) error {
	if t.gatherer.State() != webrtc.ICEGathererStateNew {
		return nil
	}
	done := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type codecTrack interface {
	Codec() webrtc.RTPCodecCapability
}

func (t *transport) Send(ctx context.Context, track webrtc.TrackLocal, opts core.ProduceOptions) (domain.RtpParameters, error) {
	if t.dir != domain.DirectionSend {
		return domain.RtpParameters{}, core.ErrWrongDirection
	}
	sender, err := t.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return domain.RtpParameters{}, fmt.Errorf("rtp sender: %w", err)
	}
	params := sender.GetParameters()
	if len(params.Encodings) == 0 {
		_ = sender.Stop()
		return domain.RtpParameters{}, errors.New("rtp sender without encodings")
	}

	var mimeType string
	if ct, ok := track.(codecTrack); ok {
		mimeType = ct.Codec().MimeType
	}
	codecs, err := selectSendCodecs(params.Codecs, mimeType)
	if err != nil {
		_ = sender.Stop()
		return domain.RtpParameters{}, err
	}
	if v, ok := opts.CodecOptions["videoGoogleStartBitrate"]; ok && track.Kind() == webrtc.RTPCodecTypeVideo {
		if codecs[0].Parameters == nil {
			codecs[0].Parameters = make(map[string]any)
		}
		codecs[0].Parameters[startBitrateParam] = v
	}

	if err := sender.Send(params); err != nil {
		_ = sender.Stop()
		return domain.RtpParameters{}, fmt.Errorf("rtp send: %w", err)
	}
	go t.drainRTCP(sender)

	enc := domain.RtpEncodingParameters{SSRC: uint32(params.Encodings[0].SSRC)}
	if rtx := params.Encodings[0].RTX.SSRC; rtx != 0 && len(codecs) > 1 {
		enc.Rtx = &domain.RtxParameters{SSRC: uint32(rtx)}
	}
	if len(opts.Encodings) > 0 {
		enc.MaxBitrate = opts.Encodings[0].MaxBitrate
		enc.ScalabilityMode = opts.Encodings[0].ScalabilityMode
	}
	exts := make([]domain.RtpHeaderExtensionParameters, 0, len(params.HeaderExtensions))
	for _, h := range params.HeaderExtensions {
		if isReservedExtension(h.URI) {
			continue
		}
		exts = append(exts, domain.RtpHeaderExtensionParameters{URI: h.URI, ID: h.ID})
	}

	t.mu.Lock()
	t.sender = sender
	mid := t.mids
	t.mids++
	t.mu.Unlock()

	t.logger.Info().
		Str("codec", codecs[0].MimeType).
		Uint32("ssrc", enc.SSRC).
		Msg("sending")
	return domain.RtpParameters{
		MID:              fmt.Sprint(mid),
		Codecs:           codecs,
		HeaderExtensions: exts,
		Encodings:        []domain.RtpEncodingParameters{enc},
		Rtcp:             domain.RtcpParameters{CNAME: t.cname, ReducedSize: true},
	}, nil
}

// drainRTCP keeps the interceptors fed; NACK and REMB handling happen
// there.
func (t *transport) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *transport) StopSending() error {
	t.mu.Lock()
	sender := t.sender
	t.sender = nil
	t.mu.Unlock()
	if sender == nil {
		return nil
	}
	return sender.Stop()
}

func (t *transport) Receive(ctx context.Context, params domain.ConsumerParameters) (core.RemoteTrack, error) {
	if t.dir != domain.DirectionRecv {
		return nil, core.ErrWrongDirection
	}
	kind, err := codecType(params.Kind)
	if err != nil {
		return nil, err
	}
	rp := params.RtpParameters
	if len(rp.Encodings) == 0 || len(rp.Codecs) == 0 {
		return nil, fmt.Errorf("consumer %s: %w: no encodings", params.ID, core.ErrMalformedResponse)
	}
	var media *domain.RtpCodecParameters
	codecs := make([]webrtc.RTPCodecParameters, 0, len(rp.Codecs))
	for i := range rp.Codecs {
		codecs = append(codecs, codecToWebRTC(rp.Codecs[i]))
		if media == nil && !isRTX(rp.Codecs[i].MimeType) {
			media = &rp.Codecs[i]
		}
	}
	if media == nil {
		return nil, fmt.Errorf("consumer %s: %w: no media codec", params.ID, core.ErrMalformedResponse)
	}

	receiver, err := t.api.NewRTPReceiver(kind, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	coding := webrtc.RTPCodingParameters{
		SSRC:        webrtc.SSRC(rp.Encodings[0].SSRC),
		PayloadType: webrtc.PayloadType(media.PayloadType),
	}
	if rtx := rp.Encodings[0].Rtx; rtx != nil {
		coding.RTX = webrtc.RTPRtxParameters{SSRC: webrtc.SSRC(rtx.SSRC)}
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{RTPCodingParameters: coding}},
	}); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtp receive: %w", err)
	}
	receiver.SetRTPParameters(webrtc.RTPParameters{
		HeaderExtensions: headerExtensionsToWebRTC(rp.HeaderExtensions),
		Codecs:           codecs,
	})

	t.mu.Lock()
	t.receivers[params.ID] = receiver
	t.mu.Unlock()

	t.logger.Info().
		Str("consumer_id", string(params.ID)).
		Str("codec", media.MimeType).
		Uint32("ssrc", rp.Encodings[0].SSRC).
		Msg("receiving")
	return &remoteTrack{
		TrackRemote: receiver.Track(),
		id:          string(params.ID),
		streamID:    string(params.ProducerID),
	}, nil
}

func (t *transport) StopReceiving(id domain.ConsumerID) error {
	t.mu.Lock()
	receiver, ok := t.receivers[id]
	delete(t.receivers, id)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return receiver.Stop()
}

func (t *transport) RequestKeyFrame(ssrc uint32) error {
	_, err := t.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	return err
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sender := t.sender
	receivers := t.receivers
	t.sender = nil
	t.receivers = make(map[domain.ConsumerID]*webrtc.RTPReceiver)
	t.mu.Unlock()

	var errs []error
	if sender != nil {
		errs = append(errs, sender.Stop())
	}
	for _, r := range receivers {
		errs = append(errs, r.Stop())
	}
	errs = append(errs, t.dtls.Stop(), t.ice.Stop(), t.gatherer.Close())
	return errors.Join(errs...)
}

// remoteTrack names a pion track after its consumer; ORTC receivers carry
// no SDP ids.
type remoteTrack struct {
	*webrtc.TrackRemote
	id       string
	streamID string
}

func (r *remoteTrack) ID() string       { return r.id }
func (r *remoteTrack) StreamID() string { return r.streamID }

var _ core.RemoteTrack = (*remoteTrack)(nil)
