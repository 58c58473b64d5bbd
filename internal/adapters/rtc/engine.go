// Package rtc implements the media engine on pion/webrtc's ORTC API: one
// ICE gatherer, ICE transport and DTLS transport per signaled transport.
package rtc

import (
	"fmt"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ICEServers []webrtc.ICEServer
	// PionLogLevel is the lowest pion log level forwarded to zerolog.
	PionLogLevel zerolog.Level
}

// Engine is a core.MediaEngine backed by pion.
type Engine struct {
	opts  Options
	cname string
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts, cname: uuid.NewString()}
}

func (e *Engine) Capabilities() (domain.RtpCapabilities, error) {
	return localCapabilities(), nil
}

// NewTransport builds the local side of a server transport. Only the
// codecs and header extensions the device negotiated are registered.
func (e *Engine) NewTransport(dir domain.Direction, opts domain.TransportOptions, device *core.Device) (core.TransportHandler, error) {
	if device == nil {
		return nil, core.ErrNotJoined
	}
	m, err := e.mediaEngine(device)
	if err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	settings := webrtc.SettingEngine{
		LoggerFactory: LoggerFactory{Level: e.opts.PionLogLevel},
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(registry),
	)

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: e.opts.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	t := &transport{
		id:        opts.ID,
		dir:       dir,
		remote:    opts,
		cname:     e.cname,
		api:       api,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		receivers: make(map[domain.ConsumerID]*webrtc.RTPReceiver),
		logger: log.With().
			Str("module", "adapters.rtc").
			Str("transport_id", string(opts.ID)).
			Str("direction", string(dir)).
			Logger(),
	}
	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.logger.Info().Str("dtls_state", s.String()).Msg("DTLS state")
	})
	return t, nil
}

func (e *Engine) mediaEngine(device *core.Device) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	var exts []domain.RtpHeaderExtension
	for _, kind := range []domain.MediaKind{domain.MediaKindAudio, domain.MediaKindVideo} {
		typ, err := codecType(kind)
		if err != nil {
			return nil, err
		}
		for _, c := range device.Codecs(kind) {
			if err := m.RegisterCodec(capabilityToWebRTC(c), typ); err != nil {
				return nil, fmt.Errorf("register codec %s/%d: %w", c.MimeType, c.PreferredPayloadType, err)
			}
		}
		exts = append(exts, device.HeaderExtensions(kind)...)
	}

	for _, slot := range extensionSlots(exts) {
		kinds := slot.Kinds
		if len(kinds) == 0 {
			kinds = []domain.MediaKind{domain.MediaKindVideo}
		}
		for _, kind := range kinds {
			typ, err := codecType(kind)
			if err != nil {
				return nil, err
			}
			if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: slot.URI}, typ); err != nil {
				return nil, fmt.Errorf("register header extension %s: %w", slot.URI, err)
			}
		}
	}
	return m, nil
}
