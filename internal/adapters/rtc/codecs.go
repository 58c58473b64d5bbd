package rtc

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	mimeTypeRTX = "video/rtx"

	uriMID            = "urn:ietf:params:rtp-hdrext:sdes:mid"
	uriAbsSendTime    = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
	uriTransportCC    = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
	uriAudioLevel     = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	startBitrateParam = "x-google-start-bitrate"

	// reservedExtensionURI names placeholder extensions that hold header
	// extension ids the router does not use.
	reservedExtensionURI = "urn:sfuclient:rtp-hdrext:reserved:"
	maxExtensionID       = 14
)

var videoFeedback = []domain.RtcpFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
	{Type: "transport-cc"},
}

// localCapabilities is what this engine can send and receive, in
// preference order.
func localCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{
		Codecs: []domain.RtpCodecCapability{
			{
				Kind:         domain.MediaKindVideo,
				MimeType:     webrtc.MimeTypeVP8,
				ClockRate:    90000,
				RtcpFeedback: videoFeedback,
			},
			{Kind: domain.MediaKindVideo, MimeType: mimeTypeRTX, ClockRate: 90000},
			{
				Kind:      domain.MediaKindVideo,
				MimeType:  webrtc.MimeTypeH264,
				ClockRate: 90000,
				Parameters: map[string]any{
					"level-asymmetry-allowed": 1,
					"packetization-mode":      1,
					"profile-level-id":        "42e01f",
				},
				RtcpFeedback: videoFeedback,
			},
			{
				Kind:         domain.MediaKindAudio,
				MimeType:     webrtc.MimeTypeOpus,
				ClockRate:    48000,
				Channels:     2,
				Parameters:   map[string]any{"minptime": 10, "useinbandfec": 1},
				RtcpFeedback: []domain.RtcpFeedback{{Type: "transport-cc"}},
			},
		},
		HeaderExtensions: []domain.RtpHeaderExtension{
			{Kind: domain.MediaKindAudio, URI: uriMID},
			{Kind: domain.MediaKindVideo, URI: uriMID},
			{Kind: domain.MediaKindVideo, URI: uriAbsSendTime},
			{Kind: domain.MediaKindVideo, URI: uriTransportCC},
			{Kind: domain.MediaKindAudio, URI: uriAudioLevel},
		},
	}
}

func codecType(kind domain.MediaKind) (webrtc.RTPCodecType, error) {
	switch kind {
	case domain.MediaKindAudio:
		return webrtc.RTPCodecTypeAudio, nil
	case domain.MediaKindVideo:
		return webrtc.RTPCodecTypeVideo, nil
	}
	return 0, fmt.Errorf("%w: media kind %q", core.ErrUnsupported, kind)
}

func isRTX(mimeType string) bool {
	return strings.HasSuffix(strings.ToLower(mimeType), "/rtx")
}

// fmtpLine renders codec parameters the way they appear in an SDP fmtp
// attribute, keys sorted.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+paramString(params[k]))
	}
	return strings.Join(parts, ";")
}

func paramString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// parseFmtp is the inverse of fmtpLine. Integer values become int.
func parseFmtp(line string) map[string]any {
	if line == "" {
		return nil
	}
	out := make(map[string]any)
	for _, part := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}

func toFeedback(fb []domain.RtcpFeedback) []webrtc.RTCPFeedback {
	if len(fb) == 0 {
		return nil
	}
	out := make([]webrtc.RTCPFeedback, 0, len(fb))
	for _, f := range fb {
		out = append(out, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

func fromFeedback(fb []webrtc.RTCPFeedback) []domain.RtcpFeedback {
	if len(fb) == 0 {
		return nil
	}
	out := make([]domain.RtcpFeedback, 0, len(fb))
	for _, f := range fb {
		out = append(out, domain.RtcpFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

// capabilityToWebRTC maps a negotiated codec to a MediaEngine entry,
// keeping the router's payload type.
func capabilityToWebRTC(c domain.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: toFeedback(c.RtcpFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

func codecToWebRTC(c domain.RtpCodecParameters) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: toFeedback(c.RtcpFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

func codecFromWebRTC(c webrtc.RTPCodecParameters) domain.RtpCodecParameters {
	return domain.RtpCodecParameters{
		MimeType:     c.MimeType,
		PayloadType:  uint8(c.PayloadType),
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		Parameters:   parseFmtp(c.SDPFmtpLine),
		RtcpFeedback: fromFeedback(c.RTCPFeedback),
	}
}

// selectSendCodecs picks the codec matching mimeType and its RTX
// companion from the codecs a sender offers.
func selectSendCodecs(codecs []webrtc.RTPCodecParameters, mimeType string) ([]domain.RtpCodecParameters, error) {
	var media *webrtc.RTPCodecParameters
	for i := range codecs {
		if isRTX(codecs[i].MimeType) {
			continue
		}
		if mimeType == "" || strings.EqualFold(codecs[i].MimeType, mimeType) {
			media = &codecs[i]
			break
		}
	}
	if media == nil {
		return nil, fmt.Errorf("%w: no negotiated codec for %s", core.ErrCannotProduce, mimeType)
	}
	out := []domain.RtpCodecParameters{codecFromWebRTC(*media)}
	for _, c := range codecs {
		if !isRTX(c.MimeType) {
			continue
		}
		if apt, ok := core.IntParam(parseFmtp(c.SDPFmtpLine), "apt"); ok && apt == int(media.PayloadType) {
			out = append(out, codecFromWebRTC(c))
			break
		}
	}
	return out, nil
}

func iceParametersToWebRTC(p domain.IceParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.IceLite,
	}
}

func iceCandidatesToWebRTC(cands []domain.IceCandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(cands))
	for _, c := range cands {
		proto, err := webrtc.NewICEProtocol(strings.ToLower(c.Protocol))
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.IP,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
			TCPType:    c.TCPType,
		})
	}
	return out, nil
}

func dtlsParametersToWebRTC(p domain.DtlsParameters) webrtc.DTLSParameters {
	fps := make([]webrtc.DTLSFingerprint, 0, len(p.Fingerprints))
	for _, f := range p.Fingerprints {
		fps = append(fps, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	// The router acts as DTLS server unless it says otherwise.
	role := webrtc.DTLSRoleServer
	if p.Role == webrtc.DTLSRoleClient.String() {
		role = webrtc.DTLSRoleClient
	}
	return webrtc.DTLSParameters{Role: role, Fingerprints: fps}
}

func dtlsParametersFromWebRTC(p webrtc.DTLSParameters, remoteRole webrtc.DTLSRole) domain.DtlsParameters {
	fps := make([]domain.DtlsFingerprint, 0, len(p.Fingerprints))
	for _, f := range p.Fingerprints {
		fps = append(fps, domain.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	role := webrtc.DTLSRoleClient
	if remoteRole == webrtc.DTLSRoleClient {
		role = webrtc.DTLSRoleServer
	}
	return domain.DtlsParameters{Role: role.String(), Fingerprints: fps}
}

type extensionSlot struct {
	ID    int
	URI   string
	Kinds []domain.MediaKind
}

func isReservedExtension(uri string) bool {
	return strings.HasPrefix(uri, reservedExtensionURI)
}

// extensionSlots lays out exts by their router id, one slot per id from 1
// up to the highest id in use. pion assigns each registered extension the
// lowest free id in registration order, so registering the slots in order
// reproduces the router's ids. Ids outside the one-byte range, and
// extensions whose URI or id is already taken by another id or URI, are
// dropped.
func extensionSlots(exts []domain.RtpHeaderExtension) []extensionSlot {
	byID := make(map[int]*extensionSlot)
	idOf := make(map[string]int)
	top := 0
	for _, e := range exts {
		logger := log.With().Str("module", "adapters.rtc").Str("uri", e.URI).Int("id", e.PreferredID).Logger()
		if e.PreferredID < 1 || e.PreferredID > maxExtensionID {
			logger.Warn().Msg("header extension id out of range, dropped")
			continue
		}
		if id, ok := idOf[e.URI]; ok {
			if id != e.PreferredID {
				logger.Warn().Int("registered_id", id).Msg("header extension registered under another id, dropped")
				continue
			}
			slot := byID[id]
			if !slices.Contains(slot.Kinds, e.Kind) {
				slot.Kinds = append(slot.Kinds, e.Kind)
			}
			continue
		}
		if other, ok := byID[e.PreferredID]; ok {
			logger.Warn().Str("registered_uri", other.URI).Msg("header extension id collides, dropped")
			continue
		}
		byID[e.PreferredID] = &extensionSlot{ID: e.PreferredID, URI: e.URI, Kinds: []domain.MediaKind{e.Kind}}
		idOf[e.URI] = e.PreferredID
		top = max(top, e.PreferredID)
	}

	out := make([]extensionSlot, 0, top)
	for id := 1; id <= top; id++ {
		if slot, ok := byID[id]; ok {
			out = append(out, *slot)
			continue
		}
		out = append(out, extensionSlot{ID: id, URI: reservedExtensionURI + strconv.Itoa(id)})
	}
	return out
}

func headerExtensionsToWebRTC(in []domain.RtpHeaderExtensionParameters) []webrtc.RTPHeaderExtensionParameter {
	out := make([]webrtc.RTPHeaderExtensionParameter, 0, len(in))
	for _, h := range in {
		out = append(out, webrtc.RTPHeaderExtensionParameter{URI: h.URI, ID: h.ID})
	}
	return out
}
