package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dkeye/sfuclient/internal/domain"
)

// Device is the capability set both the local engine and the router
// support. It is built once per session and never changes afterwards.
type Device struct {
	router     domain.RtpCapabilities
	caps       domain.RtpCapabilities
	canProduce map[domain.MediaKind]bool
}

// LoadDevice intersects the local engine capabilities with the router
// capabilities. Codec order follows local preference; payload types and
// header extension ids are the router's.
func LoadDevice(local, router domain.RtpCapabilities) (*Device, error) {
	if len(local.Codecs) == 0 {
		return nil, fmt.Errorf("%w: local engine reports no codecs", ErrUnsupported)
	}
	if len(router.Codecs) == 0 {
		return nil, fmt.Errorf("%w: router reports no codecs", ErrUnsupported)
	}

	d := &Device{
		router:     router,
		canProduce: make(map[domain.MediaKind]bool),
	}

	used := make(map[int]bool, len(router.Codecs))
	for _, lc := range local.Codecs {
		if isRtx(lc.MimeType) {
			continue
		}
		for i, rc := range router.Codecs {
			if used[i] || isRtx(rc.MimeType) || !matchCodec(lc, rc) {
				continue
			}
			used[i] = true
			c := rc
			c.RtcpFeedback = intersectFeedback(lc.RtcpFeedback, rc.RtcpFeedback)
			d.caps.Codecs = append(d.caps.Codecs, c)
			d.canProduce[c.Kind] = true

			if rtx, ok := findRtx(router.Codecs, c.PreferredPayloadType); ok && hasRtx(local.Codecs, c.Kind) {
				d.caps.Codecs = append(d.caps.Codecs, rtx)
			}
			break
		}
	}
	if len(d.canProduce) == 0 {
		return nil, fmt.Errorf("%w: no codec in common with router", ErrUnsupported)
	}

	for _, re := range router.HeaderExtensions {
		for _, le := range local.HeaderExtensions {
			if le.Kind == re.Kind && le.URI == re.URI {
				d.caps.HeaderExtensions = append(d.caps.HeaderExtensions, re)
				break
			}
		}
	}
	return d, nil
}

// RtpCapabilities returns a copy of the negotiated capabilities, the value
// sent with every consume request.
func (d *Device) RtpCapabilities() domain.RtpCapabilities {
	out := domain.RtpCapabilities{
		Codecs:           append([]domain.RtpCodecCapability(nil), d.caps.Codecs...),
		HeaderExtensions: append([]domain.RtpHeaderExtension(nil), d.caps.HeaderExtensions...),
	}
	return out
}

func (d *Device) RouterCapabilities() domain.RtpCapabilities { return d.router }

func (d *Device) CanProduce(kind domain.MediaKind) bool { return d.canProduce[kind] }

// Codecs returns the negotiated codecs of kind, rtx included.
func (d *Device) Codecs(kind domain.MediaKind) []domain.RtpCodecCapability {
	var out []domain.RtpCodecCapability
	for _, c := range d.caps.Codecs {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (d *Device) HeaderExtensions(kind domain.MediaKind) []domain.RtpHeaderExtension {
	var out []domain.RtpHeaderExtension
	for _, e := range d.caps.HeaderExtensions {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func isRtx(mime string) bool {
	return strings.HasSuffix(strings.ToLower(mime), "/rtx")
}

func matchCodec(a, b domain.RtpCodecCapability) bool {
	if a.Kind != b.Kind || !strings.EqualFold(a.MimeType, b.MimeType) || a.ClockRate != b.ClockRate {
		return false
	}
	if a.Kind == domain.MediaKindAudio && channels(a) != channels(b) {
		return false
	}
	if strings.EqualFold(a.MimeType, "video/h264") {
		pa, _ := IntParam(a.Parameters, "packetization-mode")
		pb, _ := IntParam(b.Parameters, "packetization-mode")
		if pa != pb {
			return false
		}
	}
	return true
}

func channels(c domain.RtpCodecCapability) uint16 {
	if c.Channels == 0 {
		return 1
	}
	return c.Channels
}

func intersectFeedback(local, router []domain.RtcpFeedback) []domain.RtcpFeedback {
	var out []domain.RtcpFeedback
	for _, r := range router {
		for _, l := range local {
			if l.Type == r.Type && l.Parameter == r.Parameter {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func findRtx(codecs []domain.RtpCodecCapability, pt uint8) (domain.RtpCodecCapability, bool) {
	for _, c := range codecs {
		if !isRtx(c.MimeType) {
			continue
		}
		if apt, ok := IntParam(c.Parameters, "apt"); ok && apt == int(pt) {
			return c, true
		}
	}
	return domain.RtpCodecCapability{}, false
}

func hasRtx(codecs []domain.RtpCodecCapability, kind domain.MediaKind) bool {
	for _, c := range codecs {
		if c.Kind == kind && isRtx(c.MimeType) {
			return true
		}
	}
	return false
}

// IntParam reads an integer codec parameter. JSON numbers arrive as
// float64, fmtp values as strings.
func IntParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
