package coretest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
)

// SFU scripts a Server with the happy path of a mediasoup room.
type SFU struct {
	*Server

	mu             sync.Mutex
	ProducerID     domain.ProducerID
	ProducersExist bool
	Producers      []domain.ProducerID
	transports     int
}

func NewSFU() *SFU {
	f := &SFU{Server: NewServer(), ProducerID: "p1"}

	f.Handle(core.MethodJoinRoom, func(json.RawMessage) (any, error) {
		caps := RouterCapabilities()
		return core.JoinRoomResponse{RtpCapabilities: &caps}, nil
	})
	f.Handle(core.MethodCreateTransport, func(json.RawMessage) (any, error) {
		f.mu.Lock()
		f.transports++
		id := domain.TransportID(fmt.Sprintf("t%d", f.transports))
		f.mu.Unlock()
		return core.CreateTransportResponse{Params: &core.TransportParams{TransportOptions: TransportOptions(id)}}, nil
	})
	ack := func(json.RawMessage) (any, error) { return map[string]any{}, nil }
	f.Handle(core.MethodTransportConnect, ack)
	f.Handle(core.MethodTransportRecvConnect, ack)
	f.Handle(core.MethodConsumerResume, ack)
	f.Handle(core.MethodTransportProduce, func(json.RawMessage) (any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return core.ProduceResponse{ID: f.ProducerID, ProducersExist: f.ProducersExist}, nil
	})
	f.Handle(core.MethodGetProducers, func(json.RawMessage) (any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return append([]domain.ProducerID{}, f.Producers...), nil
	})
	f.Handle(core.MethodConsume, func(raw json.RawMessage) (any, error) {
		var req core.ConsumeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return core.ConsumeResponse{Params: &core.ConsumerParams{ConsumerParameters: ConsumerParameters(req.RemoteProducerID)}}, nil
	})
	return f
}

// TransportCount reports how many transports the SFU handed out.
func (f *SFU) TransportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports
}

func RouterCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{
		Codecs: []domain.RtpCodecCapability{
			{Kind: domain.MediaKindAudio, MimeType: "audio/opus", PreferredPayloadType: 100, ClockRate: 48000, Channels: 2},
			{
				Kind: domain.MediaKindVideo, MimeType: "video/VP8", PreferredPayloadType: 101, ClockRate: 90000,
				RtcpFeedback: []domain.RtcpFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "goog-remb"}},
			},
			{
				Kind: domain.MediaKindVideo, MimeType: "video/rtx", PreferredPayloadType: 102, ClockRate: 90000,
				Parameters: map[string]any{"apt": 101},
			},
		},
		HeaderExtensions: []domain.RtpHeaderExtension{
			{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
			{Kind: domain.MediaKindVideo, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4},
		},
	}
}

func TransportOptions(id domain.TransportID) domain.TransportOptions {
	return domain.TransportOptions{
		ID:             id,
		IceParameters:  domain.IceParameters{UsernameFragment: "ufrag-" + string(id), Password: "pwd", IceLite: true},
		IceCandidates:  []domain.IceCandidate{{Foundation: "udpcandidate", Priority: 1076302079, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}},
		DtlsParameters: domain.DtlsParameters{
			Role:         "auto",
			Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
		},
	}
}

func ConsumerParameters(producerID domain.ProducerID) domain.ConsumerParameters {
	return domain.ConsumerParameters{
		ID:               domain.ConsumerID("c-" + string(producerID)),
		ProducerID:       producerID,
		Kind:             domain.MediaKindVideo,
		ServerConsumerID: domain.ConsumerID("c-" + string(producerID)),
		RtpParameters:    domain.RtpParameters{
			MID:       "0",
			Codecs:    []domain.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000}},
			Encodings: []domain.RtpEncodingParameters{{SSRC: 1111}},
			Rtcp:      domain.RtcpParameters{CNAME: "remote", ReducedSize: true},
		},
	}
}
