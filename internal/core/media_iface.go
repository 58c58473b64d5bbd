package core

import (
	"context"

	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MediaEngine is the local WebRTC engine.
type MediaEngine interface {
	// Capabilities reports what the engine can encode and decode. An error
	// means the environment cannot take part in a session at all.
	Capabilities() (domain.RtpCapabilities, error)
	// NewTransport builds the local half of a server transport. The device
	// carries the negotiated capabilities the engine must use.
	NewTransport(dir domain.Direction, opts domain.TransportOptions, device *Device) (TransportHandler, error)
}

// TransportHandler is the engine side of a single Transport.
type TransportHandler interface {
	// LocalDTLSParameters returns the parameters sent to the server in the
	// connect request.
	LocalDTLSParameters() (domain.DtlsParameters, error)
	// Connect starts ICE and DTLS once the server acknowledged the connect
	// request. It returns when the DTLS handshake is done.
	Connect(ctx context.Context) error
	// Send attaches track and returns the RTP parameters announced to the server.
	Send(ctx context.Context, track webrtc.TrackLocal, opts ProduceOptions) (domain.RtpParameters, error)
	StopSending() error
	// Receive starts receiving the stream described by params.
	Receive(ctx context.Context, params domain.ConsumerParameters) (RemoteTrack, error)
	StopReceiving(id domain.ConsumerID) error
	// RequestKeyFrame asks the sender of ssrc for a key frame.
	RequestKeyFrame(ssrc uint32) error
	Close() error
}

// RemoteTrack is the inbound media of a Consumer. *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}
