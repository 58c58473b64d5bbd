package core

import "github.com/dkeye/sfuclient/internal/domain"

// Signaling methods and events.
const (
	MethodJoinRoom             = "joinRoom"
	MethodCreateTransport      = "createWebRtcTransport"
	MethodTransportConnect     = "transport-connect"
	MethodTransportProduce     = "transport-produce"
	MethodGetProducers         = "getProducers"
	MethodTransportRecvConnect = "transport-recv-connect"
	MethodConsume              = "consume"
	MethodConsumerResume       = "consumer-resume"

	EventNewProducer    = "new-producer"
	EventProducerClosed = "producer-closed"
)

type JoinRoomRequest struct {
	RoomName domain.RoomID `json:"roomName"`
}

type JoinRoomResponse struct {
	RtpCapabilities *domain.RtpCapabilities `json:"rtpCapabilities"`
}

type CreateTransportRequest struct {
	Consumer bool `json:"consumer"`
}

// TransportParams may carry the error in place of the options.
type TransportParams struct {
	domain.TransportOptions
	Error string `json:"error,omitempty"`
}

type CreateTransportResponse struct {
	Params *TransportParams `json:"params"`
}

type TransportConnectRequest struct {
	DtlsParameters domain.DtlsParameters `json:"dtlsParameters"`
}

type TransportRecvConnectRequest struct {
	DtlsParameters            domain.DtlsParameters `json:"dtlsParameters"`
	ServerConsumerTransportID domain.TransportID    `json:"serverConsumerTransportId"`
}

type ProduceRequest struct {
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
	AppData       map[string]any       `json:"appData,omitempty"`
}

type ProduceResponse struct {
	ID             domain.ProducerID `json:"id"`
	ProducersExist bool              `json:"producersExist"`
}

type ConsumeRequest struct {
	RtpCapabilities           domain.RtpCapabilities `json:"rtpCapabilities"`
	RemoteProducerID          domain.ProducerID      `json:"remoteProducerId"`
	ServerConsumerTransportID domain.TransportID     `json:"serverConsumerTransportId"`
}

// ConsumerParams may carry the error in place of the parameters.
type ConsumerParams struct {
	domain.ConsumerParameters
	Error string `json:"error,omitempty"`
}

type ConsumeResponse struct {
	Params *ConsumerParams `json:"params"`
}

type ConsumerResumeRequest struct {
	ServerConsumerID domain.ConsumerID `json:"serverConsumerId"`
}

type NewProducerEvent struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ProducerClosedEvent struct {
	RemoteProducerID domain.ProducerID `json:"remoteProducerId"`
}
