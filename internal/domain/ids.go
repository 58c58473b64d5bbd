// Package domain contains entity without logic, just meta-data
package domain

type (
	RoomID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
	PeerID      string
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)
