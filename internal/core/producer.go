package core

import (
	"sync/atomic"

	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Producer is the local outbound track bound to the send transport.
type Producer struct {
	ID            domain.ProducerID
	Kind          domain.MediaKind
	Track         webrtc.TrackLocal
	RtpParameters domain.RtpParameters

	transport *Transport
	closed    atomic.Bool
}

func (p *Producer) Transport() *Transport { return p.transport }

func (p *Producer) Closed() bool { return p.closed.Load() }

func (p *Producer) markClosed() { p.closed.Store(true) }

// Close stops sending. The transport stays open.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.transport.handler.StopSending()
}

// Consumer is an inbound media flow of one remote producer.
type Consumer struct {
	ID            domain.ConsumerID
	ProducerID    domain.ProducerID
	Kind          domain.MediaKind
	RtpParameters domain.RtpParameters
	Track         RemoteTrack

	transport *Transport
	closed    atomic.Bool
}

func (c *Consumer) Transport() *Transport { return c.transport }

func (c *Consumer) Closed() bool { return c.closed.Load() }

func (c *Consumer) markClosed() { c.closed.Store(true) }

// Close stops receiving. The transport stays open.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.transport.removeConsumer(c.ID)
	return c.transport.handler.StopReceiving(c.ID)
}

// RequestKeyFrame sends a PLI for the first encoding.
func (c *Consumer) RequestKeyFrame() error {
	if c.Closed() {
		return ErrTransportClosed
	}
	if len(c.RtpParameters.Encodings) == 0 || c.RtpParameters.Encodings[0].SSRC == 0 {
		return nil
	}
	return c.transport.handler.RequestKeyFrame(c.RtpParameters.Encodings[0].SSRC)
}
