package relay

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/rtp"
)

// Sink receives the RTP packets of one relayed stream.
type Sink interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

func (s SinkState) String() string {
	switch s {
	case SinkStateOk:
		return "ok"
	case SinkStateMuted:
		return "muted"
	case SinkStateDelete:
		return "delete"
	}
	return "unknown"
}

func (s SinkState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SinkState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ok":
		*s = SinkStateOk
	case "muted":
		*s = SinkStateMuted
	case "delete":
		*s = SinkStateDelete
	default:
		return fmt.Errorf("unknown sink state %q", b)
	}
	return nil
}

// OutSink is a Sink attached to a relay together with its state.
type OutSink struct {
	Sink  Sink
	state atomic.Int32 // SinkStateOk by default
}

func NewOutSink(sink Sink) *OutSink {
	return &OutSink{Sink: sink}
}

func (o *OutSink) State() SinkState { return SinkState(o.state.Load()) }

func (o *OutSink) MarkOk()     { o.state.Store(int32(SinkStateOk)) }
func (o *OutSink) MarkMuted()  { o.state.Store(int32(SinkStateMuted)) }
func (o *OutSink) MarkDelete() { o.state.Store(int32(SinkStateDelete)) }
