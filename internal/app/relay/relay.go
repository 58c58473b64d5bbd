package relay

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Relay pumps one consumed remote track into its sinks.
type Relay struct {
	ProducerID domain.ProducerID
	Src        core.RemoteTrack

	mu    sync.RWMutex
	sinks map[string]*OutSink

	packets atomic.Uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRelay(id domain.ProducerID, src core.RemoteTrack, cancel context.CancelFunc) *Relay {
	return &Relay{
		ProducerID: id,
		Src:        src,
		sinks:      make(map[string]*OutSink),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Done is closed once the read loop has returned and the sinks are closed.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Packets is the number of packets read from the source and forwarded.
func (r *Relay) Packets() uint64 { return r.packets.Load() }

// loop reads from the source until it fails or ctx is done. A cancelled
// relay stops at the next packet boundary.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	defer r.closeAll(logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Uint64("packets", r.packets.Load()).Msg("relay source ended")
			return
		}
		r.forward(pkt, logger)
		r.packets.Add(1)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*OutSink, len(r.sinks))
	maps.Copy(snapshot, r.sinks)
	r.mu.RUnlock()

	var dirty []string
	for name, out := range snapshot {
		switch out.State() {
		case SinkStateDelete:
			dirty = append(dirty, name)
		case SinkStateMuted:
		case SinkStateOk:
			if err := out.Sink.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("sink", name).Msg("sink write error, dropping sink")
				out.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty, logger)
	}
}

func (r *Relay) cleanupDeleted(dirty []string, logger *zerolog.Logger) {
	r.mu.Lock()
	removed := make([]*OutSink, 0, len(dirty))
	for _, name := range dirty {
		if out, ok := r.sinks[name]; ok {
			removed = append(removed, out)
			delete(r.sinks, name)
		}
	}
	r.mu.Unlock()
	for _, out := range removed {
		if err := out.Sink.Close(); err != nil {
			logger.Error().Err(err).Msg("sink close")
		}
	}
}

func (r *Relay) closeAll(logger *zerolog.Logger) {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[string]*OutSink)
	r.mu.Unlock()
	for name, out := range sinks {
		out.MarkDelete()
		if err := out.Sink.Close(); err != nil {
			logger.Error().Err(err).Str("sink", name).Msg("sink close")
		}
	}
}

// AddSink attaches out under name, closing a sink it replaces.
func (r *Relay) AddSink(name string, out *OutSink) error {
	r.mu.Lock()
	old, ok := r.sinks[name]
	r.sinks[name] = out
	r.mu.Unlock()
	if !ok {
		return nil
	}
	old.MarkDelete()
	return old.Sink.Close()
}

func (r *Relay) sink(name string) (*OutSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.sinks[name]
	return out, ok
}

// SinkStates reports the state of every attached sink.
func (r *Relay) SinkStates() map[string]SinkState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]SinkState, len(r.sinks))
	for name, s := range r.sinks {
		out[name] = s.State()
	}
	return out
}
