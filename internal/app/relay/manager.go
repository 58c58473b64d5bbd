// Package relay forwards consumed remote tracks to local sinks such as
// IVF recorders.
package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	mu     sync.RWMutex
	relays map[domain.ProducerID]*Relay
}

func NewManager() *Manager {
	return &Manager{
		relays: make(map[domain.ProducerID]*Relay),
	}
}

// StartRelay creates the relay of producer id and starts its loop. An
// existing relay for the same id is stopped first.
func (m *Manager) StartRelay(ctx context.Context, id domain.ProducerID, track core.RemoteTrack) *Relay {
	logger := log.With().
		Str("module", "app.relay").
		Str("producer_id", string(id)).
		Str("track_id", track.ID()).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	r := NewRelay(id, track, cancel)

	m.mu.Lock()
	if old, ok := m.relays[id]; ok {
		logger.Info().Msg("replacing existing relay")
		old.cancel()
	}
	m.relays[id] = r
	m.mu.Unlock()

	logger.Info().Str("codec", track.Codec().MimeType).Msg("starting relay loop")
	go func() {
		r.loop(relayCtx, &logger)
		m.forget(id, r)
	}()
	return r
}

func (m *Manager) forget(id domain.ProducerID, r *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[id] == r {
		delete(m.relays, id)
	}
}

// AddSink attaches sink to the relay of id under name. It reports false
// when there is no such relay.
func (m *Manager) AddSink(id domain.ProducerID, name string, sink Sink) bool {
	m.mu.RLock()
	r, ok := m.relays[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if err := r.AddSink(name, NewOutSink(sink)); err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("sink", name).Msg("replaced sink close")
	}
	return true
}

func (m *Manager) MuteSink(id domain.ProducerID, name string) bool {
	return m.withSink(id, name, (*OutSink).MarkMuted)
}

func (m *Manager) UnmuteSink(id domain.ProducerID, name string) bool {
	return m.withSink(id, name, (*OutSink).MarkOk)
}

// RemoveSink marks the sink for deletion; the loop drops and closes it
// before the next packet.
func (m *Manager) RemoveSink(id domain.ProducerID, name string) bool {
	return m.withSink(id, name, (*OutSink).MarkDelete)
}

func (m *Manager) withSink(id domain.ProducerID, name string, fn func(*OutSink)) bool {
	m.mu.RLock()
	r, ok := m.relays[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	out, ok := r.sink(name)
	if !ok {
		return false
	}
	fn(out)
	return true
}

// StopRelay cancels the relay of id and removes it from the manager. The
// loop exits once the source read returns, which happens when the
// consumer is closed.
func (m *Manager) StopRelay(id domain.ProducerID) {
	m.mu.Lock()
	r, ok := m.relays[id]
	if ok {
		delete(m.relays, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	log.Info().Str("module", "app.relay").Str("producer_id", string(id)).Msg("relay stopped")
}

// StopAll stops every relay and waits for their loops to finish.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	relays := make([]*Relay, 0, len(m.relays))
	for id, r := range m.relays {
		relays = append(relays, r)
		delete(m.relays, id)
	}
	m.mu.Unlock()
	for _, r := range relays {
		r.cancel()
	}
	for _, r := range relays {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) HasRelay(id domain.ProducerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[id]
	return ok
}

func (m *Manager) Relay(id domain.ProducerID) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[id]
	return r, ok
}

// Info is a read-only view of a running relay.
type Info struct {
	ProducerID domain.ProducerID    `json:"producer_id"`
	TrackID    string               `json:"track_id"`
	Packets    uint64               `json:"packets"`
	Sinks      map[string]SinkState `json:"sinks"`
}

// Snapshot lists running relays ordered by producer id.
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.relays))
	for id, r := range m.relays {
		out = append(out, Info{ProducerID: id, TrackID: r.Src.ID(), Packets: r.Packets(), Sinks: r.SinkStates()})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProducerID < out[j].ProducerID })
	return out
}
