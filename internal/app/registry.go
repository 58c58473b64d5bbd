package app

import (
	"sort"
	"sync"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/rs/zerolog/log"
)

// Entry is one consumed remote producer.
type Entry struct {
	ProducerID domain.ProducerID
	Transport  *core.Transport
	Consumer   *core.Consumer
}

func (e *Entry) close() {
	if err := e.Consumer.Close(); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("producer_id", string(e.ProducerID)).Msg("consumer close")
	}
	e.Transport.Close()
}

// EntryInfo is a read-only view of an Entry.
type EntryInfo struct {
	ProducerID  domain.ProducerID  `json:"producer_id"`
	ConsumerID  domain.ConsumerID  `json:"consumer_id"`
	TransportID domain.TransportID `json:"transport_id"`
	Kind        domain.MediaKind   `json:"kind"`
	State       string             `json:"state"`
}

type pendingEntry struct {
	closed bool
}

// Registry keys consumed remote producers by producer id. An id is
// pending from Reserve until Commit or Release; a pending or committed id
// cannot be reserved again.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.ProducerID]*Entry
	pending map[domain.ProducerID]*pendingEntry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[domain.ProducerID]*Entry),
		pending: make(map[domain.ProducerID]*pendingEntry),
	}
}

// Reserve marks id pending. It reports false when id is already pending
// or registered.
func (r *Registry) Reserve(id domain.ProducerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return false
	}
	if _, ok := r.pending[id]; ok {
		return false
	}
	r.pending[id] = &pendingEntry{}
	log.Debug().Str("module", "app.registry").Str("producer_id", string(id)).Msg("reserved")
	return true
}

// Release drops a pending id so a later Reserve succeeds.
func (r *Registry) Release(id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		delete(r.pending, id)
		log.Debug().Str("module", "app.registry").Str("producer_id", string(id)).Msg("released")
	}
}

// Commit turns a pending id into an entry. It fails with
// core.ErrProducerClosed when the producer was closed while pending.
func (r *Registry) Commit(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[e.ProducerID]
	delete(r.pending, e.ProducerID)
	if !ok || p.closed {
		return core.ErrProducerClosed
	}
	r.entries[e.ProducerID] = e
	log.Info().Str("module", "app.registry").Str("producer_id", string(e.ProducerID)).Str("consumer_id", string(e.Consumer.ID)).Msg("registered")
	return nil
}

// Remove deletes the entry of id. For an id that is only pending it marks
// the pending creation as closed and reports false, leaving the entries
// untouched. Unknown ids are a no-op.
func (r *Registry) Remove(id domain.ProducerID) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		delete(r.entries, id)
		log.Info().Str("module", "app.registry").Str("producer_id", string(id)).Msg("removed")
		return e, true
	}
	if p, ok := r.pending[id]; ok {
		p.closed = true
		log.Info().Str("module", "app.registry").Str("producer_id", string(id)).Msg("closed while pending")
	}
	return nil, false
}

func (r *Registry) Get(id domain.ProducerID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) IsPending(id domain.ProducerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pending[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot lists entries ordered by producer id.
func (r *Registry) Snapshot() []EntryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EntryInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, EntryInfo{
			ProducerID:  e.ProducerID,
			ConsumerID:  e.Consumer.ID,
			TransportID: e.Transport.ID(),
			Kind:        e.Consumer.Kind,
			State:       e.Transport.State().String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProducerID < out[j].ProducerID })
	return out
}

// Drain removes every entry and marks every pending id closed.
func (r *Registry) Drain() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, e)
		delete(r.entries, id)
	}
	for _, p := range r.pending {
		p.closed = true
	}
	return out
}
