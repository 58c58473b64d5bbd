package app

import (
	"context"
	"testing"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/dkeye/sfuclient/internal/core/coretest"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/stretchr/testify/require"
)

func newEntry(t *testing.T, id domain.ProducerID, tid domain.TransportID) *Entry {
	t.Helper()
	device, err := core.LoadDevice(coretest.LocalCapabilities(), coretest.RouterCapabilities())
	require.NoError(t, err)
	h, err := coretest.NewEngine().NewTransport(domain.DirectionRecv, coretest.TransportOptions(tid), device)
	require.NoError(t, err)

	tr := core.NewTransport(domain.DirectionRecv, tid, h,
		func(context.Context, domain.DtlsParameters) error { return nil }, nil)
	require.NoError(t, tr.Connect(context.Background()))
	c, err := tr.Consume(context.Background(), coretest.ConsumerParameters(id))
	require.NoError(t, err)
	return &Entry{ProducerID: id, Transport: tr, Consumer: c}
}

func TestRegistryReserve(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.Reserve("a"))
	require.False(t, r.Reserve("a"))
	require.True(t, r.IsPending("a"))

	r.Release("a")
	require.False(t, r.IsPending("a"))
	require.True(t, r.Reserve("a"))

	require.NoError(t, r.Commit(newEntry(t, "a", "t1")))
	require.False(t, r.IsPending("a"))
	require.False(t, r.Reserve("a"))
	require.Equal(t, 1, r.Len())
}

func TestRegistryCommitWithoutReserve(t *testing.T) {
	r := NewRegistry()
	require.ErrorIs(t, r.Commit(newEntry(t, "a", "t1")), core.ErrProducerClosed)
	require.Zero(t, r.Len())
}

func TestRegistryRemovePending(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Reserve("a"))

	e, ok := r.Remove("a")
	require.False(t, ok)
	require.Nil(t, e)
	require.True(t, r.IsPending("a"))

	require.ErrorIs(t, r.Commit(newEntry(t, "a", "t1")), core.ErrProducerClosed)
	require.False(t, r.IsPending("a"))
	require.Zero(t, r.Len())
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Reserve("a"))
	entry := newEntry(t, "a", "t1")
	require.NoError(t, r.Commit(entry))

	e, ok := r.Remove("a")
	require.True(t, ok)
	require.Same(t, entry, e)
	_, ok = r.Remove("a")
	require.False(t, ok)
	_, ok = r.Remove("unknown")
	require.False(t, ok)
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	for i, id := range []domain.ProducerID{"c", "a", "b"} {
		require.True(t, r.Reserve(id))
		require.NoError(t, r.Commit(newEntry(t, id, domain.TransportID([]string{"t1", "t2", "t3"}[i]))))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, domain.ProducerID("a"), snap[0].ProducerID)
	require.Equal(t, domain.ProducerID("b"), snap[1].ProducerID)
	require.Equal(t, domain.ProducerID("c"), snap[2].ProducerID)
	require.Equal(t, domain.TransportID("t2"), snap[0].TransportID)
	require.Equal(t, domain.ConsumerID("c-a"), snap[0].ConsumerID)
	require.Equal(t, "consuming", snap[0].State)
}

func TestRegistryDrain(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Reserve("a"))
	require.NoError(t, r.Commit(newEntry(t, "a", "t1")))
	require.True(t, r.Reserve("b"))

	drained := r.Drain()
	require.Len(t, drained, 1)
	require.Zero(t, r.Len())
	require.ErrorIs(t, r.Commit(newEntry(t, "b", "t2")), core.ErrProducerClosed)
}

func TestPolicyByName(t *testing.T) {
	tests := []struct {
		name string
		want FailureAction
	}{
		{"", ContinueRemaining},
		{"continue", ContinueRemaining},
		{"abort", AbortRemaining},
	}
	for _, tt := range tests {
		p, err := PolicyByName(tt.name)
		require.NoError(t, err)
		require.Equal(t, tt.want, p.OnConsumeFailure("a", core.ErrProducerClosed))
	}

	_, err := PolicyByName("retry")
	require.Error(t, err)
}
