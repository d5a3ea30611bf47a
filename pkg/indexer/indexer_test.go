package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRetriever struct {
	calls []struct{ from, to uint64 }
	byRange func(from, to uint64) []int
}

func (f *fakeRetriever) Events(_ context.Context, from, to uint64) ([]int, error) {
	f.calls = append(f.calls, struct{ from, to uint64 }{from, to})
	if f.byRange == nil {
		return nil, nil
	}
	return f.byRange(from, to), nil
}

type fakeBlocks struct{ tip uint64 }

func (f fakeBlocks) LatestBlock(context.Context) (uint64, error) { return f.tip, nil }

type fakeStore struct {
	last    uint64
	ranges  []struct{ from, to uint64 }
	events  []int
}

func (s *fakeStore) LastEventBlock(context.Context) (uint64, error) { return s.last, nil }

func (s *fakeStore) ReplaceEvents(_ context.Context, events []int, from, to uint64) error {
	s.ranges = append(s.ranges, struct{ from, to uint64 }{from, to})
	s.events = events
	s.last = to
	return nil
}

func (s *fakeStore) AppendEvents(context.Context, []int) error {
	panic("RunMaintenance must never call AppendEvents")
}

func TestRunMaintenance_FirstRunStartsAtZero(t *testing.T) {
	store := &fakeStore{last: 0}
	retriever := &fakeRetriever{}
	m := NewMaintainer[int]("test", retriever, fakeBlocks{tip: 10}, store, zap.NewNop())

	require.NoError(t, m.RunMaintenance(context.Background()))
	require.Len(t, retriever.calls, 1)
	require.Equal(t, uint64(0), retriever.calls[0].from)
	require.Equal(t, uint64(10), retriever.calls[0].to)
	require.Equal(t, uint64(10), store.last)
}

func TestRunMaintenance_RescansReorgDepthBehindWatermark(t *testing.T) {
	store := &fakeStore{last: 100}
	retriever := &fakeRetriever{}
	m := NewMaintainer[int]("test", retriever, fakeBlocks{tip: 120}, store, zap.NewNop())

	require.NoError(t, m.RunMaintenance(context.Background()))
	require.Equal(t, uint64(100-64), retriever.calls[0].from)
	require.Equal(t, uint64(120), retriever.calls[0].to)
}

func TestRunMaintenance_NeverCallsAppend(t *testing.T) {
	store := &fakeStore{last: 5}
	retriever := &fakeRetriever{}
	m := NewMaintainer[int]("test", retriever, fakeBlocks{tip: 5}, store, zap.NewNop())

	require.NotPanics(t, func() {
		require.NoError(t, m.RunMaintenance(context.Background()))
	})
}

func TestRunMaintenance_TipBehindWatermarkIsNoOp(t *testing.T) {
	store := &fakeStore{last: 1000}
	retriever := &fakeRetriever{}
	m := NewMaintainer[int]("test", retriever, fakeBlocks{tip: 5}, store, zap.NewNop())

	require.NoError(t, m.RunMaintenance(context.Background()))
	require.Empty(t, retriever.calls)
	require.Empty(t, store.ranges)
}

func TestRunMaintenance_ReplacesFetchedEvents(t *testing.T) {
	store := &fakeStore{last: 0}
	retriever := &fakeRetriever{byRange: func(from, to uint64) []int { return []int{1, 2, 3} }}
	m := NewMaintainer[int]("test", retriever, fakeBlocks{tip: 10}, store, zap.NewNop())

	require.NoError(t, m.RunMaintenance(context.Background()))
	require.Equal(t, []int{1, 2, 3}, store.events)
}
