package lineage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S -> F1 -> {F2, F3}
func seedWithNestedForks() *memStore {
	s := newMemStore()
	s.addSeed("S")
	s.addFork("F1", "S", "u1")
	s.addFork("F2", "F1", "u1")
	s.addFork("F3", "F1", "u2")
	return s
}

func TestRecountFromStoresTotalOnSeed(t *testing.T) {
	s := seedWithNestedForks()
	agg := NewAggregator(s, NewResolver(s), nil)

	total, err := agg.RecountFrom(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, s.seed("S").ForkCount)
}

func TestRecountFromIsIdempotent(t *testing.T) {
	s := seedWithNestedForks()
	agg := NewAggregator(s, NewResolver(s), nil)
	ctx := context.Background()

	first, err := agg.RecountFrom(ctx, "S")
	require.NoError(t, err)
	second, err := agg.RecountFrom(ctx, "S")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, second, s.seed("S").ForkCount)
}

func TestRecountFromForkLeavesDirectCount(t *testing.T) {
	s := seedWithNestedForks()
	agg := NewAggregator(s, NewResolver(s), nil)

	total, err := agg.RecountFrom(context.Background(), "F1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	f1, _ := s.fork("F1")
	assert.Equal(t, 0, f1.ForkCount)
}

func TestRecountFromUnknownNode(t *testing.T) {
	s := newMemStore()
	_, err := NewAggregator(s, NewResolver(s), nil).RecountFrom(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountDescendantsSurvivesCycles(t *testing.T) {
	s := newMemStore()
	s.addFork("X", "Y", "u1")
	s.addFork("Y", "X", "u1")

	n, err := NewAggregator(s, NewResolver(s), nil).CountDescendants(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRepairSetsTotalAndDirectCounts(t *testing.T) {
	s := seedWithNestedForks()
	agg := NewAggregator(s, NewResolver(s), nil)

	result, err := agg.Repair(context.Background(), "F3")
	require.NoError(t, err)
	assert.Equal(t, RepairResult{RootID: "S", Total: 3, Forks: 3}, result)

	assert.Equal(t, 3, s.seed("S").ForkCount)
	f1, _ := s.fork("F1")
	f2, _ := s.fork("F2")
	f3, _ := s.fork("F3")
	assert.Equal(t, 2, f1.ForkCount)
	assert.Equal(t, 0, f2.ForkCount)
	assert.Equal(t, 0, f3.ForkCount)
}

func TestRepairOrphanedSubtree(t *testing.T) {
	s := newMemStore()
	s.addFork("O", "gone", "u1")
	s.addFork("O1", "O", "u1")

	result, err := NewAggregator(s, NewResolver(s), nil).Repair(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, "O1", result.RootID)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 1, result.Forks)
}
