package lineage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"artive/api/internal/metrics"
)

// Aggregator recomputes fork counts from the stored edges.
//
// Seeds carry the total number of forks beneath them at any depth; forks carry
// only their direct child count. Totals are always rebuilt from scratch, so
// concurrent recounts of the same root converge on the same value.
type Aggregator struct {
	store    NodeStore
	resolver *Resolver
	metrics  metrics.Collector
}

func NewAggregator(store NodeStore, resolver *Resolver, collector metrics.Collector) *Aggregator {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Aggregator{store: store, resolver: resolver, metrics: collector}
}

// CountDescendants returns the number of forks below id at any depth.
func (a *Aggregator) CountDescendants(ctx context.Context, id string) (int, error) {
	return a.countForksRecursively(ctx, id, make(map[string]struct{}))
}

func (a *Aggregator) countForksRecursively(ctx context.Context, id string, visited map[string]struct{}) (int, error) {
	if _, seen := visited[id]; seen {
		return 0, nil
	}
	visited[id] = struct{}{}

	children, err := a.store.Children(ctx, id, 0)
	if err != nil {
		return 0, fmt.Errorf("count forks under %s: %w", id, err)
	}
	total := len(children)
	for _, childID := range children {
		n, err := a.countForksRecursively(ctx, childID, visited)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// RecountFrom recomputes the total fork count under rootID and stores it when
// rootID is a seed. A fork used as a pseudo-root keeps its direct count; the
// total is only returned.
func (a *Aggregator) RecountFrom(ctx context.Context, rootID string) (total int, err error) {
	started := time.Now()
	defer func() {
		a.metrics.RecordRecount(statusOf(err), time.Since(started))
	}()

	ref, err := a.store.Node(ctx, rootID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("recount %s: %w", rootID, err)
	}

	total, err = a.CountDescendants(ctx, rootID)
	if err != nil {
		return 0, err
	}
	if ref.IsSeed() {
		if err := a.store.SetSeedForkCount(ctx, rootID, total); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// RecountDirect recomputes and stores the direct child count of a fork.
func (a *Aggregator) RecountDirect(ctx context.Context, forkID string) (int, error) {
	count, err := a.store.CountChildren(ctx, forkID)
	if err != nil {
		return 0, err
	}
	if err := a.store.SetForkCount(ctx, forkID, count); err != nil {
		return 0, err
	}
	return count, nil
}

// RepairResult summarizes a Repair run.
type RepairResult struct {
	RootID string `json:"rootId"`
	Total  int    `json:"total"`
	Forks  int    `json:"forksRecounted"`
}

// Repair recomputes every fork's direct count in the tree containing nodeID,
// then the root's total. It clears any lag left by a failed post-commit
// recount.
func (a *Aggregator) Repair(ctx context.Context, nodeID string) (RepairResult, error) {
	rootID, err := a.resolver.rootOrSelf(ctx, nodeID)
	if err != nil {
		return RepairResult{}, err
	}

	result := RepairResult{RootID: rootID}
	ref, err := a.store.Node(ctx, rootID)
	if errors.Is(err, sql.ErrNoRows) {
		return RepairResult{}, ErrNotFound
	}
	if err != nil {
		return RepairResult{}, fmt.Errorf("repair %s: %w", rootID, err)
	}
	if !ref.IsSeed() {
		if _, err := a.RecountDirect(ctx, rootID); err != nil {
			return RepairResult{}, fmt.Errorf("repair %s: %w", rootID, err)
		}
		result.Forks++
	}

	visited := map[string]struct{}{rootID: {}}
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := a.store.Children(ctx, id, 0)
		if err != nil {
			return RepairResult{}, fmt.Errorf("repair %s: %w", id, err)
		}
		for _, childID := range children {
			if _, seen := visited[childID]; seen {
				continue
			}
			visited[childID] = struct{}{}
			if _, err := a.RecountDirect(ctx, childID); err != nil {
				return RepairResult{}, fmt.Errorf("repair %s: %w", childID, err)
			}
			result.Forks++
			stack = append(stack, childID)
		}
	}

	result.Total, err = a.RecountFrom(ctx, rootID)
	if err != nil {
		return RepairResult{}, err
	}
	return result, nil
}
