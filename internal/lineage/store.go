// Package lineage maintains the derivation forest of seeds and forks: it finds
// the root seed of any node, expands bounded lineage trees for display, and
// keeps fork counts consistent as forks are created and deleted.
package lineage

import (
	"context"
	"slices"

	"artive/api/internal/store"
)

// NodeStore is the persistence surface the engine needs. Not-found lookups
// return sql.ErrNoRows.
type NodeStore interface {
	Node(ctx context.Context, id string) (store.NodeRef, error)
	Children(ctx context.Context, parentID string, limit int) ([]string, error)
	CountChildren(ctx context.Context, parentID string) (int, error)
	SetSeedForkCount(ctx context.Context, seedID string, count int) error
	SetForkCount(ctx context.Context, forkID string, count int) error
	WithTx(ctx context.Context, fn func(store.NodeTx) error) error
}

// Edge is a parent to child derivation link.
type Edge struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

// Lineage is the subgraph reachable from RootID within Depth hops.
type Lineage struct {
	RootID      string   `json:"rootId"`
	Depth       int      `json:"depth"`
	Nodes       []string `json:"nodes"`
	Edges       []Edge   `json:"edges"`
	Truncated   bool     `json:"truncated"`
	TruncatedAt []string `json:"truncatedAt,omitempty"`
}

// clone copies the slices so callers sharing one build cannot see each
// other's edits.
func (l Lineage) clone() Lineage {
	l.Nodes = slices.Clone(l.Nodes)
	l.Edges = slices.Clone(l.Edges)
	l.TruncatedAt = slices.Clone(l.TruncatedAt)
	return l
}
