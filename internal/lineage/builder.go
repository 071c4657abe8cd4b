package lineage

import (
	"context"
	"fmt"
)

// Builder expands lineage trees breadth-first, one level at a time.
type Builder struct {
	store       NodeStore
	fanOutLimit int
}

// NewBuilder returns a builder that reads at most fanOutLimit children per
// parent. A non-positive limit disables the cap.
func NewBuilder(store NodeStore, fanOutLimit int) *Builder {
	return &Builder{store: store, fanOutLimit: fanOutLimit}
}

// Build returns every node and edge reachable from rootID within depth levels.
// An edge is recorded each time a child is discovered even if the child was
// already visited; the node list holds each id once. Parents with more
// children than the fan-out limit are listed in TruncatedAt.
func (b *Builder) Build(ctx context.Context, rootID string, depth int) (Lineage, error) {
	result := Lineage{
		RootID: rootID,
		Depth:  depth,
		Nodes:  []string{rootID},
		Edges:  []Edge{},
	}
	visited := map[string]struct{}{rootID: {}}
	frontier := []string{rootID}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		next := make([]string, 0)
		for _, parentID := range frontier {
			children, err := b.children(ctx, parentID)
			if err != nil {
				return Lineage{}, err
			}
			if b.fanOutLimit > 0 && len(children) > b.fanOutLimit {
				children = children[:b.fanOutLimit]
				result.Truncated = true
				result.TruncatedAt = append(result.TruncatedAt, parentID)
			}
			for _, childID := range children {
				result.Edges = append(result.Edges, Edge{Parent: parentID, Child: childID})
				if _, seen := visited[childID]; seen {
					continue
				}
				visited[childID] = struct{}{}
				result.Nodes = append(result.Nodes, childID)
				next = append(next, childID)
			}
		}
		frontier = next
	}
	return result, nil
}

func (b *Builder) children(ctx context.Context, parentID string) ([]string, error) {
	limit := 0
	if b.fanOutLimit > 0 {
		// one extra row tells us the cap was hit
		limit = b.fanOutLimit + 1
	}
	children, err := b.store.Children(ctx, parentID, limit)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", parentID, err)
	}
	return children, nil
}
