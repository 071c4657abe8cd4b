package lineage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Resolver walks parent references upward to the root seed.
type Resolver struct {
	store NodeStore
}

func NewResolver(store NodeStore) *Resolver {
	return &Resolver{store: store}
}

// ResolveRoot returns the id of the seed at the top of id's parent chain.
// A broken chain or a cycle yields ErrNotFound. Soft-deleted seeds still act
// as roots.
func (r *Resolver) ResolveRoot(ctx context.Context, id string) (string, error) {
	visited := make(map[string]struct{})
	current := id
	for current != "" {
		if _, seen := visited[current]; seen {
			return "", ErrNotFound
		}
		visited[current] = struct{}{}

		ref, err := r.store.Node(ctx, current)
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("resolve root of %s: %w", id, err)
		}
		if ref.IsSeed() {
			return ref.ID, nil
		}
		current = ref.ParentID
	}
	return "", ErrNotFound
}

// rootOrSelf resolves id's root and falls back to id itself when no root can
// be found.
func (r *Resolver) rootOrSelf(ctx context.Context, id string) (string, error) {
	rootID, err := r.ResolveRoot(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return rootID, nil
}
