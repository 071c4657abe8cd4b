package lineage

import (
	"context"

	"artive/api/internal/store"
)

// failingNodeStore fails every lookup with err.
type failingNodeStore struct {
	*memStore
	err error
}

func (f *failingNodeStore) Node(context.Context, string) (store.NodeRef, error) {
	return store.NodeRef{}, f.err
}

// contextCheckingStore fails lookups once the caller's context is done.
type contextCheckingStore struct {
	*memStore
}

func (c *contextCheckingStore) Node(ctx context.Context, id string) (store.NodeRef, error) {
	if err := ctx.Err(); err != nil {
		return store.NodeRef{}, err
	}
	return c.memStore.Node(ctx, id)
}

func (c *contextCheckingStore) Children(ctx context.Context, parentID string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.memStore.Children(ctx, parentID, limit)
}
