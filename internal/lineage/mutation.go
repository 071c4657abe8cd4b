package lineage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"artive/api/internal/metrics"
	"artive/api/internal/store"
	"artive/api/internal/util"
)

// ForkInput is the author-supplied content of a new fork.
type ForkInput struct {
	ContentDelta string `json:"contentDelta"`
	Summary      string `json:"summary"`
	Description  string `json:"description"`
	ImageURL     string `json:"imageUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// Mutator creates and deletes forks. The edge change and the parent's direct
// count change commit together; the root total is recomputed afterwards.
type Mutator struct {
	store      NodeStore
	resolver   *Resolver
	aggregator *Aggregator
	logger     *zap.Logger
	metrics    metrics.Collector
	newID      func() string
}

func NewMutator(store NodeStore, resolver *Resolver, aggregator *Aggregator, logger *zap.Logger, collector metrics.Collector) *Mutator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Mutator{
		store:      store,
		resolver:   resolver,
		aggregator: aggregator,
		logger:     logger,
		metrics:    collector,
		newID:      util.NewID,
	}
}

// CreateFork attaches a new fork under parentID and returns its id.
func (m *Mutator) CreateFork(ctx context.Context, parentID, actorID string, input ForkInput) (id string, err error) {
	defer func() { m.metrics.RecordForkMutation("create", statusOf(err)) }()

	if strings.TrimSpace(actorID) == "" {
		return "", ErrUnauthorized
	}

	fork := store.Fork{
		ID:           m.newID(),
		ParentID:     parentID,
		AuthorID:     actorID,
		ContentDelta: input.ContentDelta,
		Summary:      input.Summary,
		Description:  input.Description,
		ImageURL:     input.ImageURL,
		ThumbnailURL: input.ThumbnailURL,
	}

	err = m.store.WithTx(ctx, func(tx store.NodeTx) error {
		if err := tx.InsertFork(ctx, fork); err != nil {
			return err
		}
		parent, err := tx.Node(ctx, parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if parent.IsSeed() && parent.DeletedAt != nil {
			return ErrNotFound
		}
		return tx.AddForkCount(ctx, parent, 1)
	})
	if err != nil {
		return "", classifyTxError(err)
	}

	m.refreshRoot(ctx, fork.ID)
	return fork.ID, nil
}

// DeleteFork removes a fork owned by actorID. The fork's children move up to
// the fork's own parent; nothing is cascaded.
func (m *Mutator) DeleteFork(ctx context.Context, forkID, actorID string) (err error) {
	defer func() { m.metrics.RecordForkMutation("delete", statusOf(err)) }()

	if strings.TrimSpace(actorID) == "" {
		return ErrUnauthorized
	}

	var parentID string
	err = m.store.WithTx(ctx, func(tx store.NodeTx) error {
		fork, err := tx.GetFork(ctx, forkID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if fork.AuthorID != actorID {
			return ErrUnauthorized
		}
		if err := tx.DeleteFork(ctx, forkID); err != nil {
			return err
		}
		moved, err := tx.ReparentChildren(ctx, forkID, fork.ParentID)
		if err != nil {
			return err
		}
		parentID = fork.ParentID

		parent, err := tx.Node(ctx, fork.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			// orphaned chain, no count to maintain
			return nil
		}
		if err != nil {
			return err
		}
		// A seed holds the total below it, which reparenting only lowers by
		// the deleted fork. A fork holds its direct children, which gains the
		// moved ones.
		delta := -1
		if !parent.IsSeed() {
			delta = moved - 1
		}
		if delta != 0 {
			return tx.AddForkCount(ctx, parent, delta)
		}
		return nil
	})
	if err != nil {
		return classifyTxError(err)
	}

	m.refreshRoot(ctx, parentID)
	return nil
}

// refreshRoot recounts the root above fromID. It runs after commit and only
// logs failures: the committed edge stands and the total catches up on the
// next mutation or repair.
func (m *Mutator) refreshRoot(ctx context.Context, fromID string) {
	ctx = context.WithoutCancel(ctx)

	rootID, err := m.resolver.rootOrSelf(ctx, fromID)
	if err != nil {
		m.logger.Warn("root resolution failed after commit, fork count may lag",
			zap.String("nodeID", fromID),
			zap.Error(err),
		)
		return
	}
	total, err := m.aggregator.RecountFrom(ctx, rootID)
	if err != nil {
		m.logger.Warn("recount failed after commit, fork count may lag",
			zap.String("rootID", rootID),
			zap.Error(err),
		)
		return
	}
	m.logger.Debug("root fork count refreshed",
		zap.String("rootID", rootID),
		zap.Int("total", total),
	)
}
