package lineage

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"artive/api/internal/metrics"
	"artive/api/internal/util"
)

const (
	DefaultDepth       = 3
	DefaultMaxDepth    = 5
	DefaultFanOutLimit = 200
)

type Options struct {
	DefaultDepth int
	MaxDepth     int
	// FanOutLimit caps the children read per parent while building a lineage.
	// Zero selects DefaultFanOutLimit; a negative value removes the cap.
	FanOutLimit int
	Logger      *zap.Logger
	Metrics     metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.DefaultDepth <= 0 {
		o.DefaultDepth = DefaultDepth
	}
	if o.DefaultDepth > o.MaxDepth {
		o.DefaultDepth = o.MaxDepth
	}
	if o.FanOutLimit == 0 {
		o.FanOutLimit = DefaultFanOutLimit
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Noop{}
	}
	return o
}

// Engine is the entry point used by request handlers.
type Engine struct {
	opts       Options
	resolver   *Resolver
	builder    *Builder
	aggregator *Aggregator
	mutator    *Mutator
	lineages   singleflight.Group
}

func New(store NodeStore, opts Options) *Engine {
	opts = opts.withDefaults()
	resolver := NewResolver(store)
	aggregator := NewAggregator(store, resolver, opts.Metrics)
	return &Engine{
		opts:       opts,
		resolver:   resolver,
		builder:    NewBuilder(store, opts.FanOutLimit),
		aggregator: aggregator,
		mutator:    NewMutator(store, resolver, aggregator, opts.Logger, opts.Metrics),
	}
}

// ClampDepth maps a requested depth into [1, MaxDepth]; zero or less selects
// the default depth.
func (e *Engine) ClampDepth(depth int) int {
	switch {
	case depth <= 0:
		return e.opts.DefaultDepth
	case depth > e.opts.MaxDepth:
		return e.opts.MaxDepth
	default:
		return depth
	}
}

// GetLineage builds the lineage tree containing nodeID, anchored at its root
// seed. When no root can be found the tree is built from nodeID itself, so an
// unknown but well-formed id yields a single-node tree. Malformed ids are
// ErrNotFound.
func (e *Engine) GetLineage(ctx context.Context, nodeID string, depth int) (Lineage, error) {
	if !util.ValidID(nodeID) {
		e.opts.Metrics.RecordLineage(statusOf(ErrNotFound), 0, false)
		return Lineage{}, ErrNotFound
	}
	depth = e.ClampDepth(depth)

	key := nodeID + "/" + strconv.Itoa(depth)
	// The shared build outlives any single caller, so one cancelled request
	// does not fail the others waiting on it.
	buildCtx := context.WithoutCancel(ctx)
	value, err, shared := e.lineages.Do(key, func() (any, error) {
		rootID, err := e.resolver.rootOrSelf(buildCtx, nodeID)
		if err != nil {
			return Lineage{}, err
		}
		return e.builder.Build(buildCtx, rootID, depth)
	})
	if err != nil {
		e.opts.Metrics.RecordLineage(statusOf(err), 0, false)
		e.opts.Logger.Error("lineage build failed", zap.String("nodeID", nodeID), zap.Error(err))
		return Lineage{}, err
	}

	result := value.(Lineage)
	if shared {
		result = result.clone()
	}
	e.opts.Metrics.RecordLineage("ok", len(result.Nodes), result.Truncated)
	if result.Truncated {
		e.opts.Logger.Info("lineage truncated by fan-out limit",
			zap.String("rootID", result.RootID),
			zap.Int("fanOutLimit", e.opts.FanOutLimit),
			zap.Strings("parents", result.TruncatedAt),
		)
	}
	return result, nil
}

// ResolveRoot returns the root seed id of nodeID.
func (e *Engine) ResolveRoot(ctx context.Context, nodeID string) (string, error) {
	return e.resolver.ResolveRoot(ctx, nodeID)
}

func (e *Engine) CreateFork(ctx context.Context, parentID, actorID string, input ForkInput) (string, error) {
	if !util.ValidID(parentID) {
		return "", ErrNotFound
	}
	return e.mutator.CreateFork(ctx, parentID, actorID, input)
}

func (e *Engine) DeleteFork(ctx context.Context, forkID, actorID string) error {
	if !util.ValidID(forkID) {
		return ErrNotFound
	}
	return e.mutator.DeleteFork(ctx, forkID, actorID)
}

// RecountFrom recomputes the total under rootID.
func (e *Engine) RecountFrom(ctx context.Context, rootID string) (int, error) {
	return e.aggregator.RecountFrom(ctx, rootID)
}

// Repair recomputes every count in the tree that contains nodeID.
func (e *Engine) Repair(ctx context.Context, nodeID string) (RepairResult, error) {
	if !util.ValidID(nodeID) {
		return RepairResult{}, ErrNotFound
	}
	return e.aggregator.Repair(ctx, nodeID)
}
