package store

import (
	"context"
	"time"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SeedKind is the medium of a seed.
type SeedKind string

const (
	SeedText   SeedKind = "text"
	SeedVisual SeedKind = "visual"
	SeedMusic  SeedKind = "music"
	SeedCode   SeedKind = "code"
)

// Seed is a root creative artifact. ForkCount is the total number of forks
// below it at any depth.
type Seed struct {
	ID        string
	AuthorID  string
	Title     string
	Kind      SeedKind
	Content   string
	MediaURL  string
	ForkCount int
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Fork is a derivation of a seed or of another fork. ForkCount is the number
// of direct children only.
type Fork struct {
	ID           string
	ParentID     string
	AuthorID     string
	ContentDelta string
	Summary      string
	Description  string
	ImageURL     string
	ThumbnailURL string
	ForkCount    int
	CreatedAt    time.Time
}

type NodeKind string

const (
	KindSeed NodeKind = "seed"
	KindFork NodeKind = "fork"
)

// NodeRef is the resolved form of an id that may name either a seed or a fork.
// ParentID is empty for seeds.
type NodeRef struct {
	ID        string
	Kind      NodeKind
	ParentID  string
	DeletedAt *time.Time
}

func (r NodeRef) IsSeed() bool { return r.Kind == KindSeed }

// NodeTx is the set of node operations available inside a transaction.
type NodeTx interface {
	Node(ctx context.Context, id string) (NodeRef, error)
	GetFork(ctx context.Context, id string) (Fork, error)
	InsertFork(ctx context.Context, fork Fork) error
	DeleteFork(ctx context.Context, id string) error
	ReparentChildren(ctx context.Context, fromID, toID string) (int, error)
	AddForkCount(ctx context.Context, ref NodeRef, delta int) error
}
