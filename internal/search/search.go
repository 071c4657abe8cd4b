package search

import "context"

// ResultType identifies the kind of node in a search result.
type ResultType string

const (
	ResultSeed ResultType = "seed"
	ResultFork ResultType = "fork"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	AuthorID string     `json:"authorId"`
	Kind     string     `json:"kind,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	FilterKind string     // seeds only
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push nodes into a search index.
type Indexer interface {
	IndexSeeds(seeds []SeedRecord) error
	IndexForks(forks []ForkRecord) error
	DeleteSeed(id string) error
	DeleteFork(id string) error
}

// Index is a searchable backend that also accepts writes.
type Index interface {
	Searcher
	Indexer
}

// SeedRecord is the data we index for a seed.
type SeedRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Kind     string `json:"kind"`
	Content  string `json:"content"`
	AuthorID string `json:"authorId"`
}

// ForkRecord is the data we index for a fork.
type ForkRecord struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	AuthorID    string `json:"authorId"`
}
