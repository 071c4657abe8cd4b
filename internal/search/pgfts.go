package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	seedDocument = `to_tsvector('english', s.title || ' ' || coalesce(s.content, ''))`
	forkDocument = `to_tsvector('english', f.summary || ' ' || coalesce(f.description, ''))`
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over live seeds and forks ranked with ts_rank.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultSeed {
		where := seedDocument + " @@ " + tsQuery + " AND s.deleted_at IS NULL"
		if q.FilterKind != "" {
			args = append(args, q.FilterKind)
			where += fmt.Sprintf(" AND s.kind = $%d", len(args))
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'seed'::text AS type, s.id, s.title,
				ts_headline('english', coalesce(s.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.author_id, s.kind,
				ts_rank(%s, %s) AS rank
			FROM seeds s
			WHERE %s`, tsQuery, seedDocument, tsQuery, where))
	}
	if (q.FilterType == "" && q.FilterKind == "") || q.FilterType == ResultFork {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'fork'::text AS type, f.id, f.summary AS title,
				ts_headline('english', coalesce(f.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				f.author_id, ''::text AS kind,
				ts_rank(%s, %s) AS rank
			FROM forks f
			WHERE %s @@ %s`, tsQuery, forkDocument, tsQuery, forkDocument, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet, author_id, kind
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.AuthorID, &r.Kind); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every live seed and fork for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SeedRecord, []ForkRecord, error) {
	seedRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, kind, coalesce(content, ''), author_id
		FROM seeds
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load seeds: %w", err)
	}
	defer seedRows.Close()

	seeds := make([]SeedRecord, 0)
	for seedRows.Next() {
		var s SeedRecord
		if err := seedRows.Scan(&s.ID, &s.Title, &s.Kind, &s.Content, &s.AuthorID); err != nil {
			return nil, nil, fmt.Errorf("scan seed: %w", err)
		}
		seeds = append(seeds, s)
	}
	if err := seedRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate seeds: %w", err)
	}

	forkRows, err := p.db.QueryContext(ctx, `
		SELECT id, summary, coalesce(description, ''), author_id
		FROM forks
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load forks: %w", err)
	}
	defer forkRows.Close()

	forks := make([]ForkRecord, 0)
	for forkRows.Next() {
		var f ForkRecord
		if err := forkRows.Scan(&f.ID, &f.Summary, &f.Description, &f.AuthorID); err != nil {
			return nil, nil, fmt.Errorf("scan fork: %w", err)
		}
		forks = append(forks, f)
	}
	if err := forkRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate forks: %w", err)
	}
	return seeds, forks, nil
}
