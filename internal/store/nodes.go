package store

import (
	"context"
	"database/sql"
	"fmt"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const forkColumns = `id, parent_id, author_id, content_delta, summary, description, image_url, thumbnail_url, fork_count, created_at`

func scanFork(row interface{ Scan(...any) error }) (Fork, error) {
	var item Fork
	err := row.Scan(
		&item.ID,
		&item.ParentID,
		&item.AuthorID,
		&item.ContentDelta,
		&item.Summary,
		&item.Description,
		&item.ImageURL,
		&item.ThumbnailURL,
		&item.ForkCount,
		&item.CreatedAt,
	)
	if err != nil {
		return Fork{}, err
	}
	return item, nil
}

func getFork(ctx context.Context, q queryer, forkID string) (Fork, error) {
	return scanFork(q.QueryRowContext(ctx, `SELECT `+forkColumns+` FROM forks WHERE id=$1`, forkID))
}

// lookupNode resolves an id against both node tables in one round trip.
func lookupNode(ctx context.Context, q queryer, id string) (NodeRef, error) {
	const query = `
		SELECT id, 'seed', '', deleted_at FROM seeds WHERE id = $1
		UNION ALL
		SELECT id, 'fork', parent_id, NULL::timestamptz FROM forks WHERE id = $1
		LIMIT 1
	`
	var ref NodeRef
	var kind string
	var deletedAt sql.NullTime
	if err := q.QueryRowContext(ctx, query, id).Scan(&ref.ID, &kind, &ref.ParentID, &deletedAt); err != nil {
		if isNoRows(err) {
			return NodeRef{}, err
		}
		return NodeRef{}, fmt.Errorf("lookup node: %w", err)
	}
	ref.Kind = NodeKind(kind)
	if deletedAt.Valid {
		ref.DeletedAt = &deletedAt.Time
	}
	return ref, nil
}

func (s *PostgresStore) Node(ctx context.Context, id string) (NodeRef, error) {
	return lookupNode(ctx, s.db, id)
}

// Children returns the ids of forks whose parent is parentID, oldest first.
// A non-positive limit returns every child.
func (s *PostgresStore) Children(ctx context.Context, parentID string, limit int) ([]string, error) {
	query := `SELECT id FROM forks WHERE parent_id=$1 ORDER BY created_at, id`
	args := []any{parentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) CountChildren(ctx context.Context, parentID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM forks WHERE parent_id=$1`, parentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SetSeedForkCount(ctx context.Context, seedID string, count int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE seeds SET fork_count=$2 WHERE id=$1`, seedID, count); err != nil {
		return fmt.Errorf("set seed fork count: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetForkCount(ctx context.Context, forkID string, count int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE forks SET fork_count=$2 WHERE id=$1`, forkID, count); err != nil {
		return fmt.Errorf("set fork count: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction is rolled back when fn
// returns an error or panics.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(NodeTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Node(ctx context.Context, id string) (NodeRef, error) {
	return lookupNode(ctx, t.tx, id)
}

func (t *postgresTx) GetFork(ctx context.Context, id string) (Fork, error) {
	return scanFork(t.tx.QueryRowContext(ctx, `SELECT `+forkColumns+` FROM forks WHERE id=$1 FOR UPDATE`, id))
}

func (t *postgresTx) InsertFork(ctx context.Context, fork Fork) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO forks (id, parent_id, author_id, content_delta, summary, description, image_url, thumbnail_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, fork.ID, fork.ParentID, fork.AuthorID, fork.ContentDelta, fork.Summary, fork.Description, fork.ImageURL, fork.ThumbnailURL)
	if err != nil {
		return fmt.Errorf("insert fork: %w", err)
	}
	return nil
}

func (t *postgresTx) DeleteFork(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM forks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete fork: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete fork rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (t *postgresTx) ReparentChildren(ctx context.Context, fromID, toID string) (int, error) {
	result, err := t.tx.ExecContext(ctx, `UPDATE forks SET parent_id=$2 WHERE parent_id=$1`, fromID, toID)
	if err != nil {
		return 0, fmt.Errorf("reparent forks: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reparent forks rows: %w", err)
	}
	return int(affected), nil
}

func (t *postgresTx) AddForkCount(ctx context.Context, ref NodeRef, delta int) error {
	table := "forks"
	if ref.IsSeed() {
		table = "seeds"
	}
	result, err := t.tx.ExecContext(ctx, `UPDATE `+table+` SET fork_count=GREATEST(fork_count + $2, 0) WHERE id=$1`, ref.ID, delta)
	if err != nil {
		return fmt.Errorf("increment %s fork count: %w", ref.Kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment %s fork count rows: %w", ref.Kind, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
