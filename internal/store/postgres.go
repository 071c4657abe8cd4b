package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, LOWER($3), $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) InsertSeed(ctx context.Context, seed Seed) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seeds (id, author_id, title, kind, content, media_url)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, seed.ID, seed.AuthorID, seed.Title, string(seed.Kind), seed.Content, seed.MediaURL)
	if err != nil {
		return fmt.Errorf("insert seed: %w", err)
	}
	return nil
}

const seedColumns = `id, author_id, title, kind, content, media_url, fork_count, created_at, deleted_at`

func scanSeed(row interface{ Scan(...any) error }) (Seed, error) {
	var item Seed
	var kind string
	var deletedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.AuthorID, &item.Title, &kind, &item.Content, &item.MediaURL, &item.ForkCount, &item.CreatedAt, &deletedAt); err != nil {
		return Seed{}, err
	}
	item.Kind = SeedKind(kind)
	if deletedAt.Valid {
		item.DeletedAt = &deletedAt.Time
	}
	return item, nil
}

func (s *PostgresStore) GetSeed(ctx context.Context, seedID string) (Seed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+seedColumns+` FROM seeds WHERE id=$1`, seedID)
	return scanSeed(row)
}

func (s *PostgresStore) ListSeeds(ctx context.Context, limit, offset int) ([]Seed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+seedColumns+`
		FROM seeds
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list seeds: %w", err)
	}
	defer rows.Close()

	items := make([]Seed, 0)
	for rows.Next() {
		item, err := scanSeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan seed: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seeds: %w", err)
	}
	return items, nil
}

// SoftDeleteSeed marks a seed deleted. It reports false when the seed does not
// exist, is already deleted, or belongs to another author.
func (s *PostgresStore) SoftDeleteSeed(ctx context.Context, seedID, authorID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE seeds SET deleted_at=NOW()
		WHERE id=$1 AND author_id=$2 AND deleted_at IS NULL
	`, seedID, authorID)
	if err != nil {
		return false, fmt.Errorf("soft delete seed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete seed rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetFork(ctx context.Context, forkID string) (Fork, error) {
	return getFork(ctx, s.db, forkID)
}

func (s *PostgresStore) ListForksByParent(ctx context.Context, parentID string, limit, offset int) ([]Fork, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+forkColumns+`
		FROM forks
		WHERE parent_id=$1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, parentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list forks: %w", err)
	}
	defer rows.Close()

	items := make([]Fork, 0)
	for rows.Next() {
		item, err := scanFork(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fork: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
