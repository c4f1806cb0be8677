package recipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the recipes table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS recipes (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    body       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_recipes_title ON recipes (lower(title));
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPool connects to dsn, pings the server and runs [PostgresStore.Migrate].
// The caller closes the returned pool.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, *PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("recipe: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("recipe: ping: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, s, nil
}

// Migrate executes the [Schema] DDL against the database, creating the
// recipes table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("recipe: migrate: %w", err)
	}
	return nil
}

// Get returns the recipe with id key or, if there is none, the most recently
// updated recipe whose title matches key case-insensitively.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Recipe, error) {
	const query = `
		SELECT id, title, body, updated_at
		FROM recipes
		WHERE id = $1 OR lower(title) = lower($1)
		ORDER BY (id = $1) DESC, updated_at DESC
		LIMIT 1`

	var r Recipe
	err := s.db.QueryRow(ctx, query, key).Scan(&r.ID, &r.Title, &r.Body, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return nil, fmt.Errorf("recipe: get %q: %w", key, err)
	}
	return &r, nil
}

// List returns every recipe ordered by title. Bodies are not loaded.
func (s *PostgresStore) List(ctx context.Context) ([]Recipe, error) {
	const query = `SELECT id, title, updated_at FROM recipes ORDER BY lower(title), id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recipe: list: %w", err)
	}
	defer rows.Close()

	var out []Recipe
	for rows.Next() {
		var r Recipe
		if err := rows.Scan(&r.ID, &r.Title, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("recipe: scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recipe: list rows: %w", err)
	}
	return out, nil
}

// Upsert creates or replaces a recipe.
func (s *PostgresStore) Upsert(ctx context.Context, r *Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}
	const query = `
		INSERT INTO recipes (id, title, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			updated_at = now()
		RETURNING updated_at`

	if err := s.db.QueryRow(ctx, query, r.ID, r.Title, r.Body).Scan(&r.UpdatedAt); err != nil {
		return fmt.Errorf("recipe: upsert %q: %w", r.ID, err)
	}
	return nil
}

// Delete removes a recipe by id.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM recipes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("recipe: delete %q: %w", id, err)
	}
	return nil
}

// Ping checks the database connection. It is used as a readiness check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("recipe: ping: %w", err)
	}
	return nil
}
