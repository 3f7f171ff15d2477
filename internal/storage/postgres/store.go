// Package postgres provides a PostgreSQL-backed lab state Store using pgx v5.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtding233/gratonite-lab/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS lab_state (
	profile    TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store persists one lab state document per profile.
type Store struct {
	pool    *pgxpool.Pool
	profile string
}

// Open connects to dsn, pings the server and ensures the schema exists.
//
// Postcondition: Returns a ready Store or a non-nil error; the pool is closed on error.
func Open(ctx context.Context, dsn, profile string) (*Store, error) {
	if profile == "" {
		return nil, fmt.Errorf("storage profile is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{pool: pool, profile: profile}, nil
}

// Health checks that the database is reachable within the given timeout.
func (s *Store) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases all pool resources.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Load(ctx context.Context) (storage.State, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM lab_state WHERE profile = $1`, s.profile,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.State{}, storage.ErrNotFound
		}
		return storage.State{}, fmt.Errorf("loading lab state: %w", err)
	}
	var st storage.State
	if err := json.Unmarshal(doc, &st); err != nil {
		return storage.State{}, fmt.Errorf("decoding lab state: %w", err)
	}
	return st, nil
}

func (s *Store) Save(ctx context.Context, st storage.State) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding lab state: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO lab_state (profile, version, document, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile) DO UPDATE SET
			version = EXCLUDED.version,
			document = EXCLUDED.document,
			updated_at = now()`,
		s.profile, st.Version, doc,
	)
	if err != nil {
		return fmt.Errorf("saving lab state: %w", err)
	}
	return nil
}
