// Package sqlite provides a SQLite-backed lab state Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xtding233/gratonite-lab/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS lab_state (
	profile    TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	document   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Store persists one lab state document per profile.
type Store struct {
	sqlDB   *sql.DB
	profile string
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path, profile string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if strings.TrimSpace(profile) == "" {
		return nil, fmt.Errorf("storage profile is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, profile: profile}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Load(ctx context.Context) (storage.State, error) {
	if err := ctx.Err(); err != nil {
		return storage.State{}, err
	}
	var doc string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT document FROM lab_state WHERE profile = ?`, s.profile,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.State{}, storage.ErrNotFound
		}
		return storage.State{}, fmt.Errorf("load lab state: %w", err)
	}
	var st storage.State
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return storage.State{}, fmt.Errorf("decode lab state: %w", err)
	}
	return st, nil
}

func (s *Store) Save(ctx context.Context, st storage.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode lab state: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO lab_state (profile, version, document, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(profile) DO UPDATE SET
		   version = excluded.version,
		   document = excluded.document,
		   updated_at = excluded.updated_at`,
		s.profile, st.Version, string(b), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save lab state: %w", err)
	}
	return nil
}
