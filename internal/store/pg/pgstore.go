// Package pg is the PostgreSQL implementation of every narrow store
// interface the domain packages declare (team.Store, contact.Store,
// conversations.Store, messaging.Store, federation.Store, trust.Store,
// audit.Store). One concrete Store type backs all of them, following the
// teacher's single-struct-many-interfaces pattern.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tezrelay.dev/internal/store"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func sortedIDs(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}
