// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/playforge-studio/modelplane/internal/app/storage"
)

// Store implements every storage interface over a PostgreSQL handle.
type Store struct {
	db *sqlx.DB
}

var (
	_ storage.RegistryStore   = (*Store)(nil)
	_ storage.LogStore        = (*Store)(nil)
	_ storage.DeploymentStore = (*Store)(nil)
	_ storage.SnapshotStore   = (*Store)(nil)
	_ storage.ViolationStore  = (*Store)(nil)
	_ storage.FineTuneStore   = (*Store)(nil)
)

// New wraps an existing *sql.DB (opened with the "postgres" driver, i.e.
// github.com/lib/pq) in a Store.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
