// Package pg implements the identity, permission and audit stores on
// PostgreSQL via database/sql and the pgx driver.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/misaka10987/basileus/audit"
	"github.com/misaka10987/basileus/identity"
	"github.com/misaka10987/basileus/perm"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store holds the database handle. It satisfies identity.UserStore,
// perm.Store and audit.Logger; one Store serves a whole Core.
type Store struct {
	db *sql.DB
}

var (
	_ identity.UserStore = (*Store)(nil)
	_ perm.Store         = (*Store)(nil)
	_ audit.Logger       = (*Store)(nil)
)

// Open connects to PostgreSQL and returns a Store owning the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing database handle whose lifecycle the host owns.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
