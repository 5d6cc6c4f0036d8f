// Package sqlite implements the identity, permission and audit stores on
// SQLite, for embedded and single-node hosts that do not want to run a
// database server.
package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/misaka10987/basileus/audit"
	"github.com/misaka10987/basileus/identity"
	"github.com/misaka10987/basileus/perm"
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

// Foreign keys are off by default in SQLite and the pragma is
// per-connection, so it has to ride on the DSN to cover the whole pool.
const dsnParams = "_foreign_keys=on&_busy_timeout=5000"

// Open opens (creating if necessary) the database at path and applies the
// schema. Passing ":memory:" yields a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + dsnParams
	} else {
		dsn += "?" + dsnParams
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := bootstrap(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

var schema = []string{
	`create table if not exists users (
		username   text primary key,
		created_at timestamp not null default current_timestamp
	)`,
	`create table if not exists passwords (
		username   text primary key references users(username) on delete cascade,
		phc        text not null,
		updated_at timestamp not null default current_timestamp
	)`,
	`create table if not exists user_permissions (
		username text primary key references users(username) on delete cascade,
		tokens   text not null default ''
	)`,
	`create table if not exists audit_log (
		id         text primary key,
		at         timestamp not null,
		event      text not null,
		username   text,
		request_id text,
		detail     text
	)`,
	`create index if not exists audit_log_at_idx on audit_log (at)`,
	`create index if not exists audit_log_username_idx on audit_log (username)`,
	// The trigger plays the role the two-statement transaction plays on
	// PostgreSQL: every user gets an empty permission row from birth.
	`create trigger if not exists user_permissions_bootstrap
	after insert on users
	begin
		insert or ignore into user_permissions (username, tokens) values (new.username, '');
	end`,
}

func bootstrap(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || serr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isForeignKeyViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
