package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const migrationsTable = "basileus_schema_migrations"

type migration struct {
	name  string
	stmts []string
	down  []string
}

// Migrations ship with the package rather than on disk: an embedding host
// gets the schema from the same artifact as the code that depends on it.
var migrations = []migration{
	{
		name: "0001_users",
		stmts: []string{`
			create table if not exists users (
				username   text primary key,
				created_at timestamptz not null default now()
			)`,
		},
		down: []string{`drop table if exists users`},
	},
	{
		name: "0002_passwords",
		stmts: []string{`
			create table if not exists passwords (
				username   text primary key references users(username) on delete cascade,
				phc        text not null,
				updated_at timestamptz not null default now()
			)`,
		},
		down: []string{`drop table if exists passwords`},
	},
	{
		name: "0003_user_permissions",
		stmts: []string{`
			create table if not exists user_permissions (
				username text primary key references users(username) on delete cascade,
				tokens   text not null default ''
			)`,
		},
		down: []string{`drop table if exists user_permissions`},
	},
	{
		name: "0004_audit_log",
		stmts: []string{`
			create table if not exists audit_log (
				id         text primary key,
				at         timestamptz not null,
				event      text not null,
				username   text,
				request_id text,
				detail     jsonb
			)`,
			`create index if not exists audit_log_at_idx on audit_log (at)`,
			`create index if not exists audit_log_username_idx on audit_log (username)`,
		},
		down: []string{
			`drop index if exists audit_log_username_idx`,
			`drop index if exists audit_log_at_idx`,
			`drop table if exists audit_log`,
		},
	},
}

// Migrate applies all pending schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

// MigrateDown rolls back the most recently applied migration.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	applied, err := MigrationStatus(ctx, db)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]

	var m migration
	found := false
	for _, cand := range migrations {
		if cand.name == last {
			m, found = cand, true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown migration %s in %s", last, migrationsTable)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.down {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, migrationsTable), last); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrationStatus returns applied migration names in application order.
func MigrationStatus(ctx context.Context, db *sql.DB) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name       text primary key,
			applied_at timestamptz not null default now()
		)`, migrationsTable))
	return err
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, migrationsTable),
		m.name, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}
