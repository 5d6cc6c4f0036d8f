package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/misaka10987/basileus/identity"
	"github.com/misaka10987/basileus/password"
)

func (s *Store) Exists(ctx context.Context, user string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from users where username = ?`, user).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateUser inserts the user; the user_permissions_bootstrap trigger
// creates the empty permission row in the same statement.
func (s *Store) CreateUser(ctx context.Context, user string) error {
	if !identity.ValidUsername(user) {
		return fmt.Errorf("%w: %q", identity.ErrInvalidUsername, user)
	}
	if _, err := s.db.ExecContext(ctx, `insert into users (username) values (?)`, user); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", identity.ErrExists, user)
		}
		return err
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, user string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where username = ?`, user)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) SetPassword(ctx context.Context, user, pass string) error {
	phc, err := password.Hash(pass)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into passwords (username, phc)
		values (?, ?)
		on conflict (username) do update set phc = excluded.phc, updated_at = current_timestamp
	`, user, phc)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
		}
		return err
	}
	return nil
}

func (s *Store) DeletePassword(ctx context.Context, user string) error {
	res, err := s.db.ExecContext(ctx, `delete from passwords where username = ?`, user)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		ok, err := s.Exists(ctx, user)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
		}
		return fmt.Errorf("%w: %s", identity.ErrNoPassword, user)
	}
	return nil
}

func (s *Store) HasPassword(ctx context.Context, user string) (bool, error) {
	phc, err := s.lookupPHC(ctx, user)
	if err != nil {
		return false, err
	}
	return phc.Valid, nil
}

func (s *Store) VerifyPassword(ctx context.Context, user, pass string) (bool, error) {
	phc, err := s.lookupPHC(ctx, user)
	if err != nil {
		return false, err
	}
	if !phc.Valid {
		return false, fmt.Errorf("%w: %s", identity.ErrNoPassword, user)
	}
	return password.Verify(pass, phc.String)
}

func (s *Store) lookupPHC(ctx context.Context, user string) (sql.NullString, error) {
	var phc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select p.phc
		from users u
		left join passwords p on p.username = u.username
		where u.username = ?
	`, user).Scan(&phc)
	if errors.Is(err, sql.ErrNoRows) {
		return phc, fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	if err != nil {
		return phc, err
	}
	return phc, nil
}
