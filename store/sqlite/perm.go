package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/misaka10987/basileus/identity"
	"github.com/misaka10987/basileus/perm"
)

func (s *Store) GetPermissions(ctx context.Context, user string) (perm.Set, error) {
	var tokens string
	err := s.db.QueryRowContext(ctx, `select tokens from user_permissions where username = ?`, user).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return perm.Set{}, fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	if err != nil {
		return perm.Set{}, err
	}
	return perm.Parse(tokens), nil
}

func (s *Store) SetPermissions(ctx context.Context, user string, perms perm.Set) error {
	_, err := s.db.ExecContext(ctx, `insert or replace into user_permissions (username, tokens) values (?, ?)`,
		user, perms.String())
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
		}
		return err
	}
	return nil
}
