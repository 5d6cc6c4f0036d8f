package pg

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
	err := s.db.QueryRowContext(ctx, `select tokens from user_permissions where username = $1`, user).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return perm.Set{}, fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	if err != nil {
		return perm.Set{}, err
	}
	return perm.Parse(tokens), nil
}

// SetPermissions replaces the set in a single upsert statement, so readers
// see the previous set or the new one, never a partial state.
func (s *Store) SetPermissions(ctx context.Context, user string, perms perm.Set) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions (username, tokens)
		values ($1, $2)
		on conflict (username) do update set tokens = excluded.tokens
	`, user, perms.String())
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
		}
		return err
	}
	return nil
}
