// Package identity defines the username rules and the storage contracts the
// rest of the library builds on. Implementations live in store/pg and
// store/sqlite; hosts may bring their own.
package identity

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("identity: user not found")
	ErrExists          = errors.New("identity: user already exists")
	ErrInvalidUsername = errors.New("identity: invalid username")
	ErrNoPassword      = errors.New("identity: no password registered")
)

// ValidUsername reports whether s is acceptable as a username: non-empty and
// made of printable ASCII only. Whitespace, control bytes and anything
// outside 0x21..0x7E are rejected.
func ValidUsername(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// Store is the minimal identity surface consumed by the permission service
// and the PKCE exchange.
type Store interface {
	// Exists reports whether the user is registered.
	Exists(ctx context.Context, user string) (bool, error)

	// VerifyPassword checks the password against the stored credential.
	// A wrong password is (false, nil). An unknown user is ErrNotFound and
	// a user without a credential is ErrNoPassword.
	VerifyPassword(ctx context.Context, user, password string) (bool, error)
}

// UserStore extends Store with the full account lifecycle.
type UserStore interface {
	Store

	// CreateUser registers the user. ErrInvalidUsername when the name
	// violates ValidUsername, ErrExists on duplicates.
	CreateUser(ctx context.Context, user string) error

	// DeleteUser removes the user together with any credential and
	// permission rows. ErrNotFound when absent.
	DeleteUser(ctx context.Context, user string) error

	// CountUsers returns the number of registered users.
	CountUsers(ctx context.Context) (int64, error)

	// SetPassword stores or replaces the user's credential.
	SetPassword(ctx context.Context, user, password string) error

	// DeletePassword removes the user's credential. ErrNotFound when the
	// user is unknown, ErrNoPassword when no credential is set.
	DeletePassword(ctx context.Context, user string) error

	// HasPassword reports whether the user has a credential set.
	HasPassword(ctx context.Context, user string) (bool, error)
}
