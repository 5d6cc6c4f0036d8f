package perm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/misaka10987/basileus/audit"
	"github.com/misaka10987/basileus/identity"
)

// Store persists per-user permission sets. Implementations must keep
// SetPermissions atomic: a concurrent reader sees the previous set or the
// new one, never a mix.
type Store interface {
	// GetPermissions returns the user's set. identity.ErrNotFound when no
	// row exists for the user.
	GetPermissions(ctx context.Context, user string) (Set, error)

	// SetPermissions replaces the user's set wholesale.
	SetPermissions(ctx context.Context, user string, perms Set) error
}

// Service manages per-user permissions. Every operation verifies the user
// exists before touching permission state and reads the store fresh; the
// service holds no cache, so external writes are visible on the next call.
type Service struct {
	identity identity.Store
	store    Store
	log      *slog.Logger
	audit    audit.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithAudit wires an audit sink for permission changes.
func WithAudit(sink audit.Logger) Option {
	return func(s *Service) { s.audit = sink }
}

// NewService binds permission storage to identity existence.
func NewService(ident identity.Store, store Store, opts ...Option) (*Service, error) {
	if ident == nil {
		return nil, errors.New("perm: identity store is required")
	}
	if store == nil {
		return nil, errors.New("perm: permission store is required")
	}
	s := &Service{
		identity: ident,
		store:    store,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the user's current permission set.
func (s *Service) Get(ctx context.Context, user string) (Set, error) {
	if err := s.ensureUser(ctx, user); err != nil {
		return Set{}, err
	}
	return s.store.GetPermissions(ctx, user)
}

// Check reports whether the user holds every required token. A missing
// permission is a plain false; an unknown user is identity.ErrNotFound.
func (s *Service) Check(ctx context.Context, user string, required Set) (bool, error) {
	held, err := s.Get(ctx, user)
	if err != nil {
		return false, err
	}
	return required.SubsetOf(held), nil
}

// Set replaces the user's permission set wholesale. The empty set is a
// valid assignment.
func (s *Service) Set(ctx context.Context, user string, perms Set) error {
	if err := s.ensureUser(ctx, user); err != nil {
		return err
	}
	if err := s.store.SetPermissions(ctx, user, perms); err != nil {
		return err
	}
	s.changed(ctx, user, perms)
	return nil
}

// Give adds the granted tokens to the user's set. Granting already-held
// tokens is idempotent.
func (s *Service) Give(ctx context.Context, user string, grant Set) error {
	held, err := s.Get(ctx, user)
	if err != nil {
		return err
	}
	next := held.Union(grant)
	if err := s.store.SetPermissions(ctx, user, next); err != nil {
		return err
	}
	s.changed(ctx, user, next)
	return nil
}

// Revoke removes the given tokens from the user's set. Tokens the user does
// not hold are ignored.
func (s *Service) Revoke(ctx context.Context, user string, revoke Set) error {
	held, err := s.Get(ctx, user)
	if err != nil {
		return err
	}
	next := held.Difference(revoke)
	if err := s.store.SetPermissions(ctx, user, next); err != nil {
		return err
	}
	s.changed(ctx, user, next)
	return nil
}

func (s *Service) ensureUser(ctx context.Context, user string) error {
	ok, err := s.identity.Exists(ctx, user)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	return nil
}

func (s *Service) changed(ctx context.Context, user string, perms Set) {
	s.log.DebugContext(ctx, "permissions changed", "user", user, "count", perms.Len())
	if s.audit != nil {
		_ = s.audit.Log(ctx, audit.Entry{
			Event:  "perm.changed",
			User:   user,
			Detail: map[string]any{"permissions": perms.String()},
		})
	}
}
