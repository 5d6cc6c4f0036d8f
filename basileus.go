// Package basileus is an embeddable authorization core. It combines a
// whitespace-token permission algebra, an in-memory session token store
// and a PKCE delegated authorization exchange on top of a pluggable user
// store, so a host application gets accounts, credentials, sessions and
// permission checks from one handle.
//
// The Core wires the pieces together; the subsystems remain usable on
// their own through the perm, token and pkce packages.
package basileus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/misaka10987/basileus/audit"
	"github.com/misaka10987/basileus/event"
	"github.com/misaka10987/basileus/identity"
	"github.com/misaka10987/basileus/perm"
	"github.com/misaka10987/basileus/pkce"
	"github.com/misaka10987/basileus/token"
)

// ErrUnauthorized is returned by Login for unknown users, missing
// credentials and wrong passwords alike, so callers cannot probe which
// usernames exist.
var ErrUnauthorized = errors.New("basileus: unauthorized")

// Store is the persistence surface a Core needs: user accounts with
// credentials plus the per-user permission sets. store/pg and
// store/sqlite provide ready-made implementations.
type Store interface {
	identity.UserStore
	perm.Store
}

// Core is the assembled authorization service.
type Core struct {
	store    Store
	log      *slog.Logger
	clock    func() time.Time
	pkceCfg  pkce.Config
	userSink audit.Logger

	audit    audit.Logger
	perms    *perm.Service
	tokens   *token.Store
	exchange *pkce.Exchange
	events   *event.Bus[audit.Entry]
}

// New assembles a Core around the given store. Every audit entry the Core
// and its subsystems emit is fanned out to the event bus and, when
// WithAudit is used, to the provided sink.
func New(store Store, opts ...Option) (*Core, error) {
	if store == nil {
		return nil, errors.New("basileus: nil store")
	}
	c := &Core{
		store:  store,
		log:    slog.Default(),
		clock:  time.Now,
		events: event.NewBus[audit.Entry](),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.audit = event.AuditSink(c.events)
	if c.userSink != nil {
		c.audit = audit.Multi(c.userSink, c.audit)
	}

	perms, err := perm.NewService(store, store, perm.WithLogger(c.log), perm.WithAudit(c.audit))
	if err != nil {
		return nil, err
	}
	c.perms = perms

	c.tokens = token.NewStore(token.WithClock(c.clock), token.WithLogger(c.log), token.WithAudit(c.audit))

	exchange, err := pkce.NewExchange(store, c.tokens, c.pkceCfg,
		pkce.WithClock(c.clock), pkce.WithLogger(c.log), pkce.WithAudit(c.audit))
	if err != nil {
		return nil, err
	}
	c.exchange = exchange
	return c, nil
}

// Perms exposes the permission service.
func (c *Core) Perms() *perm.Service { return c.perms }

// Tokens exposes the session token store.
func (c *Core) Tokens() *token.Store { return c.tokens }

// PKCE exposes the delegated authorization exchange.
func (c *Core) PKCE() *pkce.Exchange { return c.exchange }

// Users exposes the underlying user store.
func (c *Core) Users() identity.UserStore { return c.store }

// Events exposes the live audit entry bus. Subscribers see every entry
// the Core emits; slow subscribers miss entries rather than block.
func (c *Core) Events() *event.Bus[audit.Entry] { return c.events }

// CreateUser registers a user. An empty password creates the account
// without a credential; such an account cannot log in until one is set.
func (c *Core) CreateUser(ctx context.Context, user, pass string) error {
	if err := c.store.CreateUser(ctx, user); err != nil {
		return err
	}
	if pass != "" {
		if err := c.store.SetPassword(ctx, user, pass); err != nil {
			return err
		}
	}
	c.log.Info("user created", "user", user, "with_password", pass != "")
	c.auditLog(ctx, audit.Entry{Event: "user.created", User: user})
	return nil
}

// DeleteUser removes the user and revokes their live sessions.
func (c *Core) DeleteUser(ctx context.Context, user string) error {
	if err := c.store.DeleteUser(ctx, user); err != nil {
		return err
	}
	revoked := c.tokens.InvalidateUser(user)
	c.log.Info("user deleted", "user", user, "sessions_revoked", revoked)
	c.auditLog(ctx, audit.Entry{Event: "user.deleted", User: user, Detail: map[string]any{"sessions_revoked": revoked}})
	return nil
}

// SetPassword sets or replaces the user's credential and revokes their
// live sessions, forcing a re-login with the new password.
func (c *Core) SetPassword(ctx context.Context, user, pass string) error {
	if err := c.store.SetPassword(ctx, user, pass); err != nil {
		return err
	}
	revoked := c.tokens.InvalidateUser(user)
	c.log.Info("password updated", "user", user, "sessions_revoked", revoked)
	c.auditLog(ctx, audit.Entry{Event: "password.updated", User: user, Detail: map[string]any{"sessions_revoked": revoked}})
	return nil
}

// DeletePassword removes the user's credential and revokes their live
// sessions. The account itself survives.
func (c *Core) DeletePassword(ctx context.Context, user string) error {
	if err := c.store.DeletePassword(ctx, user); err != nil {
		return err
	}
	revoked := c.tokens.InvalidateUser(user)
	c.log.Info("password deleted", "user", user, "sessions_revoked", revoked)
	c.auditLog(ctx, audit.Entry{Event: "password.deleted", User: user, Detail: map[string]any{"sessions_revoked": revoked}})
	return nil
}

// CountUsers reports the number of registered users.
func (c *Core) CountUsers(ctx context.Context) (int64, error) {
	return c.store.CountUsers(ctx)
}

// Login checks the password and issues a session token.
func (c *Core) Login(ctx context.Context, user, pass string) (string, error) {
	ok, err := c.store.VerifyPassword(ctx, user, pass)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) || errors.Is(err, identity.ErrNoPassword) {
			return "", c.loginDenied(ctx, user)
		}
		return "", err
	}
	if !ok {
		return "", c.loginDenied(ctx, user)
	}

	tok, err := c.tokens.Issue(user)
	if err != nil {
		return "", err
	}
	loginsTotal.WithLabelValues("ok").Inc()
	c.log.Info("login", "user", user)
	c.auditLog(ctx, audit.Entry{Event: "login", User: user})
	return tok, nil
}

func (c *Core) loginDenied(ctx context.Context, user string) error {
	loginsTotal.WithLabelValues("denied").Inc()
	c.log.Warn("login denied", "user", user)
	c.auditLog(ctx, audit.Entry{Event: "login", User: user, Detail: map[string]any{"ok": false}})
	return ErrUnauthorized
}

// Logout invalidates a session token. Unknown tokens are ignored.
func (c *Core) Logout(ctx context.Context, tok string) {
	entry, known := c.tokens.Lookup(tok)
	c.tokens.Invalidate(tok)
	if !known {
		return
	}
	c.log.Info("logout", "user", entry.User)
	c.auditLog(ctx, audit.Entry{Event: "logout", User: entry.User})
}

// LogoutAll invalidates every session of the user and reports how many
// there were.
func (c *Core) LogoutAll(ctx context.Context, user string) int {
	revoked := c.tokens.InvalidateUser(user)
	if revoked > 0 {
		c.log.Info("logout all", "user", user, "sessions_revoked", revoked)
		c.auditLog(ctx, audit.Entry{Event: "logout", User: user, Detail: map[string]any{"all": true, "count": revoked}})
	}
	return revoked
}

// StartSessionSweeper expires session tokens older than maxAge and
// abandoned authorization codes every interval until the returned stop
// function is called. Without a sweeper (or periodic Expire calls)
// sessions live forever.
func (c *Core) StartSessionSweeper(maxAge, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.tokens.Expire(maxAge); n > 0 {
					c.log.Info("sessions expired", "count", n)
				}
				if n := c.exchange.ExpirePending(); n > 0 {
					c.log.Info("authorization codes expired", "count", n)
				}
			}
		}
	}()
	return cancel
}

func (c *Core) auditLog(ctx context.Context, entry audit.Entry) {
	_ = c.audit.Log(ctx, entry)
}
