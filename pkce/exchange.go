package pkce

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/misaka10987/basileus/audit"
	"github.com/misaka10987/basileus/identity"
)

var (
	// ErrInsecureMethod rejects a plain-method authorization request when
	// plain is not allowed.
	ErrInsecureMethod = errors.New("pkce: plain code challenge method not allowed")
	// ErrUnauthorized rejects a wrong password. Unknown users and users
	// without a credential surface as identity.ErrNotFound and
	// identity.ErrNoPassword instead.
	ErrUnauthorized = errors.New("pkce: unauthorized")
	// ErrInvalidCode marks a code that is not pending: never issued,
	// already redeemed, or burned by a failed redemption.
	ErrInvalidCode = errors.New("pkce: invalid authorization code")
	// ErrExpiredCode marks a code redeemed after its time-to-live.
	ErrExpiredCode = errors.New("pkce: expired authorization code")
	// ErrInvalidVerifier marks a verifier that does not satisfy the
	// registered challenge.
	ErrInvalidVerifier = errors.New("pkce: invalid code verifier")
)

// codeTTL is how long an authorization code stays redeemable, measured
// from the authorization request.
const codeTTL = 600 * time.Second

// Issuer mints session tokens for redeemed codes. *token.Store satisfies
// it.
type Issuer interface {
	Issue(user string) (string, error)
}

// Config controls exchange behavior.
type Config struct {
	// AllowPlain permits the plain challenge method. Off by default; the
	// plain method exposes the verifier during authorization and exists
	// only for clients that cannot compute SHA-256.
	AllowPlain bool
}

type pending struct {
	user         string
	challenge    CodeChallenge
	registeredAt time.Time
}

// Exchange brokers the two-step flow. Pending codes live in process
// memory; each code redeems at most once.
type Exchange struct {
	mu      sync.Mutex
	pending map[string]pending

	ident  identity.Store
	issuer Issuer
	cfg    Config
	now    func() time.Time
	log    *slog.Logger
	audit  audit.Logger
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Exchange) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Exchange) {
		if log != nil {
			e.log = log
		}
	}
}

// WithAudit wires an audit sink for authorization and redemption events.
func WithAudit(sink audit.Logger) Option {
	return func(e *Exchange) { e.audit = sink }
}

// NewExchange builds an exchange over the given identity store and token
// issuer.
func NewExchange(ident identity.Store, issuer Issuer, cfg Config, opts ...Option) (*Exchange, error) {
	if ident == nil {
		return nil, errors.New("pkce: identity store is required")
	}
	if issuer == nil {
		return nil, errors.New("pkce: token issuer is required")
	}
	e := &Exchange{
		pending: make(map[string]pending),
		ident:   ident,
		issuer:  issuer,
		cfg:     cfg,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.AllowPlain {
		e.log.Warn("plain code challenge method enabled; clients may expose verifiers in transit")
	}
	return e, nil
}

// AuthRequest authenticates the user and registers the code challenge,
// returning the authorization code. The method check runs before any
// credential work so an insecure-method rejection costs the same no matter
// the password. A wrong password is ErrUnauthorized; unknown and
// credential-less users propagate the identity errors.
func (e *Exchange) AuthRequest(ctx context.Context, user, password string, ch CodeChallenge) (string, error) {
	if ch.Method == MethodPlain && !e.cfg.AllowPlain {
		authRequests.WithLabelValues("insecure_method").Inc()
		e.reject(ctx, user, "pkce.auth_request", ErrInsecureMethod)
		return "", ErrInsecureMethod
	}

	ok, err := e.ident.VerifyPassword(ctx, user, password)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) || errors.Is(err, identity.ErrNoPassword) {
			authRequests.WithLabelValues("unknown_user").Inc()
			e.reject(ctx, user, "pkce.auth_request", err)
			return "", err
		}
		authRequests.WithLabelValues("error").Inc()
		return "", fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		authRequests.WithLabelValues("unauthorized").Inc()
		e.reject(ctx, user, "pkce.auth_request", ErrUnauthorized)
		return "", ErrUnauthorized
	}

	code := authCode(user, ch)

	e.mu.Lock()
	e.pending[code] = pending{user: user, challenge: ch, registeredAt: e.now()}
	pendingCodes.Set(float64(len(e.pending)))
	e.mu.Unlock()

	authRequests.WithLabelValues("ok").Inc()
	e.log.DebugContext(ctx, "authorization code registered",
		"user", user, "method", ch.Method.String(), "code_prefix", code[:4])
	if e.audit != nil {
		_ = e.audit.Log(ctx, audit.Entry{
			Event:  "pkce.auth_request",
			User:   user,
			Detail: map[string]any{"method": ch.Method.String(), "code_prefix": code[:4]},
		})
	}
	return code, nil
}

// TokenRequest redeems an authorization code. The pending entry is removed
// in the same critical section that finds it, so concurrent redemptions of
// one code admit exactly one winner and every failure past that point burns
// the code for good.
func (e *Exchange) TokenRequest(ctx context.Context, code, verifier string) (string, error) {
	e.mu.Lock()
	p, ok := e.pending[code]
	if ok {
		delete(e.pending, code)
	}
	pendingCodes.Set(float64(len(e.pending)))
	e.mu.Unlock()

	if !ok {
		redemptions.WithLabelValues("invalid_code").Inc()
		e.reject(ctx, "", "pkce.token_request", ErrInvalidCode)
		return "", ErrInvalidCode
	}
	if e.now().Sub(p.registeredAt) > codeTTL {
		redemptions.WithLabelValues("expired_code").Inc()
		e.reject(ctx, p.user, "pkce.token_request", ErrExpiredCode)
		return "", ErrExpiredCode
	}
	if !p.challenge.Verify(verifier) {
		redemptions.WithLabelValues("invalid_verifier").Inc()
		e.reject(ctx, p.user, "pkce.token_request", ErrInvalidVerifier)
		return "", ErrInvalidVerifier
	}

	tok, err := e.issuer.Issue(p.user)
	if err != nil {
		redemptions.WithLabelValues("error").Inc()
		return "", fmt.Errorf("issue token: %w", err)
	}

	redemptions.WithLabelValues("ok").Inc()
	e.log.DebugContext(ctx, "authorization code redeemed", "user", p.user, "code_prefix", code[:4])
	if e.audit != nil {
		_ = e.audit.Log(ctx, audit.Entry{
			Event:  "pkce.token_request",
			User:   p.user,
			Detail: map[string]any{"code_prefix": code[:4]},
		})
	}
	return tok, nil
}

// PendingLen returns the number of outstanding authorization codes.
func (e *Exchange) PendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ExpirePending sweeps stale pending codes so a flood of never-redeemed
// requests does not pin memory. The redemption-time check stays
// authoritative; running this sweep is optional.
func (e *Exchange) ExpirePending() int {
	now := e.now()

	e.mu.Lock()
	removed := 0
	for code, p := range e.pending {
		if now.Sub(p.registeredAt) > codeTTL {
			delete(e.pending, code)
			removed++
		}
	}
	pendingCodes.Set(float64(len(e.pending)))
	e.mu.Unlock()

	if removed > 0 {
		e.log.Debug("stale authorization codes swept", "count", removed)
	}
	return removed
}

// authCode derives the authorization code from the user and the challenge
// rendering, binding user, method and challenge into one value.
func authCode(user string, ch CodeChallenge) string {
	sum := sha256.Sum256([]byte(user + ", " + ch.String()))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (e *Exchange) reject(ctx context.Context, user, op string, cause error) {
	e.log.DebugContext(ctx, "exchange rejected", "op", op, "user", user, "cause", cause.Error())
	if e.audit != nil {
		_ = e.audit.Log(ctx, audit.Entry{
			Event:  "pkce.rejected",
			User:   user,
			Detail: map[string]any{"op": op, "cause": cause.Error()},
		})
	}
}
