package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/misaka10987/basileus/perm"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// AdminPerm guards the management surface of the demo server. The
// library itself has no privileged users; "admin" is just a permission
// token this host chooses to require.
var AdminPerm = perm.New("admin")

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/login",
	"/v1/pkce/auth",
	"/v1/pkce/token",
}

type sessionInfo struct {
	user  string
	token string
}

const sessionCtxKey ctxKey = "session"

// withAuth resolves the bearer token into a username for everything
// outside the public paths.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		user, ok := a.core.Tokens().Verify(token)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), sessionCtxKey, sessionInfo{user: user, token: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the authenticated username, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(sessionCtxKey).(sessionInfo)
	return s.user, ok
}

func tokenFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(sessionCtxKey).(sessionInfo)
	return s.token, ok
}

// requireAdmin answers whether the caller holds the admin permission,
// writing the error response when not.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	held, err := a.core.Perms().Check(r.Context(), user, AdminPerm)
	if err != nil {
		handleCoreError(w, r, err)
		return false
	}
	if !held {
		writeError(w, r, http.StatusForbidden, "admin permission required")
		return false
	}
	return true
}

// requireSelfOrAdmin allows users through to their own resources and
// admins through to anyone's.
func (a *API) requireSelfOrAdmin(w http.ResponseWriter, r *http.Request, name string) bool {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if user == name {
		return true
	}
	return a.requireAdmin(w, r)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
