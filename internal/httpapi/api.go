// Package httpapi exposes the authorization core over HTTP: password
// login, PKCE exchange, user and permission management and a live audit
// event stream. It is the serving layer of basileusd; the library itself
// carries no HTTP dependency.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/misaka10987/basileus"
	"github.com/misaka10987/basileus/internal/obs"
)

// ReadyProbe reports readiness, e.g. by pinging the backing database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config tunes the HTTP layer.
type Config struct {
	Version    string
	ReadyProbe ReadyProbe
	Logger     *slog.Logger

	// RatePerSecond limits requests per client IP; zero disables the
	// limiter. Burst defaults to RatePerSecond when zero.
	RatePerSecond int
	RateBurst     int
}

// API is the HTTP layer over a Core.
type API struct {
	mux        *http.ServeMux
	core       *basileus.Core
	log        *slog.Logger
	readyProbe ReadyProbe
	version    string

	ratePerSecond int
	rateBurst     int
}

func New(core *basileus.Core, cfg Config) (*API, error) {
	if core == nil {
		return nil, errors.New("httpapi: nil core")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	burst := cfg.RateBurst
	if burst == 0 {
		burst = cfg.RatePerSecond
	}
	a := &API{
		mux:           http.NewServeMux(),
		core:          core,
		log:           log,
		readyProbe:    cfg.ReadyProbe,
		version:       cfg.Version,
		ratePerSecond: cfg.RatePerSecond,
		rateBurst:     burst,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.HandleFunc("/v1/info", a.handleInfo)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// sessions
	a.mux.HandleFunc("/v1/login", a.handleLogin)
	a.mux.HandleFunc("/v1/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/logout_all", a.handleLogoutAll)
	a.mux.HandleFunc("/v1/session", a.handleSession)

	// delegated authorization
	a.mux.HandleFunc("/v1/pkce/auth", a.handlePKCEAuth)
	a.mux.HandleFunc("/v1/pkce/token", a.handlePKCEToken)

	// users and permissions
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)

	// audit stream
	a.mux.HandleFunc("/v1/events", a.handleEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	if a.ratePerSecond > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	}
	h = CORS(h)
	h = SecurityHeaders(h)
	h = a.logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "basileusd",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "basileusd",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
