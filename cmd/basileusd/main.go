// Command basileusd serves the authorization core over HTTP for
// development and small deployments. State lives in PostgreSQL or
// SQLite; the audit trail is written to the same database.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/misaka10987/basileus"
	"github.com/misaka10987/basileus/audit"
	"github.com/misaka10987/basileus/internal/httpapi"
	"github.com/misaka10987/basileus/internal/obs"
	"github.com/misaka10987/basileus/pkce"
	"github.com/misaka10987/basileus/store/pg"
	"github.com/misaka10987/basileus/store/sqlite"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what a storage driver must provide: user and permission
// state for the core, an audit sink, and the raw handle for readiness
// probes.
type backend interface {
	basileus.Store
	audit.Logger
	DB() *sql.DB
	Close() error
}

func main() {
	var (
		addr          = flag.String("addr", envOr("BASILEUS_ADDR", ":8080"), "listen address")
		driver        = flag.String("backend", envOr("BASILEUS_BACKEND", "sqlite"), "storage backend: postgres or sqlite")
		pgDSN         = flag.String("pg-dsn", os.Getenv("BASILEUS_PG_DSN"), "PostgreSQL DSN")
		sqlitePath    = flag.String("sqlite-path", envOr("BASILEUS_SQLITE_PATH", "basileus.db"), "SQLite database path")
		logLevel      = flag.String("log-level", envOr("BASILEUS_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
		adminUser     = flag.String("admin-user", envOr("BASILEUS_ADMIN_USER", "admin"), "bootstrap admin username")
		adminPassword = flag.String("admin-password", os.Getenv("BASILEUS_ADMIN_PASSWORD"), "bootstrap admin password, used only when the store is empty")
		allowPlain    = flag.Bool("allow-plain-pkce", os.Getenv("BASILEUS_ALLOW_PLAIN_PKCE") == "true", "permit the plain PKCE challenge method")
		sessionMaxAge = flag.Duration("session-max-age", 24*time.Hour, "sessions older than this are swept")
		sweepInterval = flag.Duration("sweep-interval", time.Minute, "how often expired sessions are swept")
		ratePerSecond = flag.Int("rate-limit", 50, "requests per second per client IP, 0 disables")
	)
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.NewLogger(*logLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := openBackend(ctx, *driver, *pgDSN, *sqlitePath)
	cancel()
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	core, err := basileus.New(store,
		basileus.WithLogger(logger),
		basileus.WithAudit(store),
		basileus.WithPKCEConfig(pkce.Config{AllowPlain: *allowPlain}),
	)
	if err != nil {
		log.Fatalf("init core: %v", err)
	}

	if err := bootstrapAdmin(context.Background(), core, *adminUser, *adminPassword, logger); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	stopSweeper := core.StartSessionSweeper(*sessionMaxAge, *sweepInterval)
	defer stopSweeper()

	api, err := httpapi.New(core, httpapi.Config{
		Version:       version,
		ReadyProbe:    httpapi.ReadyProbe{DB: store.DB()},
		Logger:        logger,
		RatePerSecond: *ratePerSecond,
	})
	if err != nil {
		log.Fatalf("init api: %v", err)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting basileusd", "version", version, "addr", *addr, "backend", *driver)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

func openBackend(ctx context.Context, driver, pgDSN, sqlitePath string) (backend, error) {
	switch driver {
	case "postgres":
		if pgDSN == "" {
			log.Fatal("missing DSN: provide via -pg-dsn or BASILEUS_PG_DSN")
		}
		store, err := pg.Open(pgDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx, store.DB()); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case "sqlite":
		return sqlite.Open(sqlitePath)
	default:
		log.Fatalf("unknown backend %q: want postgres or sqlite", driver)
		return nil, nil
	}
}

// bootstrapAdmin creates the first user of an empty store so the
// management API is reachable at all. Password and admin permission
// come from the operator; an empty password skips the bootstrap.
func bootstrapAdmin(ctx context.Context, core *basileus.Core, user, password string, logger *slog.Logger) error {
	n, err := core.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if password == "" {
		logger.Warn("store is empty and no admin password configured; management API will be unreachable",
			"hint", "set BASILEUS_ADMIN_PASSWORD")
		return nil
	}
	if err := core.CreateUser(ctx, user, password); err != nil {
		return err
	}
	if err := core.Perms().Give(ctx, user, httpapi.AdminPerm); err != nil {
		return err
	}
	logger.Info("bootstrapped admin user", "user", user)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
