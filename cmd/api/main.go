package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gitforge.org/internal/auth"
	"gitforge.org/internal/eventbus"
	"gitforge.org/internal/httpapi"
	"gitforge.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "unknown"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// PostgreSQL when a DSN is set; in-memory stores otherwise, which is
	// enough for local development and smoke tests.
	var (
		db     *sql.DB
		stores auth.Stores
	)
	if dsn := os.Getenv("GITFORGE_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		stores = auth.NewPGStores(db).Stores()
	} else {
		mem := auth.NewMemoryStores()
		seedDevUsers(mem)
		stores = mem.Stores()
	}

	bus := eventbus.New()
	svc := auth.NewService(stores, bus,
		auth.WithIssuer(envString("GITFORGE_ISSUER", "gitforge")),
		auth.WithTokenTTL(envDuration("GITFORGE_TOKEN_TTL", auth.DefaultTokenLifetime)),
		auth.WithRefreshTTL(envDuration("GITFORGE_REFRESH_TTL", auth.DefaultRefreshableFor)),
		auth.WithThrottle(
			envInt("GITFORGE_LOGIN_ATTEMPT_LIMIT", 10),
			envDuration("GITFORGE_LOGIN_ATTEMPT_WINDOW", 5*time.Minute),
		),
		auth.WithEnrichers(auth.XsrfEnricher, auth.GroupsEnricher(stores.Groups)),
		auth.WithValidators(auth.XsrfValidator),
	)

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version)

	handler := httpapi.RequestID(api.Handler())
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler,
		envInt("GITFORGE_RATE_BURST", 50),
		envInt("GITFORGE_RATE_PER_SECOND", 25),
	)

	srv := &http.Server{
		Addr:              envString("GITFORGE_LISTEN", ":8080"),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gitforge-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// seedDevUsers provisions an initial admin for the in-memory mode. The
// password comes from the environment so the default setup has no
// well-known credential.
func seedDevUsers(mem *auth.MemoryStores) {
	password := os.Getenv("GITFORGE_ADMIN_PASSWORD")
	if password == "" {
		log.Println("GITFORGE_ADMIN_PASSWORD not set, no admin user seeded")
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("seed admin: %v", err)
	}
	now := time.Now().UTC()
	mem.PutUser(&auth.User{
		Name:         envString("GITFORGE_ADMIN_USER", "admin"),
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Active:       true,
		Admin:        true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Fatalf("invalid %s: %q", key, v)
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Fatalf("invalid %s: %q", key, v)
	}
	return def
}
