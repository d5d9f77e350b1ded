package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"schoolhub.org/internal/httpapi"
	"schoolhub.org/internal/identity"
	"schoolhub.org/internal/obs"
	"schoolhub.org/internal/store/memdb"
	"schoolhub.org/internal/store/pg"
	"schoolhub.org/internal/tenancy"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("SCHOOLHUB_COMMIT"))

	addr := envOr("SCHOOLHUB_ADDR", ":8080")
	secret := os.Getenv("SCHOOLHUB_JWT_SECRET")
	if secret == "" {
		log.Fatal("SCHOOLHUB_JWT_SECRET is required")
	}

	// Storage: postgres when a DSN is set, in-memory otherwise.
	var (
		tenantStore tenancy.Store
		scopes      identity.ScopeFactory
		probe       httpapi.ReadyProbe
	)
	if dsn := os.Getenv("SCHOOLHUB_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		tenantStore = pgStore
		scopes = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		memStore, err := memdb.New()
		if err != nil {
			log.Fatalf("open memdb: %v", err)
		}
		tenantStore = memStore
		scopes = memStore
		obs.LogJSON(map[string]any{
			"level": "warn",
			"msg":   "SCHOOLHUB_PG_DSN not set, using in-memory storage",
		})
	}

	seeder, err := identity.NewSeeder(scopes,
		identity.WithAdminPassword(os.Getenv("SCHOOLHUB_ADMIN_PASSWORD")))
	if err != nil {
		log.Fatalf("seeder: %v", err)
	}

	tenants, err := tenancy.NewService(tenantStore, seeder)
	if err != nil {
		log.Fatalf("tenant service: %v", err)
	}

	var tokenOpts []identity.TokenOption
	if ttl := envMinutes("SCHOOLHUB_JWT_TTL_MINUTES"); ttl > 0 {
		tokenOpts = append(tokenOpts, identity.WithAccessTTL(ttl))
	}
	if ttl := envDays("SCHOOLHUB_REFRESH_TTL_DAYS"); ttl > 0 {
		tokenOpts = append(tokenOpts, identity.WithRefreshTTL(ttl))
	}
	tokens, err := identity.NewTokenService(scopes, secret, tokenOpts...)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	users, err := identity.NewUserService(scopes)
	if err != nil {
		log.Fatalf("user service: %v", err)
	}
	roles, err := identity.NewRoleService(scopes)
	if err != nil {
		log.Fatalf("role service: %v", err)
	}

	// Ensure the root tenant exists and every tenant has its default roles
	// and administrator before accepting traffic.
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = tenants.Bootstrap(bootCtx,
		os.Getenv("SCHOOLHUB_ADMIN_EMAIL"),
		envOr("SCHOOLHUB_ADMIN_FIRST_NAME", "Root"),
		envOr("SCHOOLHUB_ADMIN_LAST_NAME", "Admin"))
	bootCancel()
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Tenants:     tenants,
		TenantStore: tenantStore,
		Tokens:      tokens,
		Users:       users,
		Roles:       roles,
		ReadyProbe:  probe,
		Version:     version,
	})

	handler := httpapi.RequestID(api.Handler())
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, 50, 25)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting schoolhub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envMinutes(key string) time.Duration {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Minute
}

func envDays(key string) time.Duration {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * 24 * time.Hour
}
