package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sweeparr/internal/auth"
	"sweeparr/internal/cleanup"
	"sweeparr/internal/clients"
	"sweeparr/internal/crypto"
	"sweeparr/internal/events"
	"sweeparr/internal/jobs"
	"sweeparr/internal/models"
	"sweeparr/internal/notify"
	"sweeparr/internal/scheduler"
	"sweeparr/internal/server"
	"sweeparr/internal/store"
	"sweeparr/internal/sync"
	"sweeparr/internal/version"
	"sweeparr/internal/webhook"
)

// Overridden at build time: -ldflags "-X main.buildVersion=v1.2.3".
var buildVersion = "dev"

func main() {
	dbPath := envOr("SWEEPARR_DB_PATH", "./sweeparr.db")
	listenAddr := envOr("SWEEPARR_LISTEN_ADDR", ":8484")
	migrationsDir := envOr("SWEEPARR_MIGRATIONS_DIR", "./migrations")
	corsOrigin := os.Getenv("SWEEPARR_CORS_ORIGIN")

	secret := os.Getenv("SWEEPARR_SECRET")
	if secret == "" {
		log.Fatal("SWEEPARR_SECRET is required; stored tokens are encrypted with a key derived from it")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(migrationsDir); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The key salt lives in the database, so the store opens plain and
	// gets its encryptor before the first credential write.
	salt, err := st.GetOrCreateCryptoSalt(ctx, crypto.NewSalt)
	if err != nil {
		log.Fatalf("loading crypto salt: %v", err)
	}
	enc, err := crypto.Derive(secret, salt)
	if err != nil {
		log.Fatalf("deriving token key: %v", err)
	}
	st.SetEncryptor(enc)

	if err := seedAdmin(ctx, st); err != nil {
		log.Fatalf("seeding admin: %v", err)
	}

	authSvc, err := auth.New(ctx, st, auth.Config{
		Issuer:   os.Getenv("SWEEPARR_OIDC_ISSUER"),
		ClientID: os.Getenv("SWEEPARR_OIDC_CLIENT_ID"),
	})
	if err != nil {
		log.Fatalf("initializing auth: %v", err)
	}
	if authSvc.OIDCEnabled() {
		log.Println("OIDC bearer authentication enabled")
	} else {
		log.Println("OIDC not configured, session auth only")
	}

	factory := clients.NewFactory(st)
	registry := jobs.NewRegistry()

	notifier := notify.New()
	notifyEvents := notify.NewEvents(st, notifier)

	library := sync.NewLibraryEngine(st, factory)
	library.SetNotifier(notifyEvents)
	history := sync.NewHistoryEngine(st, factory)
	history.SetNotifier(notifyEvents)
	cleaner := cleanup.NewEngine(st, factory)
	cleaner.SetNotifier(notifyEvents)

	// Webhooks and the Plex event listener only nudge the debouncer;
	// the debouncer starts the sync once the burst goes quiet.
	syncRunners := map[models.JobKind]jobs.RunFunc{
		models.JobLibrarySync: library.Run,
		models.JobHistorySync: history.Run,
	}
	deb := events.NewDebouncer(events.DebounceDelay, func(owner int64, kind models.JobKind) {
		run, ok := syncRunners[kind]
		if !ok {
			return
		}
		if _, err := registry.Start(owner, kind, models.TriggerWebhook, run); err != nil {
			var conflict *models.ConflictError
			if errors.As(err, &conflict) {
				return
			}
			log.Printf("starting %s for user %d: %v", kind, owner, err)
		}
	})

	listener := events.NewListener(st, deb)
	go listener.Run(ctx)

	dispatcher := webhook.NewDispatcher(st, deb)

	sched := scheduler.New(st, registry,
		scheduler.WithRunner(models.JobLibrarySync, library),
		scheduler.WithRunner(models.JobHistorySync, history),
	)
	sched.Start(ctx)

	checker := version.NewChecker(buildVersion)
	go checker.Start(ctx)

	opts := []server.Option{
		server.WithLibrarySync(library),
		server.WithHistorySync(history),
		server.WithCleanup(cleaner),
		server.WithRegistrar(factory),
		server.WithNotifier(notifier),
		server.WithWebhooks(dispatcher),
		server.WithVersion(buildVersion),
		server.WithUpdateChecker(checker),
	}
	if corsOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(corsOrigin))
	}
	srv := server.New(st, authSvc, registry, opts...)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Sweeparr %s listening on %s", buildVersion, listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	sched.Stop()
	registry.CancelAll()
	deb.Stop()
	notifyEvents.Wait()
	server.StopRateLimiter()
}

const (
	adminTokenTTL    = 90 * 24 * time.Hour
	minAdminTokenLen = 16
)

// seedAdmin provisions the operator account and its API token from the
// environment. Interactive identity (OAuth, browser session issuance)
// is an external concern; this path exists so a fresh install can
// reach the API at all.
func seedAdmin(ctx context.Context, st *store.Store) error {
	email := os.Getenv("SWEEPARR_ADMIN_EMAIL")
	if email == "" {
		return nil
	}

	u, err := st.GetUserByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		u = &models.User{Email: email, Name: "Administrator", Role: models.RoleAdmin}
		if err := st.CreateUser(ctx, u); err != nil {
			return err
		}
		log.Printf("created admin user %s", email)
	} else if err != nil {
		return err
	}

	token := os.Getenv("SWEEPARR_ADMIN_TOKEN")
	if token == "" {
		return nil
	}
	if len(token) < minAdminTokenLen {
		return fmt.Errorf("SWEEPARR_ADMIN_TOKEN must be at least %d characters", minAdminTokenLen)
	}
	// Reissued on every boot; rotating the token is an env change plus
	// a restart.
	if err := st.DeleteSession(ctx, token); err != nil {
		return err
	}
	return st.CreateSession(ctx, token, u.ID, time.Now().UTC().Add(adminTokenTTL))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
