package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contacts-api/internal/auth"
	"contacts-api/internal/config"
	"contacts-api/internal/contacts"
	"contacts-api/internal/mail"
	"contacts-api/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// default logger; config (and its log level) never loaded
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogLevel == slog.LevelDebug,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// os.Exit must come after run's deferred closes, hence the split.
	if err := run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run brings up every dependency, serves until ctx is cancelled, and shuts
// down gracefully. Signal handling belongs to the caller.
func run(ctx context.Context, cfg *config.Config) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create shared Redis client; the cache, rate limiter, and mail queue
	// share one connection pool.
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()

	rs := store.NewRedisCache(rdb)
	rl := store.NewRedisRateLimiter(rdb)

	// SMTP when configured, NopMailer otherwise. Either way sends go through
	// the Redis-backed queue so request handlers never block on SMTP.
	var sender mail.Mailer = &mail.NopMailer{}
	if cfg.SMTPHost != "" {
		sender = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:         cfg.SMTPHost,
			Port:         cfg.SMTPPort,
			Username:     cfg.SMTPUsername,
			Password:     cfg.SMTPPassword,
			FromAddress:  cfg.SMTPFromAddress,
			ResetURLBase: cfg.SMTPResetURLBase,
		})
	}
	ml := mail.NewQueuedMailer(sender, rdb, mail.DefaultMaxQueueSize)

	// Mail worker goroutine; drains the queue until run() returns.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go ml.StartWorker(workerCtx)

	ah := &auth.AuthHandler{PS: ps, RS: rs, RL: rl, ML: ml, Cfg: cfg}
	ch := &contacts.ContactHandler{PS: ps, RS: rs, Cfg: cfg}

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(ah, ch, cfg)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("contacts api listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	// in-flight requests get up to 30s to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from the router tests.
func buildRouter(ah *auth.AuthHandler, ch *contacts.ContactHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		// Public auth routes
		r.Post("/auth/register", ah.Register)
		r.Post("/auth/login", ah.Login)
		r.Post("/auth/password-reset-request", ah.PasswordResetRequest)
		r.Post("/auth/password-reset", ah.PasswordResetConfirm)

		// Authenticated, active-account routes
		r.Group(func(r chi.Router) {
			r.Use(ah.RequireAuth)
			r.Use(ah.RequireActive)

			r.Get("/auth/me", ah.Me)
			r.Put("/auth/me", ah.UpdateMe)

			r.Route("/contacts", func(r chi.Router) {
				r.Post("/", ch.Create)
				r.Get("/", ch.List)
				r.Get("/birthdays/upcoming", ch.UpcomingBirthdays)
				r.Get("/{id}", ch.Get)
				r.Put("/{id}", ch.Update)
				r.Delete("/{id}", ch.Delete)
			})

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(ah.RequireAdmin)

				r.Get("/auth/admin", ah.Dashboard)
				r.Get("/auth/admin/users", ah.ListUsers)
				r.Get("/auth/admin/users/{id}", ah.GetUser)
				r.Put("/auth/admin/users/{id}", ah.UpdateUser)
				r.Delete("/auth/admin/users/{id}", ah.DeleteUser)
			})
		})
	})

	return r
}
