package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spa-gateway/internal/access"
	"spa-gateway/internal/config"
	"spa-gateway/internal/domain"
	"spa-gateway/internal/handler"
	"spa-gateway/internal/middleware"
	"spa-gateway/internal/observability"
	"spa-gateway/internal/oidc"
	"spa-gateway/internal/proxy"
	"spa-gateway/internal/repository/memory"
	"spa-gateway/internal/repository/postgres"
	"spa-gateway/internal/security"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// gatewayPublicPatterns are the endpoints the gateway itself serves without a
// session: the login flow, health and metrics. They precede the configured
// rules so they cannot be shadowed.
var gatewayPublicPatterns = []string{
	"/oauth2/authorization",
	"/oauth2/authorization/*",
	"/login/oauth2/code",
	"/login/oauth2/code/*",
	"/health",
	"/health/ready",
	"/metrics",
}

func main() {
	cfg := config.Load()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting spa gateway")

	// Session store: postgres when configured, in-memory otherwise.
	var db *sql.DB
	var sessionRepo domain.SessionRepository
	if cfg.DatabaseURL != "" {
		var err error
		db, err = config.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()

		sessionRepo, err = postgres.NewSessionRepository(db)
		if err != nil {
			slog.Error("failed to prepare session repository", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("using postgresql session store")
	} else {
		sessionRepo = memory.NewSessionRepository()
		slog.Info("using in-memory session store")
	}

	stateStore := memory.NewLoginStateStore()

	discoverCtx, discoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer discoverCancel()

	provider, err := oidc.New(discoverCtx, cfg.OIDC, cfg.OIDCScopes(), cfg.BaseURL)
	if err != nil {
		slog.Error("failed to initialize identity provider", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("identity provider discovered",
		slog.String("provider", provider.Name()),
		slog.String("issuer", cfg.OIDC.IssuerURL))

	tokens := security.NewTokenManager()

	patterns := append(append([]string{}, gatewayPublicPatterns...), cfg.PublicPatterns()...)
	matcher := access.NewMatcher(access.PublicRules(patterns))

	upstream, err := proxy.New(cfg.UpstreamURL)
	if err != nil {
		slog.Error("invalid upstream configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	secureCookies := strings.HasPrefix(cfg.BaseURL, "https://")

	authHandler := handler.NewAuthHandler(provider, sessionRepo, stateStore, tokens, cfg.SessionTTL, cfg.LoginFailureURL, secureCookies)
	csrfHandler := handler.NewCSRFHandler(sessionRepo, tokens)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startSessionCleanup(ctx, sessionRepo)
	go startStateSweep(ctx, stateStore)

	loginLimiter := middleware.NewRateLimiter(5, 10)
	defer loginLimiter.Stop()

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogContext())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Origins()))
	r.Use(middleware.Metrics())
	r.Use(middleware.Auth(matcher, sessionRepo))
	r.Use(middleware.CSRFCookie(sessionRepo, tokens, secureCookies))
	r.Use(middleware.CSRF(matcher, tokens))

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(db))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(loginLimiter.Middleware())
		r.Get("/oauth2/authorization", authHandler.Login)
		r.Get("/oauth2/authorization/{provider}", authHandler.Login)
		r.Get("/login/oauth2/code", authHandler.Callback)
		r.Get("/login/oauth2/code/{provider}", authHandler.Callback)
	})

	r.Post("/logout", authHandler.Logout)
	r.Get("/user", handler.User)
	r.Get("/csrf", csrfHandler.Token)

	// Everything else is the upstream application's traffic.
	r.Handle("/*", upstream)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("gateway listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()

	slog.Info("gateway stopped gracefully")
}

// startSessionCleanup runs a background task to delete expired sessions
func startSessionCleanup(ctx context.Context, repo domain.SessionRepository) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping session cleanup task")
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			count, err := repo.DeleteExpired(cleanupCtx)
			cancel()
			if err != nil {
				slog.Error("session cleanup failed", slog.String("error", err.Error()))
			} else {
				slog.Info("session cleanup completed",
					slog.Int64("sessions_deleted", count))
			}
		}
	}
}

// startStateSweep drops login states whose callback never arrived
func startStateSweep(ctx context.Context, store *memory.LoginStateStore) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.Sweep(); removed > 0 {
				slog.Debug("swept pending login states", slog.Int("removed", removed))
			}
		}
	}
}
