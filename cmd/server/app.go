package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	emailPkg "wcsc/internal/adapters/email"
	web "wcsc/internal/adapters/http"
	"wcsc/internal/adapters/http/middleware"
	"wcsc/internal/adapters/http/perf"
	"wcsc/internal/adapters/identity/hosted"
	"wcsc/internal/adapters/identity/local"
	"wcsc/internal/adapters/storage"
	"wcsc/internal/adapters/storage/kv"
	"wcsc/internal/application/auth"
	"wcsc/internal/application/orchestrators"
	"wcsc/internal/config"
)

// app holds the shared, process-wide dependencies.
type app struct {
	store     kv.Store
	hosted    *hosted.Client
	directory *local.Directory
	closers   []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("shutdown_error", "error", err)
		}
	}
}

// buildApp opens storage and constructs the identity providers.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	if cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
		})
		a.closers = append(a.closers, client.Close)
		rs := kv.NewRedisStore(client, cfg.Storage.RedisPrefix)
		if err := rs.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		a.store = rs
		slog.Info("storage_ready", "backend", "redis", "addr", cfg.Storage.RedisAddr)
	} else {
		db, err := storage.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.store = kv.NewSQLiteStore(storage.NewTimedDB(db, cfg.Storage.SlowQuery))
		slog.Info("storage_ready", "backend", "sqlite", "path", cfg.Storage.DBPath)
	}

	if cfg.Provider.URL != "" {
		a.hosted = hosted.NewClient(hosted.Config{
			BaseURL: cfg.Provider.URL,
			AnonKey: cfg.Provider.AnonKey,
			Timeout: cfg.Provider.Timeout,
		}, a.store)
	}

	if cfg.Fallback.Enabled {
		var mailer emailPkg.Sender
		if cfg.Email.ResendKey != "" {
			mailer = emailPkg.NewResendSender(cfg.Email.ResendKey, cfg.Email.From)
		} else {
			if cfg.IsProduction() {
				slog.Warn("email_event", "event", "delivery_disabled", "reason", "WCSC_RESEND_KEY not set")
			}
			mailer = emailPkg.NewLogSender()
		}
		a.directory = local.NewDirectory(a.store, local.Options{
			Secret:   []byte(cfg.Fallback.TokenSecret),
			TokenTTL: cfg.Fallback.TokenTTL,
			Mailer:   emailPkg.WithReplyTo(mailer, cfg.Email.ReplyTo),
			LoginURL: cfg.Email.BaseURL + cfg.Policy.LoginPath,
		})
	}
	return a, nil
}

// managerFactory builds one session manager per UI context.
func (a *app) managerFactory(cfg auth.Config) middleware.ManagerFactory {
	return func(contextID string) *auth.Manager {
		var primary, fallback auth.Provider
		if a.hosted != nil {
			primary = a.hosted.ForContext(contextID)
		}
		if a.directory != nil {
			fallback = a.directory.ForContext(contextID)
		}
		return auth.NewManager(primary, fallback, cfg)
	}
}

func (a *app) seed(ctx context.Context, cfg config.Config) (int, error) {
	if a.directory == nil {
		return 0, errors.New("seeding needs the fallback directory: set fallback.enabled")
	}
	return orchestrators.ExecuteSeedDemoAccounts(ctx, orchestrators.DemoSeedDeps{Directory: a.directory}, orchestrators.AdminSeed{
		Email:    cfg.Fallback.AdminEmail,
		Password: cfg.Fallback.AdminPassword,
	})
}

func runSeed(ctx context.Context, cfg config.Config) (int, error) {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer a.Close()
	return a.seed(ctx, cfg)
}

func runServe(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Fallback.SeedDemo && a.directory != nil {
		if _, err := a.seed(ctx, cfg); err != nil {
			return fmt.Errorf("seed demo accounts: %w", err)
		}
	}
	if a.hosted != nil {
		if err := a.hosted.Health(ctx); err != nil {
			slog.Warn("identity_provider", "event", "startup_probe_failed", "provider", "hosted", "error", err)
		}
	}

	csrfKey, err := loadCSRFKey(cfg)
	if err != nil {
		return err
	}

	registry := middleware.NewContextRegistry(a.managerFactory(cfg.ManagerConfig()), cfg.Server.ContextIdleTTL)
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	collector := perf.NewCollector(perf.DefaultRingSize)

	stopCh := make(chan struct{})
	defer close(stopCh)
	registry.StartSweeper(cfg.Server.ContextIdleTTL/4, stopCh)
	orchestrators.StartRefreshWorker(orchestrators.RefreshDeps{
		Sessions: func() []orchestrators.Refresher {
			managers := registry.Managers()
			out := make([]orchestrators.Refresher, len(managers))
			for i, m := range managers {
				out[i] = m
			}
			return out
		},
	}, cfg.Server.RefreshInterval, stopCh)
	go sweepLimiter(limiter, stopCh)

	opts := web.Options{
		Contexts:       registry,
		Collector:      collector,
		CSRFKey:        csrfKey,
		SecureCookies:  cfg.Server.SecureCookies,
		TrustedOrigins: trustedOrigins(cfg.Email.BaseURL),
		RateLimiter:    limiter,
		ToastInterval:  cfg.Server.ToastInterval,
		SlowRequest:    cfg.Server.SlowRequest,
	}
	if a.directory != nil {
		opts.Members = a.directory
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           web.NewMux(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_start", "version", version, "addr", cfg.Server.Addr, "env", cfg.Env,
			"hosted", a.hosted != nil, "fallback", a.directory != nil)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("server_stop", "open_contexts", registry.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	for _, m := range registry.Managers() {
		m.Close()
	}
	return nil
}

// loadCSRFKey decodes the configured hex key, or generates one for development.
func loadCSRFKey(cfg config.Config) ([]byte, error) {
	if cfg.Server.CSRFKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		slog.Warn("csrf_key_generated", "reason", "WCSC_CSRF_KEY not set; forms break across restarts")
		return key, nil
	}
	key, err := hex.DecodeString(cfg.Server.CSRFKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("%w: server.csrf_key must be 64 hex characters", config.ErrInvalid)
	}
	return key, nil
}

func trustedOrigins(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func sweepLimiter(limiter *middleware.RateLimiter, stopCh <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			limiter.Sweep(30 * time.Minute)
		case <-stopCh:
			return
		}
	}
}
