// Command meridian runs the authentication and authorization service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridianhq/meridian/pkg/api"
	"github.com/meridianhq/meridian/pkg/auth"
	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/middleware"
	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/rbac"
	"github.com/meridianhq/meridian/pkg/sso"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return err
		}
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	health := observability.NewHealthChecker(db, rdb, logger)

	// RBAC.
	var cache rbac.DecisionCache
	if rdb != nil {
		cache = rbac.NewRedisDecisionCache(rdb)
	} else {
		logger.Warn("redis not configured, using in-process decision cache")
		cache = rbac.NewLRUDecisionCache(cfg.DecisionCacheSize, cfg.DecisionCacheTTL)
	}
	engine := rbac.NewEngine()
	rbacSvc := rbac.NewService(engine, rbac.NewPostgresFactStore(db), cache,
		rbac.WithDecisionTTL(cfg.DecisionCacheTTL),
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
	)
	rbacAdmin := rbac.NewAdmin(rbac.NewStore(db), rbacSvc, logger)

	if cfg.SeedFile != "" {
		seed, err := rbac.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := rbacAdmin.ApplySeed(ctx, seed); err != nil {
			return err
		}
		if cfg.WatchSeedFile {
			watcher, err := rbac.NewSeedWatcher(cfg.SeedFile, rbacAdmin, logger)
			if err != nil {
				return err
			}
			watcher.Start(ctx)
			defer watcher.Close()
		}
	}

	if cfg.ReloadInterval > 0 {
		reloader, err := rbac.NewReloader(rbacSvc, cfg.ReloadInterval, logger)
		if err != nil {
			return err
		}
		reloader.Start()
		defer reloader.Stop()
	}

	// Auth.
	store := auth.NewPostgresStore(db)
	signer := auth.NewTokenSigner([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTokenTTL)
	authOpts := []auth.ServiceOption{
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
		auth.WithCacheInvalidator(rbacSvc),
	}
	if rdb != nil {
		authOpts = append(authOpts, auth.WithResetManager(
			auth.NewResetManager(rdb, cfg.ResetTokenTTL, cfg.ResetMaxPerHour, time.Hour)))
	}
	authSvc := auth.NewService(store, store, signer, cfg.RefreshTokenTTL, authOpts...)

	opts := api.Options{Health: health}
	if rdb != nil {
		opts.LoginLimiter = middleware.NewRateLimiter(rdb, cfg.LoginRateLimit, cfg.LoginRateWindow, "login", logger)
	}
	if cfg.OIDCIssuerURL != "" {
		provider, err := sso.NewProvider(ctx, sso.Config{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		})
		if err != nil {
			return err
		}
		opts.SSOProvider = provider
		opts.Provisioner = sso.NewProvisioner(store, rbacSvc, cfg.SSODefaultOrgID, logger)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewServer(authSvc, rbacSvc, rbacAdmin, logger, metrics, opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLife)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
