package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/mobile-auth-api/api/swagger"
	"github.com/noah-isme/mobile-auth-api/internal/handler"
	"github.com/noah-isme/mobile-auth-api/internal/repository"
	"github.com/noah-isme/mobile-auth-api/internal/service"
	"github.com/noah-isme/mobile-auth-api/pkg/cache"
	"github.com/noah-isme/mobile-auth-api/pkg/config"
	"github.com/noah-isme/mobile-auth-api/pkg/database"
	"github.com/noah-isme/mobile-auth-api/pkg/logger"
)

// @title Mobile Auth API
// @version 1.0.0
// @description Session token lifecycle for mobile clients
// @BasePath /api
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type authStores struct {
	identities repository.IdentityStore
	sessions   repository.SessionStore
	checks     []handler.ReadinessCheck
	closers    []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to open stores", zap.Error(err))
	}
	defer func() {
		for _, closeFn := range stores.closers {
			_ = closeFn()
		}
	}()

	tokens, err := service.NewTokenManager(service.TokenConfig{
		AccessTokenSecret:  cfg.JWT.AccessSecret,
		RefreshTokenSecret: cfg.JWT.RefreshSecret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		Leeway:             cfg.JWT.Leeway,
	}, nil)
	if err != nil {
		logr.Fatal("failed to init token manager", zap.Error(err))
	}

	hasher, err := service.NewPasswordHasher(service.PasswordHasherConfig{
		Algorithm:  cfg.Password.Algorithm,
		BcryptCost: cfg.Password.BcryptCost,
	})
	if err != nil {
		logr.Fatal("failed to init password hasher", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	authSvc := service.NewAuthService(stores.identities, stores.sessions, tokens, hasher, validator.New(), metrics, logr.Named("auth"))

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Auth:           authSvc,
		Metrics:        metrics,
		Checks:         stores.checks,
		Logger:         logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting",
			"addr", srv.Addr,
			"env", cfg.Env,
			"identity_store", cfg.IdentityStore,
			"session_store", cfg.SessionStore,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*authStores, error) {
	stores := &authStores{}

	switch cfg.IdentityStore {
	case config.BackendPostgres:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		stores.closers = append(stores.closers, db.Close)
		if err := database.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		repo := repository.NewIdentityRepository(db)
		stores.identities = repo
		stores.checks = append(stores.checks, handler.ReadinessCheck{Name: "postgres", Ping: repo.Ping})
	default:
		logr.Warn("using in-memory identity store; identities are lost on restart")
		stores.identities = repository.NewMemoryIdentityRepository()
	}

	switch cfg.SessionStore {
	case config.BackendRedis:
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		stores.closers = append(stores.closers, client.Close)
		sessions := repository.NewRedisSessionCache(client, cfg.Redis.KeyPrefix, logr.Named("sessions"))
		stores.sessions = sessions
		stores.checks = append(stores.checks, handler.ReadinessCheck{Name: "redis", Ping: sessions.Ping})
	default:
		logr.Warn("using in-memory session cache; sessions are lost on restart")
		stores.sessions = repository.NewMemorySessionCache(nil)
	}

	return stores, nil
}
