package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pethealth/pethealth/internal/config"
	"github.com/pethealth/pethealth/internal/domain/catalog"
	"github.com/pethealth/pethealth/internal/domain/labresult"
	"github.com/pethealth/pethealth/internal/platform/auth"
	"github.com/pethealth/pethealth/internal/platform/cache"
	"github.com/pethealth/pethealth/internal/platform/db"
	"github.com/pethealth/pethealth/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pethealth-server",
		Short:        "Pet lab-report normalization and item catalog service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(catalogCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger builds the process logger from LOG_FORMAT and LOG_LEVEL. An
// unknown level falls back to info.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.ResolvedLogFormat() == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	})
}

func newCatalogService(pool *pgxpool.Pool, logger zerolog.Logger) *catalog.Service {
	return catalog.NewService(
		catalog.NewItemRepoPG(pool),
		catalog.NewOverrideRepoPG(pool),
		catalog.NewAliasRepoPG(pool),
		catalog.NewResultRefsPG(pool),
		db.NewTransactor(pool),
		logger,
	)
}

// attachAliasCache wires the optional Redis alias cache. It returns the
// redis probe for the health endpoint, or nil when REDIS_URL is unset.
func attachAliasCache(ctx context.Context, cfg *config.Config, svc *catalog.Service, logger zerolog.Logger) (*db.Probe, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("alias cache disabled")
		return nil, func() {}, nil
	}
	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	kv := cache.NewRedisKV(client)
	svc.SetAliasCache(cache.NewVersioned(kv, "alias", cfg.AliasCacheTTL))
	logger.Info().Dur("ttl", cfg.AliasCacheTTL).Msg("alias cache enabled")
	probe := &db.Probe{Name: "redis", Check: kv.Ping, Optional: true}
	return probe, func() { _ = client.Close() }, nil
}

// exportSkipper exempts the spreadsheet export from the request deadline.
func exportSkipper(c echo.Context) bool {
	return c.Path() == "/api/v1/results/export"
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}

	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		var fallback echo.MiddlewareFunc
		if len(jwtCfg.SigningKey) > 0 || jwtCfg.JWKSURL != "" {
			fallback = auth.JWTMiddleware(jwtCfg)
		}
		return auth.DevAuthMiddleware(auth.AuthSkipper, fallback)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Logger
	logger := newLogger(cfg, os.Stdout)

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Services
	catalogSvc := newCatalogService(pool, logger)
	redisProbe, closeRedis, err := attachAliasCache(ctx, cfg, catalogSvc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeRedis()

	labSvc := labresult.NewService(
		labresult.NewRecordRepoPG(pool),
		labresult.NewResultRepoPG(pool),
		catalogSvc,
		db.NewTransactor(pool),
		logger,
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(authMiddleware(cfg))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, exportSkipper))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	probes := []db.Probe{db.PoolProbe(pool)}
	if redisProbe != nil {
		probes = append(probes, *redisProbe)
	}
	e.GET("/health/db", db.HealthHandler(func() *db.PoolStats { return db.GetPoolStats(pool) }, probes...))

	// API
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(db.ConnMiddleware(pool))

	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)
	labresult.NewHandler(labSvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
