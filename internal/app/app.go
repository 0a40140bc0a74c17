package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-auth-server/internal/config"
	"go-auth-server/internal/database"
	"go-auth-server/internal/handler"
	"go-auth-server/internal/middleware"
	"go-auth-server/internal/repository"
	"go-auth-server/internal/router"
	"go-auth-server/internal/service"
	"go-auth-server/internal/session"
	"go-auth-server/internal/token"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	redisClient, err := session.NewRedisClient(context.Background(), cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	accessCodec, err := token.NewCodec(cfg.JWTAccessSecret, token.TypeAccess, cfg.JWTAccessTTL)
	if err != nil {
		db.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to initialize access token codec: %w", err)
	}
	refreshCodec, err := token.NewCodec(cfg.JWTRefreshSecret, token.TypeRefresh, cfg.JWTRefreshTTL)
	if err != nil {
		db.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to initialize refresh token codec: %w", err)
	}

	userRepo := repository.NewUserRepository(db.Pool)
	sessionStore := session.NewStore(redisClient)

	authService := service.NewAuthService(userRepo, sessionStore, accessCodec, refreshCodec)
	authMiddleware := middleware.NewAuthMiddleware(authService)
	authHandler := handler.NewAuthHandler(authService, cfg.CookieSecure)

	appRouter := router.New(cfg, authMiddleware, authHandler)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		cleanupFuncs: []func(){
			func() {
				db.Close()
			},
			func() {
				_ = redisClient.Close()
			},
		},
	}, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	slog.Info("server stopped")
	return nil
}
