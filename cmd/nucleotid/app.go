package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palicode/nucleotid-back/internal/db"
	"github.com/palicode/nucleotid-back/internal/handlers"
	"github.com/palicode/nucleotid-back/internal/handlers/middleware"
	"github.com/palicode/nucleotid-back/internal/logger"
	"github.com/palicode/nucleotid-back/internal/metrics"
	"github.com/palicode/nucleotid-back/internal/repository"
	"github.com/palicode/nucleotid-back/internal/repository/postgres"
	"github.com/palicode/nucleotid-back/internal/repository/redisstore"
	"github.com/palicode/nucleotid-back/internal/service/session"
	"github.com/palicode/nucleotid-back/internal/service/user"
)

type ServerApp struct {
	ListenAddr    string
	Handler       http.Handler
	SweepInterval time.Duration

	logger    logger.Logger
	authority *session.Authority
	closers   []func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{
		ListenAddr:    c.ListenAddr,
		SweepInterval: c.SweepInterval,
		logger:        logger,
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, pool.Close)

	// Initialize repositories
	storage := postgres.NewStorage(pool)
	sessions, err := app.sessionRepo(ctx, c, storage)
	if err != nil {
		app.Close()
		return nil, err
	}

	// Initialize services
	cfg := c.SessionConfig()
	if len(c.AccessKey) == 0 || len(c.RefreshKey) == 0 {
		logger.Warn("Secret key is used to sign tokens, consider setting access and refresh keys")
	}
	if cfg.KeysShared() {
		logger.Warn("Access and refresh tokens are signed with the same key")
	}

	m := metrics.New()
	app.authority, err = session.New(cfg, sessions,
		session.WithLogger(logger),
		session.WithMetrics(m),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating session authority. Err: %w", err)
	}

	userService, err := user.NewService(user.DefaultHasher, storage)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating user service. Err: %w", err)
	}

	gate := middleware.NewGate(cfg.AccessSigningKey(), logger, m)
	app.Handler = handlers.NewRouter(app.authority, userService, gate, m.Handler(), logger)

	return app, nil
}

// Session repo for the configured storage
func (s *ServerApp) sessionRepo(ctx context.Context, c *Config, storage repository.Storage) (repository.SessionRepo, error) {
	if c.Storage != StorageRedis {
		return storage.Session(), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	s.closers = append(s.closers, func() { _ = rdb.Close() })

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
	}
	s.logger.Info("Sessions are kept in redis", "addr", c.RedisAddr)

	return redisstore.NewSessionRepo(rdb, redisstore.DefaultPrefix), nil
}

// Close connections in reverse order
func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperStopped := s.authority.RunSweeper(srvCtx, s.SweepInterval)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	return err
}
