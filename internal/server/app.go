// Package server initializes and runs the authentication server. It wires
// the token service, the refresh-token store, the credential provider and
// the dispatcher together, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/dkravtsov/authd/internal/logging"
	"github.com/dkravtsov/authd/internal/server/auth"
	"github.com/dkravtsov/authd/internal/server/authz"
	"github.com/dkravtsov/authd/internal/server/config"
	"github.com/dkravtsov/authd/internal/server/dispatch"
	"github.com/dkravtsov/authd/internal/server/httpapi"
	"github.com/dkravtsov/authd/internal/server/provider"
	"github.com/dkravtsov/authd/internal/server/repositories/refreshtokens"
	"github.com/dkravtsov/authd/internal/server/services"
	"github.com/dkravtsov/authd/internal/server/storage"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := storage.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	store, err := newRefreshTokenStore(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	tokens, err := auth.NewTokenService(auth.Config{
		AccessSecret:  []byte(cfg.AccessTokenSecret),
		RefreshSecret: []byte(cfg.RefreshTokenSecret),
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		AccessTTL:     cfg.AccessTokenValidityDuration,
		RefreshTTL:    cfg.RefreshTokenValidityDuration,
	}, nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("token service init error: %w", err)
	}

	p := provider.NewPostgresProvider(db, nil, logger)

	dispatcher := dispatch.NewDispatcher(authz.NewEvaluator(p), logger)
	svc := services.NewAuthService(tokens, store, p, logger)
	if err := svc.RegisterOperations(dispatcher); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("operation registration error: %w", err)
	}

	router := httpapi.NewRouter(cfg, tokens, httpapi.NewAuthHandler(dispatcher))
	srv := httpapi.NewServer(cfg.EndpointAddrHTTP, router, logger)

	return &App{config: cfg, logger: logger, db: db, server: srv}, nil
}

func newRefreshTokenStore(cfg *config.Config, db *sql.DB) (refreshtokens.Repository, error) {
	switch cfg.RefreshStore {
	case config.RefreshStorePostgres:
		return refreshtokens.NewPostgresRepository(db), nil
	case config.RefreshStoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return refreshtokens.NewRedisRepository(client, cfg.RefreshTokenValidityDuration), nil
	default:
		return nil, fmt.Errorf("unknown refresh token store: %q", cfg.RefreshStore)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
