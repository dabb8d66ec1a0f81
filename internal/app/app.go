// Package app wires the Parley server runtime: config, logging, the
// persistent store, HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parley/internal/chat"
	"parley/internal/httpapi"
	"parley/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the server runtime: it owns HTTP server wiring and the chat
// core dependencies.
type App struct {
	cfg Config
	log Logger

	store     chat.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *realtime.Registry
	gateway  *realtime.Gateway
	svc      *chat.Service
	api      *httpapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, pool, dbEnabled, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	registry := realtime.NewRegistry(log)
	fanout := realtime.NewFanout(log, registry)
	svc := chat.NewService(log, store, fanout)
	gateway := realtime.NewGateway(log, registry)

	api, err := httpapi.NewHandler(log, svc)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		dbPool:    pool,
		dbEnabled: dbEnabled,
		registry:  registry,
		gateway:   gateway,
		svc:       svc,
		api:       api,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.gateway, a.api)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

// newStore decides between Postgres-backed persistence and the in-memory
// dev store.
//
// Ownership model:
// - app owns the pool lifecycle
// - PostgresStore.Close() is a no-op
func newStore(ctx context.Context, cfg Config, log Logger) (chat.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")

		mem := chat.NewMemoryStore()
		seedDevUsers(mem, cfg.DevSeedUsers, log)
		return mem, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return store, pool, true, nil
}

// seedDevUsers registers "id:name" entries so the in-memory store has
// known users to resolve chats against.
func seedDevUsers(mem *chat.MemoryStore, entries []string, log Logger) {
	for _, e := range entries {
		id, name, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok {
			log.Warn("dev.seed.skip", "entry", e)
			continue
		}
		uid, err := strconv.ParseInt(id, 10, 64)
		if err != nil || uid <= 0 {
			log.Warn("dev.seed.skip", "entry", e)
			continue
		}
		mem.AddUser(uid, strings.TrimSpace(name))
	}
}
