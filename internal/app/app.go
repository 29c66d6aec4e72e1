package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"civicmatch/internal/cache"
	"civicmatch/internal/config"
	"civicmatch/internal/matching"
	"civicmatch/internal/observability"
	"civicmatch/internal/policy"
	"civicmatch/internal/provider"
	"civicmatch/internal/store"
)

type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Catalog  policy.Catalog
	Cache    cache.Cache
	Observer *observability.FallbackObserver
	Provider provider.Provider
	Service  *matching.Service
	Store    *store.Store

	redis *cache.Redis
}

// New wires the provider selected by cfg.Mode into a matching service.
// Storage is optional: without a database DSN interactions are not recorded.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := policy.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Catalog:  catalog,
		Observer: observability.NewFallbackObserver(logger),
	}

	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
		a.redis = rc
		a.Cache = rc
	} else {
		a.Cache = cache.NewMemory()
	}

	p, err := provider.New(cfg, provider.Deps{
		Catalog:  catalog,
		Cache:    a.Cache,
		Logger:   logger.With(zap.String("component", "provider")),
		Observer: a.Observer,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Provider = p

	opts := []matching.Option{
		matching.WithLogger(logger.With(zap.String("component", "matching"))),
		matching.WithDebug(cfg.Debug),
		matching.WithInterItemDelay(cfg.Matching.InterItemDelay),
	}
	if cfg.Database.DSN != "" {
		st, err := store.Open(cfg.Database.DSN)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Store = st
		if err := store.Migrate(ctx, st.DB()); err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, matching.WithRecorder(st))
	}
	a.Service = matching.NewService(p, opts...)

	logger.Info("app ready",
		zap.String("provider", p.Name()),
		zap.String("cache", a.Cache.Name()),
		zap.Bool("store", a.Store != nil))
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.Logger.Info("serving", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.HandleFunc("POST /v1/match", a.handleMatch)
	mux.HandleFunc("POST /v1/refine", a.handleRefine)
	mux.HandleFunc("POST /v1/concerns", a.handleConcerns)
	mux.HandleFunc("POST /v1/feedback", a.handleFeedback)
	return mux
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if a.Store != nil {
		if err := a.Store.Ping(ctx); err != nil {
			a.Logger.Warn("readiness: store unavailable", zap.Error(err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			a.Logger.Warn("readiness: cache unavailable", zap.Error(err))
			http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
