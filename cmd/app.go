package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.trai.ch/zerr"

	"github.com/macho715/marine-weather-dashboard/config"
	"github.com/macho715/marine-weather-dashboard/internal/circuitbreaker"
	"github.com/macho715/marine-weather-dashboard/internal/guardedfetch"
	"github.com/macho715/marine-weather-dashboard/internal/marine"
	"github.com/macho715/marine-weather-dashboard/internal/metrics"
	"github.com/macho715/marine-weather-dashboard/internal/snapshot"
	"github.com/macho715/marine-weather-dashboard/internal/upstream"
)

// app holds the components shared by the serve and probe commands.
type app struct {
	service   *marine.Service
	pool      *upstream.Pool
	client    *guardedfetch.Client
	collector *metrics.Collector
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	catalog, err := marine.LoadCatalog(cfg.Marine.PortsFile)
	if err != nil {
		return nil, err
	}
	if err := catalog.SetDefault(cfg.Marine.DefaultPort); err != nil {
		return nil, err
	}

	providers, err := initializeProviders(cfg, log)
	if err != nil {
		return nil, err
	}

	strat, err := createStrategy(log, cfg.Upstream.Strategy)
	if err != nil {
		return nil, err
	}
	a.collector = metrics.NewCollector(cfg.Metrics.BufferSize, strat.Name(), registry, log)

	a.pool, err = upstream.NewPool(strat, providers)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := newSnapshotStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	policy := cfg.Policy()
	a.client = guardedfetch.NewClient(
		guardedfetch.WithHTTPClient(&http.Client{}),
		guardedfetch.WithRegistry(circuitbreaker.NewRegistry(policy.CircuitThreshold, policy.CircuitCooldown, nil)),
		guardedfetch.WithLogger(log),
		guardedfetch.WithObserver(a.collector),
		guardedfetch.WithTracerProvider(otel.GetTracerProvider()),
		guardedfetch.WithDefaultPolicy(policy),
	)

	cache := snapshot.New[marine.Conditions](store, snapshot.Options{
		TTL:      cfg.Cache.TTL,
		Logger:   log,
		Observer: a.collector,
		Coalesce: cfg.Cache.Coalesce,
	})

	a.service = marine.NewService(marine.ServiceConfig{
		Catalog: catalog,
		Pool:    a.pool,
		Fetcher: a.client,
		Cache:   cache,
		Policy:  policy,
		Logger:  log,
	})

	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

func initializeProviders(cfg *config.Config, log *slog.Logger) ([]*upstream.Provider, error) {
	var providers []*upstream.Provider

	for _, pc := range cfg.Upstream.Providers {
		u, err := url.Parse(pc.URL)
		if err != nil || u.Host == "" {
			log.Error("Failed to parse provider URL",
				slog.String("provider", pc.Name),
				slog.String("url", pc.URL))
			continue
		}

		providers = append(providers, upstream.NewProvider(pc.Name, u, pc.Priority))
	}

	if len(providers) == 0 {
		return nil, upstream.ErrNoProviders
	}

	return providers, nil
}

func createStrategy(log *slog.Logger, strategyType string) (upstream.Strategy, error) {
	strat, err := upstream.NewStrategy(strings.ToLower(strategyType))
	if err != nil {
		log.Warn("Unknown strategy, defaulting to failover", slog.String("requested", strategyType))
		return upstream.NewFailoverStrategy(), nil
	}
	return strat, nil
}

func newSnapshotStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (snapshot.Store[marine.Conditions], func() error, error) {
	if cfg.Cache.Backend != config.CacheBackendRedis {
		return snapshot.NewMemoryStore[marine.Conditions](), func() error { return nil }, nil
	}

	rc := cfg.Cache.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, zerr.With(zerr.Wrap(err, "failed to connect to redis"), "addr", rc.Address)
	}

	log.Info("Using redis snapshot store",
		slog.String("addr", rc.Address),
		slog.String("prefix", rc.Prefix))

	return snapshot.NewRedisStore[marine.Conditions](client, rc.Prefix, rc.Retention), client.Close, nil
}
