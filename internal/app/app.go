// Package app arma el grafo de dependencias del servidor a partir de la config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/permgate/internal/cache"
	"github.com/dropDatabas3/permgate/internal/catalog"
	"github.com/dropDatabas3/permgate/internal/config"
	"github.com/dropDatabas3/permgate/internal/gateway"
	ctrl "github.com/dropDatabas3/permgate/internal/http/controllers"
	"github.com/dropDatabas3/permgate/internal/http/router"
	"github.com/dropDatabas3/permgate/internal/jwt"
	"github.com/dropDatabas3/permgate/internal/metrics"
	"github.com/dropDatabas3/permgate/internal/observability/logger"
	"github.com/dropDatabas3/permgate/internal/permission"
	"github.com/dropDatabas3/permgate/internal/rate"
	"github.com/dropDatabas3/permgate/internal/session"
	"github.com/dropDatabas3/permgate/internal/store/pg"
)

// Source une las dos fuentes que necesita el motor.
type Source interface {
	permission.Source
	catalog.Source
	Ping(ctx context.Context) error
}

// Container mantiene las piezas vivas del proceso.
type Container struct {
	Handler  http.Handler
	Sessions *session.Manager
	Resolver *catalog.Resolver
	Cache    cache.Client
	Source   Source

	closers []func()
}

// Close libera en orden inverso a la construcción.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build construye el Container. reg nil usa el registry default de Prometheus.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (_ *Container, err error) {
	log := logger.From(ctx).With(logger.Component("app"), logger.Op("Build"))
	c := &Container{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	// fuente de grants y catálogo
	src, sourceName, closeSrc, err := buildSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Source = src
	c.closers = append(c.closers, closeSrc)

	// cache del snapshot de catálogo
	cc, err := cache.New(ctx, cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("app: cache: %w", err)
	}
	c.Cache = cc
	c.closers = append(c.closers, func() { _ = cc.Close() })

	c.Resolver = catalog.NewResolver(src, catalog.Options{
		PageSize:    cfg.Source.PageSize,
		MaxParallel: cfg.Source.MaxParallel,
		SourceName:  sourceName,
		Cache:       cc,
		CacheTTL:    config.Dur(cfg.Cache.CatalogTTL),
	})

	c.Sessions = session.NewManager(ctx, src, c.Resolver, session.Options{
		IdleTTL: config.Dur(cfg.Session.IdleTTL),
		Store: permission.Options{
			PageSize:    cfg.Source.PageSize,
			MaxParallel: cfg.Source.MaxParallel,
			SourceName:  sourceName,
		},
	})
	c.closers = append(c.closers, c.Sessions.Close)

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metricsHandler, err := metrics.Register(reg)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}

	perms := ctrl.NewPermissionsController(c.Sessions, c.Resolver, ctrl.GateOptions{
		DenyDelay: config.Dur(cfg.Gate.DenyDebounce),
		MaxWait:   config.Dur(cfg.Gate.MaxWait),
	})

	var proxy *ctrl.ProxyController
	if gw, ok := src.(*gateway.Client); ok {
		proxy = ctrl.NewProxyController(perms, gw.BaseURL())
	} else if cfg.Source.Gateway.BaseURL != "" {
		u, perr := url.Parse(cfg.Source.Gateway.BaseURL)
		if perr != nil {
			return nil, fmt.Errorf("app: gateway url: %w", perr)
		}
		proxy = ctrl.NewProxyController(perms, u)
	}

	limiter := c.buildLimiter(cfg)

	c.Handler = router.New(router.Deps{
		Health: ctrl.NewHealthController(cfg.App.Version,
			ctrl.Check{Name: "source", Ping: src.Ping},
			ctrl.Check{Name: "cache", Ping: cc.Ping},
		),
		Permissions: perms,
		Proxy:       proxy,
		Metrics:     metricsHandler,
		Verifier:    jwt.NewVerifier([]byte(cfg.Auth.HMACSecret), cfg.Auth.Issuer),
		Limiter:     limiter,
	})

	log.Info("permgate wired",
		logger.Source(sourceName),
		logger.String("cache", cfg.Cache.Kind),
		logger.Bool("proxy", proxy != nil),
		logger.Bool("rate_limit", limiter != nil),
	)
	return c, nil
}

// buildLimiter: redis si la cache es redis (ventana compartida entre réplicas),
// si no go-cache en memoria. nil si está desactivado.
func (c *Container) buildLimiter(cfg *config.Config) rate.Limiter {
	if !cfg.Rate.Enabled {
		return nil
	}
	window := config.Dur(cfg.Rate.Window)
	if cfg.Cache.Kind == "redis" {
		client := rdb.NewClient(&rdb.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		c.closers = append(c.closers, func() { _ = client.Close() })
		return rate.NewRedisLimiter(client, cfg.Cache.Redis.Prefix+":rl:", cfg.Rate.Max, window)
	}
	return rate.NewMemoryLimiter(cfg.Rate.Max, window)
}

func buildSource(ctx context.Context, cfg *config.Config) (Source, string, func(), error) {
	switch cfg.Source.Kind {
	case "http":
		gw, err := gateway.New(cfg.Source.Gateway.BaseURL, cfg.Source.Gateway.Token, config.Dur(cfg.Source.Gateway.Timeout))
		if err != nil {
			return nil, "", nil, err
		}
		return gw, "gateway", func() {}, nil
	case "postgres":
		st, err := pg.New(ctx, cfg.Storage.DSN, pg.PoolConfig{
			MaxOpenConns: cfg.Storage.MaxOpenConns,
			MaxIdleConns: cfg.Storage.MaxIdleConns,
		})
		if err != nil {
			return nil, "", nil, fmt.Errorf("app: postgres: %w", err)
		}
		return st, "postgres", st.Close, nil
	}
	return nil, "", nil, errors.New("app: unknown source kind " + cfg.Source.Kind)
}
