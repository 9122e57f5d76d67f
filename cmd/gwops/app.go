package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/gateway-ops/config"
	"github.com/vnmchuo/gateway-ops/internal/billing"
	"github.com/vnmchuo/gateway-ops/internal/docker"
	"github.com/vnmchuo/gateway-ops/internal/gateway"
	"github.com/vnmchuo/gateway-ops/internal/logger"
	"github.com/vnmchuo/gateway-ops/internal/pricing"
	"github.com/vnmchuo/gateway-ops/internal/report"
	"github.com/vnmchuo/gateway-ops/pkg/ratelimit"
)

const pricingCacheTTL = 10 * time.Minute

// app holds the resources shared by commands. Everything is created lazily
// and released by Close.
type app struct {
	cfg     *config.Config
	out     io.Writer
	closers []func()
}

func newApp(cfg *config.Config, out io.Writer) *app {
	return &app{cfg: cfg, out: out}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) printer(width int) *report.Printer {
	return report.New(a.out, width)
}

func (a *app) gateway(baseURL string) *gateway.Client {
	if baseURL == "" {
		baseURL = a.cfg.GatewayURL
	}
	return gateway.New(baseURL, a.cfg.Timeout,
		gateway.WithChatPath(a.cfg.ChatEndpoint),
		gateway.WithTracer(otel.GetTracerProvider().Tracer("gwops")),
	)
}

func (a *app) docker() *docker.Client {
	return docker.New(0)
}

// calculator prices with PRICING_FILE, else PRICING_URL, else the built-in
// table.
func (a *app) calculator(ctx context.Context) (*pricing.Calculator, error) {
	switch {
	case a.cfg.PricingFile != "":
		t, err := pricing.Load(a.cfg.PricingFile)
		if err != nil {
			return nil, err
		}
		return pricing.NewCalculator(t), nil
	case a.cfg.PricingURL != "":
		f := pricing.NewFetcher(&http.Client{Timeout: a.cfg.Timeout}, pricingCacheTTL)
		t, err := f.Fetch(ctx, a.cfg.PricingURL)
		if err != nil {
			return nil, err
		}
		return pricing.NewCalculator(t), nil
	default:
		return pricing.NewCalculator(nil), nil
	}
}

// store opens the configured usage store. It returns nil when USAGE_STORE is
// "none".
func (a *app) store(ctx context.Context) (billing.Store, error) {
	switch a.cfg.UsageStore {
	case "sqlite":
		s, err := billing.OpenSQLite(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "ping postgres")
		}
		a.closers = append(a.closers, pool.Close)

		s := billing.NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		logger.Logger.Debug("postgres usage store ready")
		return s, nil
	default:
		return nil, nil
	}
}

// limiter shares its budget through redis when REDIS_ADDR is set, and keeps
// it in process otherwise.
func (a *app) limiter(ctx context.Context) (*ratelimit.Limiter, error) {
	if a.cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(a.cfg.DefaultRateLimitRPM), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	logger.Logger.Debug("redis rate limiter ready", zap.String("addr", a.cfg.RedisAddr))
	return ratelimit.NewLimiter(rdb, a.cfg.DefaultRateLimitRPM), nil
}

// persist records every priced request of s when a usage store is configured.
func (a *app) persist(ctx context.Context, source string, s billing.Summary) {
	if s.Empty() {
		return
	}
	st, err := a.store(ctx)
	if err != nil {
		logger.Logger.Warn("usage store unavailable", zap.Error(err))
		return
	}
	if st == nil {
		return
	}

	n, err := billing.LogAll(ctx, st, source, s)
	if err != nil {
		logger.Logger.Warn("failed to store usage", zap.Int("stored", n), zap.Error(err))
		return
	}
	logger.Logger.Info("usage stored", zap.String("source", source), zap.Int("records", n))
}
