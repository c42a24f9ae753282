package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/mensa-client/internal/config"
	"github.com/Sternrassler/mensa-client/pkg/cache"
	"github.com/Sternrassler/mensa-client/pkg/client"
	"github.com/Sternrassler/mensa-client/pkg/logging"
	"github.com/Sternrassler/mensa-client/pkg/openmensa"
	"github.com/Sternrassler/mensa-client/pkg/ratelimit"
	"github.com/Sternrassler/mensa-client/pkg/request"
)

// deps is the composed object graph behind the commands.
type deps struct {
	store   cache.Store
	client  *client.Client
	mensa   *openmensa.Service
	closers []func() error
}

func newDeps(ctx context.Context, cfg config.Config) (*deps, error) {
	d := &deps{}

	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.store = store
	if closer != nil {
		d.closers = append(d.closers, closer)
	}

	retry := request.DefaultRetryConfig()
	retry.MaxAttempts = cfg.HTTP.MaxAttempts

	requester := request.NewHTTPRequester(request.Config{
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: cfg.HTTP.UserAgent,
		Limiter:   ratelimit.NewLimiter(cfg.HTTP.RateLimit, cfg.HTTP.Burst, logging.NewLogger("ratelimit")),
		Retry:     retry,
	})

	d.client, err = client.New(client.Config{Store: store, Requester: requester})
	if err != nil {
		d.Close()
		return nil, err
	}

	d.mensa, err = openmensa.NewService(d.client, openmensa.Config{
		BaseURL:    cfg.API.BaseURL,
		CanteenTTL: cfg.TTL.Canteens,
		MealTTL:    cfg.TTL.Meals,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// openStore creates the configured backend. The returned closer may be nil.
func openStore(ctx context.Context, cfg config.Config) (cache.Store, func() error, error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return cache.NewMemoryStore(), nil, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		store, err := cache.NewRedisStore(rdb)
		if err != nil {
			rdb.Close()
			return nil, nil, err
		}
		return store, rdb.Close, nil

	default:
		store, err := cache.NewDiskStore(cfg.Cache.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// Close releases backend connections.
func (d *deps) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	d.closers = nil
	return errors.Join(errs...)
}
