package cli

import (
	"context"
	"fmt"

	"github.com/Sternrassler/bookmark-importer/internal/config"
	"github.com/Sternrassler/bookmark-importer/pkg/client"
	"github.com/Sternrassler/bookmark-importer/pkg/credentials"
	"github.com/Sternrassler/bookmark-importer/pkg/logging"
	"github.com/Sternrassler/bookmark-importer/pkg/notify"
	"github.com/Sternrassler/bookmark-importer/pkg/pagination"
	"github.com/Sternrassler/bookmark-importer/pkg/ratelimit"
	"github.com/Sternrassler/bookmark-importer/pkg/sink"
	"github.com/Sternrassler/bookmark-importer/pkg/store"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components shared by the commands.
type app struct {
	redis       *redis.Client
	store       *store.RedisStore
	credentials *credentials.RedisSource
	broker      *notify.Broker
	publisher   *notify.RedisPublisher
	importer    *pagination.Importer
}

// newApp connects to Redis and wires the importer. extra notifiers receive
// every event alongside the broker and the Redis channel.
func newApp(ctx context.Context, cfg config.Config, extra ...notify.Notifier) (*app, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	a := &app{
		redis:       rdb,
		store:       store.NewRedisStore(rdb),
		credentials: credentials.NewRedisSource(rdb, cfg.Credentials.TTL, logging.NewLogger("credentials")),
		broker:      notify.NewBroker(),
		publisher:   notify.NewRedisPublisher(rdb, notify.DefaultChannel, logging.NewLogger("notify")),
	}

	fetcher, err := client.New(client.Config{
		BaseURL:   cfg.API.BaseURL,
		PageSize:  cfg.Import.PageSize,
		Features:  client.DefaultFeatures,
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.Timeout,
	})
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	fetcher.SetLogger(logging.NewLogger("client"))

	notifiers := notify.Multi{a.broker, a.publisher}
	notifiers = append(notifiers, extra...)

	opts := []pagination.Option{pagination.WithLogger(logging.NewLogger("pagination"))}
	if cfg.Lock.Enabled {
		opts = append(opts, pagination.WithLocker(
			pagination.NewRedisLocker(rdb, pagination.DefaultLockKey, cfg.Lock.TTL, logging.NewLogger("lock")),
		))
	}
	if cfg.Sink.Enabled {
		s, err := sink.New(sink.Config{
			URL:     cfg.Sink.URL,
			Token:   cfg.Sink.Token,
			Timeout: cfg.Sink.Timeout,
		}, logging.NewLogger("sink"))
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("create sink: %w", err)
		}
		opts = append(opts, pagination.WithSink(s))
	}

	a.importer = pagination.New(fetcher, a.credentials, a.store, notifiers, importerConfig(cfg), opts...)
	return a, nil
}

func importerConfig(cfg config.Config) pagination.Config {
	return pagination.Config{
		Backoff: ratelimit.Config{
			InitialInterval: cfg.Import.InitialBackoff,
			MaxInterval:     cfg.Import.MaxBackoff,
		},
		MaxAttempts:  cfg.Import.MaxAttempts,
		PageDelay:    cfg.Import.PageDelay,
		ClearOnStart: cfg.Import.ClearOnStart,
	}
}

func (a *app) Close() error {
	return a.redis.Close()
}
