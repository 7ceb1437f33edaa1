package di

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"EnigmaHub/internal/bridge"
	"EnigmaHub/internal/classifier"
	"EnigmaHub/internal/domain/repository"
	"EnigmaHub/internal/handler/api"
	"EnigmaHub/internal/handler/ws"
	"EnigmaHub/internal/hub"
	internalrepo "EnigmaHub/internal/repository"
	icache "EnigmaHub/internal/service/cache"
	"EnigmaHub/internal/service/marketdata"
	"EnigmaHub/internal/usecase"
	pkgcache "EnigmaHub/pkg/cache"
	pkgch "EnigmaHub/pkg/clickhouse"
	"EnigmaHub/pkg/config"
	pkgkafka "EnigmaHub/pkg/kafka"
	applogger "EnigmaHub/pkg/logger"
	"EnigmaHub/pkg/metrics"
	"EnigmaHub/pkg/queue"
	"EnigmaHub/pkg/server"
	pkgsqlite "EnigmaHub/pkg/sqlite"
	"EnigmaHub/pkg/util"
)

// ProvideLogger creates the application logger. Development gets console
// output, everything else logs JSON.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	lc := &applogger.Config{Level: "info", Format: "json", Output: "stdout"}
	if cfg.Environment == "development" {
		lc.Level = "debug"
		lc.Format = "console"
	}
	l, err := applogger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	// Collector keeps recent error aggregates for the status endpoint.
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
	})
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideEventStore creates the configured event store and runs its schema.
func ProvideEventStore(cfg *config.Config) (repository.EventStore, error) {
	var store repository.EventStore

	switch cfg.Storage.Type {
	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store = internalrepo.NewClickHouseEventStore(client.DB())
	default:
		client, err := pkgsqlite.NewClient(
			pkgsqlite.WithPath(cfg.Storage.SQLite.Path),
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite client: %w", err)
		}
		store = internalrepo.NewSQLiteEventStore(client.DB())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("event store schema: %w", err)
	}
	return store, nil
}

// ProvideClassifier creates the signal classifier from configured thresholds.
func ProvideClassifier(cfg *config.Config) *classifier.Classifier {
	return classifier.New(classifier.Config{
		BuyThreshold:      cfg.Classifier.BuyThreshold,
		RedBelow:          cfg.Classifier.RedBelow,
		GreenAbove:        cfg.Classifier.GreenAbove,
		ConfidenceDivisor: cfg.Classifier.ConfidenceDivisor,
	})
}

// ProvideRegistry creates the connection registry.
func ProvideRegistry(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *hub.Registry {
	return hub.NewRegistry(cfg.Hub.SendBufferSize, log, m)
}

// ProvideRedisClient creates a shared Redis client, or nil when Redis is
// not configured.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Cache.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the ingest consumer, or nil when Kafka ingest
// is not configured.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.IngestTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideHub creates the hub core. The Kafka firehose and the Redis replay
// queue are attached only when their backends are configured.
func ProvideHub(
	cfg *config.Config,
	reg *hub.Registry,
	store repository.EventStore,
	cls *classifier.Classifier,
	m repository.Metrics,
	log *applogger.Logger,
	producer *pkgkafka.Producer,
	rdb *redis.Client,
) *hub.Hub {
	var opts []hub.Option
	if producer != nil && cfg.Kafka.SignalsTopic != "" {
		opts = append(opts, hub.WithFirehose(internalrepo.NewKafkaFirehose(producer, cfg.Kafka.SignalsTopic)))
	}
	if cfg.Replay.Enabled && rdb != nil {
		opts = append(opts, hub.WithReplayQueue(queue.NewRedisPublisher(log, rdb)))
	}
	return hub.New(reg, store, cls, m, log, opts...)
}

// ProvideKafkaSignalsHandler creates the handler for the ingest topic, or nil
// when Kafka ingest is not configured.
func ProvideKafkaSignalsHandler(cfg *config.Config, h *hub.Hub, m repository.Metrics) *usecase.KafkaSignalsHandler {
	if !cfg.Kafka.Enabled || cfg.Kafka.IngestTopic == "" {
		return nil
	}
	return usecase.NewKafkaSignalsHandler(cfg.Kafka.IngestTopic, h, m)
}

// ProvideBridgeClient creates the trading platform bridge, or nil when the
// bridge is disabled.
func ProvideBridgeClient(cfg *config.Config, log *applogger.Logger) *bridge.Client {
	if !cfg.Bridge.Enabled {
		return nil
	}
	return bridge.NewClient(cfg.Bridge.URL, cfg.Bridge.ReconnectDelay, cfg.Bridge.PingInterval, log)
}

// ProvideMarketPoller creates the market data poller, or nil when market
// polling is disabled.
func ProvideMarketPoller(
	cfg *config.Config,
	store repository.EventStore,
	h *hub.Hub,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.MarketPoller {
	if !cfg.Market.Enabled {
		return nil
	}
	source := marketdata.New(cfg.Market.BaseURL, cfg.Market.APIKey, 10*time.Second)
	cached := marketdata.NewCached(source, provideQuoteCache(cfg), cfg.Market.PollInterval/2)
	return usecase.NewMarketPoller(cached, store, h, m, log, cfg.Market.Symbols, cfg.Market.PollInterval)
}

// provideQuoteCache picks the quote cache backend. With Redis configured the
// cache is layered so every instance shares the provider budget.
func provideQuoteCache(cfg *config.Config) pkgcache.Service {
	if cfg.Cache.Redis.Enabled {
		host, portStr, err := net.SplitHostPort(cfg.Cache.Redis.Addr)
		if err == nil {
			rc, rerr := pkgcache.NewRedisCache(
				pkgcache.WithRedisHost(host),
				pkgcache.WithRedisPort(util.ParseIntDefault(portStr, 6379)),
				pkgcache.WithRedisPassword(cfg.Cache.Redis.Password),
				pkgcache.WithRedisDB(cfg.Cache.Redis.DB),
			)
			if rerr == nil {
				return pkgcache.NewLayeredCache(rc)
			}
		}
	}
	return pkgcache.NewMemoryCache()
}

// ProvideReplayConsumer creates the Redis consumer that replays queued signal
// appends into the event store, or nil when replay is disabled.
func ProvideReplayConsumer(
	cfg *config.Config,
	log *applogger.Logger,
	rdb *redis.Client,
	store repository.EventStore,
) *queue.RedisQueue {
	if !cfg.Replay.Enabled || rdb == nil {
		return nil
	}
	jobs := []queue.Job{usecase.NewSignalReplayJob(store)}
	return queue.NewRedisConsumer(log, &queue.QueueConfig{Workers: 1, RetryLimit: 3}, rdb, jobs)
}

// ProvideStatusCache creates the byte cache backing the status endpoint.
func ProvideStatusCache(cfg *config.Config) icache.BytesCache {
	if cfg.Cache.Redis.Enabled {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	}
	return icache.NewTTLCache()
}

// ProvideControlHandler creates the bearer-authenticated control API handler.
func ProvideControlHandler(
	cfg *config.Config,
	h *hub.Hub,
	store repository.EventStore,
	log *applogger.Logger,
	b *bridge.Client,
	statusCache icache.BytesCache,
) *api.ControlHandler {
	opts := []api.ControlOption{
		api.WithStatusCache(statusCache, cfg.Cache.StatusTTL),
	}
	if b != nil {
		opts = append(opts, api.WithBridge(b))
	}
	return api.NewControlHandler(h, store, cfg.Control.AuthToken, log, opts...)
}

// ProvideWSHandler creates the WebSocket endpoint handler.
func ProvideWSHandler(cfg *config.Config, h *hub.Hub, log *applogger.Logger) *ws.Handler {
	return ws.NewHandler(h, log, cfg.Hub.MaxMessagesPerSec)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	h *hub.Hub,
	store repository.EventStore,
	b *bridge.Client,
	poller *usecase.MarketPoller,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaSignalsHandler,
	replay *queue.RedisQueue,
	control *api.ControlHandler,
	wsHandler *ws.Handler,
) *server.App {
	app := server.New(cfg, log, h, store)
	app.SetBridge(b)
	app.SetMarketPoller(poller)
	if kh != nil {
		app.SetKafka(producer, consumer, kh)
	} else {
		app.SetKafka(producer, nil, nil)
	}
	app.SetReplayConsumer(replay)
	app.SetHandlers(control, wsHandler)
	return app
}
