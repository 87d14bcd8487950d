package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/internal/features"
	"BarPulse/internal/handler/api"
	"BarPulse/internal/health"
	"BarPulse/internal/latency"
	mid "BarPulse/internal/middleware"
	internalrepo "BarPulse/internal/repository"
	"BarPulse/internal/scheduler"
	"BarPulse/internal/service/stream"
	"BarPulse/internal/services/inference"
	"BarPulse/internal/usecase"
	pkgch "BarPulse/pkg/clickhouse"
	"BarPulse/pkg/config"
	pkgkafka "BarPulse/pkg/kafka"
	applogger "BarPulse/pkg/logger"
	"BarPulse/pkg/metrics"
	"BarPulse/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" {
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideAudit creates the bounded in-memory audit trail.
func ProvideAudit(cfg *config.Config) *applogger.Audit {
	return applogger.NewAudit(cfg.Pipeline.AuditSize)
}

// ProvideRegistry builds the production feature registry.
func ProvideRegistry(cfg *config.Config) (*features.Registry, error) {
	return features.DefaultRegistry(cfg.Inference.ContractVersion)
}

// ProvideClickHouseClient creates a ClickHouse client, nil when persistence
// is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSnapshotStore creates the snapshot sink and applies its schema.
func ProvideSnapshotStore(chClient *pkgch.Client) (domrepo.SnapshotStore, error) {
	if chClient == nil {
		return internalrepo.NoopSnapshotStore{}, nil
	}
	store := internalrepo.NewClickHouseSnapshotStore(chClient.DB(), chClient)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("snapshot schema: %w", err)
	}
	return store, nil
}

// ProvideTransitionReader exposes the persisted transition log to the API,
// nil when persistence is disabled.
func ProvideTransitionReader(store domrepo.SnapshotStore) api.TransitionReader {
	if r, ok := store.(api.TransitionReader); ok {
		return r
	}
	return nil
}

// ProvideSnapshotFlusher creates the periodic snapshot flusher.
func ProvideSnapshotFlusher(
	store domrepo.SnapshotStore,
	cfg *config.Config,
	l *applogger.Logger,
	m domrepo.Metrics,
) *usecase.SnapshotFlusher {
	return usecase.NewSnapshotFlusher(store,
		usecase.WithFlushInterval(cfg.Pipeline.SnapshotInterval),
		usecase.WithFlusherBuffer(cfg.Pipeline.SnapshotBuffer),
		usecase.WithFlusherLogger(l),
		usecase.WithFlusherMetrics(m),
	)
}

// ProvideKafkaProducer creates the Kafka producer for predictions.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePredictionPublisher creates the downstream prediction publisher.
func ProvidePredictionPublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.PredictionPublisher {
	return internalrepo.NewKafkaPredictionPublisher(producer, cfg.Kafka.PredictionsTopic)
}

// ProvidePredictionCache creates the last-prediction cache: Redis when
// enabled, in-process otherwise.
func ProvidePredictionCache(cfg *config.Config) (domrepo.PredictionCache, error) {
	if !cfg.Redis.Enabled {
		return internalrepo.NewMemoryPredictionCache(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return internalrepo.NewRedisPredictionCache(client, "barpulse", cfg.Redis.TTL), nil
}

// ProvideInferencer creates the model-service client with the contract hash
// pinned to the local registry.
func ProvideInferencer(cfg *config.Config, registry *features.Registry) domrepo.Inferencer {
	return inference.NewClient(cfg.Inference.URL,
		inference.WithTimeout(cfg.Inference.Timeout),
		inference.WithContractHash(registry.ContractHash()),
	)
}

// ProvidePipelineFactory builds per-symbol pipelines with their own gate,
// scheduler, and tracker.
func ProvidePipelineFactory(
	cfg *config.Config,
	registry *features.Registry,
	inferencer domrepo.Inferencer,
	publisher domrepo.PredictionPublisher,
	predCache domrepo.PredictionCache,
	flusher *usecase.SnapshotFlusher,
	l *applogger.Logger,
	audit *applogger.Audit,
	m domrepo.Metrics,
) usecase.PipelineFactory {
	return func(symbol string) (*usecase.SymbolPipeline, error) {
		gate := health.NewGate(symbol,
			health.WithBlockThreshold(cfg.Pipeline.BlockThreshold),
			health.WithCooldown(cfg.Pipeline.Cooldown),
			health.WithLogger(l),
			health.WithMetrics(m),
		)
		sched := scheduler.New(symbol, gate,
			scheduler.WithThresholds(cfg.Pipeline.WarnLatency, cfg.Pipeline.CriticalLatency),
			scheduler.WithWindow(cfg.Pipeline.LatencyWindow),
			scheduler.WithLogger(l),
			scheduler.WithAudit(audit),
			scheduler.WithMetrics(m),
			scheduler.WithTransitionHook(flusher.EnqueueTransition),
		)
		tracker := latency.NewTracker(
			latency.WithWarmup(cfg.Pipeline.Warmup),
			latency.WithHistorySize(cfg.Pipeline.HistorySize),
			latency.WithLogger(l),
			latency.WithMetrics(m),
		)
		p, err := usecase.NewSymbolPipeline(symbol, registry, gate, sched, tracker, inferencer,
			usecase.WithPublisher(publisher),
			usecase.WithPredictionCache(predCache),
			usecase.WithFlusher(flusher),
			usecase.WithInferTimeout(cfg.Inference.Timeout),
			usecase.WithP95Budget(cfg.Pipeline.P95Budget),
			usecase.WithPipelineLogger(l),
			usecase.WithPipelineAudit(audit),
			usecase.WithPipelineMetrics(m),
		)
		if err != nil {
			return nil, err
		}
		flusher.Register(p)
		return p, nil
	}
}

// ProvideEngine creates the bar dispatch engine.
func ProvideEngine(factory usecase.PipelineFactory, l *applogger.Logger, m domrepo.Metrics) *usecase.Engine {
	return usecase.NewEngine(factory,
		usecase.WithEngineLogger(l),
		usecase.WithEngineMetrics(m),
	)
}

// ProvideIngestGuard creates the validation/throttle layer for the live feed.
func ProvideIngestGuard(engine *usecase.Engine, m domrepo.Metrics, cfg *config.Config) *mid.IngestGuard {
	return mid.NewIngestGuard(engine, m,
		mid.WithMaxRPS(cfg.Ingest.MaxRPS),
		mid.WithBufferSize(cfg.Ingest.BufferSize),
	)
}

// ProvideKafkaConsumer creates the bars-topic consumer, nil for WebSocket
// ingest. A consumer hook mirrors handling failures into the error counter.
func ProvideKafkaConsumer(cfg *config.Config, m domrepo.Metrics) (*pkgkafka.Consumer, error) {
	if cfg.Ingest.Source != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, _ error) {
			m.RecordError("bar_consume")
		},
	})
	return consumer, nil
}

// ProvideBarsHandler registers the bars-topic handler.
func ProvideBarsHandler(engine *usecase.Engine, cfg *config.Config) *usecase.BarsHandler {
	return usecase.NewBarsHandler(cfg.Kafka.BarsTopic, engine)
}

// ProvideBarCollector creates the WebSocket collector, nil for Kafka ingest.
func ProvideBarCollector(cfg *config.Config, guard *mid.IngestGuard, l *applogger.Logger) *usecase.BarCollector {
	if cfg.Ingest.Source != "websocket" {
		return nil
	}
	ws := stream.New(
		cfg.Stream.Token,
		cfg.Stream.URL,
		cfg.Stream.Symbols,
		cfg.Stream.ReconnectDelay,
		cfg.Stream.PingInterval,
		l,
	)
	return usecase.NewBarCollector(ws, guard, l)
}

// ProvideStatusHandler creates the Echo status handler.
func ProvideStatusHandler(
	l *applogger.Logger,
	engine *usecase.Engine,
	audit *applogger.Audit,
	transitions api.TransitionReader,
) *api.StatusHandler {
	return api.NewStatusHandler(l, engine, audit, transitions)
}

// ProvideApp assembles the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	engine *usecase.Engine,
	guard *mid.IngestGuard,
	flusher *usecase.SnapshotFlusher,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	barsHandler *usecase.BarsHandler,
	statusHandler *api.StatusHandler,
	publisher domrepo.PredictionPublisher,
	chClient *pkgch.Client,
) *server.App {
	return server.New(cfg, l, engine, guard, flusher, collector, consumer, barsHandler, statusHandler, publisher, chClient)
}
