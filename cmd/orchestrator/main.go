// Command orchestrator runs the durable execution worker loop (spec §4.4,
// §9): it polls internal/concurrency/taskqueue for resumable executions,
// acquires each execution's distributed lock, and drives it through
// internal/orchestrator until it suspends or terminates.
//
// # Configuration
//
// Environment variables:
//
//	ORCHESTRATOR_CONFIG      - path to the YAML config file (default: "config.yaml")
//	REDIS_ADDR               - overrides config.redis.addr when set
//	MONGO_URI                - MongoDB connection string (default: "mongodb://localhost:27017")
//	MONGO_DATABASE           - MongoDB database name (default: "intentexec")
//	GIT_SHA                  - pinned into every checkpoint (default: "unknown")
//	LOGIC_VERSION            - pinned into every checkpoint (default: "0.0.0")
//	ANTHROPIC_API_KEY        - required when config.generator.provider is "anthropic"
//	POLL_INTERVAL            - taskqueue poll cadence (default: "2s")
//
// # Example
//
//	ORCHESTRATOR_CONFIG=./config.yaml REDIS_ADDR=localhost:6379 go run ./cmd/orchestrator
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/flowforge/intentexec/internal/concurrency/idempotency"
	"github.com/flowforge/intentexec/internal/concurrency/lock"
	"github.com/flowforge/intentexec/internal/concurrency/taskqueue"
	"github.com/flowforge/intentexec/internal/config"
	"github.com/flowforge/intentexec/internal/failover"
	"github.com/flowforge/intentexec/internal/generator"
	genanthropic "github.com/flowforge/intentexec/internal/generator/anthropic"
	genbedrock "github.com/flowforge/intentexec/internal/generator/bedrock"
	"github.com/flowforge/intentexec/internal/generator/ratelimit"
	"github.com/flowforge/intentexec/internal/memory"
	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/orchestrator"
	"github.com/flowforge/intentexec/internal/orchestrator/trace"
	"github.com/flowforge/intentexec/internal/registry"
	"github.com/flowforge/intentexec/internal/store/rediskv"
	"github.com/flowforge/intentexec/internal/telemetry"
	"github.com/flowforge/intentexec/internal/triage"
	vectormongo "github.com/flowforge/intentexec/internal/vectorindex/mongo"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zlog.Sync() }()
	logger := telemetry.NewZapLogger(zlog)

	cfg, err := config.Load(envOr("ORCHESTRATOR_CONFIG", "config.yaml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error(ctx, "close redis", "error", err.Error())
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	kv := rediskv.New(rdb)

	mongoClient, err := mongodriver.Connect(mongooptions.Client().ApplyURI(envOr("MONGO_URI", "mongodb://localhost:27017")))
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Error(ctx, "disconnect mongo", "error", err.Error())
		}
	}()
	// Built here so a misconfigured MONGO_URI/MONGO_DATABASE surfaces at
	// worker startup rather than on first use. The worker loop itself never
	// calls Search: intent.RecallVerifier is the actual consumer, built over
	// this same store by the (out-of-scope, spec §1) HTTP/UI intake path
	// that runs the Normalizer and Ambiguity Resolver before a plan ever
	// reaches this process.
	if _, err := vectormongo.New(vectormongo.Options{Client: mongoClient, Database: envOr("MONGO_DATABASE", "intentexec")}); err != nil {
		return fmt.Errorf("build vector store: %w", err)
	}

	gen, err := buildGenerator(ctx, cfg.Generator)
	if err != nil {
		return fmt.Errorf("build generator: %w", err)
	}
	gen = ratelimit.New(gen, 60000, 240000)

	reg := registry.New()
	if err := registry.RegisterLogger(reg, logger); err != nil {
		return fmt.Errorf("bind log built-in: %w", err)
	}
	if err := registry.RegisterSelfReflect(reg, memory.NewKVStore(kv)); err != nil {
		return fmt.Errorf("bind self_reflect built-in: %w", err)
	}

	idem := idempotency.NewChecker(kv)
	locks := lock.NewVirtualManager(kv)
	queue := taskqueue.New(kv)
	triageSvc := triage.NewService(triage.WithGenerator(gen), triage.WithLogger(logger))
	failoverEngine := failover.NewEngine(cfg.FailoverPolicies)
	metrics := buildMetrics(cfg.Telemetry)
	traceBus := trace.NewBus()
	traceBus.Register(trace.SubscriberFunc(func(ctx context.Context, e trace.Entry) error {
		logger.Info(ctx, "trace", "phase", e.Phase, "step_id", e.StepID, "event", e.Event)
		return nil
	}))
	traceBus.Register(trace.SubscriberFunc(func(_ context.Context, e trace.Entry) error {
		metrics.IncCounter("orchestrator.trace.events", 1, "phase", e.Phase, "event", e.Event)
		return nil
	}))

	states := orchestrator.NewKVStateStore(kv)
	checkpoints := orchestrator.NewKVCheckpointStore(kv)
	identity := orchestrator.Identity{
		GitSHA:       envOr("GIT_SHA", "unknown"),
		LogicVersion: envOr("LOGIC_VERSION", "0.0.0"),
	}

	orch := orchestrator.New(states, checkpoints, reg, idem, locks, queue, triageSvc, failoverEngine, traceBus, identity,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTracer(buildTracer(cfg.Telemetry)),
		orchestrator.WithTimeoutResolver(cfg.TimeoutFor))

	pollInterval := envDurationOr("POLL_INTERVAL", 2*time.Second)
	logger.Info(ctx, "orchestrator worker starting", "poll_interval", pollInterval.String(), "generator_provider", cfg.Generator.Provider)

	return pollLoop(ctx, orch, queue, locks, logger, pollInterval)
}

// pollLoop implements spec §9's worker: drain ready taskqueue entries and
// resume each one's dispatch loop. orch.Resume acquires the execution's lock
// itself, with a bounded number of retries. A task is taken off the queue
// before it is resumed; if its lock still cannot be acquired (another node
// racing the same resume), the task is put back on the queue for the next
// poll.
func pollLoop(ctx context.Context, orch *orchestrator.Orchestrator, queue *taskqueue.Queue, locks *lock.Manager, logger telemetry.Logger, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "orchestrator worker stopping")
			return nil
		case <-ticker.C:
			tasks, err := queue.ReadyTasks(ctx, 50)
			if err != nil {
				logger.Error(ctx, "poll ready tasks", "error", err.Error())
				continue
			}
			for _, task := range tasks {
				resumeTask(ctx, orch, queue, logger, task)
			}
		}
	}
}

func resumeTask(ctx context.Context, orch *orchestrator.Orchestrator, queue *taskqueue.Queue, logger telemetry.Logger, task taskqueue.Task) {
	if err := queue.MarkProcessing(ctx, task.ExecutionID); err != nil {
		logger.Error(ctx, "mark task processing", "execution_id", task.ExecutionID, "error", err.Error())
		return
	}
	if _, err := orch.Resume(ctx, task.ExecutionID); err != nil {
		logger.Error(ctx, "resume execution", "execution_id", task.ExecutionID, "error", err.Error())
		var oerr *orcherr.Error
		if errors.As(err, &oerr) && oerr.Code == orcherr.CodeLockAcquireFailed {
			if err := queue.ScheduleResume(ctx, task.ExecutionID, 0, task.Payload); err != nil {
				logger.Error(ctx, "requeue task after lock contention", "execution_id", task.ExecutionID, "error", err.Error())
			}
		}
	}
}

// buildGenerator constructs the StructuredGenerator binding named by
// cfg.Provider (spec §6: "selected via config, never hardcoded").
func buildGenerator(ctx context.Context, cfg config.Generator) (generator.Generator, error) {
	switch cfg.Provider {
	case "", "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic generator provider")
		}
		client := sdk.NewClient(option.WithAPIKey(apiKey))
		return genanthropic.New(&client.Messages, defaultModel(cfg.DefaultModel, "claude-sonnet-4-20250514"), cfg.MaxTokens)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		return genbedrock.New(client, defaultModel(cfg.DefaultModel, "anthropic.claude-3-5-sonnet-20241022-v2:0"), int32(cfg.MaxTokens))
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}

// buildMetrics binds the orchestrator's telemetry.Metrics sink per
// cfg.MetricsEnabled: the real OTEL recorder, scoped under cfg.ServiceName,
// or the noop default when metrics are switched off. The OTLP exporter
// itself (cfg.OTLPEndpoint) is provisioned by the process's OTEL SDK
// bootstrap, not by this package; NewOtelMetrics only needs a scope name to
// pull the already-configured global MeterProvider.
func buildMetrics(cfg config.Telemetry) telemetry.Metrics {
	if !cfg.MetricsEnabled {
		return telemetry.NoopMetrics{}
	}
	scope := cfg.ServiceName
	if scope == "" {
		scope = "intentexec.orchestrator"
	}
	return telemetry.NewOtelMetrics(scope)
}

// buildTracer mirrors buildMetrics for the Tracer collaborator, gated on
// cfg.TracingEnabled rather than cfg.MetricsEnabled.
func buildTracer(cfg config.Telemetry) telemetry.Tracer {
	if !cfg.TracingEnabled {
		return telemetry.NoopTracer{}
	}
	scope := cfg.ServiceName
	if scope == "" {
		scope = "intentexec.orchestrator"
	}
	return telemetry.NewOtelTracer(scope)
}

func defaultModel(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return configured
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
