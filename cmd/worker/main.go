package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsrekognition "github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/fiapx/fiapx-analysis-service/internal/inference"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/config"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/email"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/ffmpeg"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	miniostorage "github.com/fiapx/fiapx-analysis-service/internal/infra/minio"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/postgres"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/rabbitmq"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/rekognition"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/tracing"
	"github.com/fiapx/fiapx-analysis-service/internal/labeling"
	"github.com/fiapx/fiapx-analysis-service/internal/retry"
	"github.com/fiapx/fiapx-analysis-service/internal/usecase"
	"github.com/fiapx/fiapx-analysis-service/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting fiapx-analysis-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	fatalOnErr(postgres.RunMigrations(cfg.DatabaseURL), "run migrations")

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		UseSSL:    cfg.MinIOUseSSL,
		Buckets:   []string{cfg.MinIOSourceBucket, cfg.MinIOProxyBucket, cfg.MinIOResultBucket},
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// Rekognition; retries are handled per call by the inference runner.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithRetryMaxAttempts(1),
	)
	fatalOnErr(err, "load aws config")

	storePolicy := retry.Policy{Attempts: cfg.InferenceStoreTries, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
	classifyPolicy := retry.Policy{Attempts: cfg.InferenceClassifyTries, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

	oracle := rekognition.NewClient(awsrekognition.NewFromConfig(awsCfg), storage, rekognition.Config{
		Describe: retry.Policy{Attempts: 4, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		Start:    retry.Policy{Attempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
	}, log)

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	resultPub := rabbitmq.NewResultPublisher(pub, cfg.RabbitMQResultQueue)
	dlqPub := rabbitmq.NewDeadLetterPublisher(pub, cfg.RabbitMQDLQ)

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	leases := postgres.NewLeaseStore(pool)
	cursors := postgres.NewCursorStore(pool)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.NotificationTo, log)

	runnerCfg := inference.DefaultConfig()
	runnerCfg.NearDeadline = cfg.InferenceNearDeadline
	runnerCfg.NearExpiry = cfg.InferenceNearExpiry
	runnerCfg.LeaseExtension = cfg.InferenceLeaseExtension
	runnerCfg.MinConfidence = cfg.InferenceMinConfidence
	runnerCfg.Classify = classifyPolicy
	runnerCfg.Store = storePolicy
	runner := inference.NewRunner(oracle, storage, leases, cursors, runnerCfg, log)

	steps := usecase.NewSteps(
		storage, storage,
		ffmpeg.NewProber(cfg.FFmpegThreads, log),
		ffmpeg.NewExtractor(cfg.FFmpegThreads, log),
		oracle, oracle, leases, runner,
		labeling.NewPreparer(storage, log),
		usecase.StepsConfig{
			TempDir:           cfg.TempDir,
			PresignExpiry:     cfg.PresignExpiry,
			FramesPerSlice:    cfg.FramesPerSlice,
			UploadConcurrency: cfg.UploadConcurrency,
			ShotWindowMillis:  cfg.ShotWindowMillis,
			SpriteTileWidth:   cfg.SpriteTileWidth,
			SpriteMaxPerRow:   cfg.SpriteMaxPerRow,
			SpriteBorder:      cfg.SpriteBorder,
			SpriteQuality:     cfg.SpriteQuality,
			MinLeaseTTL:       cfg.InferenceLeaseExtension,
			NearExpiry:        cfg.InferenceNearExpiry,
			LeaseExtension:    cfg.InferenceLeaseExtension,
			MinConfidence:     cfg.InferenceMinConfidence,
			Store:             storePolicy,
			Classify:          classifyPolicy,
		},
		log,
	)

	registry, err := usecase.NewRegistry(steps.All(),
		usecase.WithTracing(tracing.Tracer()),
		usecase.WithMetrics(),
		usecase.WithLogging(log),
	)
	fatalOnErr(err, "register steps")

	// Use case
	uc := usecase.NewProcessStepUseCase(
		repo, registry,
		resultPub, dlqPub, notifier,
		log,
		usecase.ProcessStepConfig{
			MaxRetries:        cfg.MaxRetries,
			InvocationTimeout: cfg.InvocationTimeout,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	// Idle models are stopped once their lease runs out.
	reaper := usecase.NewLeaseReaper(leases, oracle, cfg.LeaseReapInterval, log)
	go reaper.Run(ctx)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:          cfg.RabbitMQURL,
		Queue:        cfg.RabbitMQStepQueue,
		Exchange:     cfg.RabbitMQExchange,
		DLQ:          cfg.RabbitMQDLQ,
		ResultQueue:  cfg.RabbitMQResultQueue,
		Prefetch:     cfg.RabbitMQPrefetch,
		WorkerCount:  cfg.WorkerCount,
		RequeueDelay: time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("fiapx-analysis-service started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("fiapx-analysis-service stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
