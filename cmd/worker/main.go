/**
 * docoptic worker - Main Entry Point
 *
 * Wires together the Multi-Engine OCR Orchestrator (MEO) and the Query
 * Optimizer Stack (QOS) behind a Redis-backed job queue:
 *
 * - MEO dispatches image text extraction across e1 (transformer), e2
 *   (Tesseract), e3 (neural layout), e4 (seq2seq) in a strategy-driven
 *   order with confidence-threshold early stop.
 * - QOS optimizes and caches the follow-up vector similarity lookup a job
 *   may request, backed by the Qdrant executor.
 * - Asynq consumes "ocr:extract-and-search" tasks; a Redis-backed status
 *   store tracks per-job lifecycle state independent of asynq's own
 *   retry/dequeue bookkeeping.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nexuslabs/docoptic/internal/config"
	"github.com/nexuslabs/docoptic/internal/logging"
	"github.com/nexuslabs/docoptic/internal/ocr"
	"github.com/nexuslabs/docoptic/internal/queryopt"
	"github.com/nexuslabs/docoptic/internal/queue"
	"github.com/nexuslabs/docoptic/internal/storage"
)

func main() {
	log := logging.NewLogger("worker")
	defer log.Sync()

	if err := godotenv.Load(".env.docoptic"); err != nil {
		log.Warn(".env.docoptic not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log.Info("docoptic worker starting",
		"redis", cfg.Redis.URL, "postgres_configured", cfg.Postgres.DatabaseURL != "",
		"vector_store", cfg.VectorStore.URL, "concurrency", cfg.Queue.Concurrency)

	storageManager, err := storage.NewStorageManager(
		cfg.Postgres.DatabaseURL,
		cfg.VectorStore.URL,
		cfg.VectorStore.Collection,
	)
	if err != nil {
		log.Error("failed to initialize storage manager", "error", err)
		os.Exit(1)
	}
	defer storageManager.Close()
	log.Info("storage manager initialized", "backends", "postgres,qdrant")

	meo := ocr.NewMultiEngineOCR(buildEngines(cfg, log), log)
	log.Info("multi-engine OCR orchestrator initialized", "available_engines", meo.GetAvailableEngines())

	registry := queryopt.NewIndexRegistry()
	registerDefaultIndexes(registry, cfg)
	qos := queryopt.NewStack(registry, cfg.Cache.MaxSize, cfg.Cache.MaxPatternCacheSize, log)
	qos.Hybrid.MinVectorWeight = cfg.Optimizer.MinVectorWeight
	qos.Hybrid.MaxVectorWeight = cfg.Optimizer.MaxVectorWeight
	qos.Base.Options.MaxScanCount = cfg.Optimizer.MaxScanCount
	log.Info("query optimizer stack initialized")

	redisOpt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Error("failed to parse REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()
	statusStore := queue.NewJobStatusStore(redisClient, cfg.Queue.Name)

	pipeline := newOCRQOSPipeline(meo, qos, storageManager, cfg, log)

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.Redis.URL,
		QueueName:         cfg.Queue.Name,
		Concurrency:       cfg.Queue.Concurrency,
		Pipeline:          pipeline,
		StatusStore:       statusStore,
		ProcessingTimeout: cfg.Queue.ProcessingTimeoutMillis,
	}, log)
	if err != nil {
		log.Error("failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := consumer.Start(ctx); err != nil {
		log.Error("failed to start queue consumer", "error", err)
		os.Exit(1)
	}
	log.Info("docoptic worker ready", "queue", cfg.Queue.Name, "concurrency", cfg.Queue.Concurrency)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	log.Info("received shutdown signal", "signal", sig.String())

	if err := consumer.Stop(ctx); err != nil {
		log.Error("error stopping queue consumer", "error", err)
	}
	if err := storageManager.Close(); err != nil {
		log.Error("error closing storage manager", "error", err)
	}
	log.Info("shutdown complete")
}

// buildEngines wires the four MEO engines. e2 ships with a real Tesseract
// binding; e1/e3/e4 wrap injectable model predictors that have no default
// implementation here (no model-serving endpoint is configured), so they
// construct in a permanently unavailable state until a predictor is wired
// in — matching the construction-never-fails discipline rather than
// failing worker startup over a missing accelerator.
func buildEngines(cfg *config.Config, log *logging.Logger) []ocr.Engine {
	return []ocr.Engine{
		ocr.NewTransformerEngine(nil, log),
		ocr.NewTraditionalEngine(cfg.OCR.TesseractPath, cfg.OCR.TesseractConfigStr, nil, log),
		ocr.NewLayoutEngine(nil, log),
		ocr.NewSeq2SeqEngine(nil, nil, log),
	}
}

// registerDefaultIndexes seeds the index registry with the indexes the
// worker's own storage layer actually maintains, so OptimizeQuery's
// index-selection has real candidates from the first query onward.
func registerDefaultIndexes(registry *queryopt.IndexRegistry, cfg *config.Config) {
	registry.RegisterIndex("vector_index_default", queryopt.IndexKindVector,
		[]string{"query_vector"}, map[string]interface{}{"collection": cfg.VectorStore.Collection})
	registry.RegisterIndex("job_status_index", queryopt.IndexKindHash,
		[]string{"status"}, nil)
	registry.RegisterIndex("job_document_dna_index", queryopt.IndexKindBTree,
		[]string{"document_dna_id"}, nil)
}
