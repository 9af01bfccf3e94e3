/**
 * OCR Worker - Main Entry Point
 *
 * Go worker for multi-backend text recognition.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed recognize-images queue
 * - Backend registry: Tesseract (local) and MageAgent vision tiers (remote),
 *   with a no-op fallback when nothing is usable
 * - Single-backend, voting and batch recognition through one orchestrator
 * - Redis result cache keyed by image content and settings
 * - PostgreSQL persistence for job status and results
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/ocr-worker/internal/backends"
	"github.com/adverant/nexus/ocr-worker/internal/cache"
	"github.com/adverant/nexus/ocr-worker/internal/clients"
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.ocr"); err != nil {
		log.Printf("Warning: .env.ocr not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Configure(cfg.LogLevel, cfg.LogFormat)

	log.Printf("OCR Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Queue=%s, Workers=%d, Backends=%v",
		cfg.RedisURL, cfg.QueueName, cfg.WorkerConcurrency, cfg.EnabledBackends)

	// Connect to PostgreSQL
	log.Printf("Connecting to PostgreSQL...")
	db, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		log.Fatalf("Failed to prepare database schema: %v", err)
	}
	cancelSchema()

	// Result cache is optional; recognition works without it
	var resultCache processor.ResultCache
	redisCache, err := cache.NewResultCache(cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		log.Printf("Warning: result cache disabled: %v", err)
	} else {
		defer redisCache.Close()
		resultCache = redisCache
	}

	events, err := queue.NewEventPublisher(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		log.Fatalf("Failed to connect event publisher: %v", err)
	}
	defer events.Close()

	registry := buildRegistry(cfg)
	logBackends(registry.Describe())

	orchestrator := recognition.NewOrchestrator(registry, &recognition.OrchestratorConfig{
		BackendTimeout: cfg.VotingBackendTimeout,
	})

	pipeline := preprocess.NewPipeline(&preprocess.Config{
		Operations:   cfg.PreprocessOperations,
		MaxImageSize: cfg.MaxImageSize,
	})

	proc, err := processor.NewRecognitionProcessor(&processor.ProcessorConfig{
		Orchestrator: orchestrator,
		Batch: recognition.NewBatchDriver(orchestrator, &recognition.BatchConfig{
			Preprocessor: pipeline,
			Concurrency:  cfg.BatchConcurrency,
		}),
		Preprocessor: pipeline,
		Cache:        resultCache,
		Store:        db,
	})
	if err != nil {
		log.Fatalf("Failed to initialize recognition processor: %v", err)
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		Events:            events,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("OCR Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d (batch concurrency %d)", cfg.WorkerConcurrency, cfg.BatchConcurrency)
	log.Printf("Usable backends: %v", backendNames(registry.AvailableBackends()))
	log.Printf("Voting backend timeout: %s, job timeout: %s", cfg.VotingBackendTimeout, cfg.ProcessingTimeout)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	<-ctx.Done()
	log.Printf("Shutdown signal received, initiating graceful shutdown...")

	if err := consumer.Stop(context.Background()); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	if jobStats, err := events.GetStats(context.Background()); err == nil {
		log.Printf("Jobs: processing=%d completed=%d failed=%d",
			jobStats["processing"], jobStats["completed"], jobStats["failed"])
	}

	stats := db.GetStats()
	log.Printf("Database pool at shutdown: open=%d inUse=%d waitCount=%d", stats.OpenConnections, stats.InUse, stats.WaitCount)

	log.Printf("Shutdown complete")
}

// buildRegistry constructs every enabled backend; failures become unavailable entries
func buildRegistry(cfg *config.Config) *recognition.Registry {
	registry := recognition.NewRegistry()

	if cfg.BackendEnabled(backends.TesseractBackendName) {
		registry.Register(backends.TesseractBackendName, func() (recognition.Backend, error) {
			t, err := backends.NewTesseract(&backends.TesseractConfig{Languages: cfg.TesseractLanguages})
			if err != nil {
				return nil, err
			}
			return t, nil
		})
	}

	mageAgent := clients.NewMageAgentClient(cfg.MageAgentURL, cfg.VotingBackendTimeout)
	visionTiers := []struct {
		name string
		ctor func(context.Context, backends.VisionExtractor) (*backends.Vision, error)
	}{
		{backends.VisionFastBackendName, backends.NewVisionFast},
		{backends.VisionAccurateBackendName, backends.NewVisionAccurate},
	}
	for _, tier := range visionTiers {
		if !cfg.BackendEnabled(tier.name) {
			continue
		}
		ctor := tier.ctor
		registry.Register(tier.name, func() (recognition.Backend, error) {
			v, err := ctor(context.Background(), mageAgent)
			if err != nil {
				return nil, err
			}
			return v, nil
		})
	}

	return registry
}

func logBackends(info map[string]recognition.EngineInfo) {
	names := make([]string, 0, len(info))
	for name := range info {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := info[name]
		log.Printf("Backend %-16s available=%-5t languages=%v", name, e.Available, e.SupportedLanguages)
	}
}

func backendNames(list []recognition.Backend) []string {
	names := make([]string, len(list))
	for i, b := range list {
		names[i] = b.Name()
	}
	return names
}
