// Command casematch-ingest loads FHIR bundle files into the record store.
package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/config"
	"github.com/helixcare/casematch/internal/ingest"
	logpkg "github.com/helixcare/casematch/internal/logger"
	"github.com/helixcare/casematch/internal/store/postgres"
	openaiTransport "github.com/helixcare/casematch/internal/transport/openai"
)

func main() {
	dir := flag.String("dir", "output/fhir", "directory of FHIR bundle JSON files")
	maxFiles := flag.Int("max-files", 0, "limit the number of files processed (0 = all)")
	flag.Parse()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	store, err := postgres.New(ctx, postgres.Config{
		DSN:          cfg.Database.DSN,
		Dimension:    cfg.Embedding.Dimensions,
		MaxConns:     cfg.Database.MaxConns,
		QueryTimeout: time.Duration(cfg.Database.QueryTimeoutSec) * time.Second,
	})
	if err != nil {
		logger.Fatal("Failed to create record store", zap.Error(err))
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Record store not ready", zap.Error(err))
	}
	if err := store.InitSchema(ctx); err != nil {
		logger.Fatal("Failed to init schema", zap.Error(err))
	}

	embedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:     logger,
	})

	loader := ingest.NewLoader(store, embedder, logger)

	logger.Info("Starting ingest", zap.String("dir", *dir), zap.Int("max_files", *maxFiles))
	stats, err := loader.LoadDirectory(ctx, *dir, *maxFiles)
	if err != nil {
		logger.Fatal("Ingest failed", zap.Error(err))
	}

	logger.Info("Ingest finished",
		zap.Int("files", stats.Files),
		zap.Int("failed_files", stats.FailedFiles),
		zap.Int("patients", stats.Patients),
		zap.Int("observations", stats.Observations),
		zap.Int("conditions", stats.Conditions))
}
