package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/config"
	"github.com/helixcare/casematch/internal/db"
	dbRedis "github.com/helixcare/casematch/internal/db/redis"
	"github.com/helixcare/casematch/internal/domain"
	logpkg "github.com/helixcare/casematch/internal/logger"
	"github.com/helixcare/casematch/internal/metrics"
	"github.com/helixcare/casematch/internal/repository/embcache"
	"github.com/helixcare/casematch/internal/store/postgres"
	chiTransport "github.com/helixcare/casematch/internal/transport/chi"
	"github.com/helixcare/casematch/internal/transport/entrez"
	openaiTransport "github.com/helixcare/casematch/internal/transport/openai"
	healthuc "github.com/helixcare/casematch/internal/usecase/health"
	intakeuc "github.com/helixcare/casematch/internal/usecase/intake"
	literatureuc "github.com/helixcare/casematch/internal/usecase/literature"
	patientuc "github.com/helixcare/casematch/internal/usecase/patient"
	similarityuc "github.com/helixcare/casematch/internal/usecase/similarity"
	"github.com/helixcare/casematch/internal/version"
)

func main() {
	// Load configuration based on ENV
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

	logger.Info("Starting casematch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
	)

	ctx := context.Background()

	// Record store
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
	logger.Info("Connected to record store")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterExternalMetrics()

	embedder := buildEmbedder(cfg, logger)

	oracle := openaiTransport.NewOracle(&openaiTransport.OracleConfig{
		APIKey:  cfg.Oracle.APIKey,
		BaseURL: cfg.Oracle.BaseURL,
		Model:   cfg.Oracle.Model,
		Timeout: time.Duration(cfg.Oracle.TimeoutSec) * time.Second,
		Logger:  logger,
	})

	index := entrez.NewClient(&entrez.Config{
		BaseURL:    cfg.Literature.BaseURL,
		Tool:       cfg.Literature.Tool,
		Email:      cfg.Literature.Email,
		Timeout:    time.Duration(cfg.Literature.TimeoutSec) * time.Second,
		MaxRetries: cfg.Literature.MaxRetries,
		RetryBase:  time.Duration(cfg.Literature.RetryBaseMS) * time.Millisecond,
		Logger:     logger,
	})

	policy, err := similarityuc.ParsePolicy(cfg.Search.AggregationPolicy)
	if err != nil {
		logger.Fatal("Invalid aggregation policy", zap.Error(err))
	}

	// Use case services
	literatureSvc := literatureuc.New(index, oracle, cfg.Literature.MaxPerSearch, logger)
	similaritySvc := similarityuc.New(oracle, embedder, store, similarityuc.Config{
		Policy:        policy,
		MaxPerSymptom: cfg.Search.MaxPerSymptom,
		MaxReturned:   cfg.Search.MaxPatientsReturned,
	}, logger)
	intakeSvc := intakeuc.New(oracle, logger)
	patientSvc := patientuc.New(store, oracle, logger)
	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(embedder))

	server := chiTransport.NewServer(intakeSvc, literatureSvc, similaritySvc, patientSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the embedder chain: OpenAI -> Cached (when Redis is configured).
func buildEmbedder(cfg config.Config, logger *zap.Logger) domain.Embedder {
	base := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:     logger,
	})

	if len(cfg.Cache.Addrs) == 0 {
		logger.Info("Embedding cache disabled, no cache addrs configured")
		return base
	}

	var cache db.Store
	cache, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Cache.Addrs,
		Password: cfg.Cache.Password,
	})
	if err != nil {
		logger.Warn("Embedding cache unavailable, continuing without it", zap.Error(err))
		return base
	}

	logger.Info("Embedding cache enabled", zap.Strings("addrs", cfg.Cache.Addrs))
	return embcache.New(base, cache, metrics.EmbeddingCacheTotal, logger)
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
