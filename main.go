package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/srujansrutha/amri/internal/activities"
	"github.com/srujansrutha/amri/internal/checkpoint"
	"github.com/srujansrutha/amri/internal/circuitbreaker"
	"github.com/srujansrutha/amri/internal/config"
	"github.com/srujansrutha/amri/internal/db"
	"github.com/srujansrutha/amri/internal/embeddings"
	"github.com/srujansrutha/amri/internal/health"
	"github.com/srujansrutha/amri/internal/httpapi"
	"github.com/srujansrutha/amri/internal/llm"
	"github.com/srujansrutha/amri/internal/semcache"
	"github.com/srujansrutha/amri/internal/state"
	"github.com/srujansrutha/amri/internal/tracing"
	"github.com/srujansrutha/amri/internal/vectordb"
	"github.com/srujansrutha/amri/internal/websearch"
	"github.com/srujansrutha/amri/internal/workflows"
)

// thresholdCache is a semantic cache whose hit threshold can be reloaded.
type thresholdCache interface {
	semcache.Cache
	SetThreshold(float64)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader("", nil)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, level, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	loader.WithLogger(logger)

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	stopCB := make(chan struct{})
	defer close(stopCB)
	circuitbreaker.StartMetricsCollection(stopCB)

	hm := health.NewManager(cfg.Health.CheckInterval, logger)
	hm.SetCheckTimeout(cfg.Health.Timeout)

	var rdb *circuitbreaker.RedisWrapper
	if needsRedis(cfg) {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Invalid redis.url", zap.Error(err))
		}
		if cfg.Redis.PoolSize > 0 {
			opts.PoolSize = cfg.Redis.PoolSize
		}
		rdb = circuitbreaker.NewRedisWrapper(redis.NewClient(opts), "redis", logger)
		defer rdb.Close()
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(rdb))
	}

	store, closeStore, err := buildCheckpointStore(ctx, cfg, rdb, hm, logger)
	if err != nil {
		logger.Fatal("Failed to initialize checkpoint store", zap.Error(err))
	}
	defer closeStore()

	llmCfg, err := cfg.LLM.Resolve()
	if err != nil {
		logger.Fatal("Invalid LLM configuration", zap.Error(err))
	}
	api := llm.NewOpenAIClient(llmCfg)
	model, err := llm.New(llmCfg, api, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM client", zap.Error(err))
	}

	embCfg := cfg.Embeddings
	if embCfg.Model == "" {
		embCfg.Model = llmCfg.EmbedModel
	}
	var embCache embeddings.EmbeddingCache
	if rdb != nil {
		embCache = embeddings.NewRedisCache(rdb)
	}
	embedder := embeddings.NewService(embCfg, api, embCache, logger)

	opts := semcache.Options{Threshold: cfg.Cache.Threshold, TTL: cfg.Cache.TTL}
	var cache thresholdCache
	if cfg.Cache.Backend == config.BackendRedis {
		cache = semcache.NewRedisCache(rdb, embedder, opts, logger)
	} else {
		cache = semcache.NewMemoryCache(embedder, opts, logger)
	}

	vc := vectordb.New(cfg.Vector, &http.Client{}, logger)
	retriever := &vectordb.Retriever{Client: vc, Embedder: embedder}
	var ingester httpapi.DocumentIngester
	if cfg.Vector.Enabled {
		if err := vc.EnsureCollection(ctx); err != nil {
			logger.Warn("Vector collection not ready", zap.Error(err))
		}
		_ = hm.RegisterChecker(health.NewHTTPHealthChecker("qdrant", strings.TrimRight(cfg.Vector.URL, "/")+"/readyz", false))
		ingester = retriever
	}

	search := websearch.NewTavilyClient(cfg.Tavily, &http.Client{}, logger)

	steps := &activities.Steps{
		CheckCache:  &activities.CheckCache{Cache: cache, FailOpen: cfg.Cache.FailOpen, Logger: logger},
		SearchWeb:   &activities.SearchWeb{Searcher: search, Logger: logger},
		Vision:      &activities.Vision{Describer: model, MaxImages: cfg.Workflow.MaxImages, Logger: logger},
		RAG:         &activities.RAG{Retriever: retriever, K: cfg.Workflow.RAGTopK},
		HumanReview: &activities.HumanReview{Logger: logger},
		Write:       &activities.Write{Drafter: &activities.LLMWriter{LLM: model}},
		Critique: &activities.Critique{
			Controller: &activities.RevisionController{Max: state.MaxRevisions, Evaluator: &activities.LLMEvaluator{LLM: model}},
			Logger:     logger,
		},
		Guardrails: &activities.Guardrails{Checker: &activities.LLMSafetyChecker{LLM: model}, Logger: logger},
	}

	var leaser workflows.Leaser = workflows.NewLocalLeaser()
	if rdb != nil {
		leaser = workflows.NewRedisLeaser(rdb, cfg.Workflow.LeaseTTL)
	}

	engine, err := workflows.NewEngine(workflows.Config{
		Steps:       steps,
		Store:       store,
		Cache:       cache,
		Leaser:      leaser,
		Logger:      logger,
		Backend:     cfg.Checkpoint.Backend,
		SaveTimeout: cfg.Cache.SaveTimeout,
	})
	if err != nil {
		logger.Fatal("Failed to build research engine", zap.Error(err))
	}

	loader.Watch(func(_, updated *config.Config) {
		if lvl, err := config.ParseLevel(updated.Logging.Level); err == nil {
			level.SetLevel(lvl)
		}
		cache.SetThreshold(updated.Cache.Threshold)
	})

	mux := http.NewServeMux()
	httpapi.NewResearchHandler(engine, ingester, logger).RegisterRoutes(mux)

	var limiter *rate.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)
	}
	server := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Service.Port),
		Handler: httpapi.RateLimit(limiter,
			httpapi.BearerAuth(cfg.Service.AuthToken,
				httpapi.RequestTimeout(cfg.Service.RequestTimeout, mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Service.RequestTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var admin *http.Server
	if cfg.Service.AdminPort > 0 {
		adminMux := http.NewServeMux()
		health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
		adminMux.Handle("/metrics", promhttp.Handler())
		admin = &http.Server{
			Addr:         ":" + strconv.Itoa(cfg.Service.AdminPort),
			Handler:      adminMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go serve(admin, "Admin HTTP server", logger)
	}
	_ = hm.Start(ctx)
	go serve(server, "Research API server", logger)

	<-ctx.Done()
	logger.Info("Shutting down research orchestrator")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Research API shutdown failed", zap.Error(err))
	}
	if admin != nil {
		_ = admin.Shutdown(shutdownCtx)
	}
	_ = hm.Stop()
	engine.Wait()
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
}

func serve(srv *http.Server, name string, logger *zap.Logger) {
	logger.Info(name+" listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(name+" failed", zap.Error(err))
	}
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Checkpoint.Backend == config.BackendRedis || cfg.Cache.Backend == config.BackendRedis
}

func buildCheckpointStore(ctx context.Context, cfg *config.Config, rdb *circuitbreaker.RedisWrapper, hm *health.Manager, logger *zap.Logger) (checkpoint.Store, func(), error) {
	codec, err := checkpoint.NewCodec(checkpoint.Format(cfg.Checkpoint.Format), checkpoint.Compression(cfg.Checkpoint.Compression))
	if err != nil {
		return nil, nil, err
	}
	noop := func() {}

	switch cfg.Checkpoint.Backend {
	case config.BackendMemory:
		logger.Warn("Checkpoints are kept in memory; paused threads do not survive a restart")
		return checkpoint.NewMemoryStore(), noop, nil
	case config.BackendRedis:
		return checkpoint.NewRedisStore(rdb, codec, logger), noop, nil
	case config.BackendPostgres, config.BackendSQLite:
		dbw, err := db.Open(ctx, db.Config{
			Driver:          cfg.Checkpoint.Backend,
			DSN:             cfg.Database.DSN,
			MaxConnections:  cfg.Database.MaxOpenConns,
			IdleConnections: cfg.Database.MaxIdleConns,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(dbw))
		store := checkpoint.NewSQLStore(dbw, codec, logger).WithTableName(cfg.Checkpoint.Table)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = dbw.Close()
			return nil, nil, err
		}
		return store, func() { _ = dbw.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}
