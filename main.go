package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/activities"
	cfg "github.com/finsight-ai/orchestrator/internal/config"
	"github.com/finsight-ai/orchestrator/internal/constants"
	"github.com/finsight-ai/orchestrator/internal/db"
	"github.com/finsight-ai/orchestrator/internal/health"
	"github.com/finsight-ai/orchestrator/internal/llm"
	_ "github.com/finsight-ai/orchestrator/internal/metrics" // metric registration
	"github.com/finsight-ai/orchestrator/internal/session"
	"github.com/finsight-ai/orchestrator/internal/temporal"
	"github.com/finsight-ai/orchestrator/internal/tracing"
	"github.com/finsight-ai/orchestrator/internal/workflows"
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// ------------------------------------------------------------------
	// Bring up the health manager and its HTTP endpoints early so they
	// respond even while later components are still starting.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)
	healthPort := getEnvOrDefaultInt("HEALTH_PORT", 8081)
	go func() {
		_ = hm.Start(ctx)
		health.StartHealthServer(hm, healthPort, logger)
	}()

	// Configuration manager with hot reload for research.yaml
	var researchCfgMgr *cfg.ResearchConfigManager
	configDir := getEnvOrDefault("CONFIG_DIR", "config")
	configMgr, err := cfg.NewManager(configDir, logger)
	if err != nil {
		logger.Warn("Config manager init failed, using defaults", zap.Error(err))
	} else {
		configCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := configMgr.Start(configCtx); err != nil {
			logger.Warn("Config manager start failed, using defaults", zap.Error(err))
		} else {
			researchCfgMgr = cfg.NewResearchConfigManager(configMgr, logger)
			if err := researchCfgMgr.Initialize(); err != nil {
				logger.Warn("Research config init failed, using defaults", zap.Error(err))
				researchCfgMgr = nil
			} else {
				logger.Info("Research configuration loaded")
				researchCfgMgr.RegisterCallback(func(old, new *cfg.ResearchConfig) error {
					logger.Info("Research configuration reloaded",
						zap.Int("max_retries", new.Engine.MaxRetries),
						zap.Int("max_parallel_workers", new.Engine.MaxParallelWorkers),
					)
					return nil
				})
			}
		}
		cancel()
	}

	configFn := func() *cfg.ResearchConfig {
		if researchCfgMgr != nil {
			return researchCfgMgr.GetConfig()
		}
		c := &cfg.ResearchConfig{}
		c.ApplyDefaults()
		return c
	}
	researchCfg := configFn()

	// Tracing (no-op when disabled in config)
	if err := tracing.Initialize(tracing.Config{
		Enabled:      researchCfg.Tracing.Enabled,
		ServiceName:  researchCfg.Tracing.ServiceName,
		OTLPEndpoint: researchCfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Session layer (Redis). The engine runs without it; sessions just
	// lose continuity.
	var sessionManager *session.Manager
	redisAddr := getEnvOrDefault("REDIS_ADDR", "redis:6379")
	sessionManager, err = session.NewManager(redisAddr, session.Options{
		TTL:           researchCfg.SessionTTL(),
		MaxHistory:    researchCfg.Session.MaxHistory,
		LocalCacheMax: researchCfg.Session.LocalCacheMax,
	}, logger)
	if err != nil {
		logger.Warn("Session manager unavailable, running without session continuity", zap.Error(err))
		sessionManager = nil
	} else {
		defer sessionManager.Close()
		if rw := sessionManager.RedisWrapper(); rw != nil {
			_ = hm.RegisterChecker(health.NewRedisHealthChecker(rw.GetClient(), rw, logger))
		}
	}

	// Research archive (Postgres). Optional for the same reason.
	var archive *db.Client
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		archive, err = db.NewClient(&db.Config{
			Host:     host,
			Port:     getEnvOrDefaultInt("POSTGRES_PORT", 5432),
			User:     getEnvOrDefault("POSTGRES_USER", "finsight"),
			Password: getEnvOrDefault("POSTGRES_PASSWORD", "finsight"),
			Database: getEnvOrDefault("POSTGRES_DB", "finsight"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}, logger)
		if err != nil {
			logger.Warn("Research archive unavailable, runs will not be persisted", zap.Error(err))
			archive = nil
		} else {
			defer archive.Close()
			_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(archive.Wrapper(), logger))
		}
	} else {
		logger.Info("POSTGRES_HOST not set, research archive disabled")
	}

	// Agent service client with optional completion cache
	agentBase := llm.BaseURLFromEnv()
	var completionCache *llm.Cache
	if researchCfg.Cache.Enabled {
		completionCache = llm.NewCache(getEnvOrDefault("CACHE_REDIS_URL", "redis://"+redisAddr), researchCfg.CacheTTL(), logger)
		defer completionCache.Close()
	}
	llmClient := llm.NewClient(agentBase, llm.DefaultTimeout(), completionCache, logger)
	_ = hm.RegisterChecker(health.NewAgentServiceHealthChecker(agentBase, logger))

	// Prometheus metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		port := cfg.MetricsPort(researchCfg.Observability.Metrics.Port)
		addr := ":" + fmt.Sprintf("%d", port)
		logger.Info("Metrics server listening", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()

	acts := activities.NewActivities(activities.Options{
		LLM:            llmClient,
		SessionManager: sessionManager,
		Archive:        archive,
		ConfigFn:       configFn,
		Logger:         logger,
	})

	// Temporal client. A TCP pre-check avoids burning SDK dial attempts
	// while the server container is still coming up.
	host := getEnvOrDefault("TEMPORAL_HOST", "temporal:7233")
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", host), zap.Int("attempt", i))
		time.Sleep(1 * time.Second)
	}
	var tClient client.Client
	for attempt := 1; ; attempt++ {
		tClient, err = client.Dial(client.Options{HostPort: host, Logger: temporal.NewZapAdapter(logger)})
		if err == nil {
			break
		}
		delay := time.Duration(attempt)
		if delay > 15 {
			delay = 15
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", host),
			zap.Duration("sleep", delay*time.Second),
			zap.Error(err),
		)
		time.Sleep(delay * time.Second)
	}
	defer tClient.Close()
	_ = hm.RegisterChecker(health.NewTemporalHealthChecker(tClient, logger))

	// Research worker
	wk := worker.New(tClient, constants.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT", 10),
		MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF", 10),
	})
	wk.RegisterWorkflow(workflows.ResearchWorkflow)
	wk.RegisterActivity(acts)

	logger.Info("Research worker starting",
		zap.String("queue", constants.TaskQueue),
		zap.String("agent_service", agentBase),
	)
	if err := wk.Run(worker.InterruptCh()); err != nil {
		logger.Error("Research worker exited with error", zap.Error(err))
	}

	logger.Info("Shutting down research orchestrator")
	_ = hm.Stop()
	if configMgr != nil {
		_ = configMgr.Stop()
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
