// Package server wires the personalization pipeline behind an echo HTTP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	agent "github.com/hrygo/productsense/ai/agents"
	"github.com/hrygo/productsense/ai/agents/orchestrator"
	"github.com/hrygo/productsense/ai/agents/tools"
	"github.com/hrygo/productsense/ai/catalog"
	"github.com/hrygo/productsense/ai/core/embedding"
	"github.com/hrygo/productsense/ai/core/llm"
	"github.com/hrygo/productsense/ai/memory/simple"
	"github.com/hrygo/productsense/ai/metrics"
	"github.com/hrygo/productsense/ai/observability/logging"
	"github.com/hrygo/productsense/ai/personalization"
	"github.com/hrygo/productsense/ai/routing"
	"github.com/hrygo/productsense/internal/profile"
	apiv1 "github.com/hrygo/productsense/server/router/api/v1"
	"github.com/hrygo/productsense/server/service/prewarm"
	"github.com/hrygo/productsense/store"
)

// maxToolIterations bounds the tool loop of each agent.
const maxToolIterations = 5

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	metrics    *metrics.PrometheusExporter
	prewarm    *prewarm.Service
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	if !profile.IsAIEnabled() {
		return nil, errors.New("an LLM API key is required (set PRODUCTSENSE_LLM_API_KEY)")
	}

	s := &Server{
		Profile: profile,
		Store:   store,
		metrics: metrics.NewPrometheusExporter(metrics.DefaultConfig()),
	}

	llmService, err := llm.NewService(&llm.Config{
		Provider: profile.LLMProvider,
		Model:    profile.LLMModel,
		APIKey:   profile.LLMAPIKey,
		BaseURL:  profile.LLMBaseURL,
		Timeout:  profile.LLMTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create llm service")
	}
	slog.Info("LLM service initialized",
		"provider", profile.LLMProvider,
		"model", profile.LLMModel,
	)
	// Best effort: a failed warmup only costs first-request latency.
	go func() {
		warmupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		llmService.Warmup(warmupCtx)
	}()

	embedder, err := embedding.NewService(&embedding.Config{
		Provider:   profile.EmbeddingProvider,
		Model:      profile.EmbeddingModel,
		APIKey:     profile.EmbeddingAPIKey,
		BaseURL:    profile.EmbeddingBaseURL,
		Dimensions: profile.EmbeddingDimensions,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding service")
	}

	memoryConfig := simple.DefaultConfig()
	memoryConfig.Model = profile.EmbeddingModel
	memoryConfig.Timeout = profile.AgentTimeout
	memoryStore := simple.NewStore(store, llmService, embedder, memoryConfig)

	agents, err := agent.NewTeam(llmService, store, embedder, agent.TeamConfig{
		Model:             profile.LLMModel,
		EmbeddingModel:    profile.EmbeddingModel,
		MaxToolIterations: maxToolIterations,
		ToolCache:         tools.NewResultCache(profile.CacheSize, profile.CacheTTL, s.metrics),
	}, s.metrics)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build agent team")
	}

	engine, err := orchestrator.New(store, memoryStore, agents, orchestrator.Config{
		RunTimeout:   profile.RunTimeout,
		AgentTimeout: profile.AgentTimeout,
		AgentTimeouts: map[orchestrator.AgentName]time.Duration{
			orchestrator.AgentPlanning:        profile.PlannerTimeout,
			orchestrator.AgentPersonalization: profile.PersonalizationTimeout,
			orchestrator.AgentInventory:       profile.InventoryTimeout,
			orchestrator.AgentReviews:         profile.ReviewsTimeout,
			orchestrator.AgentEvaluation:      profile.EvaluationTimeout,
			orchestrator.AgentPresentation:    profile.PresentationTimeout,
		},
		MaxReviewAttempts: profile.MaxReviewAttempts,
		PlanRules:         profile.PlanRules,
	}, s.metrics)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create orchestrator")
	}

	gate := personalization.NewGate(store, personalization.GateConfig{
		Wait:         profile.GateWait,
		PollInterval: profile.GatePollInterval,
		Lease:        profile.GateLease,
		CacheSize:    profile.CacheSize,
		CacheTTL:     profile.CacheTTL,
	})
	personalizer := personalization.NewService(engine, gate, store, s.metrics)

	s.prewarm = prewarm.New(personalizer, prewarm.Config{
		Concurrency: profile.PrewarmConcurrency,
		Rate:        profile.PrewarmRate,
		Timeout:     profile.RunTimeout + profile.GateWait,
	}, s.metrics)

	searcher := catalog.NewSearcher(store, embedder, profile.EmbeddingModel, profile.TopK)
	router, err := routing.NewRouter(llmService, searcher, store, personalizer, s.prewarm, store, routing.Config{
		Model: profile.LLMModel,
	}, s.metrics)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create query router")
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: shortuuid.New,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.With(req.Context(), "request_id", id)))
		},
	}))
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger := logging.FromContext(c.Request().Context())
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"duration_ms", v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				logger.Warn("server: request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("server: request", attrs...)
			return nil
		},
	}))
	echoServer.Use(middleware.Recover())
	s.echoServer = echoServer

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": profile.Version,
		})
	})
	echoServer.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	apiv1.NewAPIV1Service(profile, store, personalizer, router, searcher, s.prewarm).Register(echoServer)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	// Cancel queued prewarm runs and wait for running ones to notice.
	s.prewarm.Close()

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("server stopped properly")
}
