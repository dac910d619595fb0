// Package di assembles the execution subsystem from configuration.
package di

import (
	"context"
	"fmt"
	"time"

	"zen/internal/agent"
	"zen/internal/audit"
	"zen/internal/cache"
	"zen/internal/config"
	zenerrors "zen/internal/errors"
	"zen/internal/llm"
	"zen/internal/logging"
	"zen/internal/observability"
	"zen/internal/registry"
	"zen/internal/server"
	"zen/internal/store"
	"zen/internal/tier"
	"zen/internal/tooldispatch"
	"zen/internal/usercontext"
)

// Container holds all application dependencies.
type Container struct {
	Config   config.Config
	Contexts *usercontext.Factory
	Sessions *registry.InMemory
	Store    store.Store
	Trail    *audit.Trail
	Metrics  *observability.MetricsCollector
	Executor *agent.Executor
	Server   *server.Server

	cacheFailover *cache.Failover
	traceShutdown func(context.Context) error
}

// BuildContainer wires the full subsystem. The returned container owns the
// observability resources; call Cleanup on shutdown.
func BuildContainer(cfg config.Config) (*Container, error) {
	logger := logging.NewComponentLogger("DI")
	securityLogger := logging.NewSecurityLogger("Isolation")

	policies := tier.DefaultTable()
	if cfg.Tier.PolicyPath != "" {
		loaded, err := tier.Load(cfg.Tier.PolicyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load tier policies: %w", err)
		}
		policies = loaded
	}

	trail := audit.NewTrail(cfg.Audit.MaxEntries, logging.NewComponentLogger("Audit"))

	contexts, err := usercontext.NewFactory(policies,
		usercontext.WithLogger(logging.NewComponentLogger("ContextFactory")),
		usercontext.WithSecurityLogger(securityLogger),
		usercontext.WithRecorder(trail),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build context factory: %w", err)
	}

	sessions := registry.NewInMemory(
		registry.WithBufferLimit(cfg.Registry.BufferLimit),
		registry.WithLogger(logging.NewComponentLogger("SessionRegistry")),
		registry.WithSecurityLogger(securityLogger),
	)

	conversations := store.NewMemory()

	toolCache, err := cache.NewLRU(cfg.Cache.MaxEntries, cfg.CacheTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to build tool cache: %w", err)
	}
	failover := cache.NewFailover(toolCache, zenerrors.DefaultCircuitBreakerConfig(),
		logging.NewComponentLogger("ToolCache"))

	tools := tooldispatch.NewRegistry()
	if err := tooldispatch.RegisterBuiltins(tools, conversations); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	dispatchers := tooldispatch.NewFactory(tools, failover, logging.NewComponentLogger("ToolDispatch"))

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled: cfg.Observability.MetricsEnabled,
	}, logging.NewComponentLogger("Metrics"))
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics collector: %w", err)
	}

	var traceShutdown func(context.Context) error
	if cfg.Observability.TracingEnabled {
		traceShutdown, err = observability.InitTracing(cfg.Observability.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
	}

	executorOpts := []agent.ExecutorOption{
		agent.WithExecutorLogger(logging.NewAgentLogger("Executor")),
		agent.WithRecorder(trail),
		agent.WithMaxTurns(cfg.Agent.MaxTurns),
		agent.WithDegradedDeps(func() []string {
			if failover.Degraded() {
				return []string{"tool result cache"}
			}
			return nil
		}),
	}
	if cfg.Observability.MetricsEnabled {
		executorOpts = append(executorOpts, agent.WithMetrics(metrics))
	}
	executor := agent.NewExecutor(llm.NewScripted(), dispatchers, sessions, conversations, executorOpts...)

	verifier := server.NewVerifier(cfg.Auth.JWTSecret, logging.NewComponentLogger("Auth"))
	srv := server.New(server.Config{Addr: cfg.Server.Addr}, verifier, contexts, sessions, executor,
		logging.NewComponentLogger("Server"),
		server.WithContextMetrics(metrics),
	)

	logger.Info("container built: addr=%s metrics=%t tracing=%t",
		cfg.Server.Addr, cfg.Observability.MetricsEnabled, cfg.Observability.TracingEnabled)

	return &Container{
		Config:        cfg,
		Contexts:      contexts,
		Sessions:      sessions,
		Store:         conversations,
		Trail:         trail,
		Metrics:       metrics,
		Executor:      executor,
		Server:        srv,
		cacheFailover: failover,
		traceShutdown: traceShutdown,
	}, nil
}

// Run starts the HTTP server, the metrics endpoint, and the context sweeper,
// blocking until ctx is cancelled.
func (c *Container) Run(ctx context.Context) error {
	if c.Config.Observability.MetricsEnabled {
		if err := c.Metrics.StartPrometheusServer(c.Config.Observability.PrometheusPort); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	c.Contexts.StartSweeper(ctx, c.Config.SweepInterval())
	return c.Server.Start(ctx)
}

// Cleanup gracefully shuts down observability resources.
func (c *Container) Cleanup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var firstErr error
	if err := c.Metrics.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if c.traceShutdown != nil {
		if err := c.traceShutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
