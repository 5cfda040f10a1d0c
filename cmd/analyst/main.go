// Analyst engine server: HTTP API, analysis pipeline, plan execution
// and the monitoring loop in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/smartbi/analyst/pkg/agent"
	"github.com/smartbi/analyst/pkg/analysis"
	"github.com/smartbi/analyst/pkg/api"
	"github.com/smartbi/analyst/pkg/config"
	"github.com/smartbi/analyst/pkg/dbadapter/pool"
	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/execution"
	"github.com/smartbi/analyst/pkg/llm"
	"github.com/smartbi/analyst/pkg/memory"
	"github.com/smartbi/analyst/pkg/metrics"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/monitoring"
	"github.com/smartbi/analyst/pkg/notify"
	"github.com/smartbi/analyst/pkg/planning"
	"github.com/smartbi/analyst/pkg/store"
	"github.com/smartbi/analyst/pkg/version"
)

const (
	historyCap       = 10_000
	metricSQLTimeout = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))
}

// providerFactory resolves a binding's transport. The engine ships with
// the in-process mock; real transports register their own provider name.
func providerFactory(binding *models.LLMBinding) (llm.Provider, error) {
	switch binding.Provider {
	case "mock":
		return llm.NewMockProvider(), nil
	default:
		return nil, enginerr.New(enginerr.KindValidation,
			"no transport linked for provider %q", binding.Provider)
	}
}

// selectNotifier picks the alert channel: Slack when enabled, email
// otherwise. An unconfigured email channel still satisfies the
// interface; its failures are recorded on the alert.
func selectNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Slack.Enabled {
		token := os.Getenv(cfg.Slack.TokenEnv)
		return notify.NewSlackNotifier(token, cfg.Slack.Channel)
	}
	return notify.NewEmailNotifier(cfg.Email)
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}
	setupLogging()

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting analyst engine",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)
	metrics.BuildInfo.WithLabelValues(version.AppName, version.GitCommit).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Stores and registries
	datasources := store.NewDatasourceStore()
	if err := datasources.Seed(cfg.Datasources); err != nil {
		slog.Error("Failed to seed datasources", "error", err)
		os.Exit(1)
	}
	profiles := store.NewRegistry("agent_profile",
		func(p models.AgentProfile) string { return p.ID })
	planRules := store.NewRegistry("plan_rule",
		func(r models.PlanRule) string { return r.ID })
	chains := store.NewRegistry("chain",
		func(c models.ChainTemplate) string { return c.ID })
	monitorRules := store.NewRegistry("monitor_rule",
		func(r models.MonitorRule) string { return r.ID })
	for _, seed := range []error{
		profiles.Seed(cfg.AgentProfiles),
		planRules.Seed(cfg.PlanRules),
		chains.Seed(cfg.Chains),
		monitorRules.Seed(cfg.MonitorRules),
	} {
		if seed != nil {
			slog.Error("Failed to seed registries", "error", seed)
			os.Exit(1)
		}
	}

	queries := store.NewQueryHistory(historyCap)
	corrections := store.NewCorrectionLog(historyCap)
	chat := store.NewChatHistory(0)
	execLogs := store.NewExecutionLogStore(historyCap)
	alerts := store.NewAlertStore(historyCap)
	executions := store.NewExecutionStore()
	ring := memory.NewRing(cfg.Memory.MaxEvents)

	// 3. Connection pool
	manager := pool.NewManager(pool.Config{
		MaxTotal:           cfg.Pool.MaxTotal,
		MaxPerDatasource:   cfg.Pool.MaxPerDatasource,
		AcquireTimeout:     cfg.Pool.AcquireTimeout(),
		HealthInterval:     cfg.Pool.HealthInterval(),
		DialRetries:        3,
		DialBackoffInitial: 100 * time.Millisecond,
	})
	defer manager.Close()

	// 4. LLM runtime and agents
	bindings := llm.NewBindingRegistry(cfg.LLMBindings, cfg.DefaultLLM, providerFactory)
	runtime := agent.NewRuntime(bindings, profiles, execLogs)
	schemaAgent := agent.NewSchemaAgent(manager, 0)
	defer schemaAgent.Close()

	// 5. Analysis pipeline
	pipeline := analysis.NewPipeline(analysis.Deps{
		Datasources:           datasources,
		Pool:                  manager,
		Schema:                schemaAgent,
		SQL:                   agent.NewSqlAgent(runtime),
		Visualize:             agent.NewVisualizeAgent(runtime),
		Queries:               queries,
		Corrections:           corrections,
		Memory:                ring,
		Chat:                  chat,
		SceneDefaults:         cfg.SceneDefaults,
		MaxCorrectionAttempts: cfg.Analyze.MaxCorrectionAttempts,
		EndToEndTimeout:       cfg.Analyze.EndToEndTimeout(),
	})

	// 6. Planner and execution engine
	planner := planning.NewPlanner(planRules, chains)
	engine := execution.NewEngine(execution.Config{
		MaxAttemptsPerTask: cfg.Execution.MaxAttemptsPerTask,
		StepCap:            cfg.Execution.StepCap,
	}, runtime, executions, execLogs)

	// 7. Monitoring loop
	sources := []monitoring.MetricSource{monitoring.NewSimulatedSource(nil)}
	if len(cfg.Monitoring.MetricQueries) > 0 {
		sources = append(sources, monitoring.NewSQLSource(
			datasources, manager,
			cfg.Monitoring.MetricDatasourceID,
			cfg.Monitoring.MetricQueries,
			metricSQLTimeout))
	}
	watcher := monitoring.NewWatcher(monitoring.Config{
		TickInterval:      cfg.Monitoring.TickInterval(),
		SuppressionWindow: cfg.Monitoring.Suppression(),
	}, monitorRules, alerts, cfg.Diagnosis, selectNotifier(cfg), sources)
	go watcher.Run(ctx)

	// 8. HTTP server
	server := api.NewServer(api.Deps{
		Pipeline:     pipeline,
		Planner:      planner,
		Engine:       engine,
		Watcher:      watcher,
		Datasources:  datasources,
		Executions:   executions,
		ExecLogs:     execLogs,
		Queries:      queries,
		Chat:         chat,
		Alerts:       alerts,
		MonitorRules: monitorRules,
		PlanRules:    planRules,
		Chains:       chains,
		Pool:         manager,
		Schema:       schemaAgent,
		Email:        cfg.Email,
		Diagnosis:    cfg.Diagnosis,
		Version:      version.Full(),
	})

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("Analyst engine started",
		"datasources", len(cfg.Datasources),
		"monitor_rules", monitorRules.Len())

	// 9. Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}
	stop()

	// 10. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
