// Package api exposes the engine over HTTP. Every operation responds
// with the standard envelope; error kinds map onto HTTP status codes.
package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartbi/analyst/pkg/agent"
	"github.com/smartbi/analyst/pkg/analysis"
	"github.com/smartbi/analyst/pkg/config"
	"github.com/smartbi/analyst/pkg/dbadapter/pool"
	"github.com/smartbi/analyst/pkg/execution"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/monitoring"
	"github.com/smartbi/analyst/pkg/planning"
	"github.com/smartbi/analyst/pkg/store"
)

// Deps wires the server's collaborators.
type Deps struct {
	Pipeline *analysis.Pipeline
	Planner  *planning.Planner
	Engine   *execution.Engine
	Watcher  *monitoring.Watcher

	Datasources  *store.DatasourceStore
	Executions   *store.ExecutionStore
	ExecLogs     *store.ExecutionLogStore
	Queries      *store.QueryHistory
	Chat         *store.ChatHistory
	Alerts       *store.AlertStore
	MonitorRules *store.Registry[models.MonitorRule]
	PlanRules    *store.Registry[models.PlanRule]
	Chains       *store.Registry[models.ChainTemplate]

	Pool   *pool.Manager
	Schema *agent.SchemaAgent

	Email     config.EmailConfig
	Diagnosis models.DiagnosisConfig
	Version   string
}

// Server is the HTTP front of the engine. Mutable runtime config (email
// channel, diagnosis rules) is guarded by cfgMu; everything else is
// concurrency-safe on its own.
type Server struct {
	deps Deps
	log  *slog.Logger

	cfgMu     sync.RWMutex
	email     config.EmailConfig
	diagnosis models.DiagnosisConfig
}

// NewServer creates the server over its dependencies.
func NewServer(deps Deps) *Server {
	return &Server{
		deps:      deps,
		log:       slog.With("component", "api"),
		email:     deps.Email,
		diagnosis: deps.Diagnosis,
	}
}

// Router builds the gin engine with all routes mounted under /api/v1.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/analyze", s.analyze)

		v1.GET("/datasources", s.listDatasources)
		v1.POST("/datasources", s.putDatasource)
		v1.POST("/datasources/test", s.testConnection)
		v1.GET("/datasources/:id", s.getDatasource)
		v1.PUT("/datasources/:id", s.updateDatasource)
		v1.DELETE("/datasources/:id", s.deleteDatasource)
		v1.GET("/datasources/:id/schema", s.getSchema)

		v1.POST("/query", s.executeQuery)
		v1.GET("/queries", s.listQueries)
		v1.GET("/chat/:session_id", s.chatMessages)

		v1.POST("/plans", s.buildPlan)
		v1.GET("/plans", s.listPlans)
		v1.GET("/plans/:id", s.getPlan)

		v1.GET("/executions", s.listExecutions)
		v1.POST("/executions", s.startExecution)
		v1.GET("/executions/:id", s.getExecution)
		v1.GET("/executions/:id/logs", s.executionLogs)
		v1.POST("/executions/:id/tick", s.tickExecution)
		v1.POST("/executions/:id/run", s.runExecution)
		v1.POST("/executions/:id/cancel", s.cancelExecution)
		v1.POST("/executions/:id/tasks/:task_id/action", s.taskAction)

		v1.GET("/monitoring/snapshot", s.monitoringSnapshot)
		v1.POST("/monitoring/check", s.monitoringCheck)
		v1.GET("/monitoring/alerts", s.listAlerts)
		v1.POST("/monitoring/alerts/:id/ack", s.acknowledgeAlert)
		v1.POST("/monitoring/alerts/:id/resend", s.resendAlert)

		v1.GET("/config/monitor-rules", s.getMonitorRules)
		v1.PUT("/config/monitor-rules", s.putMonitorRules)
		v1.GET("/config/plan-rules", s.getPlanRules)
		v1.PUT("/config/plan-rules", s.putPlanRules)
		v1.GET("/config/chains", s.getChains)
		v1.PUT("/config/chains", s.putChains)
		v1.GET("/config/diagnosis", s.getDiagnosis)
		v1.PUT("/config/diagnosis", s.putDiagnosis)
		v1.GET("/config/email", s.getEmail)
		v1.PUT("/config/email", s.putEmail)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "healthy", "version": s.deps.Version}
	if s.deps.Pool != nil {
		body["pool"] = s.deps.Pool.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// EmailConfig returns the current email channel settings.
func (s *Server) EmailConfig() config.EmailConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.email
}
