package api

import (
	"github.com/gin-gonic/gin"

	"github.com/smartbi/analyst/pkg/execution"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/planning"
)

type buildPlanRequest struct {
	Question string       `json:"question" binding:"required"`
	Scene    models.Scene `json:"scene"`
	LoanType string       `json:"loan_type"`
}

func (s *Server) buildPlan(c *gin.Context) {
	var req buildPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid plan request: %v", err)
		return
	}
	plan, err := s.deps.Planner.Build(planning.Request{
		Question: req.Question,
		Scene:    req.Scene,
		LoanType: req.LoanType,
	})
	if err != nil {
		fail(c, err)
		return
	}
	s.deps.Executions.PutPlan(plan)
	respond(c, plan, nil)
}

func (s *Server) listPlans(c *gin.Context) {
	respond(c, s.deps.Executions.ListPlans(), nil)
}

func (s *Server) getPlan(c *gin.Context) {
	plan, err := s.deps.Executions.Plan(c.Param("id"))
	respond(c, plan, err)
}

type startExecutionRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

func (s *Server) startExecution(c *gin.Context) {
	var req startExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid execution request: %v", err)
		return
	}
	plan, err := s.deps.Executions.Plan(req.PlanID)
	if err != nil {
		fail(c, err)
		return
	}
	id, err := s.deps.Engine.Start(plan)
	if err != nil {
		fail(c, err)
		return
	}
	exec, err := s.deps.Engine.Execution(id)
	respond(c, exec, err)
}

func (s *Server) listExecutions(c *gin.Context) {
	respond(c, s.deps.Executions.ListExecutions(), nil)
}

func (s *Server) getExecution(c *gin.Context) {
	exec, err := s.deps.Engine.Execution(c.Param("id"))
	respond(c, exec, err)
}

func (s *Server) executionLogs(c *gin.Context) {
	logs := s.deps.ExecLogs.ForExecution(c.Param("id"))
	respond(c, logs, nil)
}

func (s *Server) tickExecution(c *gin.Context) {
	exec, err := s.deps.Engine.Tick(c.Request.Context(), c.Param("id"))
	respond(c, exec, err)
}

type runExecutionRequest struct {
	MaxSteps int `json:"max_steps"`
}

func (s *Server) runExecution(c *gin.Context) {
	var req runExecutionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid run request: %v", err)
			return
		}
	}
	exec, err := s.deps.Engine.Run(c.Request.Context(), c.Param("id"), req.MaxSteps)
	respond(c, exec, err)
}

func (s *Server) cancelExecution(c *gin.Context) {
	exec, err := s.deps.Engine.Cancel(c.Param("id"))
	respond(c, exec, err)
}

type taskActionRequest struct {
	Action execution.TaskActionKind `json:"action" binding:"required"`
	Detail string                   `json:"detail"`
}

func (s *Server) taskAction(c *gin.Context) {
	var req taskActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid task action: %v", err)
		return
	}
	exec, err := s.deps.Engine.TaskAction(c.Request.Context(),
		c.Param("id"), c.Param("task_id"), req.Action, req.Detail)
	respond(c, exec, err)
}
