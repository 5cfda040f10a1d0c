package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartbi/analyst/pkg/config"
	"github.com/smartbi/analyst/pkg/models"
)

func (s *Server) getMonitorRules(c *gin.Context) {
	respond(c, s.deps.MonitorRules.List(), nil)
}

// putMonitorRules replaces the rule set. The next monitoring pass picks
// up the new rules.
func (s *Server) putMonitorRules(c *gin.Context) {
	var rules []models.MonitorRule
	if err := c.ShouldBindJSON(&rules); err != nil {
		badRequest(c, "invalid monitor rules: %v", err)
		return
	}
	if err := s.deps.MonitorRules.Replace(rules); err != nil {
		fail(c, err)
		return
	}
	respond(c, s.deps.MonitorRules.List(), nil)
}

func (s *Server) getPlanRules(c *gin.Context) {
	respond(c, s.deps.PlanRules.List(), nil)
}

func (s *Server) putPlanRules(c *gin.Context) {
	var rules []models.PlanRule
	if err := c.ShouldBindJSON(&rules); err != nil {
		badRequest(c, "invalid plan rules: %v", err)
		return
	}
	if err := s.deps.PlanRules.Replace(rules); err != nil {
		fail(c, err)
		return
	}
	respond(c, s.deps.PlanRules.List(), nil)
}

func (s *Server) getChains(c *gin.Context) {
	respond(c, s.deps.Chains.List(), nil)
}

func (s *Server) putChains(c *gin.Context) {
	var chains []models.ChainTemplate
	if err := c.ShouldBindJSON(&chains); err != nil {
		badRequest(c, "invalid chains: %v", err)
		return
	}
	if err := s.deps.Chains.Replace(chains); err != nil {
		fail(c, err)
		return
	}
	respond(c, s.deps.Chains.List(), nil)
}

func (s *Server) getDiagnosis(c *gin.Context) {
	s.cfgMu.RLock()
	diag := s.diagnosis
	s.cfgMu.RUnlock()
	respond(c, diag, nil)
}

// putDiagnosis replaces the attribution rule set and hands it to the
// watcher for the next pass.
func (s *Server) putDiagnosis(c *gin.Context) {
	var diag models.DiagnosisConfig
	if err := c.ShouldBindJSON(&diag); err != nil {
		badRequest(c, "invalid diagnosis config: %v", err)
		return
	}
	s.cfgMu.Lock()
	s.diagnosis = diag
	s.cfgMu.Unlock()
	if s.deps.Watcher != nil {
		s.deps.Watcher.SetDiagnosisConfig(diag)
	}
	respond(c, diag, nil)
}

func (s *Server) getEmail(c *gin.Context) {
	s.cfgMu.RLock()
	cfg := s.email
	s.cfgMu.RUnlock()
	cfg.Password = ""
	respond(c, cfg, nil)
}

// putEmail updates the email channel settings. An empty password keeps
// the stored one, so reads never round-trip the secret.
func (s *Server) putEmail(c *gin.Context) {
	var cfg config.EmailConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid email config: %v", err)
		return
	}
	s.cfgMu.Lock()
	if cfg.Password == "" {
		cfg.Password = s.email.Password
	}
	cfg.UpdatedAt = time.Now().UTC()
	s.email = cfg
	s.cfgMu.Unlock()

	masked := cfg
	masked.Password = ""
	respond(c, masked, nil)
}
