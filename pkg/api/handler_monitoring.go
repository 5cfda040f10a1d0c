package api

import (
	"github.com/gin-gonic/gin"

	"github.com/smartbi/analyst/pkg/models"
)

func (s *Server) monitoringSnapshot(c *gin.Context) {
	snap, err := s.deps.Watcher.Snapshot(c.Request.Context())
	respond(c, snap, err)
}

// monitoringCheck forces one full pass outside the ticker cadence.
func (s *Server) monitoringCheck(c *gin.Context) {
	raised, err := s.deps.Watcher.Check(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if raised == nil {
		raised = []models.Alert{}
	}
	respond(c, raised, nil)
}

func (s *Server) listAlerts(c *gin.Context) {
	status := models.AlertStatus(c.Query("status"))
	respond(c, s.deps.Alerts.List(status), nil)
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	alert, err := s.deps.Watcher.Acknowledge(c.Param("id"))
	respond(c, alert, err)
}

func (s *Server) resendAlert(c *gin.Context) {
	alert, err := s.deps.Watcher.Resend(c.Request.Context(), c.Param("id"))
	respond(c, alert, err)
}
