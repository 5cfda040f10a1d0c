package api

import (
	"github.com/gin-gonic/gin"

	"github.com/smartbi/analyst/pkg/models"
)

type analyzeRequest struct {
	Question       string       `json:"question" binding:"required"`
	DatasourceID   string       `json:"datasource_id"`
	Scene          models.Scene `json:"scene"`
	SessionID      string       `json:"session_id"`
	LLMBindingID   string       `json:"llm_binding_id"`
	AgentProfileID string       `json:"agent_profile_id"`
	Visualize      bool         `json:"visualize"`
}

// analyze runs one question end to end. A failed run still returns the
// partial result (last SQL, attempts, error trail) in the envelope.
func (s *Server) analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid analyze request: %v", err)
		return
	}

	result, err := s.deps.Pipeline.Analyze(c.Request.Context(), models.AnalysisRequest{
		Question:       req.Question,
		DatasourceID:   req.DatasourceID,
		Scene:          req.Scene,
		SessionID:      req.SessionID,
		LLMBindingID:   req.LLMBindingID,
		AgentProfileID: req.AgentProfileID,
		Visualize:      req.Visualize,
	})
	if err != nil {
		failedWith(c, result, err)
		return
	}
	respond(c, result, nil)
}

// chatMessages returns a session transcript, oldest first.
func (s *Server) chatMessages(c *gin.Context) {
	respond(c, s.deps.Chat.Messages(c.Param("session_id")), nil)
}
