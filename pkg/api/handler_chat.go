package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fern-run/fern/pkg/agentrt"
)

// chatRequest is the body for POST /api/chat.
type chatRequest struct {
	ThreadID string         `json:"threadId" binding:"required"`
	Message  string         `json:"message" binding:"required"`
	Context  map[string]any `json:"context"`
}

// handleChat runs a turn and returns its session id. runTurn never
// returns an error — a backend failure surfaces as a human-readable
// response string, which this endpoint still reports as success:true
// since the turn itself completed and was delivered.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	out := s.runtime.RunTurn(c.Request.Context(), agentrt.RunInput{
		ThreadID: req.ThreadID,
		Message:  req.Message,
	})

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": out.ThreadID,
		"response":  out.Response,
	})
}
