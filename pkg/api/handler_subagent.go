package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fern-run/fern/pkg/models"
)

type subagentSpawnRequest struct {
	Type            string         `json:"type" binding:"required"`
	Prompt          string         `json:"prompt" binding:"required"`
	Description     string         `json:"description" binding:"required"`
	ParentSessionID string         `json:"parentSessionId"`
	Metadata        map[string]any `json:"metadata"`
}

func (s *Server) handleSubagentSpawn(c *gin.Context) {
	var req subagentSpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	task, err := s.subagent.SpawnTask(c.Request.Context(), models.SubagentType(req.Type), req.Prompt, req.Description, req.ParentSessionID, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleSubagentGet(c *gin.Context) {
	wait := c.Query("wait") == "true"
	timeout := subagentWaitTimeout(c.Query("timeout"))

	task, err := s.subagent.GetTask(c.Request.Context(), c.Param("id"), wait, timeout)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleSubagentCancel(c *gin.Context) {
	if err := s.subagent.CancelTask(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func subagentWaitTimeout(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
