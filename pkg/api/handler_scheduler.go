package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fern-run/fern/pkg/models"
)

type schedulerCreateRequest struct {
	Prompt      string         `json:"prompt" binding:"required"`
	ScheduledAt *time.Time     `json:"scheduledAt"`
	DelayMs     *int64         `json:"delayMs"`
	CronExpr    string         `json:"cronExpr"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) handleSchedulerCreate(c *gin.Context) {
	var req schedulerCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	var delay *time.Duration
	if req.DelayMs != nil {
		d := time.Duration(*req.DelayMs) * time.Millisecond
		delay = &d
	}

	job, err := s.scheduler.Create(c.Request.Context(), req.Prompt, req.ScheduledAt, delay, req.CronExpr, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type schedulerListRequest struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleSchedulerList(c *gin.Context) {
	var req schedulerListRequest
	_ = c.ShouldBindJSON(&req)

	jobs, err := s.scheduler.List(c.Request.Context(), models.JobStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Limit > 0 && len(jobs) > req.Limit {
		jobs = jobs[:req.Limit]
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) handleSchedulerGet(c *gin.Context) {
	job, err := s.scheduler.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleSchedulerCancel(c *gin.Context) {
	if err := s.scheduler.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
