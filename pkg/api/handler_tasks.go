package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fern-run/fern/pkg/models"
)

type tasksCreateRequest struct {
	ThreadID    string `json:"threadId" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) handleTasksCreate(c *gin.Context) {
	var req tasksCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	task, err := s.todo.Create(c.Request.Context(), req.ThreadID, req.Title, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type tasksListRequest struct {
	ThreadID string `json:"threadId" binding:"required"`
}

func (s *Server) handleTasksList(c *gin.Context) {
	var req tasksListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	tasks, err := s.todo.List(c.Request.Context(), req.ThreadID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

type tasksUpdateRequest struct {
	Status      string `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description"`
	SortOrder   *int   `json:"sortOrder"`
}

// handleTasksUpdate applies a status change and/or field edit, then returns
// both the updated task and the full refreshed list for its thread.
func (s *Server) handleTasksUpdate(c *gin.Context) {
	id := c.Param("id")
	var req tasksUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if req.Status != "" {
		if err := s.todo.SetStatus(c.Request.Context(), id, models.TodoStatus(req.Status)); err != nil {
			respondError(c, err)
			return
		}
	}

	task, err := s.todo.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Title != "" || req.Description != "" || req.SortOrder != nil {
		title := task.Title
		if req.Title != "" {
			title = req.Title
		}
		description := task.Description
		if req.Description != "" {
			description = req.Description
		}
		sortOrder := task.SortOrder
		if req.SortOrder != nil {
			sortOrder = *req.SortOrder
		}
		task, err = s.todo.Update(c.Request.Context(), id, title, description, sortOrder)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	tasks, err := s.todo.List(c.Request.Context(), task.ThreadID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "tasks": tasks})
}

// handleTasksNext returns the next actionable task for a thread: the first
// in_progress item if any, else the highest-priority pending item.
func (s *Server) handleTasksNext(c *gin.Context) {
	threadID := c.Query("threadId")
	if threadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "threadId is required"})
		return
	}

	tasks, err := s.todo.List(c.Request.Context(), threadID)
	if err != nil {
		respondError(c, err)
		return
	}

	for _, t := range tasks {
		if t.Status == models.TodoInProgress || t.Status == models.TodoPending {
			c.JSON(http.StatusOK, gin.H{"task": t})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"task": nil})
}
