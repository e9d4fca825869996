package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fern-run/fern/pkg/models"
)

type memoryWriteRequest struct {
	Type    string   `json:"type" binding:"required"`
	Content string   `json:"content" binding:"required"`
	Tags    []string `json:"tags"`
}

func (s *Server) handleMemoryWrite(c *gin.Context) {
	var req memoryWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	mem, err := s.memory.WriteMemory(c.Request.Context(), models.MemoryType(req.Type), req.Content, req.Tags)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mem)
}

type memorySearchRequest struct {
	Query    string `json:"query" binding:"required"`
	Limit    int    `json:"limit"`
	ThreadID string `json:"threadId"`
}

func (s *Server) handleMemorySearch(c *gin.Context) {
	var req memorySearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	results, err := s.memory.Search(c.Request.Context(), req.Query, req.Limit, req.ThreadID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

type memoryReadRequest struct {
	ThreadID string `json:"threadId" binding:"required"`
	ChunkID  string `json:"chunkId" binding:"required"`
}

func (s *Server) handleMemoryRead(c *gin.Context) {
	var req memoryReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	chunk, err := s.memory.ReadChunk(c.Request.Context(), req.ThreadID, req.ChunkID)
	if err != nil {
		respondError(c, err)
		return
	}
	if chunk == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "chunk not found"})
		return
	}
	c.JSON(http.StatusOK, chunk)
}

func (s *Server) handleMemoryDelete(c *gin.Context) {
	id := c.Param("id")
	if err := s.memory.DeleteMemory(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
