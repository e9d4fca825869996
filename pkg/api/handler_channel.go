package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type channelSendRequest struct {
	Channel string `json:"channel" binding:"required"`
	To      string `json:"to" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func (s *Server) handleChannelSend(c *gin.Context) {
	var req channelSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if err := s.channels.SendSync(c.Request.Context(), req.Channel, req.To, req.Content); err != nil {
		if strings.Contains(err.Error(), "unknown channel") {
			c.JSON(http.StatusNotFound, gin.H{"sent": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"sent": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}
