package main

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/fern-run/fern/pkg/events"
)

// handleWebsocket upgrades GET /ws/:threadId and hands the connection to the
// events manager, which blocks for the connection's lifetime.
func handleWebsocket(c *gin.Context, mgr *events.Manager) {
	threadID := c.Param("threadId")
	if threadID == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	mgr.HandleConnection(context.Background(), threadID, conn)
}
