package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fern-run/fern/pkg/apierr"
)

// respondError maps a classified error to its HTTP status and writes a
// structured JSON error body.
func respondError(c *gin.Context, err error) {
	status := apierr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("Internal API error", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}
