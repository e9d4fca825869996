// Package api provides the internal HTTP API: the chat entrypoint and the
// scheduler, subagent, memory, task, and channel management endpoints,
// guarded by a shared-secret header when one is configured.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fern-run/fern/pkg/agentrt"
	"github.com/fern-run/fern/pkg/channel"
	"github.com/fern-run/fern/pkg/memory"
	"github.com/fern-run/fern/pkg/scheduler"
	"github.com/fern-run/fern/pkg/subagent"
	"github.com/fern-run/fern/pkg/todo"
	"github.com/fern-run/fern/pkg/version"
)

// Runtime is the subset of agentrt.Runtime the chat endpoint needs.
type Runtime interface {
	RunTurn(ctx context.Context, in agentrt.RunInput) agentrt.RunOutput
}

// Server wires the core managers into a gin router.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	runtime   Runtime
	scheduler *scheduler.Manager
	subagent  *subagent.Manager
	memory    *memory.Manager
	todo      *todo.Manager
	channels  *channel.Registry
}

// NewServer creates a Server and registers every route. apiSecret, when
// non-empty, requires every /internal/* and /api/* request to carry a
// matching X-Fern-Secret header.
func NewServer(
	runtime Runtime,
	schedulerMgr *scheduler.Manager,
	subagentMgr *subagent.Manager,
	memoryMgr *memory.Manager,
	todoMgr *todo.Manager,
	channels *channel.Registry,
	apiSecret string,
) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		runtime:   runtime,
		scheduler: schedulerMgr,
		subagent:  subagentMgr,
		memory:    memoryMgr,
		todo:      todoMgr,
		channels:  channels,
	}

	engine.GET("/internal/health", s.handleHealth)

	guarded := engine.Group("/", sharedSecretAuth(apiSecret))
	guarded.POST("/api/chat", s.handleChat)

	guarded.POST("/internal/memory/write", s.handleMemoryWrite)
	guarded.POST("/internal/memory/search", s.handleMemorySearch)
	guarded.POST("/internal/memory/read", s.handleMemoryRead)
	guarded.DELETE("/internal/memory/delete/:id", s.handleMemoryDelete)

	guarded.POST("/internal/scheduler/create", s.handleSchedulerCreate)
	guarded.POST("/internal/scheduler/list", s.handleSchedulerList)
	guarded.GET("/internal/scheduler/get/:id", s.handleSchedulerGet)
	guarded.POST("/internal/scheduler/cancel/:id", s.handleSchedulerCancel)

	guarded.POST("/internal/subagent/spawn", s.handleSubagentSpawn)
	guarded.GET("/internal/subagent/get/:id", s.handleSubagentGet)
	guarded.POST("/internal/subagent/cancel/:id", s.handleSubagentCancel)

	guarded.POST("/internal/channel/send", s.handleChannelSend)

	guarded.POST("/internal/tasks/create", s.handleTasksCreate)
	guarded.POST("/internal/tasks/list", s.handleTasksList)
	guarded.POST("/internal/tasks/update/:id", s.handleTasksUpdate)
	guarded.GET("/internal/tasks/next", s.handleTasksNext)

	return s
}

// Handler returns the underlying http.Handler, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Engine exposes the underlying gin.Engine so callers can mount additional
// unguarded routes (the transport webhook endpoint) on the same router.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full(), "time": time.Now().UTC()})
}
