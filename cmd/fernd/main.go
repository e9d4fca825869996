// fernd is the Fern agent runtime server: it wires the embedded store, the
// LLM backend, the agent session coordinator, and every ambient subsystem
// (subagents, scheduler, memory, todos, channels, events, the internal API,
// and the transport webhook) into one process.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/fern-run/fern/pkg/agentrt"
	"github.com/fern-run/fern/pkg/channel"
	"github.com/fern-run/fern/pkg/config"
	"github.com/fern-run/fern/pkg/coordinator"
	"github.com/fern-run/fern/pkg/events"
	"github.com/fern-run/fern/pkg/llmbackend"
	"github.com/fern-run/fern/pkg/masking"
	"github.com/fern-run/fern/pkg/memory"
	"github.com/fern-run/fern/pkg/scheduler"
	"github.com/fern-run/fern/pkg/store"
	"github.com/fern-run/fern/pkg/subagent"
	"github.com/fern-run/fern/pkg/threadsession"
	"github.com/fern-run/fern/pkg/todo"
	"github.com/fern-run/fern/pkg/version"
	"github.com/fern-run/fern/pkg/webhook"

	fernapi "github.com/fern-run/fern/pkg/api"
)

const sessionIdleTTL = 6 * time.Hour

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded, continuing with process environment: %v", err)
	}
	cfg := config.Load()

	gin.SetMode(gin.ReleaseMode)
	log.Printf("Starting %s on port %s", version.Full(), cfg.Port)

	db, err := store.Open(cfg.StoragePath)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("error closing storage: %v", err)
		}
	}()

	backend := llmbackend.New(llmbackend.Config{StoragePath: cfg.StoragePath})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := backend.Ensure(ctx); err != nil {
		cancel()
		log.Fatalf("failed to start llm backend: %v", err)
	}
	cancel()
	defer func() {
		if err := backend.Close(); err != nil {
			log.Printf("error closing llm backend: %v", err)
		}
	}()

	sessions := threadsession.New(sessionIdleTTL)
	coord := coordinator.New()
	eventMgr := events.NewManager()

	memMgr := memory.NewManager(db, backend, masking.NewService(), cfg.Memory)
	runtime := agentrt.New(backend, sessions, coord, memMgr, eventMgr)

	schedMgr := scheduler.NewManager(db, runtime, cfg.Scheduler)
	subMgr := subagent.NewManager(db, runtime, coord, cfg.Subagent)
	todoMgr := todo.NewManager(db, cfg.Retention)

	channels := channel.NewRegistry()

	if cfg.Subagent.Enabled {
		if err := subMgr.Start(context.Background()); err != nil {
			log.Fatalf("failed to start subagent manager: %v", err)
		}
		defer subMgr.Stop()
	}
	if cfg.Scheduler.Enabled {
		if err := schedMgr.Start(context.Background()); err != nil {
			log.Fatalf("failed to start scheduler: %v", err)
		}
		defer schedMgr.Stop()
	}
	todoMgr.Start(context.Background())
	defer todoMgr.Stop()

	apiServer := fernapi.NewServer(runtime, schedMgr, subMgr, memMgr, todoMgr, channels, cfg.APISecret)

	webhookHandler := webhook.NewHandler(runtime, channels, cfg.WebhookURL != "")
	apiServer.Engine().POST("/webhook/:channel", webhookHandler.Handle)
	apiServer.Engine().GET("/ws/:threadId", func(c *gin.Context) {
		// Upgraded in handleWebsocket; kept as a thin adapter so pkg/events
		// never depends on gin directly.
		handleWebsocket(c, eventMgr)
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("internal API listening on :%s", cfg.Port)
		if err := apiServer.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("shutting down")
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down http server", "error", err)
	}
}
