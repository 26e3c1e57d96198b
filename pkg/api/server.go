package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/baylabs/bay/pkg/config"
	"github.com/baylabs/bay/pkg/gc"
	"github.com/baylabs/bay/pkg/history"
	"github.com/baylabs/bay/pkg/idempotency"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/manager"
	"github.com/baylabs/bay/pkg/metrics"
	"github.com/baylabs/bay/pkg/router"
)

// Server is the HTTP front of the service: the /v1 resource surface plus
// health and metrics endpoints.
type Server struct {
	server    *http.Server
	sandboxes *manager.SandboxManager
	cargos    *manager.CargoManager
	router    *router.Router
	history   *history.Service
	idem      *idempotency.Service
	collector *gc.Collector
	profiles  *config.ProfileRegistry
	logger    zerolog.Logger
}

// Deps carries the server's collaborators.
type Deps struct {
	Config    *config.Config
	Sandboxes *manager.SandboxManager
	Cargos    *manager.CargoManager
	Router    *router.Router
	History   *history.Service
	Idem      *idempotency.Service
	Collector *gc.Collector
	Profiles  *config.ProfileRegistry
}

// NewServer builds the HTTP server and its route table.
func NewServer(deps Deps) *Server {
	s := &Server{
		sandboxes: deps.Sandboxes,
		cargos:    deps.Cargos,
		router:    deps.Router,
		history:   deps.History,
		idem:      deps.Idem,
		collector: deps.Collector,
		profiles:  deps.Profiles,
		logger:    log.WithComponent("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(metricsMiddleware())
	engine.Use(cors.Default())

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := engine.Group("/v1")
	v1.Use(authMiddleware(deps.Config.Auth))
	if deps.Config.RateLimit.Enabled {
		v1.Use(rateLimitMiddleware(deps.Config.RateLimit))
	}

	v1.POST("/sandboxes", s.handleCreateSandbox)
	v1.GET("/sandboxes", s.handleListSandboxes)
	v1.GET("/sandboxes/:id", s.handleGetSandbox)
	v1.POST("/sandboxes/:id/keepalive", s.handleKeepalive)
	v1.POST("/sandboxes/:id/extend_ttl", s.handleExtendTTL)
	v1.POST("/sandboxes/:id/stop", s.handleStopSandbox)
	v1.DELETE("/sandboxes/:id", s.handleDeleteSandbox)
	v1.GET("/sandboxes/:id/logs", s.handleContainerLogs)

	v1.POST("/sandboxes/:id/python/exec", s.handleExecPython)
	v1.POST("/sandboxes/:id/shell/exec", s.handleExecShell)
	v1.GET("/sandboxes/:id/filesystem/files", s.handleReadFile)
	v1.PUT("/sandboxes/:id/filesystem/files", s.handleWriteFile)
	v1.DELETE("/sandboxes/:id/filesystem/files", s.handleDeleteFile)
	v1.GET("/sandboxes/:id/filesystem/directories", s.handleListFiles)
	v1.POST("/sandboxes/:id/filesystem/upload", s.handleUpload)
	v1.GET("/sandboxes/:id/filesystem/download", s.handleDownload)
	v1.POST("/sandboxes/:id/browser/exec", s.handleExecBrowser)
	v1.POST("/sandboxes/:id/browser/exec_batch", s.handleExecBrowserBatch)

	v1.POST("/cargos", s.handleCreateCargo)
	v1.GET("/cargos", s.handleListCargos)
	v1.GET("/cargos/:id", s.handleGetCargo)
	v1.DELETE("/cargos/:id", s.handleDeleteCargo)

	v1.GET("/history/executions", s.handleListExecutions)
	v1.GET("/history/executions/:id", s.handleGetExecution)
	v1.GET("/history/sandboxes/:id/last", s.handleGetLastExecution)
	v1.PATCH("/history/executions/:id", s.handleAnnotateExecution)

	v1.POST("/skills/candidates", s.handleCreateCandidate)
	v1.GET("/skills/candidates", s.handleListCandidates)
	v1.GET("/skills/candidates/:id", s.handleGetCandidate)
	v1.POST("/skills/candidates/:id/evaluate", s.handleEvaluateCandidate)
	v1.POST("/skills/candidates/:id/promote", s.handlePromoteCandidate)
	v1.GET("/skills/releases", s.handleListReleases)
	v1.POST("/skills/releases/rollback", s.handleRollbackRelease)

	v1.GET("/profiles", s.handleListProfiles)
	v1.POST("/admin/gc/:task", s.handleTriggerGC)

	s.server = &http.Server{
		Addr:              deps.Config.Server.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
