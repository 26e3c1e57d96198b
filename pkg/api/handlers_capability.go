package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baylabs/bay/pkg/adapter"
	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/metrics"
	"github.com/baylabs/bay/pkg/router"
	"github.com/baylabs/bay/pkg/types"
)

func capabilityOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(bayerr.CodeOf(err))
}

func (s *Server) handleExecPython(c *gin.Context) {
	var req execPythonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "code is required"))
		return
	}

	timer := metrics.NewTimer(metrics.CapabilityDuration.WithLabelValues(string(types.ExecPython)))
	rec, result, err := s.router.ExecPython(c.Request.Context(), ownerOf(c), c.Param("id"),
		req.Code, router.ClampTimeout(req.TimeoutSeconds))
	timer.Stop()
	metrics.CapabilityCalls.WithLabelValues(string(types.ExecPython), capabilityOutcome(err)).Inc()
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecResponse(rec, result))
}

func (s *Server) handleExecShell(c *gin.Context) {
	var req execShellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "command is required"))
		return
	}

	timer := metrics.NewTimer(metrics.CapabilityDuration.WithLabelValues(string(types.ExecShell)))
	rec, result, err := s.router.ExecShell(c.Request.Context(), ownerOf(c), c.Param("id"),
		req.Command, req.Cwd, router.ClampTimeout(req.TimeoutSeconds))
	timer.Stop()
	metrics.CapabilityCalls.WithLabelValues(string(types.ExecShell), capabilityOutcome(err)).Inc()
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecResponse(rec, result))
}

func (s *Server) handleReadFile(c *gin.Context) {
	path := c.Query("path")
	content, err := s.router.ReadFile(c.Request.Context(), ownerOf(c), c.Param("id"), path)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, fileContentResponse{Path: path, Content: content})
}

func (s *Server) handleWriteFile(c *gin.Context) {
	var req writeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "path is required"))
		return
	}
	if err := s.router.WriteFile(c.Request.Context(), ownerOf(c), c.Param("id"),
		req.Path, req.Content); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "written": true})
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	path := c.Query("path")
	if err := s.router.DeleteFile(c.Request.Context(), ownerOf(c), c.Param("id"), path); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListFiles(c *gin.Context) {
	path := c.Query("path")
	entries, err := s.router.ListFiles(c.Request.Context(), ownerOf(c), c.Param("id"), path)
	if err != nil {
		renderError(c, err)
		return
	}
	if entries == nil {
		entries = []adapter.FileEntry{}
	}
	c.JSON(http.StatusOK, fileListResponse{Path: path, Entries: entries})
}

func (s *Server) handleUpload(c *gin.Context) {
	path := c.Query("path")
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 64<<20))
	if err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "failed to read upload body"))
		return
	}
	if err := s.router.Upload(c.Request.Context(), ownerOf(c), c.Param("id"), path, data); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "size": len(data)})
}

func (s *Server) handleDownload(c *gin.Context) {
	path := c.Query("path")
	data, err := s.router.Download(c.Request.Context(), ownerOf(c), c.Param("id"), path)
	if err != nil {
		renderError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleExecBrowser(c *gin.Context) {
	var req browserExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "command is required"))
		return
	}

	timer := metrics.NewTimer(metrics.CapabilityDuration.WithLabelValues(string(types.ExecBrowser)))
	rec, result, err := s.router.ExecBrowser(c.Request.Context(), ownerOf(c), c.Param("id"),
		req.Command, router.ClampTimeout(req.TimeoutSeconds))
	timer.Stop()
	metrics.CapabilityCalls.WithLabelValues(string(types.ExecBrowser), capabilityOutcome(err)).Inc()
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecResponse(rec, result))
}

func (s *Server) handleExecBrowserBatch(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "failed to read request body"))
		return
	}
	var req browserBatchRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Commands) == 0 {
		renderError(c, bayerr.New(bayerr.CodeValidation, "commands is required"))
		return
	}

	owner := ownerOf(c)
	sandboxID := c.Param("id")
	// The scope carries the sandbox id so a key replays only against the
	// sandbox it was first used with.
	result, err := s.idem.Run(c.Request.Context(), owner, "POST /v1/sandboxes/"+sandboxID+"/browser/exec_batch",
		c.GetHeader(headerIdempotency), body, func(ctx context.Context) (int, []byte, error) {
			timer := metrics.NewTimer(metrics.CapabilityDuration.WithLabelValues(string(types.ExecBrowserBatch)))
			rec, batch, err := s.router.ExecBrowserBatch(ctx, owner, sandboxID,
				req.Commands, router.ClampTimeout(req.TimeoutSeconds), req.StopOnError)
			timer.Stop()
			metrics.CapabilityCalls.WithLabelValues(string(types.ExecBrowserBatch), capabilityOutcome(err)).Inc()
			if err != nil {
				return 0, nil, err
			}
			data, err := json.Marshal(browserBatchResponse{
				ExecutionID: rec.ID,
				Success:     batch.Success,
				Steps:       batch.Steps,
			})
			return http.StatusOK, data, err
		})
	if err != nil {
		renderError(c, err)
		return
	}
	c.Data(result.StatusCode, "application/json", result.Body)
}
