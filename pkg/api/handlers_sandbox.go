package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/manager"
	"github.com/baylabs/bay/pkg/metrics"
	"github.com/baylabs/bay/pkg/types"
)

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}

func (s *Server) handleCreateSandbox(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "failed to read request body"))
		return
	}
	var req createSandboxRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			renderError(c, bayerr.New(bayerr.CodeValidation, "request body must be valid JSON"))
			return
		}
	}

	owner := ownerOf(c)
	result, err := s.idem.Run(c.Request.Context(), owner, "POST /v1/sandboxes",
		c.GetHeader(headerIdempotency), body, func(ctx context.Context) (int, []byte, error) {
			sandbox, err := s.sandboxes.Create(ctx, owner, manager.CreateRequest{
				ProfileID:  req.ProfileID,
				TTLSeconds: req.TTLSeconds,
				CargoID:    req.CargoID,
			})
			if err != nil {
				return 0, nil, err
			}
			metrics.SandboxesCreated.Inc()
			data, err := json.Marshal(toSandboxResponse(sandbox, types.SandboxIdle))
			return http.StatusCreated, data, err
		})
	if err != nil {
		renderError(c, err)
		return
	}
	c.Data(result.StatusCode, "application/json", result.Body)
}

func (s *Server) handleListSandboxes(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	sandboxes, statuses, next, err := s.sandboxes.List(c.Request.Context(), ownerOf(c),
		c.Query("cursor"), limit)
	if err != nil {
		renderError(c, err)
		return
	}

	resp := sandboxListResponse{
		Sandboxes:  make([]sandboxResponse, len(sandboxes)),
		NextCursor: next,
	}
	for i := range sandboxes {
		resp.Sandboxes[i] = toSandboxResponse(sandboxes[i], statuses[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetSandbox(c *gin.Context) {
	sandbox, status, err := s.sandboxes.Get(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSandboxResponse(sandbox, status))
}

func (s *Server) handleKeepalive(c *gin.Context) {
	sandbox, err := s.sandboxes.Keepalive(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":              sandbox.ID,
		"idle_expires_at": sandbox.IdleExpiresAt,
	})
}

func (s *Server) handleExtendTTL(c *gin.Context) {
	var req extendTTLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "ttl_seconds is required"))
		return
	}

	sandbox, err := s.sandboxes.ExtendTTL(c.Request.Context(), ownerOf(c), c.Param("id"),
		secondsToDuration(req.TTLSeconds))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         sandbox.ID,
		"expires_at": sandbox.ExpiresAt,
	})
}

func (s *Server) handleStopSandbox(c *gin.Context) {
	if err := s.sandboxes.Stop(c.Request.Context(), ownerOf(c), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": string(types.SandboxIdle)})
}

func (s *Server) handleDeleteSandbox(c *gin.Context) {
	if err := s.sandboxes.Delete(c.Request.Context(), ownerOf(c), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	metrics.SandboxesDeleted.Inc()
	c.Status(http.StatusNoContent)
}
