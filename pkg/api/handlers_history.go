package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/store"
	"github.com/baylabs/bay/pkg/types"
)

func (s *Server) handleListExecutions(c *gin.Context) {
	filter := store.ExecutionFilter{
		SandboxID: c.Query("sandbox_id"),
		Type:      types.ExecType(c.Query("type")),
		Tag:       c.Query("tag"),
		Limit:     intQuery(c, "limit", 50),
		Offset:    intQuery(c, "offset", 0),
	}
	if raw := c.Query("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			renderError(c, bayerr.New(bayerr.CodeValidation, "success must be a boolean"))
			return
		}
		filter.Success = &success
	}

	records, err := s.history.ListExecutions(c.Request.Context(), ownerOf(c), filter)
	if err != nil {
		renderError(c, err)
		return
	}
	resp := make([]executionResponse, len(records))
	for i, rec := range records {
		resp[i] = toExecutionResponse(rec)
	}
	c.JSON(http.StatusOK, gin.H{"executions": resp})
}

func (s *Server) handleGetExecution(c *gin.Context) {
	rec, err := s.history.GetExecution(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResponse(rec))
}

func (s *Server) handleGetLastExecution(c *gin.Context) {
	rec, err := s.history.GetLastExecution(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResponse(rec))
}

func (s *Server) handleAnnotateExecution(c *gin.Context) {
	var req annotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "request body must be valid JSON"))
		return
	}

	rec, err := s.history.Annotate(c.Request.Context(), ownerOf(c), c.Param("id"),
		req.Description, req.Tags, req.Notes)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResponse(rec))
}
