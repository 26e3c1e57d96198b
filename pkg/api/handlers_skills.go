package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

func (s *Server) handleCreateCandidate(c *gin.Context) {
	var req createCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "skill_key and execution_ids are required"))
		return
	}

	candidate, err := s.history.CreateCandidate(c.Request.Context(), ownerOf(c),
		req.SkillKey, req.ExecutionIDs)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCandidateResponse(candidate))
}

func (s *Server) handleListCandidates(c *gin.Context) {
	candidates, err := s.history.ListCandidates(c.Request.Context(), ownerOf(c),
		c.Query("skill_key"), types.CandidateState(c.Query("state")))
	if err != nil {
		renderError(c, err)
		return
	}
	resp := make([]candidateResponse, len(candidates))
	for i, candidate := range candidates {
		resp[i] = toCandidateResponse(candidate)
	}
	c.JSON(http.StatusOK, gin.H{"candidates": resp})
}

func (s *Server) handleGetCandidate(c *gin.Context) {
	candidate, err := s.history.GetCandidate(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCandidateResponse(candidate))
}

func (s *Server) handleEvaluateCandidate(c *gin.Context) {
	var req evaluateCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "request body must be valid JSON"))
		return
	}

	candidate, err := s.history.Evaluate(c.Request.Context(), ownerOf(c), c.Param("id"),
		req.Score, req.Passed)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCandidateResponse(candidate))
}

func (s *Server) handlePromoteCandidate(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "failed to read request body"))
		return
	}
	var req promoteCandidateRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Stage == "" {
		renderError(c, bayerr.New(bayerr.CodeValidation, "stage is required"))
		return
	}

	owner := ownerOf(c)
	candidateID := c.Param("id")
	result, err := s.idem.Run(c.Request.Context(), owner, "POST /v1/skills/candidates/"+candidateID+"/promote",
		c.GetHeader(headerIdempotency), body, func(ctx context.Context) (int, []byte, error) {
			release, err := s.history.Promote(ctx, owner, candidateID, types.ReleaseStage(req.Stage))
			if err != nil {
				return 0, nil, err
			}
			data, err := json.Marshal(toReleaseResponse(release))
			return http.StatusCreated, data, err
		})
	if err != nil {
		renderError(c, err)
		return
	}
	c.Data(result.StatusCode, "application/json", result.Body)
}

func (s *Server) handleListReleases(c *gin.Context) {
	releases, err := s.history.ListReleases(c.Request.Context(), ownerOf(c), c.Query("skill_key"))
	if err != nil {
		renderError(c, err)
		return
	}
	resp := make([]releaseResponse, len(releases))
	for i, release := range releases {
		resp[i] = toReleaseResponse(release)
	}
	c.JSON(http.StatusOK, gin.H{"releases": resp})
}

func (s *Server) handleRollbackRelease(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "skill_key and stage are required"))
		return
	}

	restored, err := s.history.Rollback(c.Request.Context(), ownerOf(c),
		req.SkillKey, types.ReleaseStage(req.Stage))
	if err != nil {
		renderError(c, err)
		return
	}
	if restored == nil {
		c.JSON(http.StatusOK, gin.H{"restored": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": toReleaseResponse(restored)})
}
