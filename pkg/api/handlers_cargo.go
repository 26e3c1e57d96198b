package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baylabs/bay/pkg/bayerr"
)

func (s *Server) handleCreateCargo(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		renderError(c, bayerr.New(bayerr.CodeValidation, "failed to read request body"))
		return
	}

	owner := ownerOf(c)
	result, err := s.idem.Run(c.Request.Context(), owner, "POST /v1/cargos",
		c.GetHeader(headerIdempotency), body, func(ctx context.Context) (int, []byte, error) {
			cargo, err := s.cargos.Create(ctx, owner)
			if err != nil {
				return 0, nil, err
			}
			data, err := json.Marshal(toCargoResponse(cargo))
			return http.StatusCreated, data, err
		})
	if err != nil {
		renderError(c, err)
		return
	}
	c.Data(result.StatusCode, "application/json", result.Body)
}

func (s *Server) handleListCargos(c *gin.Context) {
	cargos, err := s.cargos.List(c.Request.Context(), ownerOf(c))
	if err != nil {
		renderError(c, err)
		return
	}
	resp := make([]cargoResponse, len(cargos))
	for i, cargo := range cargos {
		resp[i] = toCargoResponse(cargo)
	}
	c.JSON(http.StatusOK, gin.H{"cargos": resp})
}

func (s *Server) handleGetCargo(c *gin.Context) {
	cargo, err := s.cargos.Get(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCargoResponse(cargo))
}

func (s *Server) handleDeleteCargo(c *gin.Context) {
	if err := s.cargos.Delete(c.Request.Context(), ownerOf(c), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
