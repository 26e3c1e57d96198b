package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListProfiles(c *gin.Context) {
	profiles := s.profiles.List()
	resp := make([]profileResponse, len(profiles))
	for i, p := range profiles {
		resp[i] = toProfileResponse(p)
	}
	c.JSON(http.StatusOK, gin.H{"profiles": resp})
}

// handleContainerLogs exposes the backend's container log tail for
// diagnosing failed or degraded sessions.
func (s *Server) handleContainerLogs(c *gin.Context) {
	tail, _ := strconv.Atoi(c.DefaultQuery("tail", "100"))
	logs, err := s.sandboxes.ContainerLogs(c.Request.Context(), ownerOf(c), c.Param("id"),
		c.Query("container"), tail)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sandbox_id": c.Param("id"), "logs": logs})
}

func (s *Server) handleTriggerGC(c *gin.Context) {
	task := c.Param("task")
	reclaimed, err := s.collector.RunTask(c.Request.Context(), task)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "reclaimed": reclaimed})
}
