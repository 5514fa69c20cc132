package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, status)
}

// GET /api/v1/runs?limit=N
func (s *Server) listRuns(c *gin.Context) {
	history := s.lm.Runs()
	if history == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("RUNS_503", "Run history requires the database", nil))
		return
	}

	limit := defaultRunLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("RUNS_400", "Invalid limit", q))
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := history.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("RUNS_500", "Failed to list runs", err.Error()))
		return
	}
	if runs == nil {
		runs = []types.SynthRun{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// The request context ends with this handler
	go func() {
		if err := s.lm.Shutdown(context.Background()); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}
