package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunDepositSweep lets an external cron trigger the expiry sweep when the
// in-process scheduler is disabled.
func (s *Server) RunDepositSweep(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	// Individual release failures are already counted in the report.
	report, err := s.scheduler.SweepExpiredDeposits(c.Request.Context())
	if err != nil && report.Errored == 0 {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
