package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/stayledger/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/stayledger/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook acknowledges every delivery the ingest guard accepted,
// including replays. Only unverifiable or malformed deliveries are refused
// so the network retries them.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	network := strings.ToLower(strings.TrimSpace(c.Param("network")))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.Ingest(c.Request.Context(), network, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrDuplicateEvent) {
			c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
			return
		}
		logger.FromContext(c.Request.Context()).Warn("payment webhook rejected",
			zap.String("network", network),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": result.Duplicate, "data": result})
}
