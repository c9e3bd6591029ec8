package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	depositdomain "github.com/smallbiznis/stayledger/internal/deposit/domain"
)

func (s *Server) GetDeposit(c *gin.Context) {
	resp, err := s.depositSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CaptureDeposit(c *gin.Context) {
	var req depositdomain.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.DepositID = strings.TrimSpace(c.Param("id"))

	resp, err := s.depositSvc.Capture(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReleaseDeposit(c *gin.Context) {
	var req depositdomain.ReleaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	req.DepositID = strings.TrimSpace(c.Param("id"))

	resp, err := s.depositSvc.Release(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DepositStatement(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	body, err := s.depositSvc.Statement(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"deposit-%s.pdf\"", id))
	c.Data(http.StatusOK, "application/pdf", body)
}
