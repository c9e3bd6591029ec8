package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/stayledger/pkg/db/pagination"
)

func (s *Server) GetWallet(c *gin.Context) {
	resp, err := s.walletSvc.MyWallet(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListWalletEntries(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page size"))
		return
	}

	resp, err := s.walletSvc.MyEntries(c.Request.Context(), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
