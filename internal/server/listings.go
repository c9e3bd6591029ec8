package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	listingdomain "github.com/smallbiznis/stayledger/internal/listing/domain"
)

func (s *Server) CreateListing(c *gin.Context) {
	var req listingdomain.CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.listingSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetListing(c *gin.Context) {
	resp, err := s.listingSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpsertDepositPolicy(c *gin.Context) {
	var req listingdomain.UpsertDepositPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ListingID = strings.TrimSpace(c.Param("id"))

	resp, err := s.listingSvc.UpsertDepositPolicy(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateInstantBook(c *gin.Context) {
	var req listingdomain.UpdateInstantBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ListingID = strings.TrimSpace(c.Param("id"))

	resp, err := s.listingSvc.UpdateInstantBookSettings(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
