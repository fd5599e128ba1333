package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domain "github.com/nextgenfiber/fieldbill/internal/reports/domain"
)

func (s *Server) AgingReport(c *gin.Context) {
	var req domain.AgingRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.reportsSvc.Aging(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) RejectionsReport(c *gin.Context) {
	var req domain.RejectionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.reportsSvc.Rejections(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
