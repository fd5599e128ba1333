package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domain "github.com/nextgenfiber/fieldbill/internal/validation/domain"
)

func (s *Server) RunValidation(c *gin.Context) {
	var req domain.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.validatorSvc.Run(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
