package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
)

func (s *Server) CreateRateCard(c *gin.Context) {
	var req domain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	card, err := s.rateCardSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mutationEnvelope(card, ""))
}

func (s *Server) ListRateCards(c *gin.Context) {
	var req domain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.rateCardSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetRateCard(c *gin.Context) {
	card, err := s.rateCardSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (s *Server) CreateRateCardVersion(c *gin.Context) {
	var req domain.CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.RateCardID = c.Param("id")

	card, err := s.rateCardSvc.CreateVersion(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mutationEnvelope(card, ""))
}

func (s *Server) DeactivateRateCard(c *gin.Context) {
	card, err := s.rateCardSvc.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mutationEnvelope(card, ""))
}
