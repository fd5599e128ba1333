package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	domain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
)

func (s *Server) IngestProductionLine(c *gin.Context) {
	var req domain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mutation, err := s.lineSvc.Ingest(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if mutation.Duplicate {
		status = http.StatusOK
	}
	envelope := mutationEnvelope(mutation.Line, mutation.AuditEventID)
	if mutation.Duplicate {
		envelope["duplicate"] = true
	}
	c.JSON(status, envelope)
}

func (s *Server) ListProductionLines(c *gin.Context) {
	var req domain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.lineSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetProductionLine(c *gin.Context) {
	line, err := s.lineSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// patchLineRequest is the combined PATCH body: a status transition, a
// privileged rate override, or field edits. Exactly one kind per call.
type patchLineRequest struct {
	Status       *string `json:"status"`
	Reason       string  `json:"reason"`
	RateOverride *struct {
		Rate   decimal.Decimal `json:"rate"`
		Reason string          `json:"reason"`
	} `json:"rate_override"`
	domain.UpdateRequest
}

func (s *Server) PatchProductionLine(c *gin.Context) {
	var req patchLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	lineID := c.Param("id")

	var (
		mutation *domain.Mutation
		err      error
	)
	switch {
	case req.RateOverride != nil:
		mutation, err = s.lineSvc.OverrideRate(c.Request.Context(), domain.OverrideRateRequest{
			LineID: lineID,
			Rate:   req.RateOverride.Rate,
			Reason: req.RateOverride.Reason,
		})
	case req.Status != nil:
		mutation, err = s.lineSvc.Transition(c.Request.Context(), domain.TransitionRequest{
			LineID:    lineID,
			NewStatus: *req.Status,
			Reason:    req.Reason,
		})
	default:
		update := req.UpdateRequest
		update.LineID = lineID
		mutation, err = s.lineSvc.Update(c.Request.Context(), update)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mutationEnvelope(mutation.Line, mutation.AuditEventID))
}

func (s *Server) RejectProductionLine(c *gin.Context) {
	var req domain.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.LineID = c.Param("id")

	mutation, err := s.lineSvc.Reject(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	envelope := mutationEnvelope(mutation.Line, mutation.AuditEventID)
	if mutation.TaskID != "" {
		envelope["task_id"] = mutation.TaskID
	}
	c.JSON(http.StatusOK, envelope)
}
