package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	domain "github.com/nextgenfiber/fieldbill/internal/audit/domain"
)

func (s *Server) ListAuditEvents(c *gin.Context) {
	var req domain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CreateAuditEvent accepts client-reported events, e.g. a UI action worth a
// trail entry without a server-side mutation.
func (s *Server) CreateAuditEvent(c *gin.Context) {
	var req struct {
		EventType  string         `json:"event_type"`
		EntityType string         `json:"entity_type"`
		EntityID   string         `json:"entity_id"`
		NewValue   map[string]any `json:"new_value"`
		Reason     string         `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.EventType) == "" {
		AbortWithError(c, domain.ErrInvalidEventType)
		return
	}

	eventID, err := s.auditSvc.Record(c.Request.Context(), nil, domain.Entry{
		EventType:  req.EventType,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		NewValue:   req.NewValue,
		Reason:     req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":        true,
		"audit_event_id": eventID.String(),
	})
}
