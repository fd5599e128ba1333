package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
)

func (s *Server) CreateInvoiceBatch(c *gin.Context) {
	var req domain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mutation, err := s.batchSvc.CreateBatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mutationEnvelope(mutation.Batch, mutation.AuditEventID))
}

func (s *Server) ListInvoiceBatches(c *gin.Context) {
	var req domain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.batchSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetInvoiceBatch(c *gin.Context) {
	batch, err := s.batchSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) UpdateInvoiceBatch(c *gin.Context) {
	var req domain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.BatchID = c.Param("id")

	mutation, err := s.batchSvc.UpdateBatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mutationEnvelope(mutation.Batch, mutation.AuditEventID))
}

func (s *Server) AssessInvoiceBatchReadiness(c *gin.Context) {
	readiness, err := s.batchSvc.AssessReadiness(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_readiness": readiness})
}

func (s *Server) SubmitInvoiceBatch(c *gin.Context) {
	var req domain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.BatchID = c.Param("id")

	mutation, err := s.batchSvc.Submit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mutationEnvelope(mutation.Batch, mutation.AuditEventID))
}

func (s *Server) RecordInvoiceBatchPayment(c *gin.Context) {
	var req domain.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.BatchID = c.Param("id")

	mutation, err := s.batchSvc.RecordPayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	envelope := mutationEnvelope(mutation.Batch, mutation.AuditEventID)
	if len(mutation.Warnings) > 0 {
		envelope["warnings"] = mutation.Warnings
	}
	c.JSON(http.StatusOK, envelope)
}

func (s *Server) AddInvoiceBatchDeduction(c *gin.Context) {
	var req domain.AddDeductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.BatchID = c.Param("id")

	mutation, err := s.batchSvc.AddDeduction(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mutationEnvelope(mutation.Batch, mutation.AuditEventID))
}

func (s *Server) DisputeInvoiceBatch(c *gin.Context) {
	var req domain.DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.BatchID = c.Param("id")

	mutation, err := s.batchSvc.Dispute(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mutationEnvelope(mutation.Batch, mutation.AuditEventID))
}
