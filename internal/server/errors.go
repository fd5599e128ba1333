package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	auditdomain "github.com/nextgenfiber/fieldbill/internal/audit/domain"
	"github.com/nextgenfiber/fieldbill/internal/auditcontext"
	"github.com/nextgenfiber/fieldbill/internal/authorization"
	batchdomain "github.com/nextgenfiber/fieldbill/internal/invoicebatch/domain"
	linedomain "github.com/nextgenfiber/fieldbill/internal/productionline/domain"
	ratecarddomain "github.com/nextgenfiber/fieldbill/internal/ratecard/domain"
	reportsdomain "github.com/nextgenfiber/fieldbill/internal/reports/domain"
	validationdomain "github.com/nextgenfiber/fieldbill/internal/validation/domain"
)

// Error envelope codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeConflict         = "CONFLICT"
	CodeInvalidState     = "INVALID_STATE"
	CodeNotReady         = "NOT_READY"
	CodeInternal         = "INTERNAL"
)

// APIError is an error with a fixed HTTP mapping.
type APIError struct {
	Status  int      `json:"-"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

func invalidRequestError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeValidationFailed,
		Message: "request body could not be parsed",
	}
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable maps domain sentinel errors onto the HTTP envelope. First match
// wins.
var errorTable = []errorMapping{
	{authorization.ErrForbidden, http.StatusForbidden, CodeForbidden},
	{authorization.ErrInvalidRole, http.StatusForbidden, CodeForbidden},

	{ratecarddomain.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{ratecarddomain.ErrVersionNotFound, http.StatusNotFound, CodeNotFound},
	{ratecarddomain.ErrRateNotFound, http.StatusNotFound, CodeNotFound},
	{ratecarddomain.ErrAmbiguousScope, http.StatusConflict, CodeConflict},
	{ratecarddomain.ErrEffectiveDateConflict, http.StatusConflict, CodeConflict},
	{ratecarddomain.ErrDuplicateLineItem, http.StatusBadRequest, CodeValidationFailed},
	{ratecarddomain.ErrInvalidID, http.StatusBadRequest, CodeValidationFailed},
	{ratecarddomain.ErrInvalidName, http.StatusBadRequest, CodeValidationFailed},
	{ratecarddomain.ErrInvalidContractor, http.StatusBadRequest, CodeValidationFailed},
	{ratecarddomain.ErrInvalidEffectiveFrom, http.StatusBadRequest, CodeValidationFailed},
	{ratecarddomain.ErrInvalidEntries, http.StatusBadRequest, CodeValidationFailed},
	{ratecarddomain.ErrInvalidRate, http.StatusBadRequest, CodeValidationFailed},
	{ratecarddomain.ErrInvalidQuantityBounds, http.StatusBadRequest, CodeValidationFailed},

	{linedomain.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{linedomain.ErrIllegalTransition, http.StatusConflict, CodeInvalidState},
	{linedomain.ErrLineImmutable, http.StatusConflict, CodeInvalidState},
	{linedomain.ErrStaleUpdate, http.StatusConflict, CodeConflict},
	{linedomain.ErrInvalidID, http.StatusBadRequest, CodeValidationFailed},
	{linedomain.ErrInvalidStatus, http.StatusBadRequest, CodeValidationFailed},
	{linedomain.ErrInvalidRate, http.StatusBadRequest, CodeValidationFailed},
	{linedomain.ErrInvalidQuantity, http.StatusBadRequest, CodeValidationFailed},
	{linedomain.ErrInvalidExternalID, http.StatusBadRequest, CodeValidationFailed},
	{linedomain.ErrInvalidContractor, http.StatusBadRequest, CodeValidationFailed},
	{linedomain.ErrInvalidWorkDate, http.StatusBadRequest, CodeValidationFailed},
	{linedomain.ErrInvalidReason, http.StatusBadRequest, CodeValidationFailed},

	{batchdomain.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{batchdomain.ErrNotReady, http.StatusUnprocessableEntity, CodeNotReady},
	{batchdomain.ErrInvalidState, http.StatusConflict, CodeInvalidState},
	{batchdomain.ErrLineNotEligible, http.StatusConflict, CodeInvalidState},
	{batchdomain.ErrLineAlreadyInvoiced, http.StatusConflict, CodeInvalidState},
	{batchdomain.ErrStaleUpdate, http.StatusConflict, CodeConflict},
	{batchdomain.ErrInvoiceNoConflict, http.StatusConflict, CodeConflict},
	{batchdomain.ErrInvalidID, http.StatusBadRequest, CodeValidationFailed},
	{batchdomain.ErrInvalidContractor, http.StatusBadRequest, CodeValidationFailed},
	{batchdomain.ErrInvalidPeriod, http.StatusBadRequest, CodeValidationFailed},
	{batchdomain.ErrInvalidTerms, http.StatusBadRequest, CodeValidationFailed},
	{batchdomain.ErrInvalidLineSet, http.StatusBadRequest, CodeValidationFailed},
	{batchdomain.ErrInvalidDeduction, http.StatusBadRequest, CodeValidationFailed},
	{batchdomain.ErrInvalidInvoiceNo, http.StatusBadRequest, CodeValidationFailed},
	{batchdomain.ErrInvalidPaidAmount, http.StatusBadRequest, CodeValidationFailed},
	{batchdomain.ErrInvalidPaidAt, http.StatusBadRequest, CodeValidationFailed},

	{validationdomain.ErrUnknownEntityType, http.StatusBadRequest, CodeValidationFailed},
	{validationdomain.ErrUnknownRule, http.StatusBadRequest, CodeValidationFailed},
	{validationdomain.ErrNoEntities, http.StatusBadRequest, CodeValidationFailed},
	{validationdomain.ErrRunTimeout, http.StatusServiceUnavailable, CodeInternal},

	{auditdomain.ErrInvalidEventType, http.StatusBadRequest, CodeValidationFailed},
	{auditdomain.ErrInvalidEntityType, http.StatusBadRequest, CodeValidationFailed},
	{auditdomain.ErrInvalidEntityID, http.StatusBadRequest, CodeValidationFailed},
	{auditdomain.ErrInvalidCursor, http.StatusBadRequest, CodeValidationFailed},
	{auditdomain.ErrInvalidTimeRange, http.StatusBadRequest, CodeValidationFailed},

	{reportsdomain.ErrInvalidDate, http.StatusBadRequest, CodeValidationFailed},
}

// AbortWithError renders the error envelope and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	requestID := auditcontext.RequestIDFromContext(c.Request.Context())

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		abortEnvelope(c, apiErr.Status, apiErr.Code, apiErr.Message, apiErr.Details, requestID)
		return
	}
	// A blocked submit names the failing checks so the caller can correct
	// them without a second assessment call.
	var notReady *batchdomain.NotReadyError
	if errors.As(err, &notReady) {
		details := make([]string, 0, len(notReady.Checklist))
		for _, item := range notReady.Checklist {
			detail := item.Name
			if item.Detail != "" {
				detail += ": " + item.Detail
			}
			details = append(details, detail)
		}
		abortEnvelope(c, http.StatusUnprocessableEntity, CodeNotReady, batchdomain.ErrNotReady.Error(), details, requestID)
		return
	}
	for _, mapping := range errorTable {
		if errors.Is(err, mapping.err) {
			abortEnvelope(c, mapping.status, mapping.code, mapping.err.Error(), nil, requestID)
			return
		}
	}
	_ = c.Error(err)
	abortEnvelope(c, http.StatusInternalServerError, CodeInternal, "internal error", nil, requestID)
}

func abortEnvelope(c *gin.Context, status int, code, message string, details []string, requestID string) {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	if requestID != "" {
		body["request_id"] = requestID
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// mutationEnvelope is the response shape of every mutating endpoint.
func mutationEnvelope(data any, auditEventID string) gin.H {
	envelope := gin.H{
		"success": true,
		"data":    data,
	}
	if auditEventID != "" {
		envelope["audit_event_id"] = auditEventID
	}
	return envelope
}
