package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const (
	errorCodeInsufficientCredits = "insufficient_credits"
	errorCodeUnknownAction       = "unknown_action"
	errorCodePackageUnavailable  = "package_unavailable"
	errorCodeReferenceConflict   = "reference_conflict"
	errorCodeNotRefundable       = "not_refundable"
	errorCodeNotFound            = "not_found"
	errorCodeInvalidRequest      = "invalid_request"
	errorCodeInvalidPayload      = "invalid_payload"
	errorCodeConstraintViolation = "constraint_violation"
	errorCodeInternal            = "internal_error"
	errorCodeUnauthorized        = "unauthorized"
	errorCodeForbidden           = "forbidden"
	errorCodeRateLimited         = "rate_limited"
)

// statusForError maps ledger errors to an HTTP status and error code.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorCodeInsufficientCredits
	case errors.Is(err, ledger.ErrUnknownAction):
		return http.StatusBadRequest, errorCodeUnknownAction
	case errors.Is(err, ledger.ErrPackageUnavailable):
		return http.StatusUnprocessableEntity, errorCodePackageUnavailable
	case errors.Is(err, ledger.ErrReferenceConflict), errors.Is(err, ledger.ErrDuplicateReference):
		return http.StatusConflict, errorCodeReferenceConflict
	case errors.Is(err, ledger.ErrNotRefundable):
		return http.StatusUnprocessableEntity, errorCodeNotRefundable
	case errors.Is(err, ledger.ErrPackageNotFound), errors.Is(err, ledger.ErrTransactionNotFound), errors.Is(err, ledger.ErrUnknownAccount):
		return http.StatusNotFound, errorCodeNotFound
	case errors.Is(err, ledger.ErrConstraintViolation):
		return http.StatusInternalServerError, errorCodeConstraintViolation
	}
	if ledger.IsValidationError(err) {
		return http.StatusBadRequest, errorCodeInvalidRequest
	}
	return http.StatusInternalServerError, errorCodeInternal
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
