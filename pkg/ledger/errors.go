package ledger

import (
	"errors"
	"fmt"
)

// Business errors surfaced by the wallet core.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnknownAction       = errors.New("unknown action")
	ErrPackageUnavailable  = errors.New("package unavailable")
	ErrDuplicateReference  = errors.New("duplicate reference")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrReferenceConflict   = errors.New("reference conflict")
)

// Invariant breaks detected by the ledger. Both match ErrConstraintViolation.
var (
	ErrBalanceWouldGoNegative = fmt.Errorf("%w: balance would go negative", ErrConstraintViolation)
	ErrBalanceDiverged        = fmt.Errorf("%w: cached balance diverged from ledger", ErrConstraintViolation)
)

// Lookup and validation errors.
var (
	ErrUnknownAccount          = errors.New("unknown account")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrPackageNotFound         = errors.New("package not found")
	ErrNotRefundable           = errors.New("transaction is not refundable")
	ErrInvalidAccountID        = errors.New("invalid account id")
	ErrInvalidTransactionID    = errors.New("invalid transaction id")
	ErrInvalidReference        = errors.New("invalid reference")
	ErrInvalidPackageID        = errors.New("invalid package id")
	ErrInvalidCredits          = errors.New("invalid credits")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidCategory         = errors.New("invalid transaction category")
	ErrInvalidRelatedEntity    = errors.New("invalid related entity")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidDescription      = errors.New("invalid description")
	ErrInvalidPackage          = errors.New("invalid package")
	ErrInvalidPackageStatus    = errors.New("invalid package status")
	ErrInvalidPage             = errors.New("invalid page")
	ErrInvalidPriceTable       = errors.New("invalid price table")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrInvalidTransactionQuery = errors.New("invalid transaction query")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsBusinessRejection reports whether err is an expected, user-facing rejection
// rather than a storage or invariant failure.
func IsBusinessRejection(err error) bool {
	switch {
	case errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrUnknownAction),
		errors.Is(err, ErrPackageUnavailable),
		errors.Is(err, ErrReferenceConflict),
		errors.Is(err, ErrNotRefundable),
		errors.Is(err, ErrPackageNotFound),
		errors.Is(err, ErrTransactionNotFound):
		return true
	}
	return false
}

var validationErrors = []error{
	ErrInvalidAccountID,
	ErrInvalidTransactionID,
	ErrInvalidReference,
	ErrInvalidPackageID,
	ErrInvalidCredits,
	ErrInvalidTransactionType,
	ErrInvalidCategory,
	ErrInvalidRelatedEntity,
	ErrInvalidMetadataJSON,
	ErrInvalidDescription,
	ErrInvalidPackage,
	ErrInvalidPackageStatus,
	ErrInvalidPage,
	ErrInvalidTransactionQuery,
}

// IsValidationError reports whether err comes from rejected caller input.
func IsValidationError(err error) bool {
	for _, sentinel := range validationErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
