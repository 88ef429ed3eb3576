package ledger

import (
	"context"
	"errors"
	"fmt"
)

const (
	relatedKindCreditPackage = "credit_package"
	relatedKindTransaction   = "transaction"
)

// PackageReader loads catalog packages for the purchase flow.
type PackageReader interface {
	GetPackage(ctx context.Context, packageID PackageID) (Package, error)
}

// AdminAdjustment is a manual credit or debit issued by an administrator.
type AdminAdjustment struct {
	AccountID   AccountID
	Credits     PositiveCredits
	Description string
	Reference   *Reference
}

// PurchaseProcessor converts confirmed payments into credits and applies
// administrator adjustments.
type PurchaseProcessor struct {
	appender TransactionAppender
	packages PackageReader
	options  componentOptions
}

// NewPurchaseProcessor wires a PurchaseProcessor.
func NewPurchaseProcessor(appender TransactionAppender, packages PackageReader, options ...Option) (*PurchaseProcessor, error) {
	if appender == nil {
		return nil, fmt.Errorf("%w: appender dependency is nil", ErrInvalidServiceConfig)
	}
	if packages == nil {
		return nil, fmt.Errorf("%w: package reader dependency is nil", ErrInvalidServiceConfig)
	}
	return &PurchaseProcessor{appender: appender, packages: packages, options: applyOptions(options)}, nil
}

// OnPaymentConfirmed is the capability handed to the payment collaborator.
func (processor *PurchaseProcessor) OnPaymentConfirmed(ctx context.Context, packageID PackageID, accountID AccountID, paymentReference Reference) (AppendResult, error) {
	return processor.ApplyPurchase(ctx, accountID, packageID, paymentReference)
}

// ApplyPurchase credits the package to the account exactly once per payment
// reference. A repeated reference returns the original transaction.
func (processor *PurchaseProcessor) ApplyPurchase(ctx context.Context, accountID AccountID, packageID PackageID, paymentReference Reference) (AppendResult, error) {
	result, operationError := processor.applyPurchase(ctx, accountID, packageID, paymentReference)
	processor.logResult(ctx, operationPurchase, accountID, PurchaseType(), paymentReference.String(), result, operationError)
	return result, operationError
}

func (processor *PurchaseProcessor) applyPurchase(ctx context.Context, accountID AccountID, packageID PackageID, paymentReference Reference) (AppendResult, error) {
	if err := checkExternalReference(paymentReference); err != nil {
		return AppendResult{}, WrapError(errorOperationPurchase, errorSubjectReference, errorCodeInvalid, err)
	}
	existing, found, err := findReplay(ctx, processor.appender, accountID, PurchaseType(), paymentReference)
	if err != nil {
		return AppendResult{}, err
	}
	if found {
		return AppendResult{Transaction: existing, Replayed: true}, nil
	}
	pkg, err := processor.packages.GetPackage(ctx, packageID)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			return AppendResult{}, WrapError(errorOperationPurchase, errorSubjectPackage, errorCodeUnavailable,
				fmt.Errorf("%w: %s does not exist", ErrPackageUnavailable, packageID.String()))
		}
		return AppendResult{}, err
	}
	if !pkg.Active() {
		return AppendResult{}, WrapError(errorOperationPurchase, errorSubjectPackage, errorCodeUnavailable,
			fmt.Errorf("%w: %s is %s", ErrPackageUnavailable, packageID.String(), pkg.Status))
	}
	metadata, err := MetadataFromMap(map[string]any{
		"package_id":      pkg.PackageID.String(),
		"package_name":    pkg.Name,
		"package_price":   pkg.Price.StringFixed(2),
		"package_credits": pkg.Credits.Int64(),
	})
	if err != nil {
		return AppendResult{}, err
	}
	relatedEntity := RelatedEntity{Kind: relatedKindCreditPackage, ID: pkg.PackageID.String()}
	request, err := NewAppendRequest(
		accountID,
		PurchaseType(),
		pkg.Credits.Credit(),
		"Purchased "+pkg.Name,
		&paymentReference,
		&relatedEntity,
		metadata,
	)
	if err != nil {
		return AppendResult{}, err
	}
	return appendIdempotent(ctx, processor.appender, request)
}

// Grant adds credits outside the purchase flow.
func (processor *PurchaseProcessor) Grant(ctx context.Context, adjustment AdminAdjustment) (AppendResult, error) {
	result, operationError := processor.adjust(ctx, AdminAddType(), adjustment.Credits.Credit(), adjustment)
	processor.logResult(ctx, operationGrant, adjustment.AccountID, AdminAddType(), referenceString(adjustment.Reference), result, operationError)
	return result, operationError
}

// Deduct removes credits. Deductions never take the balance below zero.
func (processor *PurchaseProcessor) Deduct(ctx context.Context, adjustment AdminAdjustment) (AppendResult, error) {
	result, operationError := processor.adjust(ctx, AdminDeductType(), adjustment.Credits.Debit(), adjustment)
	processor.logResult(ctx, operationDeduct, adjustment.AccountID, AdminDeductType(), referenceString(adjustment.Reference), result, operationError)
	return result, operationError
}

func (processor *PurchaseProcessor) adjust(ctx context.Context, transactionType TransactionType, credits CreditDelta, adjustment AdminAdjustment) (AppendResult, error) {
	if adjustment.Credits <= 0 {
		return AppendResult{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	if adjustment.Reference != nil {
		if err := checkExternalReference(*adjustment.Reference); err != nil {
			return AppendResult{}, WrapError(errorOperationPurchase, errorSubjectReference, errorCodeInvalid, err)
		}
	}
	request, err := NewAppendRequest(
		adjustment.AccountID,
		transactionType,
		credits,
		adjustment.Description,
		adjustment.Reference,
		nil,
		MetadataJSON{},
	)
	if err != nil {
		return AppendResult{}, err
	}
	result, err := appendIdempotent(ctx, processor.appender, request)
	if err != nil {
		return AppendResult{}, translateNegativeBalance(err)
	}
	return result, nil
}

// RefundPurchase reverses a purchase with an offsetting admin_deduct keyed by
// refund:<payment reference>. Repeated refunds replay the first one.
func (processor *PurchaseProcessor) RefundPurchase(ctx context.Context, paymentReference Reference, reason string) (AppendResult, error) {
	result, accountID, operationError := processor.refundPurchase(ctx, paymentReference, reason)
	processor.logResult(ctx, operationRefund, accountID, AdminDeductType(), paymentReference.String(), result, operationError)
	return result, operationError
}

func (processor *PurchaseProcessor) refundPurchase(ctx context.Context, paymentReference Reference, reason string) (AppendResult, AccountID, error) {
	original, err := processor.appender.FindByReference(ctx, paymentReference)
	if err != nil {
		return AppendResult{}, AccountID{}, err
	}
	accountID, err := NewAccountID(original.AccountID)
	if err != nil {
		return AppendResult{}, AccountID{}, err
	}
	if original.Type.Kind() != KindPurchase {
		return AppendResult{}, accountID, WrapError(errorOperationPurchase, errorSubjectReference, errorCodeInvalid,
			fmt.Errorf("%w: %s is %s", ErrNotRefundable, paymentReference.String(), original.Type.String()))
	}
	refundReference, err := NewReference(refundReferencePrefix + referenceDelimiter + paymentReference.String())
	if err != nil {
		return AppendResult{}, accountID, err
	}
	credits, err := NewPositiveCredits(original.Credits)
	if err != nil {
		return AppendResult{}, accountID, err
	}
	metadata, err := MetadataFromMap(map[string]any{
		"refunded_reference":      paymentReference.String(),
		"refunded_transaction_id": original.TransactionID,
	})
	if err != nil {
		return AppendResult{}, accountID, err
	}
	relatedEntity := RelatedEntity{Kind: relatedKindTransaction, ID: original.TransactionID}
	description := reason
	if description == "" {
		description = "Refund of purchase " + paymentReference.String()
	}
	request, err := NewAppendRequest(
		accountID,
		AdminDeductType(),
		credits.Debit(),
		description,
		&refundReference,
		&relatedEntity,
		metadata,
	)
	if err != nil {
		return AppendResult{}, accountID, err
	}
	result, err := appendIdempotent(ctx, processor.appender, request)
	if err != nil {
		return AppendResult{}, accountID, translateNegativeBalance(err)
	}
	return result, accountID, nil
}

func (processor *PurchaseProcessor) logResult(ctx context.Context, operation string, accountID AccountID, transactionType TransactionType, reference string, result AppendResult, operationError error) {
	entry := OperationLog{
		Operation:     operation,
		AccountID:     accountID,
		Type:          transactionType,
		Credits:       result.Transaction.Credits,
		Reference:     reference,
		TransactionID: result.Transaction.TransactionID,
		Error:         operationError,
	}
	if result.Replayed {
		entry.Status = operationStatusReplayed
	}
	processor.options.logOperation(ctx, entry)
}

func translateNegativeBalance(err error) error {
	if errors.Is(err, ErrBalanceWouldGoNegative) {
		return WrapError(errorOperationPurchase, errorSubjectBalance, errorCodeInsufficient,
			fmt.Errorf("%w: deduction exceeds balance", ErrInsufficientCredits))
	}
	return err
}

func referenceString(reference *Reference) string {
	if reference == nil {
		return ""
	}
	return reference.String()
}
