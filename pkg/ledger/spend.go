package ledger

import (
	"context"
	"errors"
	"fmt"
)

// SpendRequest asks to unlock one action for an account.
type SpendRequest struct {
	AccountID     AccountID
	Action        ActionType
	RelatedEntity *RelatedEntity
	// Reference is an optional client idempotency key. Without it every call
	// is a new spend.
	Reference *Reference
}

// SpendAuthorizer charges credits for feature unlocks.
type SpendAuthorizer struct {
	appender TransactionAppender
	prices   ActionPriceTable
	options  componentOptions
}

// NewSpendAuthorizer wires a SpendAuthorizer.
func NewSpendAuthorizer(appender TransactionAppender, prices ActionPriceTable, options ...Option) (*SpendAuthorizer, error) {
	if appender == nil {
		return nil, fmt.Errorf("%w: appender dependency is nil", ErrInvalidServiceConfig)
	}
	if len(prices.prices) == 0 {
		return nil, fmt.Errorf("%w: price table is empty", ErrInvalidServiceConfig)
	}
	return &SpendAuthorizer{appender: appender, prices: prices, options: applyOptions(options)}, nil
}

// Prices exposes the configured price table.
func (authorizer *SpendAuthorizer) Prices() ActionPriceTable {
	return authorizer.prices
}

// Spend debits the action price. The caller performs the unlock only after a
// successful return; a failed unlock is not refunded here.
func (authorizer *SpendAuthorizer) Spend(ctx context.Context, request SpendRequest) (AppendResult, error) {
	result, operationError := authorizer.spend(ctx, request)
	entry := OperationLog{
		Operation:     operationSpend,
		AccountID:     request.AccountID,
		Type:          SpendType(request.Action),
		Credits:       result.Transaction.Credits,
		TransactionID: result.Transaction.TransactionID,
		Error:         operationError,
	}
	if request.Reference != nil {
		entry.Reference = request.Reference.String()
	}
	if result.Replayed {
		entry.Status = operationStatusReplayed
	}
	authorizer.options.logOperation(ctx, entry)
	return result, operationError
}

func (authorizer *SpendAuthorizer) spend(ctx context.Context, request SpendRequest) (AppendResult, error) {
	cost, err := authorizer.prices.Price(request.Action)
	if err != nil {
		return AppendResult{}, err
	}
	metadata, err := MetadataFromMap(map[string]any{
		"action":       request.Action.String(),
		"credits_cost": cost.Int64(),
	})
	if err != nil {
		return AppendResult{}, err
	}
	appendRequest, err := NewAppendRequest(
		request.AccountID,
		SpendType(request.Action),
		cost.Debit(),
		"",
		request.Reference,
		request.RelatedEntity,
		metadata,
	)
	if err != nil {
		return AppendResult{}, err
	}
	result, err := appendIdempotent(ctx, authorizer.appender, appendRequest)
	if err != nil {
		if errors.Is(err, ErrBalanceWouldGoNegative) {
			return AppendResult{}, WrapError(errorOperationSpend, errorSubjectBalance, errorCodeInsufficient,
				fmt.Errorf("%w: %s costs %d credits", ErrInsufficientCredits, request.Action, cost.Int64()))
		}
		return AppendResult{}, err
	}
	return result, nil
}
