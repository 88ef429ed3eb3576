package ledger

import (
	"context"
	"fmt"
)

// HistoryReader is the read side used by QueryService.
type HistoryReader interface {
	Totals(ctx context.Context, accountID AccountID) (AccountTotals, error)
	ListTransactions(ctx context.Context, accountID AccountID, query TransactionQuery) (TransactionPage, error)
}

// Summary is the wallet header shown to the user.
type Summary struct {
	AccountID      AccountID
	CurrentBalance int64
	TotalPurchased int64
	TotalSpent     int64
}

// QueryService serves read-only wallet views.
type QueryService struct {
	reader  HistoryReader
	options componentOptions
}

// NewQueryService wires a QueryService.
func NewQueryService(reader HistoryReader, options ...Option) (*QueryService, error) {
	if reader == nil {
		return nil, fmt.Errorf("%w: history reader dependency is nil", ErrInvalidServiceConfig)
	}
	return &QueryService{reader: reader, options: applyOptions(options)}, nil
}

// Summary returns balance and lifetime totals from one snapshot. A cached
// balance that disagrees with the ledger is an error, not a silent repair.
func (service *QueryService) Summary(ctx context.Context, accountID AccountID) (Summary, error) {
	totals, err := service.reader.Totals(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}
	if totals.TotalPurchased-totals.TotalSpent != totals.CachedBalance || totals.LedgerSum != totals.CachedBalance {
		divergence := WrapError(errorOperationQuery, errorSubjectBalance, errorCodeDiverged,
			fmt.Errorf("%w: cached %d, purchased %d, spent %d", ErrBalanceDiverged, totals.CachedBalance, totals.TotalPurchased, totals.TotalSpent))
		service.options.logOperation(ctx, OperationLog{
			Operation: operationReconcile,
			AccountID: accountID,
			Credits:   totals.LedgerSum,
			Error:     divergence,
		})
		return Summary{}, divergence
	}
	return Summary{
		AccountID:      accountID,
		CurrentBalance: totals.CachedBalance,
		TotalPurchased: totals.TotalPurchased,
		TotalSpent:     totals.TotalSpent,
	}, nil
}

// ListTransactions returns one page of history, newest first.
func (service *QueryService) ListTransactions(ctx context.Context, accountID AccountID, query TransactionQuery) (TransactionPage, error) {
	return service.reader.ListTransactions(ctx, accountID, query)
}
