package ledger

import (
	"context"
	"errors"
	"fmt"
)

const reconcileBatchSize = 100

// TransactionAppender is the write path shared by the spend and purchase flows.
type TransactionAppender interface {
	Append(ctx context.Context, request AppendRequest) (Transaction, error)
	FindByReference(ctx context.Context, reference Reference) (Transaction, error)
}

// AppendResult is the outcome of an idempotent append.
type AppendResult struct {
	Transaction Transaction
	Replayed    bool
}

// Reconciliation compares the cached balance of one account with its ledger.
type Reconciliation struct {
	AccountID        AccountID
	CachedBalance    int64
	LedgerSum        int64
	TotalPurchased   int64
	TotalSpent       int64
	TransactionCount int64
}

// Consistent reports whether the cached balance equals the ledger sum.
func (reconciliation Reconciliation) Consistent() bool {
	return reconciliation.CachedBalance == reconciliation.LedgerSum &&
		reconciliation.TotalPurchased-reconciliation.TotalSpent == reconciliation.CachedBalance
}

// Ledger owns the append path and is the only writer of account balances.
type Ledger struct {
	store   Store
	nowFn   func() int64
	options componentOptions
}

// NewLedger wires a Ledger.
func NewLedger(store Store, now func() int64, options ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Ledger{store: store, nowFn: now, options: applyOptions(options)}, nil
}

// Append records one transaction and moves the cached balance in the same unit
// of work. A result below zero aborts the whole unit.
func (ledger *Ledger) Append(ctx context.Context, request AppendRequest) (Transaction, error) {
	var committed Transaction
	operationError := ledger.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		nowUnixUTC := ledger.nowFn()
		account, err := txStore.LockAccount(ctx, request.AccountID(), nowUnixUTC)
		if err != nil {
			return err
		}
		newBalance := account.Balance + request.Credits().Int64()
		if newBalance < 0 {
			return WrapError(errorOperationLedger, errorSubjectBalance, errorCodeNegative, ErrBalanceWouldGoNegative)
		}
		transactionID, err := NewTransactionID(ledger.options.idFn())
		if err != nil {
			return err
		}
		balanceAfter, err := NewCredits(newBalance)
		if err != nil {
			return err
		}
		record := NewTransactionRecord{
			TransactionID:  transactionID,
			AccountID:      request.AccountID(),
			Type:           request.Type(),
			Credits:        request.Credits(),
			BalanceAfter:   balanceAfter,
			Description:    request.Description(),
			Metadata:       request.Metadata(),
			CreatedUnixUTC: nowUnixUTC,
		}
		if reference, ok := request.Reference(); ok {
			record.Reference = &reference
		}
		if entity, ok := request.RelatedEntity(); ok {
			record.RelatedEntity = &entity
		}
		if err := txStore.InsertTransaction(ctx, record); err != nil {
			if errors.Is(err, ErrDuplicateReference) {
				return WrapError(errorOperationLedger, errorSubjectReference, errorCodeConflict, err)
			}
			return err
		}
		if err := txStore.UpdateBalance(ctx, request.AccountID(), balanceAfter, nowUnixUTC); err != nil {
			return err
		}
		committed = record.Transaction()
		return nil
	})
	entry := OperationLog{
		Operation: operationAppend,
		AccountID: request.AccountID(),
		Type:      request.Type(),
		Credits:   request.Credits().Int64(),
		Error:     operationError,
	}
	if reference, ok := request.Reference(); ok {
		entry.Reference = reference.String()
	}
	if operationError != nil {
		ledger.options.logOperation(ctx, entry)
		return Transaction{}, operationError
	}
	entry.TransactionID = committed.TransactionID
	ledger.options.logOperation(ctx, entry)
	for _, listener := range ledger.options.listeners {
		listener.TransactionCommitted(ctx, committed)
	}
	return committed, nil
}

// Balance returns the cached balance. Accounts that never transacted hold zero.
func (ledger *Ledger) Balance(ctx context.Context, accountID AccountID) (Credits, error) {
	account, err := ledger.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrUnknownAccount) {
			return 0, nil
		}
		return 0, err
	}
	return NewCredits(account.Balance)
}

// FindByReference loads the transaction that claimed reference.
func (ledger *Ledger) FindByReference(ctx context.Context, reference Reference) (Transaction, error) {
	return ledger.store.FindTransactionByReference(ctx, reference)
}

// ListTransactions returns one page of history, newest first.
func (ledger *Ledger) ListTransactions(ctx context.Context, accountID AccountID, query TransactionQuery) (TransactionPage, error) {
	normalized, err := query.Normalize()
	if err != nil {
		return TransactionPage{}, WrapError(errorOperationQuery, errorSubjectRequest, errorCodeInvalid, err)
	}
	transactions, total, err := ledger.store.ListTransactions(ctx, accountID, normalized)
	if err != nil {
		return TransactionPage{}, err
	}
	if transactions == nil {
		transactions = []Transaction{}
	}
	return TransactionPage{
		Transactions: transactions,
		Page:         normalized.Page,
		PageSize:     normalized.PageSize,
		TotalItems:   total,
	}, nil
}

// Totals reads the cached balance and ledger aggregates in one snapshot.
func (ledger *Ledger) Totals(ctx context.Context, accountID AccountID) (AccountTotals, error) {
	return ledger.store.SummarizeAccount(ctx, accountID)
}

// Reconcile compares the cached balance with the ledger sum. Mismatches are
// reported, never repaired.
func (ledger *Ledger) Reconcile(ctx context.Context, accountID AccountID) (Reconciliation, error) {
	totals, err := ledger.store.SummarizeAccount(ctx, accountID)
	if err != nil {
		return Reconciliation{}, err
	}
	reconciliation := Reconciliation{
		AccountID:        accountID,
		CachedBalance:    totals.CachedBalance,
		LedgerSum:        totals.LedgerSum,
		TotalPurchased:   totals.TotalPurchased,
		TotalSpent:       totals.TotalSpent,
		TransactionCount: totals.TransactionCount,
	}
	entry := OperationLog{Operation: operationReconcile, AccountID: accountID, Credits: totals.LedgerSum}
	if !reconciliation.Consistent() {
		entry.Error = WrapError(errorOperationLedger, errorSubjectBalance, errorCodeDiverged,
			fmt.Errorf("%w: cached %d, ledger %d", ErrBalanceDiverged, totals.CachedBalance, totals.LedgerSum))
	}
	ledger.options.logOperation(ctx, entry)
	return reconciliation, nil
}

// ReconcileAll walks every account in id order and hands each result to visit.
// It stops at the first error returned by the store or by visit.
func (ledger *Ledger) ReconcileAll(ctx context.Context, visit func(Reconciliation) error) error {
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		accountIDs, err := ledger.store.ListAccountIDs(ctx, after, reconcileBatchSize)
		if err != nil {
			return err
		}
		for _, accountID := range accountIDs {
			reconciliation, err := ledger.Reconcile(ctx, accountID)
			if err != nil {
				return err
			}
			if err := visit(reconciliation); err != nil {
				return err
			}
			after = accountID.String()
		}
		if len(accountIDs) < reconcileBatchSize {
			return nil
		}
	}
}

// Transaction converts the inserted record into its committed form.
func (record NewTransactionRecord) Transaction() Transaction {
	transaction := Transaction{
		TransactionID:  record.TransactionID.String(),
		AccountID:      record.AccountID.String(),
		Type:           record.Type,
		Credits:        record.Credits.Int64(),
		BalanceAfter:   record.BalanceAfter.Int64(),
		Description:    record.Description,
		MetadataJSON:   record.Metadata.String(),
		CreatedUnixUTC: record.CreatedUnixUTC,
	}
	if record.Reference != nil {
		transaction.Reference = record.Reference.String()
	}
	if record.RelatedEntity != nil {
		entity := *record.RelatedEntity
		transaction.RelatedEntity = &entity
	}
	return transaction
}

// findReplay returns the transaction already recorded under reference when it
// belongs to the same account and type. Any other owner is a conflict.
func findReplay(ctx context.Context, appender TransactionAppender, accountID AccountID, transactionType TransactionType, reference Reference) (Transaction, bool, error) {
	existing, err := appender.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	if existing.AccountID != accountID.String() || existing.Type != transactionType {
		return Transaction{}, false, WrapError(errorOperationLedger, errorSubjectReference, errorCodeConflict,
			fmt.Errorf("%w: %s already recorded as %s", ErrReferenceConflict, reference.String(), existing.Type.String()))
	}
	return existing, true, nil
}

// appendIdempotent appends request once per reference. Requests without a
// reference always append.
func appendIdempotent(ctx context.Context, appender TransactionAppender, request AppendRequest) (AppendResult, error) {
	reference, hasReference := request.Reference()
	if hasReference {
		existing, found, err := findReplay(ctx, appender, request.AccountID(), request.Type(), reference)
		if err != nil {
			return AppendResult{}, err
		}
		if found {
			return AppendResult{Transaction: existing, Replayed: true}, nil
		}
	}
	transaction, err := appender.Append(ctx, request)
	if err == nil {
		return AppendResult{Transaction: transaction}, nil
	}
	if !hasReference || !errors.Is(err, ErrDuplicateReference) {
		return AppendResult{}, err
	}
	existing, found, lookupErr := findReplay(ctx, appender, request.AccountID(), request.Type(), reference)
	if lookupErr != nil {
		return AppendResult{}, lookupErr
	}
	if !found {
		return AppendResult{}, err
	}
	return AppendResult{Transaction: existing, Replayed: true}, nil
}
