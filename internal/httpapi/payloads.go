package httpapi

import (
	"encoding/json"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
)

type purchaseRequest struct {
	PackageID        string `json:"package_id"`
	PaymentReference string `json:"payment_reference"`
}

type spendRequest struct {
	ActionType string `json:"action_type"`
	PropertyID string `json:"property_id"`
}

type packageRequest struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Credits     int64  `json:"credits"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

type adjustmentRequest struct {
	Operation   string `json:"operation"`
	Credits     int64  `json:"credits"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

type refundRequest struct {
	Reason string `json:"reason"`
}

type summaryPayload struct {
	CurrentCredits        int64 `json:"current_credits"`
	TotalCreditsPurchased int64 `json:"total_credits_purchased"`
	TotalCreditsSpent     int64 `json:"total_credits_spent"`
}

type relatedEntityPayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type transactionPayload struct {
	TransactionID  string                `json:"transaction_id"`
	AccountID      string                `json:"account_id"`
	Type           string                `json:"type"`
	Category       string                `json:"category"`
	Credits        int64                 `json:"credits"`
	BalanceAfter   int64                 `json:"balance_after"`
	Description    string                `json:"description"`
	Reference      string                `json:"reference,omitempty"`
	RelatedEntity  *relatedEntityPayload `json:"related_entity,omitempty"`
	Metadata       json.RawMessage       `json:"metadata"`
	CreatedUnixUTC int64                 `json:"created_unix_utc"`
}

type transactionResult struct {
	Transaction    transactionPayload `json:"transaction"`
	CurrentCredits int64              `json:"current_credits"`
	Replayed       bool               `json:"replayed"`
}

type transactionPagePayload struct {
	Transactions []transactionPayload `json:"transactions"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
	TotalItems   int64                `json:"total_items"`
	TotalPages   int                  `json:"total_pages"`
}

type packagePayload struct {
	PackageID      string `json:"package_id"`
	Name           string `json:"name"`
	Price          string `json:"price"`
	Credits        int64  `json:"credits"`
	Status         string `json:"status"`
	Description    string `json:"description"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
	UpdatedUnixUTC int64  `json:"updated_unix_utc"`
}

type pricePayload struct {
	ActionType string `json:"action_type"`
	Label      string `json:"label"`
	Credits    int64  `json:"credits"`
}

type reconciliationPayload struct {
	AccountID        string `json:"account_id"`
	CachedBalance    int64  `json:"cached_balance"`
	LedgerSum        int64  `json:"ledger_sum"`
	TotalPurchased   int64  `json:"total_purchased"`
	TotalSpent       int64  `json:"total_spent"`
	TransactionCount int64  `json:"transaction_count"`
	Consistent       bool   `json:"consistent"`
}

func newTransactionPayload(transaction ledger.Transaction) transactionPayload {
	payload := transactionPayload{
		TransactionID:  transaction.TransactionID,
		AccountID:      transaction.AccountID,
		Type:           transaction.Type.String(),
		Category:       transaction.Category().String(),
		Credits:        transaction.Credits,
		BalanceAfter:   transaction.BalanceAfter,
		Description:    transaction.Description,
		Reference:      transaction.Reference,
		Metadata:       json.RawMessage(transaction.MetadataJSON),
		CreatedUnixUTC: transaction.CreatedUnixUTC,
	}
	if len(payload.Metadata) == 0 {
		payload.Metadata = json.RawMessage("{}")
	}
	if transaction.RelatedEntity != nil {
		payload.RelatedEntity = &relatedEntityPayload{Kind: transaction.RelatedEntity.Kind, ID: transaction.RelatedEntity.ID}
	}
	return payload
}

func newTransactionResult(result ledger.AppendResult) transactionResult {
	return transactionResult{
		Transaction:    newTransactionPayload(result.Transaction),
		CurrentCredits: result.Transaction.BalanceAfter,
		Replayed:       result.Replayed,
	}
}

func newPackagePayload(pkg ledger.Package) packagePayload {
	return packagePayload{
		PackageID:      pkg.PackageID.String(),
		Name:           pkg.Name,
		Price:          pkg.Price.StringFixed(2),
		Credits:        pkg.Credits.Int64(),
		Status:         string(pkg.Status),
		Description:    pkg.Description,
		CreatedUnixUTC: pkg.CreatedUnixUTC,
		UpdatedUnixUTC: pkg.UpdatedUnixUTC,
	}
}

func newPackagePayloads(packages []ledger.Package) []packagePayload {
	payloads := make([]packagePayload, 0, len(packages))
	for _, pkg := range packages {
		payloads = append(payloads, newPackagePayload(pkg))
	}
	return payloads
}

func newReconciliationPayload(reconciliation ledger.Reconciliation) reconciliationPayload {
	return reconciliationPayload{
		AccountID:        reconciliation.AccountID.String(),
		CachedBalance:    reconciliation.CachedBalance,
		LedgerSum:        reconciliation.LedgerSum,
		TotalPurchased:   reconciliation.TotalPurchased,
		TotalSpent:       reconciliation.TotalSpent,
		TransactionCount: reconciliation.TransactionCount,
		Consistent:       reconciliation.Consistent(),
	}
}
