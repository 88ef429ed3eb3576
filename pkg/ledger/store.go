package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Account is the persisted wallet row.
type Account struct {
	AccountID      AccountID
	Balance        int64
	CreatedUnixUTC int64
}

// NewTransactionRecord is the row handed to Store.InsertTransaction.
type NewTransactionRecord struct {
	TransactionID  TransactionID
	AccountID      AccountID
	Type           TransactionType
	Credits        CreditDelta
	BalanceAfter   Credits
	Description    string
	Reference      *Reference
	RelatedEntity  *RelatedEntity
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// AccountTotals is a single-snapshot aggregate of one account.
type AccountTotals struct {
	CachedBalance    int64
	LedgerSum        int64
	TotalPurchased   int64
	TotalSpent       int64
	TransactionCount int64
}

// Store is the persistence contract of the ledger.
type Store interface {
	// WithTx runs fn inside one storage transaction. The Store passed to fn
	// must be used for every statement of the unit of work.
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// LockAccount creates the account row if absent and locks it for update.
	LockAccount(ctx context.Context, accountID AccountID, nowUnixUTC int64) (Account, error)
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	// InsertTransaction returns ErrDuplicateReference on a reference collision.
	InsertTransaction(ctx context.Context, record NewTransactionRecord) error
	UpdateBalance(ctx context.Context, accountID AccountID, balance Credits, nowUnixUTC int64) error
	FindTransactionByReference(ctx context.Context, reference Reference) (Transaction, error)
	ListTransactions(ctx context.Context, accountID AccountID, query TransactionQuery) ([]Transaction, int64, error)
	SummarizeAccount(ctx context.Context, accountID AccountID) (AccountTotals, error)
	ListAccountIDs(ctx context.Context, afterAccountID string, limit int) ([]AccountID, error)
}

// PackageStatus marks whether a package can be bought.
type PackageStatus string

const (
	PackageStatusActive   PackageStatus = "active"
	PackageStatusInactive PackageStatus = "inactive"
)

// ParsePackageStatus parses active or inactive.
func ParsePackageStatus(raw string) (PackageStatus, error) {
	switch status := PackageStatus(raw); status {
	case PackageStatusActive, PackageStatusInactive:
		return status, nil
	}
	return "", ErrInvalidPackageStatus
}

// Package is a purchasable credit bundle.
type Package struct {
	PackageID      PackageID
	Name           string
	Price          decimal.Decimal
	Credits        PositiveCredits
	Status         PackageStatus
	Description    string
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Active reports whether the package can be purchased.
func (pkg Package) Active() bool {
	return pkg.Status == PackageStatusActive
}

// PackageFilter narrows package listings. A nil Status lists everything.
type PackageFilter struct {
	Status *PackageStatus
}

// CatalogStore persists credit packages.
type CatalogStore interface {
	CreatePackage(ctx context.Context, pkg Package) error
	// UpdatePackage returns ErrPackageNotFound when the row does not exist.
	UpdatePackage(ctx context.Context, pkg Package) error
	DeletePackage(ctx context.Context, packageID PackageID) error
	GetPackage(ctx context.Context, packageID PackageID) (Package, error)
	ListPackages(ctx context.Context, filter PackageFilter) ([]Package, error)
}
