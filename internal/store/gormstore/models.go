package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. Balance caches the ledger sum.
type Account struct {
	AccountID string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null;default:0;check:chk_accounts_balance_non_negative,balance >= 0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Transaction mirrors the transactions table. Rows are never updated.
type Transaction struct {
	Sequence          int64          `gorm:"primaryKey;autoIncrement"`
	TransactionID     string         `gorm:"not null;uniqueIndex:uniq_transactions_transaction_id"`
	AccountID         string         `gorm:"not null;index:idx_transactions_account_created,priority:1;index:idx_transactions_account_category,priority:1"`
	Type              string         `gorm:"not null"`
	Category          string         `gorm:"not null;index:idx_transactions_account_category,priority:2"`
	Credits           int64          `gorm:"not null;check:chk_transactions_credits_non_zero,credits <> 0"`
	BalanceAfter      int64          `gorm:"not null"`
	Description       string         `gorm:"not null"`
	Reference         *string        `gorm:"uniqueIndex:uniq_transactions_reference"`
	RelatedEntityKind *string        `gorm:""`
	RelatedEntityID   *string        `gorm:""`
	Metadata          datatypes.JSON `gorm:"not null"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_transactions_account_created,priority:2"`
}

func (Transaction) TableName() string { return "transactions" }

func (transaction *Transaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// CreditPackage mirrors the credit_packages table.
type CreditPackage struct {
	PackageID   string          `gorm:"primaryKey"`
	Name        string          `gorm:"not null"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Credits     int64           `gorm:"not null;check:chk_credit_packages_credits_positive,credits > 0"`
	Status      string          `gorm:"not null;index:idx_credit_packages_status"`
	Description string          `gorm:"not null;default:''"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

func (CreditPackage) TableName() string { return "credit_packages" }

func (creditPackage *CreditPackage) BeforeCreate(tx *gorm.DB) error {
	if creditPackage.PackageID == "" {
		creditPackage.PackageID = uuid.NewString()
	}
	return nil
}

// Models lists every table managed by this store, in creation order.
func Models() []any {
	return []any{&Account{}, &Transaction{}, &CreditPackage{}}
}
