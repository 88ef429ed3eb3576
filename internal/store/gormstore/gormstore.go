package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionReference = "uniq_transactions_reference"
	referenceColumn                = "reference"
	defaultMetadataJSON            = "{}"
	likeEscape                     = `\`
	pgUniqueViolationCode          = "23505"
	sqliteConstraintCode           = 19
	errorOperationStore            = "store"
	errorSubjectAccount            = "account"
	errorSubjectBalance            = "balance"
	errorSubjectTransaction        = "transaction"
	errorSubjectPackage            = "package"
	errorCodeCreate                = "create"
	errorCodeDelete                = "delete"
	errorCodeDuplicate             = "duplicate"
	errorCodeGet                   = "get"
	errorCodeInsert                = "insert"
	errorCodeInvalid               = "invalid"
	errorCodeList                  = "list"
	errorCodeLock                  = "lock"
	errorCodeLookup                = "lookup"
	errorCodeMigrate               = "migrate"
	errorCodeSummarize             = "summarize"
	errorCodeUpdate                = "update"
)

const summarizeAccountSQL = `
SELECT
	CAST(COALESCE((SELECT balance FROM accounts WHERE account_id = ?), 0) AS BIGINT) AS cached_balance,
	CAST(COALESCE(SUM(credits), 0) AS BIGINT) AS ledger_sum,
	CAST(COALESCE(SUM(CASE WHEN category = 'purchase' THEN credits ELSE 0 END), 0) AS BIGINT) AS total_purchased,
	CAST(COALESCE(SUM(CASE WHEN category = 'spend' THEN -credits ELSE 0 END), 0) AS BIGINT) AS total_spent,
	COUNT(*) AS transaction_count
FROM transactions
WHERE account_id = ?`

// Store implements ledger.Store and ledger.CatalogStore using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the wallet tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// LockAccount inserts the account if missing and takes a row lock on it.
func (store *Store) LockAccount(ctx context.Context, accountID ledger.AccountID, nowUnixUTC int64) (ledger.Account, error) {
	now := time.Unix(nowUnixUTC, 0).UTC()
	seed := Account{AccountID: accountID.String(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	var model Account
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID.String()).
		Take(&model).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return mapAccount(model), nil
}

func (store *Store) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).Where("account_id = ?", accountID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

func (store *Store) InsertTransaction(ctx context.Context, record ledger.NewTransactionRecord) error {
	row := Transaction{
		TransactionID: record.TransactionID.String(),
		AccountID:     record.AccountID.String(),
		Type:          record.Type.String(),
		Category:      record.Type.Category().String(),
		Credits:       record.Credits.Int64(),
		BalanceAfter:  record.BalanceAfter.Int64(),
		Description:   record.Description,
		Metadata:      datatypesJSON(record.Metadata.String()),
		CreatedAt:     time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	if record.Reference != nil {
		value := record.Reference.String()
		row.Reference = &value
	}
	if record.RelatedEntity != nil {
		kind := record.RelatedEntity.Kind
		id := record.RelatedEntity.ID
		row.RelatedEntityKind = &kind
		row.RelatedEntityID = &id
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isReferenceConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) UpdateBalance(ctx context.Context, accountID ledger.AccountID, balance ledger.Credits, nowUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Updates(map[string]any{
			"balance":    balance.Int64(),
			"updated_at": time.Unix(nowUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return nil
}

func (store *Store) FindTransactionByReference(ctx context.Context, reference ledger.Reference) (ledger.Transaction, error) {
	var row Transaction
	err := store.db.WithContext(ctx).Where("reference = ?", reference.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, ledger.ErrTransactionNotFound)
		}
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

// ListTransactions returns one page ordered newest first. The sequence column
// breaks ties between rows created in the same second.
func (store *Store) ListTransactions(ctx context.Context, accountID ledger.AccountID, query ledger.TransactionQuery) ([]ledger.Transaction, int64, error) {
	filter := func(db *gorm.DB) *gorm.DB {
		scoped := db.Where("account_id = ?", accountID.String())
		if query.Category != nil {
			scoped = scoped.Where("category = ?", query.Category.String())
		}
		if query.Search != "" {
			scoped = scoped.Where("LOWER(description) LIKE ? ESCAPE '"+likeEscape+"'", likePattern(query.Search))
		}
		return scoped
	}

	var total int64
	if err := store.db.WithContext(ctx).Model(&Transaction{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}

	var rows []Transaction
	err := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Scopes(filter).
		Order("created_at DESC").
		Order("sequence DESC").
		Limit(query.PageSize).
		Offset(query.Offset()).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}

	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, total, nil
}

// SummarizeAccount reads the cached balance and the ledger aggregates with a
// single statement so both come from the same snapshot.
func (store *Store) SummarizeAccount(ctx context.Context, accountID ledger.AccountID) (ledger.AccountTotals, error) {
	var totals accountTotals
	err := store.db.WithContext(ctx).Raw(summarizeAccountSQL, accountID.String(), accountID.String()).Scan(&totals).Error
	if err != nil {
		return ledger.AccountTotals{}, wrapStoreError(errorSubjectBalance, errorCodeSummarize, err)
	}
	return ledger.AccountTotals{
		CachedBalance:    totals.CachedBalance,
		LedgerSum:        totals.LedgerSum,
		TotalPurchased:   totals.TotalPurchased,
		TotalSpent:       totals.TotalSpent,
		TransactionCount: totals.TransactionCount,
	}, nil
}

func (store *Store) ListAccountIDs(ctx context.Context, afterAccountID string, limit int) ([]ledger.AccountID, error) {
	var rawIDs []string
	err := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id > ?", afterAccountID).
		Order("account_id ASC").
		Limit(limit).
		Pluck("account_id", &rawIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accountIDs := make([]ledger.AccountID, 0, len(rawIDs))
	for _, rawID := range rawIDs {
		accountID, err := ledger.NewAccountID(rawID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accountIDs = append(accountIDs, accountID)
	}
	return accountIDs, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type accountTotals struct {
	CachedBalance    int64
	LedgerSum        int64
	TotalPurchased   int64
	TotalSpent       int64
	TransactionCount int64
}

func mapAccount(model Account) ledger.Account {
	accountID, _ := ledger.NewAccountID(model.AccountID)
	return ledger.Account{
		AccountID:      accountID,
		Balance:        model.Balance,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}
}

func mapTransaction(row Transaction) (ledger.Transaction, error) {
	transactionType, err := ledger.ParseTransactionType(row.Type)
	if err != nil {
		return ledger.Transaction{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Transaction{}, err
	}
	transaction := ledger.Transaction{
		TransactionID:  row.TransactionID,
		AccountID:      row.AccountID,
		Type:           transactionType,
		Credits:        row.Credits,
		BalanceAfter:   row.BalanceAfter,
		Description:    row.Description,
		MetadataJSON:   metadata.String(),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}
	if row.Reference != nil {
		transaction.Reference = *row.Reference
	}
	if row.RelatedEntityKind != nil && row.RelatedEntityID != nil {
		entity, err := ledger.NewRelatedEntity(*row.RelatedEntityKind, *row.RelatedEntityID)
		if err != nil {
			return ledger.Transaction{}, err
		}
		transaction.RelatedEntity = &entity
	}
	return transaction, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func likePattern(search string) string {
	replacer := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return "%" + replacer.Replace(strings.ToLower(search)) + "%"
}

func isReferenceConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionReference
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), referenceColumn)
	}
	return false
}
