package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintTransactionReference = "uniq_transactions_reference"
	pgUniqueViolationCode          = "23505"
	likeEscape                     = `\`
	errorOperationStore            = "store"
	errorSubjectAccount            = "account"
	errorSubjectBalance            = "balance"
	errorSubjectPackage            = "package"
	errorSubjectSchema             = "schema"
	errorSubjectTransaction        = "transaction"
	errorCodeBegin                 = "begin"
	errorCodeCommit                = "commit"
	errorCodeConnect               = "connect"
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

	sqlEnsureAccount = `
		insert into accounts(account_id, balance, created_at, updated_at)
		values($1, 0, to_timestamp($2), to_timestamp($2))
		on conflict (account_id) do nothing
	`

	sqlLockAccount = `
		select account_id, balance, extract(epoch from created_at)::bigint
		from accounts
		where account_id = $1
		for update
	`

	sqlSelectAccount = `
		select account_id, balance, extract(epoch from created_at)::bigint
		from accounts
		where account_id = $1
	`

	sqlInsertTransaction = `
		insert into transactions(
			transaction_id, account_id, type, category, credits, balance_after, description,
			reference, related_entity_kind, related_entity_id, metadata, created_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, coalesce(nullif($11, ''), '{}')::jsonb, to_timestamp($12))
	`

	sqlUpdateBalance = `
		update accounts set balance = $2, updated_at = to_timestamp($3)
		where account_id = $1
	`

	sqlTransactionColumns = `
		transaction_id, account_id, type, credits, balance_after, description,
		coalesce(reference, ''), coalesce(related_entity_kind, ''), coalesce(related_entity_id, ''),
		metadata::text, extract(epoch from created_at)::bigint
	`

	sqlSelectTransactionByReference = `select ` + sqlTransactionColumns + ` from transactions where reference = $1`

	sqlTransactionFilter = `
		where account_id = $1
		and ($2::text = '' or category = $2::text)
		and ($3::text = '' or lower(description) like $3::text escape '\')
	`

	sqlCountTransactions = `select count(*) from transactions ` + sqlTransactionFilter

	sqlListTransactions = `select ` + sqlTransactionColumns + ` from transactions ` + sqlTransactionFilter + `
		order by created_at desc, sequence desc
		limit $4 offset $5
	`

	sqlSummarizeAccount = `
		select
			coalesce((select balance from accounts where account_id = $1), 0)::bigint,
			coalesce(sum(credits), 0)::bigint,
			coalesce(sum(case when category = 'purchase' then credits else 0 end), 0)::bigint,
			coalesce(sum(case when category = 'spend' then -credits else 0 end), 0)::bigint,
			count(*)
		from transactions
		where account_id = $1
	`

	sqlListAccountIDs = `
		select account_id from accounts
		where account_id > $1
		order by account_id
		limit $2
	`
)

// querier is the subset of pgxpool.Pool and pgx.Tx used by the statements.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

type statements struct {
	db querier
}

// Store implements ledger.Store and ledger.CatalogStore using a pgx connection
// pool (autocommit).
type Store struct {
	statements
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	statements
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{statements: statements{db: pool}, pool: pool}
}

// Open creates a pool for databaseURL.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSchema, errorCodeConnect, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapStoreError(errorSubjectSchema, errorCodeConnect, err)
	}
	return New(pool), nil
}

// Close releases the pool.
func (store *Store) Close() {
	store.pool.Close()
}

// EnsureSchema creates the wallet tables when they are missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{statements: statements{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store statements) LockAccount(ctx context.Context, accountID ledger.AccountID, nowUnixUTC int64) (ledger.Account, error) {
	if _, err := store.db.Exec(ctx, sqlEnsureAccount, accountID.String(), nowUnixUTC); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	account, err := scanAccount(store.db.QueryRow(ctx, sqlLockAccount, accountID.String()))
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return account, nil
}

func (store statements) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	account, err := scanAccount(store.db.QueryRow(ctx, sqlSelectAccount, accountID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return account, nil
}

func (store statements) InsertTransaction(ctx context.Context, record ledger.NewTransactionRecord) error {
	var (
		reference   *string
		relatedKind *string
		relatedID   *string
	)
	if record.Reference != nil {
		value := record.Reference.String()
		reference = &value
	}
	if record.RelatedEntity != nil {
		kind := record.RelatedEntity.Kind
		id := record.RelatedEntity.ID
		relatedKind = &kind
		relatedID = &id
	}
	_, err := store.db.Exec(ctx, sqlInsertTransaction,
		record.TransactionID.String(),
		record.AccountID.String(),
		record.Type.String(),
		record.Type.Category().String(),
		record.Credits.Int64(),
		record.BalanceAfter.Int64(),
		record.Description,
		reference,
		relatedKind,
		relatedID,
		record.Metadata.String(),
		record.CreatedUnixUTC,
	)
	if isReferenceConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store statements) UpdateBalance(ctx context.Context, accountID ledger.AccountID, balance ledger.Credits, nowUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlUpdateBalance, accountID.String(), balance.Int64(), nowUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return nil
}

func (store statements) FindTransactionByReference(ctx context.Context, reference ledger.Reference) (ledger.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlSelectTransactionByReference, reference.String())
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	if len(transactions) == 0 {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, ledger.ErrTransactionNotFound)
	}
	return transactions[0], nil
}

func (store statements) ListTransactions(ctx context.Context, accountID ledger.AccountID, query ledger.TransactionQuery) ([]ledger.Transaction, int64, error) {
	category := categoryParam(query.Category)
	search := searchParam(query.Search)

	var total int64
	if err := store.db.QueryRow(ctx, sqlCountTransactions, accountID.String(), category, search).Scan(&total); err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	rows, err := store.db.Query(ctx, sqlListTransactions, accountID.String(), category, search, query.PageSize, query.Offset())
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transactions, total, nil
}

func (store statements) SummarizeAccount(ctx context.Context, accountID ledger.AccountID) (ledger.AccountTotals, error) {
	var totals ledger.AccountTotals
	err := store.db.QueryRow(ctx, sqlSummarizeAccount, accountID.String()).Scan(
		&totals.CachedBalance,
		&totals.LedgerSum,
		&totals.TotalPurchased,
		&totals.TotalSpent,
		&totals.TransactionCount,
	)
	if err != nil {
		return ledger.AccountTotals{}, wrapStoreError(errorSubjectBalance, errorCodeSummarize, err)
	}
	return totals, nil
}

func (store statements) ListAccountIDs(ctx context.Context, afterAccountID string, limit int) ([]ledger.AccountID, error) {
	rows, err := store.db.Query(ctx, sqlListAccountIDs, afterAccountID, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	defer rows.Close()
	accountIDs := make([]ledger.AccountID, 0, limit)
	for rows.Next() {
		var rawID string
		if err := rows.Scan(&rawID); err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
		}
		accountID, err := ledger.NewAccountID(rawID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accountIDs = append(accountIDs, accountID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	return accountIDs, nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		accountIDValue   string
		balance          int64
		createdAtUnixUTC int64
	)
	if err := row.Scan(&accountIDValue, &balance, &createdAtUnixUTC); err != nil {
		return ledger.Account{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{AccountID: accountID, Balance: balance, CreatedUnixUTC: createdAtUnixUTC}, nil
}

func scanTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	transactions := make([]ledger.Transaction, 0, 32)
	for rows.Next() {
		var (
			transaction      ledger.Transaction
			typeValue        string
			referenceValue   string
			relatedKindValue string
			relatedIDValue   string
			metadataValue    string
		)
		if err := rows.Scan(
			&transaction.TransactionID,
			&transaction.AccountID,
			&typeValue,
			&transaction.Credits,
			&transaction.BalanceAfter,
			&transaction.Description,
			&referenceValue,
			&relatedKindValue,
			&relatedIDValue,
			&metadataValue,
			&transaction.CreatedUnixUTC,
		); err != nil {
			return nil, err
		}
		transactionType, err := ledger.ParseTransactionType(typeValue)
		if err != nil {
			return nil, err
		}
		metadata, err := ledger.NewMetadataJSON(metadataValue)
		if err != nil {
			return nil, err
		}
		transaction.Type = transactionType
		transaction.Reference = referenceValue
		transaction.MetadataJSON = metadata.String()
		if relatedKindValue != "" && relatedIDValue != "" {
			entity, err := ledger.NewRelatedEntity(relatedKindValue, relatedIDValue)
			if err != nil {
				return nil, err
			}
			transaction.RelatedEntity = &entity
		}
		transactions = append(transactions, transaction)
	}
	return transactions, rows.Err()
}

func categoryParam(category *ledger.TransactionCategory) string {
	if category == nil {
		return ""
	}
	return category.String()
}

func searchParam(search string) string {
	trimmed := strings.TrimSpace(search)
	if trimmed == "" {
		return ""
	}
	replacer := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return "%" + replacer.Replace(strings.ToLower(trimmed)) + "%"
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isReferenceConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionReference
	}
	return false
}
