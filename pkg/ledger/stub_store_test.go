package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

const stubClockUnixUTC = 1700000000

// stubStore is an in-memory Store. WithTx serializes units of work and rolls
// back on error, matching the row-lock behaviour of the SQL stores.
type stubStore struct {
	txMutex      sync.Mutex
	dataMutex    sync.Mutex
	accounts     map[string]Account
	transactions []Transaction
	insertErr    error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{accounts: make(map[string]Account)}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()

	store.dataMutex.Lock()
	savedAccounts := make(map[string]Account, len(store.accounts))
	for key, account := range store.accounts {
		savedAccounts[key] = account
	}
	savedCount := len(store.transactions)
	store.dataMutex.Unlock()

	if err := fn(ctx, store); err != nil {
		store.dataMutex.Lock()
		store.accounts = savedAccounts
		store.transactions = store.transactions[:savedCount]
		store.dataMutex.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) LockAccount(_ context.Context, accountID AccountID, nowUnixUTC int64) (Account, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	account, ok := store.accounts[accountID.String()]
	if !ok {
		account = Account{AccountID: accountID, CreatedUnixUTC: nowUnixUTC}
		store.accounts[accountID.String()] = account
	}
	return account, nil
}

func (store *stubStore) GetAccount(_ context.Context, accountID AccountID) (Account, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	account, ok := store.accounts[accountID.String()]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return account, nil
}

func (store *stubStore) InsertTransaction(_ context.Context, record NewTransactionRecord) error {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.insertErr != nil {
		return store.insertErr
	}
	if record.Reference != nil {
		for _, existing := range store.transactions {
			if existing.Reference == record.Reference.String() {
				return ErrDuplicateReference
			}
		}
	}
	store.transactions = append(store.transactions, record.Transaction())
	return nil
}

func (store *stubStore) UpdateBalance(_ context.Context, accountID AccountID, balance Credits, _ int64) error {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	account, ok := store.accounts[accountID.String()]
	if !ok {
		return ErrUnknownAccount
	}
	account.Balance = balance.Int64()
	store.accounts[accountID.String()] = account
	return nil
}

func (store *stubStore) FindTransactionByReference(_ context.Context, reference Reference) (Transaction, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	for _, transaction := range store.transactions {
		if transaction.Reference == reference.String() {
			return transaction, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (store *stubStore) ListTransactions(_ context.Context, accountID AccountID, query TransactionQuery) ([]Transaction, int64, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	matched := make([]Transaction, 0)
	for index := len(store.transactions) - 1; index >= 0; index-- {
		transaction := store.transactions[index]
		if transaction.AccountID != accountID.String() {
			continue
		}
		if query.Category != nil && transaction.Category() != *query.Category {
			continue
		}
		if query.Search != "" && !strings.Contains(strings.ToLower(transaction.Description), strings.ToLower(query.Search)) {
			continue
		}
		matched = append(matched, transaction)
	}
	sort.SliceStable(matched, func(left, right int) bool {
		return matched[left].CreatedUnixUTC > matched[right].CreatedUnixUTC
	})
	total := int64(len(matched))
	start := query.Offset()
	if start >= len(matched) {
		return []Transaction{}, total, nil
	}
	end := start + query.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (store *stubStore) SummarizeAccount(_ context.Context, accountID AccountID) (AccountTotals, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	totals := AccountTotals{CachedBalance: store.accounts[accountID.String()].Balance}
	for _, transaction := range store.transactions {
		if transaction.AccountID != accountID.String() {
			continue
		}
		totals.TransactionCount++
		totals.LedgerSum += transaction.Credits
		if transaction.Category() == CategoryPurchase {
			totals.TotalPurchased += transaction.Credits
		} else {
			totals.TotalSpent -= transaction.Credits
		}
	}
	return totals, nil
}

func (store *stubStore) ListAccountIDs(_ context.Context, afterAccountID string, limit int) ([]AccountID, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	keys := make([]string, 0, len(store.accounts))
	for key := range store.accounts {
		if key > afterAccountID {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	accountIDs := make([]AccountID, 0, len(keys))
	for _, key := range keys {
		accountIDs = append(accountIDs, store.accounts[key].AccountID)
	}
	return accountIDs, nil
}

func (store *stubStore) setCachedBalance(accountID AccountID, balance int64) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	account := store.accounts[accountID.String()]
	account.AccountID = accountID
	account.Balance = balance
	store.accounts[accountID.String()] = account
}

func (store *stubStore) transactionCount() int {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	return len(store.transactions)
}

type failingStore struct {
	*stubStore
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{stubStore: newStubStore(test), err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.err
}

type stubCatalogStore struct {
	mutex    sync.Mutex
	packages map[string]Package
	order    []string
}

func newStubCatalogStore(test *testing.T) *stubCatalogStore {
	test.Helper()
	return &stubCatalogStore{packages: make(map[string]Package)}
}

func (store *stubCatalogStore) CreatePackage(_ context.Context, pkg Package) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.packages[pkg.PackageID.String()] = pkg
	store.order = append(store.order, pkg.PackageID.String())
	return nil
}

func (store *stubCatalogStore) UpdatePackage(_ context.Context, pkg Package) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, ok := store.packages[pkg.PackageID.String()]; !ok {
		return ErrPackageNotFound
	}
	store.packages[pkg.PackageID.String()] = pkg
	return nil
}

func (store *stubCatalogStore) DeletePackage(_ context.Context, packageID PackageID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, ok := store.packages[packageID.String()]; !ok {
		return ErrPackageNotFound
	}
	delete(store.packages, packageID.String())
	return nil
}

func (store *stubCatalogStore) GetPackage(_ context.Context, packageID PackageID) (Package, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	pkg, ok := store.packages[packageID.String()]
	if !ok {
		return Package{}, ErrPackageNotFound
	}
	return pkg, nil
}

func (store *stubCatalogStore) ListPackages(_ context.Context, filter PackageFilter) ([]Package, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	packages := make([]Package, 0, len(store.packages))
	for _, key := range store.order {
		pkg, ok := store.packages[key]
		if !ok {
			continue
		}
		if filter.Status != nil && pkg.Status != *filter.Status {
			continue
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

func (store *stubCatalogStore) put(pkg Package) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.packages[pkg.PackageID.String()] = pkg
	store.order = append(store.order, pkg.PackageID.String())
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) snapshot() []OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	return append([]OperationLog(nil), logger.entries...)
}

type recorderListener struct {
	mutex        sync.Mutex
	transactions []Transaction
}

func (listener *recorderListener) TransactionCommitted(_ context.Context, transaction Transaction) {
	listener.mutex.Lock()
	defer listener.mutex.Unlock()
	listener.transactions = append(listener.transactions, transaction)
}

func stubClock() int64 {
	return stubClockUnixUTC
}

func mustNewLedger(test *testing.T, store Store, options ...Option) *Ledger {
	test.Helper()
	ledger, err := NewLedger(store, stubClock, options...)
	if err != nil {
		test.Fatalf("new ledger: %v", err)
	}
	return ledger
}

func mustNewSpendAuthorizer(test *testing.T, appender TransactionAppender, options ...Option) *SpendAuthorizer {
	test.Helper()
	authorizer, err := NewSpendAuthorizer(appender, DefaultActionPrices(), options...)
	if err != nil {
		test.Fatalf("new spend authorizer: %v", err)
	}
	return authorizer
}

func mustNewPurchaseProcessor(test *testing.T, appender TransactionAppender, packages PackageReader, options ...Option) *PurchaseProcessor {
	test.Helper()
	processor, err := NewPurchaseProcessor(appender, packages, options...)
	if err != nil {
		test.Fatalf("new purchase processor: %v", err)
	}
	return processor
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	value, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return value
}

func mustReference(test *testing.T, raw string) Reference {
	test.Helper()
	value, err := NewReference(raw)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	return value
}

func mustPackageID(test *testing.T, raw string) PackageID {
	test.Helper()
	value, err := NewPackageID(raw)
	if err != nil {
		test.Fatalf("package id: %v", err)
	}
	return value
}

func mustPositiveCredits(test *testing.T, raw int64) PositiveCredits {
	test.Helper()
	value, err := NewPositiveCredits(raw)
	if err != nil {
		test.Fatalf("positive credits: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}

func mustAppendRequest(test *testing.T, accountID AccountID, transactionType TransactionType, credits int64, reference *Reference) AppendRequest {
	test.Helper()
	delta, err := NewCreditDelta(credits)
	if err != nil {
		test.Fatalf("credit delta: %v", err)
	}
	request, err := NewAppendRequest(accountID, transactionType, delta, "", reference, nil, MetadataJSON{})
	if err != nil {
		test.Fatalf("append request: %v", err)
	}
	return request
}

func mustAppend(test *testing.T, ledger *Ledger, accountID AccountID, transactionType TransactionType, credits int64, reference *Reference) Transaction {
	test.Helper()
	transaction, err := ledger.Append(context.Background(), mustAppendRequest(test, accountID, transactionType, credits, reference))
	if err != nil {
		test.Fatalf("append %s %d: %v", transactionType.String(), credits, err)
	}
	return transaction
}

func mustBalance(test *testing.T, ledger *Ledger, accountID AccountID) int64 {
	test.Helper()
	balance, err := ledger.Balance(context.Background(), accountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance.Int64()
}

func activePackage(test *testing.T, rawID string, name string, credits int64, price string) Package {
	test.Helper()
	return Package{
		PackageID: mustPackageID(test, rawID),
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Credits:   mustPositiveCredits(test, credits),
		Status:    PackageStatusActive,
	}
}
