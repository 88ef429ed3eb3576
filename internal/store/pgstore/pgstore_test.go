package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/jackc/pgx/v5/pgconn"
)

const postgresURLEnv = "WALLETD_TEST_POSTGRES_URL"

func TestIsReferenceConflict(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "reference unique violation", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintTransactionReference}, want: true},
		{name: "wrapped", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintTransactionReference}), want: true},
		{name: "other constraint", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "uniq_transactions_transaction_id"}},
		{name: "check violation", err: &pgconn.PgError{Code: "23514", ConstraintName: constraintTransactionReference}},
		{name: "plain error", err: errors.New("boom")},
		{name: "nil", err: nil},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			if got := isReferenceConflict(tc.err); got != tc.want {
				test.Fatalf("expected %t, got %t", tc.want, got)
			}
		})
	}
}

func TestSearchParamEscapesWildcards(test *testing.T) {
	test.Parallel()
	cases := map[string]string{
		"":             "",
		"   ":          "",
		"Bundle":       "%bundle%",
		"50%":          `%50\%%`,
		"agent_number": `%agent\_number%`,
		`back\slash`:   `%back\\slash%`,
	}
	for input, want := range cases {
		if got := searchParam(input); got != want {
			test.Fatalf("searchParam(%q): expected %q, got %q", input, want, got)
		}
	}
}

func TestCategoryParam(test *testing.T) {
	test.Parallel()
	if got := categoryParam(nil); got != "" {
		test.Fatalf("expected empty category, got %q", got)
	}
	spend := ledger.CategorySpend
	if got := categoryParam(&spend); got != "spend" {
		test.Fatalf("expected spend, got %q", got)
	}
}

func TestSchemaDeclaresConstraints(test *testing.T) {
	test.Parallel()
	for _, fragment := range []string{
		"create table if not exists accounts",
		"create table if not exists transactions",
		"create table if not exists credit_packages",
		constraintTransactionReference,
		"chk_accounts_balance_non_negative",
	} {
		if !strings.Contains(schemaSQL, fragment) {
			test.Fatalf("schema missing %q", fragment)
		}
	}
}

func TestPostgresSpendAndReplay(test *testing.T) {
	databaseURL := os.Getenv(postgresURLEnv)
	if databaseURL == "" {
		test.Skipf("%s not set", postgresURLEnv)
	}
	ctx := context.Background()
	store, err := Open(ctx, databaseURL)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		test.Fatalf("schema: %v", err)
	}

	suffix := strings.ReplaceAll(test.Name(), "/", "_")
	ledgerService, err := ledger.NewLedger(store, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	catalog, err := ledger.NewCatalog(store, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("catalog: %v", err)
	}
	pkg, err := catalog.Create(ctx, ledger.PackageInput{Name: "Bundle " + suffix, Price: "9.99", Credits: 100})
	if err != nil {
		test.Fatalf("create package: %v", err)
	}
	processor, err := ledger.NewPurchaseProcessor(ledgerService, catalog)
	if err != nil {
		test.Fatalf("processor: %v", err)
	}
	accountID, err := ledger.NewAccountID("pg-" + pkg.PackageID.String())
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	reference, err := ledger.NewReference("pay-" + pkg.PackageID.String())
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	first, err := processor.OnPaymentConfirmed(ctx, pkg.PackageID, accountID, reference)
	if err != nil {
		test.Fatalf("purchase: %v", err)
	}
	second, err := processor.OnPaymentConfirmed(ctx, pkg.PackageID, accountID, reference)
	if err != nil {
		test.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.Transaction.TransactionID != first.Transaction.TransactionID {
		test.Fatalf("expected replay of %s, got %+v", first.Transaction.TransactionID, second)
	}
	balance, err := ledgerService.Balance(ctx, accountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 100 {
		test.Fatalf("expected 100 credits, got %d", balance.Int64())
	}
}
