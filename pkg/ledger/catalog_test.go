package ledger

import (
	"context"
	"errors"
	"testing"
)

func mustNewCatalog(test *testing.T, store CatalogStore) *Catalog {
	test.Helper()
	ids := []string{"pkg-1", "pkg-2", "pkg-3"}
	next := 0
	catalog, err := NewCatalog(store, stubClock, WithIDGenerator(func() string {
		id := ids[next%len(ids)]
		next++
		return id
	}))
	if err != nil {
		test.Fatalf("new catalog: %v", err)
	}
	return catalog
}

func TestCatalogCreateValidatesInput(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name  string
		input PackageInput
	}{
		{name: "missing name", input: PackageInput{Price: "9.99", Credits: 100}},
		{name: "bad price", input: PackageInput{Name: "Starter", Price: "cheap", Credits: 100}},
		{name: "zero price", input: PackageInput{Name: "Starter", Price: "0", Credits: 100}},
		{name: "three decimals", input: PackageInput{Name: "Starter", Price: "9.999", Credits: 100}},
		{name: "zero credits", input: PackageInput{Name: "Starter", Price: "9.99"}},
		{name: "bad status", input: PackageInput{Name: "Starter", Price: "9.99", Credits: 100, Status: "archived"}},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			catalog := mustNewCatalog(test, newStubCatalogStore(test))
			if _, err := catalog.Create(context.Background(), tc.input); !errors.Is(err, ErrInvalidPackage) {
				test.Fatalf("expected ErrInvalidPackage, got %v", err)
			}
		})
	}
}

func TestCatalogLifecycle(test *testing.T) {
	test.Parallel()
	store := newStubCatalogStore(test)
	catalog := mustNewCatalog(test, store)
	ctx := context.Background()

	starter, err := catalog.Create(ctx, PackageInput{Name: " Starter ", Price: "9.99", Credits: 100})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if starter.PackageID.String() != "pkg-1" || starter.Name != "Starter" || starter.Status != PackageStatusActive {
		test.Fatalf("unexpected package: %+v", starter)
	}
	if _, err := catalog.Create(ctx, PackageInput{Name: "Hidden", Price: "1.50", Credits: 10, Status: "inactive"}); err != nil {
		test.Fatalf("create inactive: %v", err)
	}

	active, err := catalog.ListActive(ctx)
	if err != nil {
		test.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].PackageID != starter.PackageID {
		test.Fatalf("expected only the starter package, got %+v", active)
	}

	updated, err := catalog.Update(ctx, starter.PackageID, PackageInput{Name: "Starter Plus", Price: "12.00", Credits: 120, Status: "inactive"})
	if err != nil {
		test.Fatalf("update: %v", err)
	}
	if updated.Credits != 120 || updated.Price.StringFixed(2) != "12.00" || updated.Status != PackageStatusInactive {
		test.Fatalf("unexpected update: %+v", updated)
	}

	if err := catalog.Delete(ctx, starter.PackageID); err != nil {
		test.Fatalf("delete: %v", err)
	}
	if _, err := catalog.GetPackage(ctx, starter.PackageID); !errors.Is(err, ErrPackageNotFound) {
		test.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
	if _, err := catalog.Update(ctx, starter.PackageID, PackageInput{Name: "Ghost", Price: "1", Credits: 1}); !errors.Is(err, ErrPackageNotFound) {
		test.Fatalf("expected ErrPackageNotFound on update, got %v", err)
	}
	all, err := catalog.List(ctx, PackageFilter{})
	if err != nil || len(all) != 1 {
		test.Fatalf("expected one remaining package, got %d (%v)", len(all), err)
	}
}

func TestParsePrice(test *testing.T) {
	test.Parallel()
	price, err := ParsePrice(" 19.9 ")
	if err != nil {
		test.Fatalf("parse price: %v", err)
	}
	if price.StringFixed(2) != "19.90" {
		test.Fatalf("expected 19.90, got %s", price.StringFixed(2))
	}
}
