package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	maxPackageNameLength = 128
	pricePlaces          = 2
)

// PackageInput carries the editable fields of a package.
type PackageInput struct {
	Name        string
	Price       string
	Credits     int64
	Status      string
	Description string
}

// Catalog manages credit packages for administrators and lists them for buyers.
type Catalog struct {
	store   CatalogStore
	nowFn   func() int64
	options componentOptions
}

// NewCatalog wires a Catalog.
func NewCatalog(store CatalogStore, now func() int64, options ...Option) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: catalog store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Catalog{store: store, nowFn: now, options: applyOptions(options)}, nil
}

// GetPackage satisfies PackageReader.
func (catalog *Catalog) GetPackage(ctx context.Context, packageID PackageID) (Package, error) {
	return catalog.store.GetPackage(ctx, packageID)
}

// List returns packages matching filter.
func (catalog *Catalog) List(ctx context.Context, filter PackageFilter) ([]Package, error) {
	return catalog.store.ListPackages(ctx, filter)
}

// ListActive returns the packages offered to buyers.
func (catalog *Catalog) ListActive(ctx context.Context) ([]Package, error) {
	status := PackageStatusActive
	return catalog.store.ListPackages(ctx, PackageFilter{Status: &status})
}

// Create validates input and stores a new package.
func (catalog *Catalog) Create(ctx context.Context, input PackageInput) (Package, error) {
	packageID, err := NewPackageID(catalog.options.idFn())
	if err != nil {
		return Package{}, err
	}
	nowUnixUTC := catalog.nowFn()
	pkg, err := buildPackage(packageID, input, nowUnixUTC, nowUnixUTC)
	if err == nil {
		err = catalog.store.CreatePackage(ctx, pkg)
	}
	catalog.logPackage(ctx, pkg, err)
	if err != nil {
		return Package{}, err
	}
	return pkg, nil
}

// Update replaces the editable fields of an existing package.
func (catalog *Catalog) Update(ctx context.Context, packageID PackageID, input PackageInput) (Package, error) {
	existing, err := catalog.store.GetPackage(ctx, packageID)
	if err != nil {
		return Package{}, err
	}
	pkg, err := buildPackage(packageID, input, existing.CreatedUnixUTC, catalog.nowFn())
	if err == nil {
		err = catalog.store.UpdatePackage(ctx, pkg)
	}
	catalog.logPackage(ctx, pkg, err)
	if err != nil {
		return Package{}, err
	}
	return pkg, nil
}

// Delete removes a package. Past purchases keep their metadata snapshot.
func (catalog *Catalog) Delete(ctx context.Context, packageID PackageID) error {
	err := catalog.store.DeletePackage(ctx, packageID)
	catalog.logPackage(ctx, Package{PackageID: packageID}, err)
	return err
}

func (catalog *Catalog) logPackage(ctx context.Context, pkg Package, err error) {
	catalog.options.logOperation(ctx, OperationLog{
		Operation:     operationCatalog,
		Credits:       pkg.Credits.Int64(),
		TransactionID: pkg.PackageID.String(),
		Error:         err,
	})
}

func buildPackage(packageID PackageID, input PackageInput, createdUnixUTC int64, updatedUnixUTC int64) (Package, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Package{}, invalidPackage("name is required")
	}
	if len(name) > maxPackageNameLength {
		return Package{}, invalidPackage(fmt.Sprintf("name is longer than %d characters", maxPackageNameLength))
	}
	price, err := ParsePrice(input.Price)
	if err != nil {
		return Package{}, err
	}
	credits, err := NewPositiveCredits(input.Credits)
	if err != nil {
		return Package{}, invalidPackage("credits must be greater than zero")
	}
	rawStatus := strings.TrimSpace(strings.ToLower(input.Status))
	if rawStatus == "" {
		rawStatus = string(PackageStatusActive)
	}
	status, err := ParsePackageStatus(rawStatus)
	if err != nil {
		return Package{}, invalidPackage(fmt.Sprintf("status %q is not active or inactive", input.Status))
	}
	description := strings.TrimSpace(input.Description)
	if len(description) > maxDescriptionLength {
		return Package{}, invalidPackage(fmt.Sprintf("description is longer than %d characters", maxDescriptionLength))
	}
	return Package{
		PackageID:      packageID,
		Name:           name,
		Price:          price,
		Credits:        credits,
		Status:         status,
		Description:    description,
		CreatedUnixUTC: createdUnixUTC,
		UpdatedUnixUTC: updatedUnixUTC,
	}, nil
}

// ParsePrice parses a positive currency amount with at most two decimals.
func ParsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, invalidPackage(fmt.Sprintf("price %q is not a number", raw))
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, invalidPackage("price must be greater than zero")
	}
	if !price.Equal(price.Round(pricePlaces)) {
		return decimal.Decimal{}, invalidPackage("price must have at most two decimal places")
	}
	return price, nil
}

func invalidPackage(reason string) error {
	return WrapError(errorOperationCatalog, errorSubjectPackage, errorCodeInvalid, fmt.Errorf("%w: %s", ErrInvalidPackage, reason))
}
