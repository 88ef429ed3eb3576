package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	sqlPackageColumns = `
		package_id, name, price::text, credits, status, description,
		extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
	`

	sqlInsertPackage = `
		insert into credit_packages(package_id, name, price, credits, status, description, created_at, updated_at)
		values($1, $2, $3::numeric, $4, $5, $6, to_timestamp($7), to_timestamp($8))
	`

	sqlUpdatePackage = `
		update credit_packages
		set name = $2, price = $3::numeric, credits = $4, status = $5, description = $6, updated_at = to_timestamp($7)
		where package_id = $1
	`

	sqlDeletePackage = `delete from credit_packages where package_id = $1`

	sqlSelectPackage = `select ` + sqlPackageColumns + ` from credit_packages where package_id = $1`

	sqlListPackages = `select ` + sqlPackageColumns + ` from credit_packages
		where ($1::text = '' or status = $1::text)
		order by credits asc, package_id asc
	`
)

func (store *Store) CreatePackage(ctx context.Context, pkg ledger.Package) error {
	_, err := store.pool.Exec(ctx, sqlInsertPackage,
		pkg.PackageID.String(),
		pkg.Name,
		pkg.Price.StringFixed(2),
		pkg.Credits.Int64(),
		string(pkg.Status),
		pkg.Description,
		pkg.CreatedUnixUTC,
		pkg.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) UpdatePackage(ctx context.Context, pkg ledger.Package) error {
	tag, err := store.pool.Exec(ctx, sqlUpdatePackage,
		pkg.PackageID.String(),
		pkg.Name,
		pkg.Price.StringFixed(2),
		pkg.Credits.Int64(),
		string(pkg.Status),
		pkg.Description,
		pkg.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPackage, errorCodeUpdate, ledger.ErrPackageNotFound)
	}
	return nil
}

func (store *Store) DeletePackage(ctx context.Context, packageID ledger.PackageID) error {
	tag, err := store.pool.Exec(ctx, sqlDeletePackage, packageID.String())
	if err != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeDelete, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPackage, errorCodeDelete, ledger.ErrPackageNotFound)
	}
	return nil
}

func (store *Store) GetPackage(ctx context.Context, packageID ledger.PackageID) (ledger.Package, error) {
	pkg, err := scanPackage(store.pool.QueryRow(ctx, sqlSelectPackage, packageID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Package{}, wrapStoreError(errorSubjectPackage, errorCodeGet, ledger.ErrPackageNotFound)
		}
		return ledger.Package{}, wrapStoreError(errorSubjectPackage, errorCodeGet, err)
	}
	return pkg, nil
}

// ListPackages orders packages by size so the smallest bundle is listed first.
func (store *Store) ListPackages(ctx context.Context, filter ledger.PackageFilter) ([]ledger.Package, error) {
	status := ""
	if filter.Status != nil {
		status = string(*filter.Status)
	}
	rows, err := store.pool.Query(ctx, sqlListPackages, status)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPackage, errorCodeList, err)
	}
	defer rows.Close()
	packages := make([]ledger.Package, 0, 8)
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPackage, errorCodeInvalid, err)
		}
		packages = append(packages, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPackage, errorCodeList, err)
	}
	return packages, nil
}

func scanPackage(row pgx.Row) (ledger.Package, error) {
	var (
		packageIDValue string
		priceValue     string
		creditsValue   int64
		statusValue    string
		pkg            ledger.Package
	)
	if err := row.Scan(
		&packageIDValue,
		&pkg.Name,
		&priceValue,
		&creditsValue,
		&statusValue,
		&pkg.Description,
		&pkg.CreatedUnixUTC,
		&pkg.UpdatedUnixUTC,
	); err != nil {
		return ledger.Package{}, err
	}
	packageID, err := ledger.NewPackageID(packageIDValue)
	if err != nil {
		return ledger.Package{}, err
	}
	price, err := decimal.NewFromString(priceValue)
	if err != nil {
		return ledger.Package{}, err
	}
	credits, err := ledger.NewPositiveCredits(creditsValue)
	if err != nil {
		return ledger.Package{}, err
	}
	status, err := ledger.ParsePackageStatus(statusValue)
	if err != nil {
		return ledger.Package{}, err
	}
	pkg.PackageID = packageID
	pkg.Price = price
	pkg.Credits = credits
	pkg.Status = status
	return pkg, nil
}
