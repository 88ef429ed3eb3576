package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"gorm.io/gorm"
)

func (store *Store) CreatePackage(ctx context.Context, pkg ledger.Package) error {
	row := packageRow(pkg)
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) UpdatePackage(ctx context.Context, pkg ledger.Package) error {
	result := store.db.WithContext(ctx).
		Model(&CreditPackage{}).
		Where("package_id = ?", pkg.PackageID.String()).
		Updates(map[string]any{
			"name":        pkg.Name,
			"price":       pkg.Price,
			"credits":     pkg.Credits.Int64(),
			"status":      string(pkg.Status),
			"description": pkg.Description,
			"updated_at":  time.Unix(pkg.UpdatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPackage, errorCodeUpdate, ledger.ErrPackageNotFound)
	}
	return nil
}

func (store *Store) DeletePackage(ctx context.Context, packageID ledger.PackageID) error {
	result := store.db.WithContext(ctx).Where("package_id = ?", packageID.String()).Delete(&CreditPackage{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPackage, errorCodeDelete, ledger.ErrPackageNotFound)
	}
	return nil
}

func (store *Store) GetPackage(ctx context.Context, packageID ledger.PackageID) (ledger.Package, error) {
	var row CreditPackage
	err := store.db.WithContext(ctx).Where("package_id = ?", packageID.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Package{}, wrapStoreError(errorSubjectPackage, errorCodeGet, ledger.ErrPackageNotFound)
		}
		return ledger.Package{}, wrapStoreError(errorSubjectPackage, errorCodeGet, err)
	}
	pkg, err := mapPackage(row)
	if err != nil {
		return ledger.Package{}, wrapStoreError(errorSubjectPackage, errorCodeInvalid, err)
	}
	return pkg, nil
}

// ListPackages orders packages by size so the smallest bundle is listed first.
func (store *Store) ListPackages(ctx context.Context, filter ledger.PackageFilter) ([]ledger.Package, error) {
	query := store.db.WithContext(ctx).Model(&CreditPackage{})
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	var rows []CreditPackage
	if err := query.Order("credits ASC").Order("package_id ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectPackage, errorCodeList, err)
	}
	packages := make([]ledger.Package, 0, len(rows))
	for _, row := range rows {
		pkg, err := mapPackage(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPackage, errorCodeInvalid, err)
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

func packageRow(pkg ledger.Package) CreditPackage {
	return CreditPackage{
		PackageID:   pkg.PackageID.String(),
		Name:        pkg.Name,
		Price:       pkg.Price,
		Credits:     pkg.Credits.Int64(),
		Status:      string(pkg.Status),
		Description: pkg.Description,
		CreatedAt:   time.Unix(pkg.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:   time.Unix(pkg.UpdatedUnixUTC, 0).UTC(),
	}
}

func mapPackage(row CreditPackage) (ledger.Package, error) {
	packageID, err := ledger.NewPackageID(row.PackageID)
	if err != nil {
		return ledger.Package{}, err
	}
	credits, err := ledger.NewPositiveCredits(row.Credits)
	if err != nil {
		return ledger.Package{}, err
	}
	status, err := ledger.ParsePackageStatus(row.Status)
	if err != nil {
		return ledger.Package{}, err
	}
	return ledger.Package{
		PackageID:      packageID,
		Name:           row.Name,
		Price:          row.Price,
		Credits:        credits,
		Status:         status,
		Description:    row.Description,
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}, nil
}
