package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const (
	adjustmentOperationAdd    = "add"
	adjustmentOperationDeduct = "deduct"
)

func (handler *httpHandler) handleListPackages(ctx *gin.Context) {
	filter := ledger.PackageFilter{}
	if raw := strings.TrimSpace(ctx.Query(queryParamStatusFilter)); raw != "" {
		status, err := ledger.ParsePackageStatus(raw)
		if err != nil {
			handler.respondError(ctx, "invalid status", err)
			return
		}
		filter.Status = &status
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	packages, err := handler.services.Catalog.List(requestCtx, filter)
	if err != nil {
		handler.respondError(ctx, "packages unavailable", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"packages": newPackagePayloads(packages)})
}

func (handler *httpHandler) handleCreatePackage(ctx *gin.Context) {
	var request packageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	pkg, err := handler.services.Catalog.Create(requestCtx, request.input())
	if err != nil {
		handler.respondError(ctx, "package create failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, newPackagePayload(pkg))
}

func (handler *httpHandler) handleGetPackage(ctx *gin.Context) {
	packageID, err := ledger.NewPackageID(ctx.Param("package_id"))
	if err != nil {
		handler.respondError(ctx, "invalid package id", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	pkg, err := handler.services.Catalog.GetPackage(requestCtx, packageID)
	if err != nil {
		handler.respondError(ctx, "package unavailable", err)
		return
	}
	ctx.JSON(http.StatusOK, newPackagePayload(pkg))
}

func (handler *httpHandler) handleUpdatePackage(ctx *gin.Context) {
	packageID, err := ledger.NewPackageID(ctx.Param("package_id"))
	if err != nil {
		handler.respondError(ctx, "invalid package id", err)
		return
	}
	var request packageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	pkg, err := handler.services.Catalog.Update(requestCtx, packageID, request.input())
	if err != nil {
		handler.respondError(ctx, "package update failed", err)
		return
	}
	ctx.JSON(http.StatusOK, newPackagePayload(pkg))
}

func (handler *httpHandler) handleDeletePackage(ctx *gin.Context) {
	packageID, err := ledger.NewPackageID(ctx.Param("package_id"))
	if err != nil {
		handler.respondError(ctx, "invalid package id", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.services.Catalog.Delete(requestCtx, packageID); err != nil {
		handler.respondError(ctx, "package delete failed", err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleAdjustCredits(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param("account_id"))
	if err != nil {
		handler.respondError(ctx, "invalid account id", err)
		return
	}
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	credits, err := ledger.NewPositiveCredits(request.Credits)
	if err != nil {
		handler.respondError(ctx, "invalid credits", err)
		return
	}
	adjustment := ledger.AdminAdjustment{AccountID: accountID, Credits: credits, Description: request.Description}
	if raw := strings.TrimSpace(request.Reference); raw != "" {
		reference, err := ledger.NewExternalReference(raw)
		if err != nil {
			handler.respondError(ctx, "invalid reference", err)
			return
		}
		adjustment.Reference = &reference
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	var result ledger.AppendResult
	switch strings.ToLower(strings.TrimSpace(request.Operation)) {
	case adjustmentOperationAdd:
		result, err = handler.services.Purchases.Grant(requestCtx, adjustment)
	case adjustmentOperationDeduct:
		result, err = handler.services.Purchases.Deduct(requestCtx, adjustment)
	default:
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "operation must be add or deduct"))
		return
	}
	if err != nil {
		handler.respondError(ctx, "adjustment failed", err)
		return
	}
	ctx.JSON(appendStatus(result), newTransactionResult(result))
}

func (handler *httpHandler) handleReconciliation(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param("account_id"))
	if err != nil {
		handler.respondError(ctx, "invalid account id", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	reconciliation, err := handler.services.Ledger.Reconcile(requestCtx, accountID)
	if err != nil {
		handler.respondError(ctx, "reconciliation failed", err)
		return
	}
	ctx.JSON(http.StatusOK, newReconciliationPayload(reconciliation))
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	reference, err := ledger.NewReference(ctx.Param("reference"))
	if err != nil {
		handler.respondError(ctx, "invalid reference", err)
		return
	}
	var request refundRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&request); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
			return
		}
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.services.Purchases.RefundPurchase(requestCtx, reference, request.Reason)
	if err != nil {
		handler.respondError(ctx, "refund failed", err)
		return
	}
	ctx.JSON(appendStatus(result), newTransactionResult(result))
}

func (request packageRequest) input() ledger.PackageInput {
	return ledger.PackageInput{
		Name:        request.Name,
		Price:       request.Price,
		Credits:     request.Credits,
		Status:      request.Status,
		Description: request.Description,
	}
}
