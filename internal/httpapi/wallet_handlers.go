package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const (
	idempotencyKeyHeader   = "Idempotency-Key"
	relatedKindProperty    = "property"
	queryParamPage         = "page"
	queryParamPageSize     = "page_size"
	queryParamCategory     = "type"
	queryParamSearch       = "q"
	queryParamStatusFilter = "status"
)

func (handler *httpHandler) handleSummary(ctx *gin.Context) {
	accountID, ok := sessionAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	summary, err := handler.services.Queries.Summary(requestCtx, accountID)
	if err != nil {
		handler.respondError(ctx, "summary unavailable", err)
		return
	}
	ctx.JSON(http.StatusOK, summaryPayload{
		CurrentCredits:        summary.CurrentBalance,
		TotalCreditsPurchased: summary.TotalPurchased,
		TotalCreditsSpent:     summary.TotalSpent,
	})
}

func (handler *httpHandler) handleActivePackages(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	packages, err := handler.services.Catalog.ListActive(requestCtx)
	if err != nil {
		handler.respondError(ctx, "packages unavailable", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"packages": newPackagePayloads(packages)})
}

func (handler *httpHandler) handlePrices(ctx *gin.Context) {
	rows := handler.services.Spends.Prices().List()
	prices := make([]pricePayload, 0, len(rows))
	for _, row := range rows {
		prices = append(prices, pricePayload{ActionType: row.Action.String(), Label: row.Action.Label(), Credits: row.Credits.Int64()})
	}
	ctx.JSON(http.StatusOK, gin.H{"prices": prices})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	accountID, ok := sessionAccount(ctx)
	if !ok {
		return
	}
	query, err := parseTransactionQuery(ctx)
	if err != nil {
		handler.respondError(ctx, "invalid query", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	page, err := handler.services.Queries.ListTransactions(requestCtx, accountID, query)
	if err != nil {
		handler.respondError(ctx, "transactions unavailable", err)
		return
	}
	transactions := make([]transactionPayload, 0, len(page.Transactions))
	for _, transaction := range page.Transactions {
		transactions = append(transactions, newTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, transactionPagePayload{
		Transactions: transactions,
		Page:         page.Page,
		PageSize:     page.PageSize,
		TotalItems:   page.TotalItems,
		TotalPages:   page.TotalPages(),
	})
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	accountID, ok := sessionAccount(ctx)
	if !ok {
		return
	}
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	packageID, err := ledger.NewPackageID(request.PackageID)
	if err != nil {
		handler.respondError(ctx, "invalid package", err)
		return
	}
	reference, err := ledger.NewExternalReference(request.PaymentReference)
	if err != nil {
		handler.respondError(ctx, "invalid payment reference", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.services.Purchases.OnPaymentConfirmed(requestCtx, packageID, accountID, reference)
	if err != nil {
		handler.respondError(ctx, "purchase failed", err)
		return
	}
	ctx.JSON(appendStatus(result), newTransactionResult(result))
}

func (handler *httpHandler) handleSpend(ctx *gin.Context) {
	accountID, ok := sessionAccount(ctx)
	if !ok {
		return
	}
	var request spendRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	action, err := ledger.ParseActionType(request.ActionType)
	if err != nil {
		handler.respondError(ctx, "unknown action", err)
		return
	}
	spend := ledger.SpendRequest{AccountID: accountID, Action: action}
	if propertyID := strings.TrimSpace(request.PropertyID); propertyID != "" {
		entity, err := ledger.NewRelatedEntity(relatedKindProperty, propertyID)
		if err != nil {
			handler.respondError(ctx, "invalid property", err)
			return
		}
		spend.RelatedEntity = &entity
	}
	if key := strings.TrimSpace(ctx.GetHeader(idempotencyKeyHeader)); key != "" {
		reference, err := ledger.IdempotencyReference(accountID, key)
		if err != nil {
			handler.respondError(ctx, "invalid idempotency key", err)
			return
		}
		spend.Reference = &reference
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.services.Spends.Spend(requestCtx, spend)
	if err != nil {
		handler.respondError(ctx, "spend failed", err)
		return
	}
	ctx.JSON(http.StatusOK, newTransactionResult(result))
}

func parseTransactionQuery(ctx *gin.Context) (ledger.TransactionQuery, error) {
	query := ledger.TransactionQuery{Search: ctx.Query(queryParamSearch)}
	var err error
	if query.Page, err = parseIntParam(ctx, queryParamPage); err != nil {
		return ledger.TransactionQuery{}, err
	}
	if query.PageSize, err = parseIntParam(ctx, queryParamPageSize); err != nil {
		return ledger.TransactionQuery{}, err
	}
	if query.Category, err = ledger.ParseCategoryFilter(ctx.Query(queryParamCategory)); err != nil {
		return ledger.TransactionQuery{}, err
	}
	return query, nil
}

func parseIntParam(ctx *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(ctx.Query(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, ledger.WrapError("http", "query", name, ledger.ErrInvalidPage)
	}
	return value, nil
}

func appendStatus(result ledger.AppendResult) int {
	if result.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}
