// Package grpcserver exposes the wallet to other services over gRPC.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldAccountID        = "account_id"
	fieldPackageID        = "package_id"
	fieldPaymentReference = "payment_reference"
	fieldActionType       = "action_type"
	fieldPropertyID       = "property_id"
	fieldReference        = "reference"
	fieldPage             = "page"
	fieldPageSize         = "page_size"
	fieldCategory         = "type"
	fieldSearch           = "q"

	errorInsufficientCredits = "insufficient_credits"
	errorUnknownAction       = "unknown_action"
	errorPackageUnavailable  = "package_unavailable"
	errorReferenceConflict   = "reference_conflict"
	errorNotRefundable       = "not_refundable"
	errorNotFound            = "not_found"
	errorInvalidRequest      = "invalid_request"
	errorConstraintViolation = "constraint_violation"

	relatedKindProperty = "property"
)

// PaymentConfirmer applies confirmed package payments.
type PaymentConfirmer interface {
	OnPaymentConfirmed(ctx context.Context, packageID ledger.PackageID, accountID ledger.AccountID, paymentReference ledger.Reference) (ledger.AppendResult, error)
}

// Spender authorizes credit spends.
type Spender interface {
	Spend(ctx context.Context, request ledger.SpendRequest) (ledger.AppendResult, error)
}

// HistoryService serves wallet summaries and history.
type HistoryService interface {
	Summary(ctx context.Context, accountID ledger.AccountID) (ledger.Summary, error)
	ListTransactions(ctx context.Context, accountID ledger.AccountID, query ledger.TransactionQuery) (ledger.TransactionPage, error)
}

// WalletServiceServer implements WalletServer on top of the ledger components.
type WalletServiceServer struct {
	payments PaymentConfirmer
	spends   Spender
	history  HistoryService
}

// NewWalletServiceServer constructs the gRPC service.
func NewWalletServiceServer(payments PaymentConfirmer, spends Spender, history HistoryService) (*WalletServiceServer, error) {
	if payments == nil || spends == nil || history == nil {
		return nil, fmt.Errorf("%w: grpc dependencies are incomplete", ledger.ErrInvalidServiceConfig)
	}
	return &WalletServiceServer{payments: payments, spends: spends, history: history}, nil
}

// NewServer returns a grpc.Server with the wallet and health services registered.
func NewServer(service WalletServer, options ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(options...)
	RegisterWalletServer(server, service)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

// Serve runs server on listenAddr until ctx is done.
func Serve(ctx context.Context, listenAddr string, server *grpc.Server, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", listenAddr))
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("gRPC shutdown requested")
		server.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

func (service *WalletServiceServer) ConfirmPayment(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	packageID, err := ledger.NewPackageID(stringField(request, fieldPackageID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	accountID, err := ledger.NewAccountID(stringField(request, fieldAccountID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reference, err := ledger.NewExternalReference(stringField(request, fieldPaymentReference))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.payments.OnPaymentConfirmed(ctx, packageID, accountID, reference)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return appendResultStruct(result)
}

func (service *WalletServiceServer) GetSummary(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := ledger.NewAccountID(stringField(request, fieldAccountID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	summary, operationError := service.history.Summary(ctx, accountID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return toStruct(map[string]any{
		fieldAccountID:            accountID.String(),
		"current_credits":         summary.CurrentBalance,
		"total_credits_purchased": summary.TotalPurchased,
		"total_credits_spent":     summary.TotalSpent,
	})
}

func (service *WalletServiceServer) Spend(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := ledger.NewAccountID(stringField(request, fieldAccountID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	action, err := ledger.ParseActionType(stringField(request, fieldActionType))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	spend := ledger.SpendRequest{AccountID: accountID, Action: action}
	if propertyID := stringField(request, fieldPropertyID); propertyID != "" {
		entity, err := ledger.NewRelatedEntity(relatedKindProperty, propertyID)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		spend.RelatedEntity = &entity
	}
	if rawReference := stringField(request, fieldReference); rawReference != "" {
		reference, err := ledger.IdempotencyReference(accountID, rawReference)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		spend.Reference = &reference
	}
	result, operationError := service.spends.Spend(ctx, spend)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return appendResultStruct(result)
}

func (service *WalletServiceServer) ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := ledger.NewAccountID(stringField(request, fieldAccountID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	page, err := intField(request, fieldPage)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	pageSize, err := intField(request, fieldPageSize)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	category, err := ledger.ParseCategoryFilter(stringField(request, fieldCategory))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	query := ledger.TransactionQuery{Page: page, PageSize: pageSize, Search: stringField(request, fieldSearch), Category: category}
	transactionPage, operationError := service.history.ListTransactions(ctx, accountID, query)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	transactions := make([]any, 0, len(transactionPage.Transactions))
	for _, transaction := range transactionPage.Transactions {
		transactions = append(transactions, transactionFields(transaction))
	}
	return toStruct(map[string]any{
		"transactions": transactions,
		fieldPage:      transactionPage.Page,
		fieldPageSize:  transactionPage.PageSize,
		"total_items":  transactionPage.TotalItems,
		"total_pages":  transactionPage.TotalPages(),
	})
}

func stringField(request *structpb.Struct, name string) string {
	return strings.TrimSpace(request.GetFields()[name].GetStringValue())
}

// intField reads a whole number. Missing fields read as zero.
func intField(request *structpb.Struct, name string) (int, error) {
	value, ok := request.GetFields()[name]
	if !ok {
		return 0, nil
	}
	number := value.GetNumberValue()
	if number != math.Trunc(number) || number < 0 || number > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ledger.ErrInvalidPage, name)
	}
	return int(number), nil
}

func transactionFields(transaction ledger.Transaction) map[string]any {
	fields := map[string]any{
		"transaction_id":   transaction.TransactionID,
		fieldAccountID:     transaction.AccountID,
		"type":             transaction.Type.String(),
		"category":         transaction.Category().String(),
		"credits":          transaction.Credits,
		"balance_after":    transaction.BalanceAfter,
		"description":      transaction.Description,
		"created_unix_utc": transaction.CreatedUnixUTC,
		"metadata":         metadataFields(transaction.MetadataJSON),
	}
	if transaction.Reference != "" {
		fields[fieldReference] = transaction.Reference
	}
	if transaction.RelatedEntity != nil {
		fields["related_entity"] = map[string]any{"kind": transaction.RelatedEntity.Kind, "id": transaction.RelatedEntity.ID}
	}
	return fields
}

func metadataFields(raw string) map[string]any {
	decoded := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return decoded
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return map[string]any{}
	}
	return decoded
}

func appendResultStruct(result ledger.AppendResult) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"transaction":     transactionFields(result.Transaction),
		"current_credits": result.Transaction.BalanceAfter,
		"replayed":        result.Replayed,
	})
}

func toStruct(fields map[string]any) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func mapToGRPCError(source error) error {
	switch {
	case errors.Is(source, ledger.ErrInsufficientCredits):
		return status.Error(codes.FailedPrecondition, errorInsufficientCredits)
	case errors.Is(source, ledger.ErrUnknownAction):
		return status.Error(codes.InvalidArgument, errorUnknownAction)
	case errors.Is(source, ledger.ErrPackageUnavailable):
		return status.Error(codes.FailedPrecondition, errorPackageUnavailable)
	case errors.Is(source, ledger.ErrReferenceConflict), errors.Is(source, ledger.ErrDuplicateReference):
		return status.Error(codes.AlreadyExists, errorReferenceConflict)
	case errors.Is(source, ledger.ErrNotRefundable):
		return status.Error(codes.FailedPrecondition, errorNotRefundable)
	case errors.Is(source, ledger.ErrPackageNotFound), errors.Is(source, ledger.ErrTransactionNotFound), errors.Is(source, ledger.ErrUnknownAccount):
		return status.Error(codes.NotFound, errorNotFound)
	case errors.Is(source, ledger.ErrConstraintViolation):
		return status.Error(codes.Internal, errorConstraintViolation)
	case errors.Is(source, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, source.Error())
	case errors.Is(source, context.Canceled):
		return status.Error(codes.Canceled, source.Error())
	}
	if ledger.IsValidationError(source) {
		return status.Error(codes.InvalidArgument, errorInvalidRequest+": "+source.Error())
	}
	return status.Error(codes.Internal, source.Error())
}
