package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wallet.v1.WalletService"

const (
	methodConfirmPayment   = "ConfirmPayment"
	methodGetSummary       = "GetSummary"
	methodSpend            = "Spend"
	methodListTransactions = "ListTransactions"
)

// WalletServer is the server API for wallet.v1.WalletService. Requests and
// responses are google.protobuf.Struct values.
type WalletServer interface {
	ConfirmPayment(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetSummary(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Spend(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// WalletServiceDesc describes wallet.v1.WalletService for grpc.Server.
var WalletServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WalletServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodConfirmPayment, Handler: unaryHandler(methodConfirmPayment, WalletServer.ConfirmPayment)},
		{MethodName: methodGetSummary, Handler: unaryHandler(methodGetSummary, WalletServer.GetSummary)},
		{MethodName: methodSpend, Handler: unaryHandler(methodSpend, WalletServer.Spend)},
		{MethodName: methodListTransactions, Handler: unaryHandler(methodListTransactions, WalletServer.ListTransactions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wallet/v1/wallet.proto",
}

// RegisterWalletServer registers server on registrar.
func RegisterWalletServer(registrar grpc.ServiceRegistrar, server WalletServer) {
	registrar.RegisterService(&WalletServiceDesc, server)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string, call func(WalletServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(structpb.Struct)
		if err := dec(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(WalletServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(WalletServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, request, info, handler)
	}
}

// Client calls wallet.v1.WalletService.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// ConfirmPayment credits a confirmed package payment.
func (client *Client) ConfirmPayment(ctx context.Context, packageID string, accountID string, paymentReference string) (*structpb.Struct, error) {
	return client.invoke(ctx, methodConfirmPayment, map[string]any{
		fieldPackageID:        packageID,
		fieldAccountID:        accountID,
		fieldPaymentReference: paymentReference,
	})
}

// GetSummary reads the wallet header of accountID.
func (client *Client) GetSummary(ctx context.Context, accountID string) (*structpb.Struct, error) {
	return client.invoke(ctx, methodGetSummary, map[string]any{fieldAccountID: accountID})
}

// Spend charges accountID for action. propertyID and reference may be empty;
// reference is an idempotency key scoped to accountID.
func (client *Client) Spend(ctx context.Context, accountID string, action string, propertyID string, reference string) (*structpb.Struct, error) {
	fields := map[string]any{fieldAccountID: accountID, fieldActionType: action}
	if propertyID != "" {
		fields[fieldPropertyID] = propertyID
	}
	if reference != "" {
		fields[fieldReference] = reference
	}
	return client.invoke(ctx, methodSpend, fields)
}

// ListTransactions reads one history page. Zero page values use defaults.
func (client *Client) ListTransactions(ctx context.Context, accountID string, page int, pageSize int, category string, search string) (*structpb.Struct, error) {
	fields := map[string]any{fieldAccountID: accountID, fieldPage: page, fieldPageSize: pageSize}
	if category != "" {
		fields[fieldCategory] = category
	}
	if search != "" {
		fields[fieldSearch] = search
	}
	return client.invoke(ctx, methodListTransactions, fields)
}

func (client *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	request, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(method), request, response); err != nil {
		return nil, err
	}
	return response, nil
}
