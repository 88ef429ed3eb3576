package ledger

import "context"

// Option configures the ledger components (Ledger, SpendAuthorizer,
// PurchaseProcessor, QueryService, Catalog).
type Option func(*componentOptions)

type componentOptions struct {
	logger    OperationLogger
	listeners []TransactionListener
	idFn      func() string
}

// OperationLogger records domain-level events emitted by ledger operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// TransactionListener is notified after a transaction has been committed.
// Listener failures cannot undo the commit.
type TransactionListener interface {
	TransactionCommitted(ctx context.Context, transaction Transaction)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation     string
	AccountID     AccountID
	Type          TransactionType
	Credits       int64
	Reference     string
	TransactionID string
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) Option {
	return func(options *componentOptions) {
		options.logger = logger
	}
}

// WithTransactionListener registers a post-commit listener. Only Ledger uses it.
func WithTransactionListener(listener TransactionListener) Option {
	return func(options *componentOptions) {
		if listener != nil {
			options.listeners = append(options.listeners, listener)
		}
	}
}

// WithIDGenerator overrides the UUID generator used for new identifiers.
func WithIDGenerator(idFn func() string) Option {
	return func(options *componentOptions) {
		if idFn != nil {
			options.idFn = idFn
		}
	}
}

// JoinOperationLoggers fans a single operation log out to several loggers.
func JoinOperationLoggers(loggers ...OperationLogger) OperationLogger {
	joined := make(multiOperationLogger, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			joined = append(joined, logger)
		}
	}
	return joined
}

type multiOperationLogger []OperationLogger

func (loggers multiOperationLogger) LogOperation(ctx context.Context, entry OperationLog) {
	for _, logger := range loggers {
		logger.LogOperation(ctx, entry)
	}
}

func applyOptions(options []Option) componentOptions {
	resolved := componentOptions{idFn: newUUID}
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}
	return resolved
}

func (options componentOptions) logOperation(ctx context.Context, entry OperationLog) {
	if options.logger == nil {
		return
	}
	if entry.Status == "" {
		entry.Status = statusForError(entry.Error)
	}
	options.logger.LogOperation(ctx, entry)
}

func statusForError(err error) string {
	if err == nil {
		return operationStatusOK
	}
	if IsBusinessRejection(err) {
		return operationStatusRejected
	}
	return operationStatusError
}
