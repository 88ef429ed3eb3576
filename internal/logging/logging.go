// Package logging builds zap loggers and adapts them to ledger operation logs.
package logging

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const operationMessage = "ledger operation"

// New returns a production logger, or a development logger when development
// is set. An empty level keeps the config default.
func New(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	if trimmed := strings.TrimSpace(level); trimmed != "" {
		parsed, err := zapcore.ParseLevel(trimmed)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", trimmed, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return cfg.Build()
}

// OperationLogger writes ledger.OperationLog entries to zap.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger wraps logger. A nil logger discards entries.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger}
}

func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.AccountID.IsZero() {
		fields = append(fields, zap.String("account_id", entry.AccountID.String()))
	}
	if !entry.Type.IsZero() {
		fields = append(fields, zap.String("type", entry.Type.String()))
	}
	if entry.Credits != 0 {
		fields = append(fields, zap.Int64("credits", entry.Credits))
	}
	if entry.Reference != "" {
		fields = append(fields, zap.String("reference", entry.Reference))
	}
	if entry.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}

	switch entry.Status {
	case ledger.StatusRejected:
		operationLogger.logger.Warn(operationMessage, fields...)
	case ledger.StatusError:
		operationLogger.logger.Error(operationMessage, fields...)
	default:
		operationLogger.logger.Info(operationMessage, fields...)
	}
}
