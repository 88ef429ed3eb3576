package ledger

const (
	operationAppend    = "append"
	operationSpend     = "spend"
	operationPurchase  = "purchase"
	operationGrant     = "grant"
	operationDeduct    = "deduct"
	operationRefund    = "refund"
	operationReconcile = "reconcile"
	operationCatalog   = "catalog"

	operationStatusOK       = "ok"
	operationStatusReplayed = "replayed"
	operationStatusRejected = "rejected"
	operationStatusError    = "error"

	errorOperationLedger   = "ledger"
	errorOperationSpend    = "spend"
	errorOperationPurchase = "purchase"
	errorOperationQuery    = "query"
	errorOperationCatalog  = "catalog"
	errorSubjectBalance    = "balance"
	errorSubjectReference  = "reference"
	errorSubjectPrice      = "price"
	errorSubjectPackage    = "package"
	errorSubjectRequest    = "request"
	errorCodeNegative      = "negative"
	errorCodeInsufficient  = "insufficient"
	errorCodeDiverged      = "diverged"
	errorCodeConflict      = "conflict"
	errorCodeUnknown       = "unknown"
	errorCodeUnavailable   = "unavailable"
	errorCodeInvalid       = "invalid"

	referenceDelimiter         = ":"
	refundReferencePrefix      = "refund"
	idempotencyReferencePrefix = "idem"

	defaultPageSize = 20
	maxPageSize     = 100

	defaultMetadataJSON = "{}"
)

// OperationStatus values reported through OperationLog.Status.
const (
	StatusOK       = operationStatusOK
	StatusReplayed = operationStatusReplayed
	StatusRejected = operationStatusRejected
	StatusError    = operationStatusError
)
