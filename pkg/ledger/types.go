package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxDescriptionLength = 512

// AccountID identifies a wallet. It is the portal user id.
type AccountID struct {
	value string
}

// TransactionID identifies a ledger transaction.
type TransactionID struct {
	value string
}

// Reference is an external idempotency key, e.g. a payment intent id.
type Reference struct {
	value string
}

// PackageID identifies a catalog package.
type PackageID struct {
	value string
}

// MetadataJSON stores a JSON object attached to a transaction.
type MetadataJSON struct {
	value string
}

// Credits is a non-negative credit quantity (balances, totals).
type Credits int64

// PositiveCredits is a strictly positive credit quantity (prices, grants).
type PositiveCredits int64

// CreditDelta is the signed, non-zero credit change carried by a transaction.
type CreditDelta int64

// RelatedEntity is a weak reference to the object a transaction is about.
// It carries statement context only and never implies ownership.
type RelatedEntity struct {
	Kind string
	ID   string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewTransactionID validates a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewReference validates and normalizes an idempotency reference.
func NewReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, fmt.Errorf("%w: empty value", ErrInvalidReference)
	}
	if len(trimmed) > 255 {
		return Reference{}, fmt.Errorf("%w: longer than 255 characters", ErrInvalidReference)
	}
	return Reference{value: trimmed}, nil
}

// NewExternalReference validates a reference supplied by a payment provider
// or an administrator. Namespaces the wallet derives internally are rejected.
func NewExternalReference(raw string) (Reference, error) {
	reference, err := NewReference(raw)
	if err != nil {
		return Reference{}, err
	}
	if err := checkExternalReference(reference); err != nil {
		return Reference{}, err
	}
	return reference, nil
}

// IdempotencyReference scopes a client idempotency key to its account.
func IdempotencyReference(accountID AccountID, key string) (Reference, error) {
	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return Reference{}, fmt.Errorf("%w: empty idempotency key", ErrInvalidReference)
	}
	return NewReference(strings.Join([]string{idempotencyReferencePrefix, accountID.String(), trimmedKey}, referenceDelimiter))
}

func checkExternalReference(reference Reference) error {
	for _, prefix := range []string{refundReferencePrefix, idempotencyReferencePrefix} {
		if strings.HasPrefix(reference.value, prefix+referenceDelimiter) {
			return fmt.Errorf("%w: %q namespace is reserved", ErrInvalidReference, prefix)
		}
	}
	return nil
}

// String returns the normalized reference.
func (reference Reference) String() string {
	return reference.value
}

// NewPackageID validates a package id.
func NewPackageID(raw string) (PackageID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PackageID{}, fmt.Errorf("%w: empty value", ErrInvalidPackageID)
	}
	return PackageID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PackageID) String() string {
	return id.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
// Only JSON objects are accepted.
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = defaultMetadataJSON
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(normalized), &object); err != nil || object == nil {
		return MetadataJSON{}, fmt.Errorf("%w: must be a json object", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MetadataFromMap encodes a map as transaction metadata.
func MetadataFromMap(values map[string]any) (MetadataJSON, error) {
	if len(values) == 0 {
		return MetadataJSON{value: defaultMetadataJSON}, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return MetadataJSON{value: string(raw)}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return defaultMetadataJSON
	}
	return metadata.value
}

// NewCredits validates a non-negative credit quantity.
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// Int64 exposes the raw value.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewPositiveCredits validates a strictly positive credit quantity.
func NewPositiveCredits(raw int64) (PositiveCredits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return PositiveCredits(raw), nil
}

// Int64 exposes the raw value.
func (credits PositiveCredits) Int64() int64 {
	return int64(credits)
}

// Credit returns the quantity as an additive delta.
func (credits PositiveCredits) Credit() CreditDelta {
	return CreditDelta(credits)
}

// Debit returns the quantity as a subtractive delta.
func (credits PositiveCredits) Debit() CreditDelta {
	return CreditDelta(-credits)
}

// NewCreditDelta validates a signed, non-zero delta.
func NewCreditDelta(raw int64) (CreditDelta, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: delta must not be zero", ErrInvalidCredits)
	}
	return CreditDelta(raw), nil
}

// Int64 exposes the raw value.
func (delta CreditDelta) Int64() int64 {
	return int64(delta)
}

// Magnitude returns the absolute value of the delta.
func (delta CreditDelta) Magnitude() PositiveCredits {
	if delta < 0 {
		return PositiveCredits(-delta)
	}
	return PositiveCredits(delta)
}

// NewRelatedEntity validates a weak entity reference.
func NewRelatedEntity(kind string, id string) (RelatedEntity, error) {
	trimmedKind := strings.TrimSpace(kind)
	trimmedID := strings.TrimSpace(id)
	if trimmedKind == "" || trimmedID == "" {
		return RelatedEntity{}, fmt.Errorf("%w: kind and id are required", ErrInvalidRelatedEntity)
	}
	return RelatedEntity{Kind: trimmedKind, ID: trimmedID}, nil
}

// String renders the entity as kind:id.
func (entity RelatedEntity) String() string {
	return entity.Kind + referenceDelimiter + entity.ID
}

func normalizeDescription(raw string, fallback string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = fallback
	}
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidDescription)
	}
	if len(trimmed) > maxDescriptionLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidDescription, maxDescriptionLength)
	}
	return trimmed, nil
}

func newUUID() string {
	return uuid.NewString()
}
