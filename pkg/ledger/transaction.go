package ledger

import (
	"fmt"
	"strings"
)

// ActionType names a feature unlock that costs credits.
type ActionType string

const (
	ActionPropertyPhoto   ActionType = "property_photo"
	ActionAgentNumber     ActionType = "agent_number"
	ActionBookAppointment ActionType = "book_appointment"
	ActionExactLocation   ActionType = "exact_location"
	ActionUnlockDocuments ActionType = "unlock_documents"
	ActionSendInquiry     ActionType = "send_inquiry"
	ActionUnlockVRTour    ActionType = "unlock_vr_tour"
	ActionViewAnalytics   ActionType = "view_analytics"
)

var actionLabels = map[ActionType]string{
	ActionPropertyPhoto:   "property photos",
	ActionAgentNumber:     "agent phone number",
	ActionBookAppointment: "appointment booking",
	ActionExactLocation:   "exact property location",
	ActionUnlockDocuments: "property documents",
	ActionSendInquiry:     "inquiry",
	ActionUnlockVRTour:    "virtual tour",
	ActionViewAnalytics:   "listing analytics",
}

// Actions returns every known action type in a stable order.
func Actions() []ActionType {
	return []ActionType{
		ActionPropertyPhoto,
		ActionAgentNumber,
		ActionBookAppointment,
		ActionExactLocation,
		ActionUnlockDocuments,
		ActionSendInquiry,
		ActionUnlockVRTour,
		ActionViewAnalytics,
	}
}

// ParseActionType resolves an action name.
func ParseActionType(raw string) (ActionType, error) {
	action := ActionType(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := actionLabels[action]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
	return action, nil
}

// String returns the action name.
func (action ActionType) String() string {
	return string(action)
}

// Label returns a human-readable name for statements.
func (action ActionType) Label() string {
	if label, ok := actionLabels[action]; ok {
		return label
	}
	return string(action)
}

// TransactionKind is the discriminator of TransactionType.
type TransactionKind string

const (
	KindPurchase    TransactionKind = "purchase"
	KindAdminAdd    TransactionKind = "admin_add"
	KindAdminDeduct TransactionKind = "admin_deduct"
	KindSpend       TransactionKind = "spend"
)

const spendTypePrefix = string(KindSpend) + referenceDelimiter

// TransactionType is the closed variant Purchase | AdminAdd | AdminDeduct | Spend(ActionType).
type TransactionType struct {
	kind   TransactionKind
	action ActionType
}

// PurchaseType returns the purchase variant.
func PurchaseType() TransactionType {
	return TransactionType{kind: KindPurchase}
}

// AdminAddType returns the admin grant variant.
func AdminAddType() TransactionType {
	return TransactionType{kind: KindAdminAdd}
}

// AdminDeductType returns the admin deduction variant.
func AdminDeductType() TransactionType {
	return TransactionType{kind: KindAdminDeduct}
}

// SpendType returns the spend variant for action.
func SpendType(action ActionType) TransactionType {
	return TransactionType{kind: KindSpend, action: action}
}

// ParseTransactionType parses the serialized form (purchase, admin_add,
// admin_deduct, spend:<action>).
func ParseTransactionType(raw string) (TransactionType, error) {
	normalized := strings.TrimSpace(raw)
	switch TransactionKind(normalized) {
	case KindPurchase:
		return PurchaseType(), nil
	case KindAdminAdd:
		return AdminAddType(), nil
	case KindAdminDeduct:
		return AdminDeductType(), nil
	}
	if strings.HasPrefix(normalized, spendTypePrefix) {
		action, err := ParseActionType(strings.TrimPrefix(normalized, spendTypePrefix))
		if err != nil {
			return TransactionType{}, fmt.Errorf("%w: %v", ErrInvalidTransactionType, err)
		}
		return SpendType(action), nil
	}
	return TransactionType{}, fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// Kind returns the variant discriminator.
func (transactionType TransactionType) Kind() TransactionKind {
	return transactionType.kind
}

// Action returns the unlocked action for spend variants.
func (transactionType TransactionType) Action() (ActionType, bool) {
	if transactionType.kind != KindSpend {
		return "", false
	}
	return transactionType.action, true
}

// IsZero reports whether the type was never set.
func (transactionType TransactionType) IsZero() bool {
	return transactionType.kind == ""
}

// String returns the serialized form.
func (transactionType TransactionType) String() string {
	if transactionType.kind == KindSpend {
		return spendTypePrefix + string(transactionType.action)
	}
	return string(transactionType.kind)
}

// Category collapses the detailed type into purchase-like or spend-like.
func (transactionType TransactionType) Category() TransactionCategory {
	switch transactionType.kind {
	case KindPurchase, KindAdminAdd:
		return CategoryPurchase
	default:
		return CategorySpend
	}
}

// Additive reports whether the variant must carry positive credits.
func (transactionType TransactionType) Additive() bool {
	return transactionType.Category() == CategoryPurchase
}

// TransactionCategory is the coarse filter used by history views.
type TransactionCategory string

const (
	CategoryPurchase TransactionCategory = "purchase"
	CategorySpend    TransactionCategory = "spend"

	categoryFilterAll = "all"
)

// ParseTransactionCategory parses purchase or spend.
func ParseTransactionCategory(raw string) (TransactionCategory, error) {
	category := TransactionCategory(strings.TrimSpace(strings.ToLower(raw)))
	switch category {
	case CategoryPurchase, CategorySpend:
		return category, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// ParseCategoryFilter parses an optional history filter. Empty and "all"
// select every category and yield nil.
func ParseCategoryFilter(raw string) (*TransactionCategory, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" || trimmed == categoryFilterAll {
		return nil, nil
	}
	category, err := ParseTransactionCategory(trimmed)
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// String returns the category name.
func (category TransactionCategory) String() string {
	return string(category)
}

// Transaction is a committed, immutable ledger line.
type Transaction struct {
	TransactionID  string
	AccountID      string
	Type           TransactionType
	Credits        int64
	BalanceAfter   int64
	Description    string
	Reference      string
	RelatedEntity  *RelatedEntity
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Category returns the coarse category of the transaction type.
func (transaction Transaction) Category() TransactionCategory {
	return transaction.Type.Category()
}

// AppendRequest is the validated input of Ledger.Append.
type AppendRequest struct {
	accountID     AccountID
	transaction   TransactionType
	credits       CreditDelta
	description   string
	reference     *Reference
	relatedEntity *RelatedEntity
	metadata      MetadataJSON
}

// NewAppendRequest validates the credit sign against the transaction type and
// requires a reference for purchases.
func NewAppendRequest(accountID AccountID, transactionType TransactionType, credits CreditDelta, description string, reference *Reference, relatedEntity *RelatedEntity, metadata MetadataJSON) (AppendRequest, error) {
	if accountID.IsZero() {
		return AppendRequest{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if transactionType.IsZero() {
		return AppendRequest{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionType)
	}
	if credits == 0 {
		return AppendRequest{}, fmt.Errorf("%w: delta must not be zero", ErrInvalidCredits)
	}
	if transactionType.Additive() != (credits > 0) {
		return AppendRequest{}, fmt.Errorf("%w: sign does not match %s", ErrInvalidCredits, transactionType.String())
	}
	if transactionType.Kind() == KindPurchase && reference == nil {
		return AppendRequest{}, fmt.Errorf("%w: purchases require a reference", ErrInvalidReference)
	}
	normalizedDescription, err := normalizeDescription(description, defaultDescription(transactionType))
	if err != nil {
		return AppendRequest{}, err
	}
	return AppendRequest{
		accountID:     accountID,
		transaction:   transactionType,
		credits:       credits,
		description:   normalizedDescription,
		reference:     reference,
		relatedEntity: relatedEntity,
		metadata:      metadata,
	}, nil
}

// AccountID returns the target account.
func (request AppendRequest) AccountID() AccountID {
	return request.accountID
}

// Type returns the transaction type.
func (request AppendRequest) Type() TransactionType {
	return request.transaction
}

// Credits returns the signed delta.
func (request AppendRequest) Credits() CreditDelta {
	return request.credits
}

// Description returns the normalized description.
func (request AppendRequest) Description() string {
	return request.description
}

// Reference returns the idempotency reference if present.
func (request AppendRequest) Reference() (Reference, bool) {
	if request.reference == nil {
		return Reference{}, false
	}
	return *request.reference, true
}

// RelatedEntity returns the related entity if present.
func (request AppendRequest) RelatedEntity() (RelatedEntity, bool) {
	if request.relatedEntity == nil {
		return RelatedEntity{}, false
	}
	return *request.relatedEntity, true
}

// Metadata returns the metadata blob.
func (request AppendRequest) Metadata() MetadataJSON {
	return request.metadata
}

func defaultDescription(transactionType TransactionType) string {
	switch transactionType.Kind() {
	case KindPurchase:
		return "Credit purchase"
	case KindAdminAdd:
		return "Credits added by administrator"
	case KindAdminDeduct:
		return "Credits deducted by administrator"
	case KindSpend:
		return "Unlocked " + transactionType.action.Label()
	}
	return ""
}

// TransactionQuery filters and paginates history reads.
type TransactionQuery struct {
	Category *TransactionCategory
	Search   string
	Page     int
	PageSize int
}

// Normalize applies pagination defaults and bounds.
func (query TransactionQuery) Normalize() (TransactionQuery, error) {
	normalized := query
	normalized.Search = strings.TrimSpace(query.Search)
	if normalized.Page == 0 {
		normalized.Page = 1
	}
	if normalized.Page < 0 {
		return TransactionQuery{}, fmt.Errorf("%w: page must be positive", ErrInvalidPage)
	}
	if normalized.PageSize == 0 {
		normalized.PageSize = defaultPageSize
	}
	if normalized.PageSize < 0 || normalized.PageSize > maxPageSize {
		return TransactionQuery{}, fmt.Errorf("%w: page size must be between 1 and %d", ErrInvalidPage, maxPageSize)
	}
	return normalized, nil
}

// Offset returns the row offset of the page.
func (query TransactionQuery) Offset() int {
	if query.Page <= 1 {
		return 0
	}
	return (query.Page - 1) * query.PageSize
}

// TransactionPage is one page of history.
type TransactionPage struct {
	Transactions []Transaction
	Page         int
	PageSize     int
	TotalItems   int64
}

// TotalPages returns the number of pages for TotalItems.
func (page TransactionPage) TotalPages() int {
	if page.PageSize <= 0 || page.TotalItems == 0 {
		return 0
	}
	return int((page.TotalItems + int64(page.PageSize) - 1) / int64(page.PageSize))
}
