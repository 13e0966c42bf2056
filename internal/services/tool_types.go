package services

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-support-agent/internal/domain"
	"github.com/tbourn/go-support-agent/internal/policy"
)

// Tool names, as recorded in tool_call_logs and metrics.
const (
	ToolListOrders       = "list_orders"
	ToolListOrderItems   = "list_order_items"
	ToolSetSelectedOrder = "set_selected_order"
	ToolSetSelectedItems = "set_selected_items"
	ToolCreateReturn     = "create_return"
	ToolGenerateLabel    = "generate_label"
	ToolCreateEscalation = "create_escalation"
	ToolUploadEvidence   = "upload_evidence"
	ToolValidateEvidence = "validate_evidence"
	ToolGetEvidence      = "get_evidence"
	ToolGetCaseStatus    = "get_case_status"
	ToolCheckEligibility = "check_eligibility"
	ToolIssueStoreCredit = "issue_store_credit"
	ToolCreateTestOrder  = "create_test_order"
)

// writeTools are the tools that may change the store.
var writeTools = map[string]bool{
	ToolCreateReturn:     true,
	ToolGenerateLabel:    true,
	ToolCreateEscalation: true,
	ToolUploadEvidence:   true,
	ToolValidateEvidence: true,
	ToolIssueStoreCredit: true,
	ToolCreateTestOrder:  true,
}

// OrderSummary is an order as shown to the customer. The email is masked.
type OrderSummary struct {
	OrderID             string     `json:"order_id"`
	ItemID              string     `json:"item_id"`
	ItemCategory        string     `json:"item_category"`
	Status              string     `json:"status"`
	OrderDate           time.Time  `json:"order_date"`
	DeliveryDate        *time.Time `json:"delivery_date,omitempty"`
	CustomerEmailMasked string     `json:"customer_email_masked"`
}

// OrderItem is one purchasable line of an order.
type OrderItem struct {
	OrderID      string          `json:"order_id"`
	ItemID       string          `json:"item_id"`
	ItemCategory string          `json:"item_category"`
	ItemPrice    decimal.Decimal `json:"item_price"`
	Status       string          `json:"status"`
}

// SelectedItems confirms an item selection.
type SelectedItems struct {
	OrderID string   `json:"order_id"`
	ItemIDs []string `json:"item_ids"`
}

// CreateReturnRequest is the input of CreateReturn.
type CreateReturnRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	CaseID         string `json:"case_id,omitempty"`
	OrderID        string `json:"order_id"`
	ItemID         string `json:"item_id"`
	Method         string `json:"method"`
	Reason         string `json:"reason"`
	EvidenceID     string `json:"evidence_id,omitempty"`
}

// ReturnResult describes an RMA. Replayed is true when the key was already
// bound to this request and nothing was written.
type ReturnResult struct {
	RMAID     string    `json:"rma_id"`
	OrderID   string    `json:"order_id"`
	ItemID    string    `json:"item_id"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
	Replayed  bool      `json:"replayed"`
}

// LabelResult describes a shipping label.
type LabelResult struct {
	LabelID  string `json:"label_id"`
	RMAID    string `json:"rma_id"`
	LabelURL string `json:"label_url"`
	Replayed bool   `json:"replayed"`
}

// CreateEscalationRequest is the input of CreateEscalation.
type CreateEscalationRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	CaseID         string         `json:"case_id"`
	Reason         string         `json:"reason"`
	Evidence       map[string]any `json:"evidence"`
}

// EscalationResult describes a hand-off ticket.
type EscalationResult struct {
	TicketID string `json:"ticket_id"`
	CaseID   string `json:"case_id"`
	Reason   string `json:"reason"`
	Replayed bool   `json:"replayed"`
}

// UploadEvidenceRequest is the input of UploadEvidence. Data is never
// written to the audit log.
type UploadEvidenceRequest struct {
	SessionID string `json:"session_id"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	Data      []byte `json:"-"`
}

// ValidateEvidenceRequest is the input of ValidateEvidence. CaseID is
// optional; when set, the evidence must belong to that case.
type ValidateEvidenceRequest struct {
	CaseID     string `json:"case_id,omitempty"`
	EvidenceID string `json:"evidence_id"`
	OrderID    string `json:"order_id"`
	ItemID     string `json:"item_id"`
}

// ValidationResult is a stored validation outcome.
type ValidationResult struct {
	EvidenceID string          `json:"evidence_id"`
	OrderID    string          `json:"order_id"`
	ItemID     string          `json:"item_id"`
	Passed     bool            `json:"passed"`
	Confidence decimal.Decimal `json:"confidence"`
	Reasons    []string        `json:"reasons"`
	Approach   string          `json:"approach"`
}

// EvidenceDetails is an evidence record with its validation outcomes.
type EvidenceDetails struct {
	Evidence    domain.EvidenceRecord       `json:"evidence"`
	Validations []domain.EvidenceValidation `json:"validations"`
}

// CaseStatus is the customer-visible status of a case.
type CaseStatus struct {
	CaseID        string `json:"case_id"`
	SessionStatus string `json:"session_status"`
	Stage         string `json:"stage"`
	Status        string `json:"status"`
	ETA           string `json:"eta,omitempty"`
	Tracking      string `json:"tracking,omitempty"`
	Pending       bool   `json:"pending"`
}

// EligibilityRequest is the input of CheckEligibility. CaseID excludes the
// case's own resolution from the return history so retried turns see the
// same decision.
type EligibilityRequest struct {
	CaseID     string `json:"case_id,omitempty"`
	OrderID    string `json:"order_id"`
	ItemID     string `json:"item_id"`
	Reason     string `json:"reason"`
	EvidenceID string `json:"evidence_id,omitempty"`
}

// EligibilityResult is a freshly derived decision.
type EligibilityResult struct {
	Reason   policy.Reason      `json:"reason"`
	Decision policy.Decision    `json:"decision"`
	Offered  []policy.Action    `json:"offered"`
	Quote    policy.RefundQuote `json:"quote"`
	Today    string             `json:"today"`
}

// StoreCreditRequest is the input of IssueStoreCredit.
type StoreCreditRequest struct {
	CaseID     string `json:"case_id"`
	OrderID    string `json:"order_id"`
	ItemID     string `json:"item_id"`
	Reason     string `json:"reason"`
	EvidenceID string `json:"evidence_id,omitempty"`
}

// StoreCreditResult is the credited amount.
type StoreCreditResult struct {
	CaseID  string          `json:"case_id"`
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// TestOrderRequest is the input of CreateTestOrder.
type TestOrderRequest struct {
	CustomerEmail      string          `json:"customer_email"`
	CustomerPhoneLast4 string          `json:"customer_phone_last4"`
	ItemCategory       string          `json:"item_category"`
	ItemPrice          decimal.Decimal `json:"item_price"`
	ShippingFee        decimal.Decimal `json:"shipping_fee"`
	Status             string          `json:"status"`
	DeliveryDate       *time.Time      `json:"delivery_date,omitempty"`
}
