// Package services – ToolService
//
// This file implements ToolService, the only component allowed to mutate
// orders, returns, labels, escalations and evidence. Every method is a
// "tool": it validates its input, runs its business transaction, and then
// appends a ToolCallLog audit row in a separate statement. A failed audit
// write is logged and counted but never changes the tool's result.
//
// Side-effecting tools are idempotent. CreateReturn and CreateEscalation
// bind an idempotency key to exactly one row: an identical replay returns
// the stored row, a different payload is ErrIdempotencyConflict and nothing
// is written. GenerateLabel is idempotent per RMA.
//
// Observability: each call is one OpenTelemetry span named after the tool,
// plus the tool_calls_total and tool_call_duration_seconds metrics.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-agent/internal/conversation"
	"github.com/tbourn/go-support-agent/internal/domain"
	"github.com/tbourn/go-support-agent/internal/evidence"
	"github.com/tbourn/go-support-agent/internal/observability"
	"github.com/tbourn/go-support-agent/internal/policy"
	"github.com/tbourn/go-support-agent/internal/repo"
	"github.com/tbourn/go-support-agent/internal/utils"
)

// DefaultLabelBaseURL is used when no label base URL is configured.
const DefaultLabelBaseURL = "https://labels.local"

// ToolService executes audited tool calls against the store.
type ToolService struct {
	DB        *gorm.DB
	Policy    *policy.Provider
	Validator *evidence.Validator
	Blobs     evidence.BlobStore

	LabelBaseURL    string
	AllowTestOrders bool
	MaxUploadBytes  int64

	// Now returns the current time; nil uses time.Now. Decisions use its
	// UTC calendar date.
	Now func() time.Time
}

// NewToolService wires a ToolService with default settings.
func NewToolService(db *gorm.DB, prov *policy.Provider, v *evidence.Validator, blobs evidence.BlobStore) *ToolService {
	return &ToolService{
		DB:             db,
		Policy:         prov,
		Validator:      v,
		Blobs:          blobs,
		LabelBaseURL:   DefaultLabelBaseURL,
		MaxUploadBytes: evidence.MaxSizeBytes,
	}
}

func (s *ToolService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *ToolService) engine() *policy.Engine {
	if s.Policy == nil {
		return policy.Default()
	}
	return s.Policy.Engine()
}

// begin starts the span for a tool call.
func (s *ToolService) begin(ctx context.Context, tool string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := otel.Tracer("services/ToolService")
	attrs = append(attrs, observability.SideEffect(writeTools[tool]))
	return tr.Start(ctx, tool, trace.WithAttributes(attrs...))
}

// finish records the outcome of a tool call: audit row, metrics, span
// status. It must run after the business transaction has committed.
func (s *ToolService) finish(ctx context.Context, span trace.Span, tool string, start time.Time, req, resp any, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeLabel(err))
		resp = nil
	}
	latency := time.Since(start)
	s.audit(context.WithoutCancel(ctx), tool, latency, req, resp, err)
	observeTool(tool, start, err)
}

func (s *ToolService) audit(ctx context.Context, tool string, latency time.Duration, req, resp any, callErr error) {
	reqJSON, err := domain.NewJSON(req)
	if err != nil {
		reqJSON = domain.JSON(`{}`)
	}
	row := &domain.ToolCallLog{
		ToolName:       tool,
		RequestPayload: reqJSON,
		LatencyMS:      latency.Milliseconds(),
	}
	if resp != nil {
		if b, err := domain.NewJSON(resp); err == nil {
			row.ResponsePayload = b
		}
	}
	if callErr != nil {
		msg := callErr.Error()
		row.ErrorMessage = &msg
	}
	if err := repo.InsertToolCall(ctx, s.DB, row); err != nil {
		toolAuditFailures.Inc()
		logFrom(ctx).Error().Err(err).Str("tool", tool).Msg("tool audit write failed")
	}
}

// logFrom returns the request-scoped logger when one is attached to ctx.
func logFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// notFoundOr maps a missing row to notFound and anything else to a system
// error.
func notFoundOr(err, notFound error, op string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound
	}
	return systemErr(op, err)
}

// MaskEmail keeps the first two characters of the local part.
//
//	MaskEmail("alice@example.com") // "al***@example.com"
func MaskEmail(email string) string {
	local, dom, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	if len(local) <= 2 {
		return local[:1] + "*@" + dom
	}
	return local[:2] + strings.Repeat("*", len(local)-2) + "@" + dom
}

func summarize(o domain.Order) OrderSummary {
	return OrderSummary{
		OrderID:             o.OrderID,
		ItemID:              o.ItemID,
		ItemCategory:        o.ItemCategory,
		Status:              o.Status,
		OrderDate:           o.OrderDate,
		DeliveryDate:        o.DeliveryDate,
		CustomerEmailMasked: MaskEmail(o.CustomerEmail),
	}
}

// ListOrders returns the orders visible to identifier, newest first.
func (s *ToolService) ListOrders(ctx context.Context, identifier string) (out []OrderSummary, err error) {
	ctx, span := s.begin(ctx, ToolListOrders)
	start := time.Now()
	req := map[string]any{"identifier": identifier}
	defer func() { s.finish(ctx, span, ToolListOrders, start, req, out, err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrEmptyIdentifier
	}
	orders, err := repo.FindOrders(ctx, s.DB, identifier, repo.DefaultOrderListLimit)
	if err != nil {
		return nil, systemErr("list orders", err)
	}
	out = make([]OrderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, summarize(o))
	}
	return out, nil
}

// ListOrderItems returns the items of an order.
func (s *ToolService) ListOrderItems(ctx context.Context, orderID string) (out []OrderItem, err error) {
	ctx, span := s.begin(ctx, ToolListOrderItems, attribute.String("order.id", orderID))
	start := time.Now()
	req := map[string]any{"order_id": orderID}
	defer func() { s.finish(ctx, span, ToolListOrderItems, start, req, out, err) }()

	o, err := repo.GetOrder(ctx, s.DB, strings.ToUpper(strings.TrimSpace(orderID)))
	if err != nil {
		return nil, notFoundOr(err, ErrOrderNotFound, "get order")
	}
	return []OrderItem{{
		OrderID:      o.OrderID,
		ItemID:       o.ItemID,
		ItemCategory: o.ItemCategory,
		ItemPrice:    o.ItemPrice,
		Status:       o.Status,
	}}, nil
}

// SetSelectedOrder confirms that orderID is visible to identifier.
func (s *ToolService) SetSelectedOrder(ctx context.Context, identifier, orderID string) (out *OrderSummary, err error) {
	ctx, span := s.begin(ctx, ToolSetSelectedOrder, attribute.String("order.id", orderID))
	start := time.Now()
	req := map[string]any{"identifier": identifier, "order_id": orderID}
	defer func() { s.finish(ctx, span, ToolSetSelectedOrder, start, req, out, err) }()

	if strings.TrimSpace(identifier) == "" {
		return nil, ErrEmptyIdentifier
	}
	orderID = strings.ToUpper(strings.TrimSpace(orderID))
	orders, err := repo.FindOrders(ctx, s.DB, identifier, repo.DefaultOrderListLimit)
	if err != nil {
		return nil, systemErr("list orders", err)
	}
	for _, o := range orders {
		if o.OrderID == orderID {
			sum := summarize(o)
			return &sum, nil
		}
	}
	return nil, ErrOrderNotFound
}

// SetSelectedItems confirms that exactly one item of orderID is selected.
func (s *ToolService) SetSelectedItems(ctx context.Context, orderID string, itemIDs []string) (out *SelectedItems, err error) {
	ctx, span := s.begin(ctx, ToolSetSelectedItems, attribute.String("order.id", orderID))
	start := time.Now()
	req := map[string]any{"order_id": orderID, "item_ids": itemIDs}
	defer func() { s.finish(ctx, span, ToolSetSelectedItems, start, req, out, err) }()

	if len(itemIDs) != 1 {
		return nil, ErrInvalidItems
	}
	o, err := repo.GetOrder(ctx, s.DB, strings.ToUpper(strings.TrimSpace(orderID)))
	if err != nil {
		return nil, notFoundOr(err, ErrOrderNotFound, "get order")
	}
	for _, id := range itemIDs {
		if strings.TrimSpace(id) != o.ItemID {
			return nil, ErrItemNotFound
		}
	}
	return &SelectedItems{OrderID: o.OrderID, ItemIDs: []string{o.ItemID}}, nil
}

// methodAllowed is the order status each return method requires.
var methodAllowed = map[string]string{
	domain.MethodRefund:      domain.OrderDelivered,
	domain.MethodReturn:      domain.OrderDelivered,
	domain.MethodReplacement: domain.OrderDelivered,
	domain.MethodCancel:      domain.OrderProcessing,
}

// CreateReturn creates an RMA bound to req.IdempotencyKey. The RMA id is
// derived from the key, so a replay reports the same id. A fresh write is
// re-decided by the policy engine from the stored facts and rejected unless
// the method is eligible for req.Reason. A cancel also moves the order from
// processing to cancelled in the same transaction.
func (s *ToolService) CreateReturn(ctx context.Context, req CreateReturnRequest) (out *ReturnResult, err error) {
	ctx, span := s.begin(ctx, ToolCreateReturn,
		attribute.String("order.id", req.OrderID),
		attribute.String("return.method", req.Method),
	)
	start := time.Now()
	defer func() { s.finish(ctx, span, ToolCreateReturn, start, req, out, err) }()

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.OrderID = strings.ToUpper(strings.TrimSpace(req.OrderID))
	req.ItemID = strings.TrimSpace(req.ItemID)
	req.Method = strings.ToLower(strings.TrimSpace(req.Method))
	if req.IdempotencyKey == "" {
		return nil, ErrMissingKey
	}
	required, ok := methodAllowed[req.Method]
	if !ok {
		return nil, ErrInvalidMethod
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	// Replays answer with the bound row and are not re-decided.
	if prev, err := repo.GetReturnByKey(ctx, s.DB, req.IdempotencyKey); err == nil {
		if prev.OrderID != req.OrderID || prev.ItemID != req.ItemID || prev.Method != req.Method {
			return nil, ErrReturnConflict
		}
		return returnResult(prev, false), nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, systemErr("get return", err)
	}

	in, _, err := s.eligibilityInput(ctx, req.CaseID, req.OrderID, req.ItemID, req.Reason, req.EvidenceID)
	if err != nil {
		return nil, err
	}
	if in.Order.Status != required {
		return nil, ErrOrderNotEligible
	}
	if dec := s.engine().Decide(in); !dec.Allows(policy.Action(req.Method)) {
		return nil, fmt.Errorf("%w: %s is not eligible (%s)", ErrPolicyDenied, req.Method, strings.Join(dec.ReasonCodes, ","))
	}

	var stored *domain.ReturnRequest
	var created bool
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A replay must succeed even after a cancel changed the order status.
		if prev, err := repo.GetReturnByKey(ctx, tx, req.IdempotencyKey); err == nil {
			if prev.OrderID != req.OrderID || prev.ItemID != req.ItemID || prev.Method != req.Method {
				return ErrReturnConflict
			}
			stored = prev
			return nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return systemErr("get return", err)
		}

		o, err := repo.GetOrder(ctx, tx, req.OrderID)
		if err != nil {
			return notFoundOr(err, ErrOrderNotFound, "get order")
		}
		if o.ItemID != req.ItemID {
			return ErrItemNotFound
		}
		if o.Status != required {
			return ErrOrderNotEligible
		}

		rec := &domain.ReturnRequest{
			RMAID:          utils.DerivedID("RMA", req.IdempotencyKey),
			IdempotencyKey: req.IdempotencyKey,
			OrderID:        req.OrderID,
			ItemID:         req.ItemID,
			Method:         req.Method,
			CreatedAt:      s.now(),
		}
		stored, created, err = repo.InsertReturn(ctx, tx, rec)
		if errors.Is(err, repo.ErrKeyConflict) {
			return ErrReturnConflict
		}
		if err != nil {
			return systemErr("insert return", err)
		}
		if created && req.Method == domain.MethodCancel {
			err := repo.UpdateOrderStatus(ctx, tx, req.OrderID, domain.OrderProcessing, domain.OrderCancelled)
			if errors.Is(err, repo.ErrStaleStatus) {
				return ErrOrderNotEligible
			}
			if err != nil {
				return systemErr("cancel order", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return returnResult(stored, created), nil
}

func returnResult(r *domain.ReturnRequest, created bool) *ReturnResult {
	return &ReturnResult{
		RMAID:     r.RMAID,
		OrderID:   r.OrderID,
		ItemID:    r.ItemID,
		Method:    r.Method,
		CreatedAt: r.CreatedAt,
		Replayed:  !created,
	}
}

// GenerateLabel creates the shipping label of an RMA, or returns the one
// that already exists. Cancellations have no label.
func (s *ToolService) GenerateLabel(ctx context.Context, rmaID string) (out *LabelResult, err error) {
	ctx, span := s.begin(ctx, ToolGenerateLabel, attribute.String("rma.id", rmaID))
	start := time.Now()
	req := map[string]any{"rma_id": rmaID}
	defer func() { s.finish(ctx, span, ToolGenerateLabel, start, req, out, err) }()

	rmaID = strings.TrimSpace(rmaID)
	rma, err := repo.GetReturn(ctx, s.DB, rmaID)
	if err != nil {
		return nil, notFoundOr(err, ErrRMANotFound, "get return")
	}
	if rma.Method == domain.MethodCancel {
		return nil, ErrLabelForCancel
	}
	labelID := utils.DerivedID("LBL", rma.RMAID)
	l := &domain.Label{
		LabelID:   labelID,
		RMAID:     rma.RMAID,
		LabelURL:  strings.TrimRight(s.labelBase(), "/") + "/" + labelID + ".pdf",
		CreatedAt: s.now(),
	}
	stored, created, err := repo.InsertLabel(ctx, s.DB, l)
	if err != nil {
		return nil, systemErr("insert label", err)
	}
	return &LabelResult{LabelID: stored.LabelID, RMAID: stored.RMAID, LabelURL: stored.LabelURL, Replayed: !created}, nil
}

func (s *ToolService) labelBase() string {
	if strings.TrimSpace(s.LabelBaseURL) == "" {
		return DefaultLabelBaseURL
	}
	return s.LabelBaseURL
}

// CreateEscalation raises a hand-off ticket bound to req.IdempotencyKey.
func (s *ToolService) CreateEscalation(ctx context.Context, req CreateEscalationRequest) (out *EscalationResult, err error) {
	ctx, span := s.begin(ctx, ToolCreateEscalation,
		attribute.String("case.id", req.CaseID),
		attribute.String("escalation.reason", req.Reason),
	)
	start := time.Now()
	defer func() { s.finish(ctx, span, ToolCreateEscalation, start, req, out, err) }()

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return nil, ErrMissingKey
	}
	if strings.TrimSpace(req.CaseID) == "" || strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: case_id and reason are required", ErrValidation)
	}
	ev := req.Evidence
	if ev == nil {
		ev = map[string]any{}
	}
	blob, err := domain.NewJSON(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: evidence is not serializable", ErrValidation)
	}
	esc := &domain.Escalation{
		TicketID:       utils.DerivedID("ESC", req.IdempotencyKey),
		IdempotencyKey: req.IdempotencyKey,
		CaseID:         req.CaseID,
		Reason:         req.Reason,
		Evidence:       blob,
		CreatedAt:      s.now(),
	}
	stored, created, err := repo.InsertEscalation(ctx, s.DB, esc)
	if errors.Is(err, repo.ErrKeyConflict) {
		return nil, ErrEscalationConflict
	}
	if err != nil {
		return nil, systemErr("insert escalation", err)
	}
	return &EscalationResult{TicketID: stored.TicketID, CaseID: stored.CaseID, Reason: stored.Reason, Replayed: !created}, nil
}

// UploadEvidence stores an evidence file for the session's case.
func (s *ToolService) UploadEvidence(ctx context.Context, req UploadEvidenceRequest) (out *domain.EvidenceRecord, err error) {
	ctx, span := s.begin(ctx, ToolUploadEvidence,
		attribute.String("session.id", req.SessionID),
		attribute.Int("evidence.size", len(req.Data)),
	)
	start := time.Now()
	audit := map[string]any{
		"session_id": req.SessionID,
		"file_name":  req.FileName,
		"mime_type":  req.MimeType,
		"size_bytes": len(req.Data),
	}
	defer func() { s.finish(ctx, span, ToolUploadEvidence, start, audit, out, err) }()

	name := evidence.SanitizeFileName(req.FileName)
	switch {
	case name == "":
		return nil, ErrInvalidEvidenceKind
	case len(req.Data) == 0:
		return nil, ErrEvidenceEmpty
	case int64(len(req.Data)) > s.maxUpload():
		return nil, ErrEvidenceTooLarge
	}
	sess, err := repo.GetSession(ctx, s.DB, req.SessionID)
	if err != nil {
		return nil, notFoundOr(err, ErrSessionNotFound, "get session")
	}
	if domain.IsTerminalStatus(sess.Status) {
		return nil, ErrSessionClosed
	}
	mime := strings.TrimSpace(req.MimeType)
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(req.Data)
	}
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	id := utils.RandomID("EVD")
	path, err := s.Blobs.Put(ctx, evidence.ObjectKey(sess.CaseID, id, name), req.Data, mime)
	if err != nil {
		return nil, systemErr("store evidence", err)
	}
	rec := &domain.EvidenceRecord{
		EvidenceID:  id,
		SessionID:   sess.SessionID,
		CaseID:      sess.CaseID,
		FileName:    name,
		MimeType:    mime,
		SizeBytes:   int64(len(req.Data)),
		StoragePath: path,
		UploadedAt:  s.now(),
	}
	if err := repo.CreateEvidence(ctx, s.DB, rec); err != nil {
		return nil, systemErr("insert evidence", err)
	}
	return rec, nil
}

func (s *ToolService) maxUpload() int64 {
	if s.MaxUploadBytes <= 0 {
		return evidence.MaxSizeBytes
	}
	return s.MaxUploadBytes
}

// ValidateEvidence scores an evidence record for an order item and stores
// the outcome. Outcomes are never overwritten: a second validation of the
// same triple is ErrEvidenceAlreadyValidated.
func (s *ToolService) ValidateEvidence(ctx context.Context, req ValidateEvidenceRequest) (out *ValidationResult, err error) {
	ctx, span := s.begin(ctx, ToolValidateEvidence,
		attribute.String("evidence.id", req.EvidenceID),
		attribute.String("order.id", req.OrderID),
	)
	start := time.Now()
	defer func() { s.finish(ctx, span, ToolValidateEvidence, start, req, out, err) }()

	rec, err := repo.GetEvidence(ctx, s.DB, strings.TrimSpace(req.EvidenceID))
	if err != nil {
		return nil, notFoundOr(err, ErrEvidenceNotFound, "get evidence")
	}
	if req.CaseID != "" && rec.CaseID != req.CaseID {
		return nil, ErrEvidenceWrongCase
	}
	o, err := repo.GetOrder(ctx, s.DB, strings.ToUpper(strings.TrimSpace(req.OrderID)))
	if err != nil {
		return nil, notFoundOr(err, ErrOrderNotFound, "get order")
	}
	if o.ItemID != strings.TrimSpace(req.ItemID) {
		return nil, ErrItemNotFound
	}

	res := s.Validator.Validate(*rec, o.OrderID, o.ItemID)
	reasons, err := domain.NewJSON(res.Reasons)
	if err != nil {
		return nil, systemErr("encode reasons", err)
	}
	v := &domain.EvidenceValidation{
		EvidenceID:  rec.EvidenceID,
		OrderID:     o.OrderID,
		ItemID:      o.ItemID,
		Passed:      res.Passed,
		Confidence:  res.Confidence,
		Reasons:     reasons,
		Approach:    res.Approach,
		ValidatedAt: s.now(),
	}
	if err := repo.InsertValidation(ctx, s.DB, v); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrEvidenceAlreadyValidated
		}
		return nil, systemErr("insert validation", err)
	}
	return validationResult(*v, res.Reasons), nil
}

func validationResult(v domain.EvidenceValidation, reasons []string) *ValidationResult {
	if reasons == nil {
		_ = v.Reasons.Decode(&reasons)
	}
	return &ValidationResult{
		EvidenceID: v.EvidenceID,
		OrderID:    v.OrderID,
		ItemID:     v.ItemID,
		Passed:     v.Passed,
		Confidence: v.Confidence,
		Reasons:    reasons,
		Approach:   v.Approach,
	}
}

// StoredValidation returns the outcome recorded for a triple.
func (s *ToolService) StoredValidation(ctx context.Context, evidenceID, orderID, itemID string) (*ValidationResult, error) {
	v, err := repo.GetValidation(ctx, s.DB, evidenceID, orderID, itemID)
	if err != nil {
		return nil, notFoundOr(err, ErrEvidenceNotFound, "get validation")
	}
	return validationResult(*v, nil), nil
}

// GetEvidence returns an evidence record and its validation outcomes.
func (s *ToolService) GetEvidence(ctx context.Context, evidenceID string) (out *EvidenceDetails, err error) {
	ctx, span := s.begin(ctx, ToolGetEvidence, attribute.String("evidence.id", evidenceID))
	start := time.Now()
	req := map[string]any{"evidence_id": evidenceID}
	defer func() { s.finish(ctx, span, ToolGetEvidence, start, req, out, err) }()

	rec, err := repo.GetEvidence(ctx, s.DB, strings.TrimSpace(evidenceID))
	if err != nil {
		return nil, notFoundOr(err, ErrEvidenceNotFound, "get evidence")
	}
	vals, err := repo.ListValidations(ctx, s.DB, rec.EvidenceID)
	if err != nil {
		return nil, systemErr("list validations", err)
	}
	return &EvidenceDetails{Evidence: *rec, Validations: vals}, nil
}

// Case status values.
const (
	StatusPendingRefund      = "pending_refund"
	StatusPendingReturn      = "pending_return"
	StatusPendingReplacement = "pending_replacement"
	StatusCancelled          = "cancelled"
	StatusStoreCredit        = "store_credit_issued"
)

// GetCaseStatus derives the status of a case from its persisted session.
// Refunds and returns report a TRACK- number with a 2-5 business day ETA,
// replacements a REPL- number with 3-7 business days. A shipment is
// pending until the customer confirms the resolution.
func (s *ToolService) GetCaseStatus(ctx context.Context, caseID string) (out *CaseStatus, err error) {
	ctx, span := s.begin(ctx, ToolGetCaseStatus, attribute.String("case.id", caseID))
	start := time.Now()
	req := map[string]any{"case_id": caseID}
	defer func() { s.finish(ctx, span, ToolGetCaseStatus, start, req, out, err) }()

	sess, err := repo.GetSessionByCase(ctx, s.DB, strings.TrimSpace(caseID))
	if err != nil {
		return nil, notFoundOr(err, ErrCaseNotFound, "get session")
	}
	snap, err := conversation.Decode(sess.State)
	if err != nil {
		return nil, systemErr("decode session", err)
	}
	stage := snap.State.Stage()
	cs := &CaseStatus{
		CaseID:        sess.CaseID,
		SessionStatus: sess.Status,
		Stage:         string(stage),
		Status:        sess.Status,
	}
	o := conversation.OutcomeOf(snap.State)
	if o == nil {
		return cs, nil
	}
	suffix := sess.CaseID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	suffix = strings.ToUpper(suffix)
	inFlight := stage == conversation.StageAwaitSatisfaction

	switch o.Action {
	case policy.ActionRefund, policy.ActionReturn:
		cs.ETA, cs.Tracking = "2-5 business days", "TRACK-"+suffix
		cs.Pending = inFlight
		if inFlight {
			cs.Status = StatusPendingRefund
			if o.Action == policy.ActionReturn {
				cs.Status = StatusPendingReturn
			}
		}
	case policy.ActionReplacement:
		cs.ETA, cs.Tracking = "3-7 business days", "REPL-"+suffix
		cs.Pending = inFlight
		if inFlight {
			cs.Status = StatusPendingReplacement
		}
	case policy.ActionCancel:
		if inFlight {
			cs.Status = StatusCancelled
		}
	case policy.ActionStoreCredit:
		if inFlight {
			cs.Status = StatusStoreCredit
		}
	}
	return cs, nil
}

// eligibilityInput loads the authoritative facts of a claim.
func (s *ToolService) eligibilityInput(ctx context.Context, caseID, orderID, itemID, rawReason, evidenceID string) (policy.Input, policy.ReasonRule, error) {
	tbl := s.engine().Table()
	reason, ok := tbl.NormalizeReason(rawReason)
	if !ok {
		return policy.Input{}, policy.ReasonRule{}, ErrInvalidReason
	}
	rule, _ := tbl.Reason(reason)

	o, err := repo.GetOrder(ctx, s.DB, strings.ToUpper(strings.TrimSpace(orderID)))
	if err != nil {
		return policy.Input{}, rule, notFoundOr(err, ErrOrderNotFound, "get order")
	}
	if o.ItemID != strings.TrimSpace(itemID) {
		return policy.Input{}, rule, ErrItemNotFound
	}

	prior, err := repo.ListReturnsForOrder(ctx, s.DB, o.OrderID)
	if err != nil {
		return policy.Input{}, rule, systemErr("list returns", err)
	}
	own := ""
	if caseID != "" {
		own = conversation.ResolutionKey(caseID, o.OrderID, o.ItemID)
	}
	history := make([]policy.PriorReturn, 0, len(prior))
	for _, r := range prior {
		if r.IdempotencyKey == own {
			continue
		}
		history = append(history, policy.PriorReturn{RMAID: r.RMAID, ItemID: r.ItemID, Method: r.Method})
	}

	in := policy.Input{
		Order:   policy.FactsFromOrder(*o),
		History: history,
		Reason:  reason,
		Today:   s.now(),
	}
	if id := strings.TrimSpace(evidenceID); id != "" {
		v, err := repo.GetValidation(ctx, s.DB, id, o.OrderID, o.ItemID)
		switch {
		case err == nil:
			in.Evidence = &policy.EvidenceOutcome{EvidenceID: v.EvidenceID, Passed: v.Passed, Confidence: v.Confidence}
		case !errors.Is(err, repo.ErrNotFound):
			return policy.Input{}, rule, systemErr("get validation", err)
		}
	}
	return in, rule, nil
}

// CheckEligibility derives a decision from the current store facts. The
// result is never cached.
func (s *ToolService) CheckEligibility(ctx context.Context, req EligibilityRequest) (out *EligibilityResult, err error) {
	ctx, span := s.begin(ctx, ToolCheckEligibility,
		attribute.String("order.id", req.OrderID),
		attribute.String("claim.reason", req.Reason),
	)
	start := time.Now()
	defer func() { s.finish(ctx, span, ToolCheckEligibility, start, req, out, err) }()

	in, rule, err := s.eligibilityInput(ctx, req.CaseID, req.OrderID, req.ItemID, req.Reason, req.EvidenceID)
	if err != nil {
		return nil, err
	}
	eng := s.engine()
	dec := eng.Decide(in)
	return &EligibilityResult{
		Reason:   in.Reason,
		Decision: dec,
		Offered:  policy.Ladder(dec, rule.ImpliedAction),
		Quote:    eng.Quote(in.Order, in.Reason),
		Today:    in.Today.Format(time.DateOnly),
	}, nil
}

// IssueStoreCredit credits the refund quote of a claim. Store credit must
// be eligible under the current policy.
func (s *ToolService) IssueStoreCredit(ctx context.Context, req StoreCreditRequest) (out *StoreCreditResult, err error) {
	ctx, span := s.begin(ctx, ToolIssueStoreCredit,
		attribute.String("case.id", req.CaseID),
		attribute.String("order.id", req.OrderID),
	)
	start := time.Now()
	defer func() { s.finish(ctx, span, ToolIssueStoreCredit, start, req, out, err) }()

	if strings.TrimSpace(req.CaseID) == "" {
		return nil, fmt.Errorf("%w: case_id is required", ErrValidation)
	}
	in, _, err := s.eligibilityInput(ctx, req.CaseID, req.OrderID, req.ItemID, req.Reason, req.EvidenceID)
	if err != nil {
		return nil, err
	}
	eng := s.engine()
	dec := eng.Decide(in)
	if !dec.Allows(policy.ActionStoreCredit) {
		return nil, fmt.Errorf("%w: store credit is not eligible", ErrPolicyDenied)
	}
	amount := eng.Quote(in.Order, in.Reason).Total
	if !amount.GreaterThan(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	return &StoreCreditResult{CaseID: req.CaseID, OrderID: in.Order.OrderID, Amount: amount}, nil
}

var testOrderStatuses = map[string]bool{
	domain.OrderPlaced:     true,
	domain.OrderProcessing: true,
	domain.OrderShipped:    true,
	domain.OrderDelivered:  true,
	domain.OrderCancelled:  true,
}

// CreateTestOrder inserts a fixture order. It is disabled unless test orders
// are allowed.
func (s *ToolService) CreateTestOrder(ctx context.Context, req TestOrderRequest) (out *domain.Order, err error) {
	ctx, span := s.begin(ctx, ToolCreateTestOrder)
	start := time.Now()
	defer func() { s.finish(ctx, span, ToolCreateTestOrder, start, req, out, err) }()

	if !s.AllowTestOrders {
		return nil, ErrTestOrdersDisabled
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		status = domain.OrderDelivered
	}
	switch {
	case !strings.Contains(req.CustomerEmail, "@"):
		return nil, fmt.Errorf("%w: customer_email is invalid", ErrValidation)
	case len(req.CustomerPhoneLast4) != 4:
		return nil, fmt.Errorf("%w: customer_phone_last4 must have 4 digits", ErrValidation)
	case !testOrderStatuses[status]:
		return nil, fmt.Errorf("%w: unknown order status %q", ErrValidation, req.Status)
	case req.ItemPrice.IsNegative() || req.ShippingFee.IsNegative():
		return nil, ErrInvalidAmount
	}
	category := strings.ToLower(strings.TrimSpace(req.ItemCategory))
	if category == "" {
		category = "general"
	}
	today := s.now().Truncate(24 * time.Hour)
	ordered := today
	delivery := req.DeliveryDate
	if status == domain.OrderDelivered && delivery == nil {
		delivery = &today
	}
	if delivery != nil && delivery.Before(ordered) {
		ordered = delivery.UTC().Truncate(24 * time.Hour)
	}

	o := &domain.Order{
		OrderID:            utils.RandomID("ORD"),
		MerchantID:         "M-TEST",
		CustomerEmail:      strings.TrimSpace(req.CustomerEmail),
		CustomerPhoneLast4: req.CustomerPhoneLast4,
		ItemID:             utils.RandomID("ITEM"),
		ItemCategory:       category,
		OrderDate:          ordered,
		DeliveryDate:       delivery,
		ItemPrice:          req.ItemPrice.Round(2),
		ShippingFee:        req.ShippingFee.Round(2),
		Status:             status,
	}
	if err := repo.CreateOrder(ctx, s.DB, o); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicateOrder
		}
		return nil, systemErr("insert order", err)
	}
	return o, nil
}
