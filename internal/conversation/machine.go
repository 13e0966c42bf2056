package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-support-agent/internal/guardrail"
	"github.com/tbourn/go-support-agent/internal/policy"
)

// Agent modes. Both run the same deterministic transitions; the mode is
// echoed so an external phrasing layer knows whether it may rewrite text.
const (
	ModeDeterministic = "deterministic"
	ModeAssisted      = "assisted"
)

// Escalation reasons.
const (
	EscalationEvidenceFailed    = "evidence_failed"
	EscalationPolicy            = "no_eligible_action"
	EscalationCustomerRequested = "customer_requested"
	EscalationNotSatisfied      = "customer_not_satisfied"
	EscalationGuardrailRepeated = "guardrail_repeated"
)

// CaseReport is the customer-visible status of a case.
type CaseReport struct {
	Status   string `json:"status"`
	ETA      string `json:"eta,omitempty"`
	Tracking string `json:"tracking,omitempty"`
	Pending  bool   `json:"pending"`
}

// Tools is what the machine needs from the tool layer. Every call is
// audited by the implementation.
type Tools interface {
	ListOrders(ctx context.Context, identifier string) ([]Option, error)
	ListOrderItems(ctx context.Context, orderID string) ([]Option, error)
	SelectOrder(ctx context.Context, identifier, orderID string) error
	SelectItems(ctx context.Context, orderID string, itemIDs []string) error
	CheckEligibility(ctx context.Context, caseID string, c Claim, evidenceID string) (policy.Decision, error)
	ValidateEvidence(ctx context.Context, caseID, evidenceID, orderID, itemID string) (passed bool, err error)
	CreateReturn(ctx context.Context, key, caseID string, c Claim, evidenceID string, method policy.Action) (rmaID string, err error)
	GenerateLabel(ctx context.Context, rmaID string) (labelID, labelURL string, err error)
	IssueStoreCredit(ctx context.Context, caseID string, c Claim, evidenceID string) (decimal.Decimal, error)
	CreateEscalation(ctx context.Context, key, caseID, reason string, evidence map[string]any) (ticketID string, err error)
	CaseStatus(ctx context.Context, caseID string) (CaseReport, error)
}

// Input carries the guided-control values of one turn. Text is only used
// for exit and status keywords and as a typed identifier or reason; the
// machine never guesses a slot from free text.
type Input struct {
	Text         string   `json:"text,omitempty"`
	Identifier   string   `json:"identifier,omitempty"`
	OrderID      string   `json:"order_id,omitempty"`
	ItemIDs      []string `json:"item_ids,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	EvidenceID   string   `json:"evidence_id,omitempty"`
	Choice       string   `json:"choice,omitempty"`
	Satisfaction string   `json:"satisfaction,omitempty"`
}

// IDs identify the session a turn belongs to.
type IDs struct {
	SessionID string
	CaseID    string
}

// Result is the persisted snapshot after a turn plus the directive to show.
type Result struct {
	Snapshot  Snapshot
	Directive Directive
}

// Machine runs transitions. It holds no session state.
type Machine struct {
	Tools  Tools
	Policy *policy.Provider
	Mode   string

	// Retryable separates transient failures (returned to the caller) from
	// deterministic rejections (reported to the customer as a notice). A nil
	// func treats every error as transient.
	Retryable func(error) bool
}

var (
	exitWords   = map[string]bool{"end chat": true, "close chat": true, "exit": true, "quit": true, "stop": true}
	statusWords = map[string]bool{"status": true, "status check": true, "refund status": true, "case status": true}

	orderIDPattern = regexp.MustCompile(`^(?i)ord-[a-z0-9-]+$`)
	phonePattern   = regexp.MustCompile(`^[0-9]{4}$`)
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// LooksLikeIdentifier reports whether s is an order id, an email or a phone
// last-4.
func LooksLikeIdentifier(s string) bool {
	s = strings.TrimSpace(s)
	return orderIDPattern.MatchString(s) || phonePattern.MatchString(s) || emailPattern.MatchString(s)
}

func (m *Machine) mode() string {
	if m.Mode == ModeAssisted {
		return ModeAssisted
	}
	return ModeDeterministic
}

func (m *Machine) transient(err error) bool {
	return m.Retryable == nil || m.Retryable(err)
}

// step is the result of one transition function: the next state and an
// optional notice shown before the prompt.
type step struct {
	next   State
	notice string
}

func stay(s State, notice string) step { return step{next: s, notice: notice} }

// Step applies one customer turn to snap. Terminal sessions are left
// untouched. Slots are filled in order, so a turn carrying several control
// values advances through several stages.
func (m *Machine) Step(ctx context.Context, ids IDs, snap Snapshot, in Input) (Result, error) {
	if err := Validate(snap.State); err != nil {
		return Result{}, err
	}
	if IsTerminal(snap.State.Stage()) {
		d, err := m.Render(ctx, ids, snap)
		if err != nil {
			return Result{}, err
		}
		d.Message = msgClosed
		return Result{Snapshot: snap, Directive: d}, nil
	}

	kw := guardrail.Keyword(in.Text)
	if exitWords[kw] {
		return m.finish(ctx, ids, Snapshot{State: Exited{From: snap.State.Stage()}, Strikes: snap.Strikes}, "")
	}
	if statusWords[kw] {
		return m.statusCheck(ctx, ids, snap)
	}

	cur := snap.State
	var notice string
	for {
		st, err := m.transition(ctx, ids, cur, &in)
		if err != nil {
			return Result{}, err
		}
		if st.notice != "" {
			notice = st.notice
		}
		if st.next.Stage() == cur.Stage() || IsTerminal(st.next.Stage()) {
			cur = st.next
			break
		}
		cur = st.next
	}
	return m.finish(ctx, ids, Snapshot{State: cur, Strikes: snap.Strikes}, notice)
}

// Refuse handles a turn the guardrail denied. The strike is counted; once
// the limit is reached the case is escalated without the denied text.
func (m *Machine) Refuse(ctx context.Context, ids IDs, snap Snapshot, v guardrail.Verdict, maxStrikes int) (Result, error) {
	if err := Validate(snap.State); err != nil {
		return Result{}, err
	}
	if IsTerminal(snap.State.Stage()) {
		res, err := m.Step(ctx, ids, snap, Input{})
		res.Directive.Refused = true
		return res, err
	}
	next := Snapshot{State: snap.State, Strikes: snap.Strikes + 1}
	if maxStrikes > 0 && next.Strikes >= maxStrikes {
		ev := map[string]any{
			"category": string(v.Category),
			"strikes":  next.Strikes,
			"stage":    string(snap.State.Stage()),
		}
		esc, err := m.escalate(ctx, ids, EscalationGuardrailRepeated, ev, nil)
		if err != nil {
			return Result{}, err
		}
		next.State = esc
		res, err := m.finish(ctx, ids, next, v.Reason)
		res.Directive.Refused = true
		return res, err
	}
	res, err := m.finish(ctx, ids, next, v.Reason)
	res.Directive.Refused = true
	return res, err
}

func (m *Machine) finish(ctx context.Context, ids IDs, snap Snapshot, notice string) (Result, error) {
	if err := Validate(snap.State); err != nil {
		return Result{}, err
	}
	d, err := m.Render(ctx, ids, snap)
	if err != nil {
		return Result{}, err
	}
	if notice != "" {
		d.Message = notice + " " + d.Message
	}
	return Result{Snapshot: snap, Directive: d}, nil
}

func (m *Machine) statusCheck(ctx context.Context, ids IDs, snap Snapshot) (Result, error) {
	rep, err := m.Tools.CaseStatus(ctx, ids.CaseID)
	if err != nil {
		return Result{}, err
	}
	next := snap
	if s, ok := snap.State.(AwaitSatisfaction); ok && !rep.Pending {
		o := s.Outcome
		next.State = Resolved{Outcome: &o}
	}
	res, err := m.finish(ctx, ids, next, "")
	if err != nil {
		return Result{}, err
	}
	res.Directive.Message = fmt.Sprintf("Case status: %s. ETA: %s. Tracking: %s. %s",
		rep.Status, orNA(rep.ETA), orNA(rep.Tracking), res.Directive.Message)
	return res, nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func (m *Machine) transition(ctx context.Context, ids IDs, cur State, in *Input) (step, error) {
	switch s := cur.(type) {
	case AwaitIdentifier:
		return m.onIdentifier(ctx, s, in)
	case AwaitOrderSelection:
		return m.onOrderSelection(ctx, s, in)
	case AwaitItemSelection:
		return m.onItemSelection(ctx, s, in)
	case AwaitReason:
		return m.onReason(ctx, ids, s, in)
	case AwaitEvidence:
		return m.onEvidence(ctx, ids, s, in)
	case AwaitResolutionChoice:
		return m.onChoice(ctx, ids, s, in)
	case AwaitSatisfaction:
		return m.onSatisfaction(ctx, ids, s, in)
	}
	return stay(cur, ""), nil
}

func (m *Machine) onIdentifier(ctx context.Context, s AwaitIdentifier, in *Input) (step, error) {
	id := strings.TrimSpace(in.Identifier)
	if id == "" && LooksLikeIdentifier(in.Text) {
		id = strings.TrimSpace(in.Text)
	}
	if id == "" {
		return stay(s, ""), nil
	}
	in.Identifier, in.Text = "", ""
	orders, err := m.Tools.ListOrders(ctx, id)
	if err != nil {
		if m.transient(err) {
			return step{}, err
		}
		return stay(s, msgNoOrders), nil
	}
	if len(orders) == 0 {
		return stay(s, msgNoOrders), nil
	}
	return step{next: AwaitOrderSelection{Identifier: id}}, nil
}

func (m *Machine) onOrderSelection(ctx context.Context, s AwaitOrderSelection, in *Input) (step, error) {
	orderID := strings.ToUpper(strings.TrimSpace(in.OrderID))
	if orderID == "" {
		return stay(s, ""), nil
	}
	in.OrderID = ""
	if err := m.Tools.SelectOrder(ctx, s.Identifier, orderID); err != nil {
		if m.transient(err) {
			return step{}, err
		}
		return stay(s, msgOrderUnavailable), nil
	}
	return step{next: AwaitItemSelection{Identifier: s.Identifier, OrderID: orderID}}, nil
}

func (m *Machine) onItemSelection(ctx context.Context, s AwaitItemSelection, in *Input) (step, error) {
	items := compact(in.ItemIDs)
	if len(items) == 0 {
		return stay(s, ""), nil
	}
	in.ItemIDs = nil
	if len(items) > 1 {
		return stay(s, msgOneItem), nil
	}
	if err := m.Tools.SelectItems(ctx, s.OrderID, items); err != nil {
		if m.transient(err) {
			return step{}, err
		}
		return stay(s, msgItemUnavailable), nil
	}
	return step{next: AwaitReason{Identifier: s.Identifier, OrderID: s.OrderID, ItemID: items[0]}}, nil
}

func (m *Machine) onReason(ctx context.Context, ids IDs, s AwaitReason, in *Input) (step, error) {
	tbl := m.Policy.Engine().Table()
	raw := in.Reason
	if raw == "" {
		// A typed reason counts only when it names a reason exactly.
		if _, ok := tbl.NormalizeReason(in.Text); ok {
			raw = in.Text
		}
	}
	if strings.TrimSpace(raw) == "" {
		return stay(s, ""), nil
	}
	in.Reason, in.Text = "", ""
	reason, ok := tbl.NormalizeReason(raw)
	if !ok {
		return stay(s, msgUnknownReason), nil
	}
	claim := Claim{Identifier: s.Identifier, OrderID: s.OrderID, ItemID: s.ItemID, Reason: reason}
	if rule, _ := tbl.Reason(reason); rule.RequiresEvidence {
		return step{next: AwaitEvidence{Claim: claim}}, nil
	}
	return m.enterResolution(ctx, ids, claim, "")
}

func (m *Machine) onEvidence(ctx context.Context, ids IDs, s AwaitEvidence, in *Input) (step, error) {
	evd := strings.TrimSpace(in.EvidenceID)
	if evd == "" {
		return stay(s, ""), nil
	}
	in.EvidenceID = ""
	if _, err := m.Tools.ValidateEvidence(ctx, ids.CaseID, evd, s.OrderID, s.ItemID); err != nil {
		if m.transient(err) {
			return step{}, err
		}
		return stay(s, msgEvidenceUnusable), nil
	}
	return m.enterResolution(ctx, ids, s.Claim, evd)
}

// enterResolution re-derives the decision from store facts and either
// escalates (escalate is the only option) or offers the ladder.
func (m *Machine) enterResolution(ctx context.Context, ids IDs, c Claim, evidenceID string) (step, error) {
	dec, err := m.Tools.CheckEligibility(ctx, ids.CaseID, c, evidenceID)
	if err != nil {
		return step{}, err
	}
	rule, _ := m.Policy.Engine().Table().Reason(c.Reason)
	if dec.EscalateOnly() {
		esc, err := m.escalate(ctx, ids, escalationReason(dec), decisionEvidence(c, evidenceID, dec), nil)
		if err != nil {
			return step{}, err
		}
		return step{next: esc}, nil
	}
	return step{next: AwaitResolutionChoice{
		Claim:      c,
		EvidenceID: evidenceID,
		Requested:  rule.ImpliedAction,
		Offered:    policy.Ladder(dec, rule.ImpliedAction),
	}}, nil
}

func (m *Machine) onChoice(ctx context.Context, ids IDs, s AwaitResolutionChoice, in *Input) (step, error) {
	raw := strings.TrimSpace(in.Choice)
	if raw == "" {
		return stay(s, ""), nil
	}
	in.Choice = ""
	action, ok := policy.ParseAction(raw)
	if !ok || !offered(s.Offered, action) {
		return stay(s, msgChooseOffered), nil
	}

	// Never trust the offer that was computed on an earlier turn.
	dec, err := m.Tools.CheckEligibility(ctx, ids.CaseID, s.Claim, s.EvidenceID)
	if err != nil {
		return step{}, err
	}
	if !dec.Allows(action) {
		if dec.EscalateOnly() {
			esc, err := m.escalate(ctx, ids, escalationReason(dec), decisionEvidence(s.Claim, s.EvidenceID, dec), nil)
			if err != nil {
				return step{}, err
			}
			return step{next: esc, notice: msgNoLongerEligible}, nil
		}
		s.Offered = policy.Ladder(dec, s.Requested)
		return stay(s, msgNoLongerEligible), nil
	}

	if action == policy.ActionEscalate {
		esc, err := m.escalate(ctx, ids, EscalationCustomerRequested, decisionEvidence(s.Claim, s.EvidenceID, dec), nil)
		if err != nil {
			return step{}, err
		}
		return step{next: esc}, nil
	}

	out, err := m.execute(ctx, ids, s.Claim, s.EvidenceID, action)
	if err != nil {
		if m.transient(err) {
			return step{}, err
		}
		s.Offered = policy.Ladder(dec, s.Requested)
		return stay(s, msgNoLongerEligible), nil
	}
	return step{next: AwaitSatisfaction{Claim: s.Claim, Outcome: out}}, nil
}

// ResolutionKey is the idempotency key of the return created for a case.
func ResolutionKey(caseID, orderID, itemID string) string {
	return fmt.Sprintf("%s:resolution:%s:%s", caseID, orderID, itemID)
}

// EscalationKey is the idempotency key of an escalation for a case. It
// carries a digest of the evidence payload: a retry on the same facts
// replays the ticket, while an escalation for the same reason on changed
// facts (new reason codes, another claim) gets its own.
func EscalationKey(caseID, reason string, evidence map[string]any) string {
	return fmt.Sprintf("%s:escalation:%s:%s", caseID, reason, evidenceDigest(evidence))
}

func evidenceDigest(evidence map[string]any) string {
	b, err := json.Marshal(evidence)
	if err == nil {
		if c, err := jcs.Transform(b); err == nil {
			b = c
		}
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:6])
}

func (m *Machine) execute(ctx context.Context, ids IDs, c Claim, evidenceID string, action policy.Action) (Outcome, error) {
	switch action {
	case policy.ActionRefund, policy.ActionReturn, policy.ActionReplacement:
		rma, err := m.Tools.CreateReturn(ctx, ResolutionKey(ids.CaseID, c.OrderID, c.ItemID), ids.CaseID, c, evidenceID, action)
		if err != nil {
			return Outcome{}, err
		}
		labelID, url, err := m.Tools.GenerateLabel(ctx, rma)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: action, RMAID: rma, LabelID: labelID, LabelURL: url}, nil
	case policy.ActionCancel:
		rma, err := m.Tools.CreateReturn(ctx, ResolutionKey(ids.CaseID, c.OrderID, c.ItemID), ids.CaseID, c, evidenceID, action)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: action, RMAID: rma}, nil
	case policy.ActionStoreCredit:
		amount, err := m.Tools.IssueStoreCredit(ctx, ids.CaseID, c, evidenceID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: action, CreditAmount: &amount}, nil
	}
	return Outcome{}, fmt.Errorf("conversation: cannot execute %q", action)
}

func (m *Machine) onSatisfaction(ctx context.Context, ids IDs, s AwaitSatisfaction, in *Input) (step, error) {
	switch guardrail.Keyword(in.Satisfaction) {
	case "yes":
		in.Satisfaction = ""
		o := s.Outcome
		return step{next: Resolved{Outcome: &o}}, nil
	case "no":
		in.Satisfaction = ""
		o := s.Outcome
		ev := map[string]any{
			"order_id": s.OrderID,
			"item_id":  s.ItemID,
			"reason":   string(s.Reason),
			"action":   string(o.Action),
			"rma_id":   o.RMAID,
		}
		esc, err := m.escalate(ctx, ids, EscalationNotSatisfied, ev, &o)
		if err != nil {
			return step{}, err
		}
		return step{next: esc}, nil
	}
	return stay(s, ""), nil
}

func (m *Machine) escalate(ctx context.Context, ids IDs, reason string, evidence map[string]any, o *Outcome) (Escalated, error) {
	ticket, err := m.Tools.CreateEscalation(ctx, EscalationKey(ids.CaseID, reason, evidence), ids.CaseID, reason, evidence)
	if err != nil {
		return Escalated{}, err
	}
	return Escalated{TicketID: ticket, Reason: reason, Outcome: o}, nil
}

func escalationReason(d policy.Decision) string {
	for _, c := range d.ReasonCodes {
		if c == policy.CodeEvidenceFailed {
			return EscalationEvidenceFailed
		}
	}
	return EscalationPolicy
}

func decisionEvidence(c Claim, evidenceID string, d policy.Decision) map[string]any {
	ev := map[string]any{
		"order_id":     c.OrderID,
		"item_id":      c.ItemID,
		"reason":       string(c.Reason),
		"reason_codes": d.ReasonCodes,
	}
	if evidenceID != "" {
		ev["evidence_id"] = evidenceID
	}
	return ev
}

func offered(list []policy.Action, a policy.Action) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func compact(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
