package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// Engine evaluates a Table. It is immutable after construction.
type Engine struct {
	table *Table
}

// New returns an engine for t. A nil table selects the embedded default.
func New(t *Table) (*Engine, error) {
	if t == nil {
		t = DefaultTable()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Engine{table: t}, nil
}

// Default returns an engine for the embedded default table.
func Default() *Engine {
	return &Engine{table: DefaultTable()}
}

// Table exposes the rule table (read-only by convention).
func (e *Engine) Table() *Table { return e.table }

// evaluation is the scratch state threaded through the gates.
type evaluation struct {
	in       Input
	category CategoryRule
	reason   ReasonRule
	known    bool
	set      ActionSet
	codes    []string
}

func (ev *evaluation) note(code string) { ev.codes = append(ev.codes, code) }

// gate narrows (or, for the base gate, seeds) the eligible set.
type gate func(ev *evaluation)

// gates run in order. Adding a rule means appending a gate or a table row.
var gates = []gate{
	baseGate,
	undeliveredGate,
	deliveredGate,
	nonReturnableGate,
	historyGate,
	windowGate,
	evidenceGate,
}

// Decide returns the eligible actions for in. The result always contains
// ActionEscalate.
func (e *Engine) Decide(in Input) Decision {
	ev := &evaluation{
		in:       in,
		category: e.table.Category(in.Order.Category),
	}
	ev.reason, ev.known = e.table.Reason(in.Reason)
	for _, g := range gates {
		g(ev)
	}
	ev.set = ev.set.With(ActionEscalate)
	codes := ev.codes
	if codes == nil {
		codes = []string{}
	}
	return Decision{Eligible: ev.set, ReasonCodes: codes}
}

func baseGate(ev *evaluation) {
	if !ev.known {
		ev.note(CodeUnknownReason)
		return
	}
	ev.set = NewActionSet(ev.reason.Actions...)
	if ev.in.Order.Status == domain.OrderDelivered {
		ev.set = ev.set.With(ladder...)
	}
}

func undeliveredGate(ev *evaluation) {
	if isDelivered(ev.in.Order) {
		return
	}
	if ev.in.Order.Status == domain.OrderProcessing {
		ev.set = NewActionSet(ActionCancel)
		ev.note(CodeCancellable)
		return
	}
	ev.set = 0
	ev.note(CodeNotDelivered)
}

func deliveredGate(ev *evaluation) {
	if !isDelivered(ev.in.Order) {
		return
	}
	if ev.set.Has(ActionCancel) || ev.reason.ImpliedAction == ActionCancel {
		ev.note(CodeCancelAfterDelivery)
	}
	ev.set = ev.set.Without(ActionCancel)
}

func nonReturnableGate(ev *evaluation) {
	if !ev.category.NonReturnable || !isDelivered(ev.in.Order) {
		return
	}
	ev.set = ev.set.Without(ActionRefund, ActionReturn, ActionReplacement, ActionStoreCredit)
	ev.note(CodeNonReturnable)
}

func historyGate(ev *evaluation) {
	for _, h := range ev.in.History {
		if h.ItemID == ev.in.Order.ItemID {
			ev.set = ev.set.Without(ActionRefund, ActionReturn, ActionReplacement, ActionCancel)
			ev.note(CodePriorReturnExists)
			return
		}
	}
}

func windowGate(ev *evaluation) {
	if !isDelivered(ev.in.Order) || ev.category.NonReturnable {
		return
	}
	if DaysSince(*ev.in.Order.DeliveryDate, ev.in.Today) > ev.category.ReturnWindowDays {
		ev.set = ev.set.Without(ActionReturn, ActionRefund)
		ev.note(CodeReturnWindowExpired)
		return
	}
	ev.note(CodeWithinReturnWindow)
}

func evidenceGate(ev *evaluation) {
	if !ev.known || !ev.reason.RequiresEvidence {
		return
	}
	switch {
	case ev.in.Evidence == nil:
		ev.set = 0
		ev.note(CodeEvidenceRequired)
	case !ev.in.Evidence.Passed:
		ev.set = 0
		ev.note(CodeEvidenceFailed)
	default:
		ev.note(CodeEvidenceVerified)
	}
}

func isDelivered(o OrderFacts) bool {
	return o.Status == domain.OrderDelivered && o.DeliveryDate != nil
}

// DaysSince returns the number of whole calendar days from `from` to `to`,
// both taken as UTC dates.
func DaysSince(from, to time.Time) int {
	f := civil(from)
	t := civil(to)
	return int(t.Sub(f).Hours() / 24)
}

func civil(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Ladder returns the options to present for a decision. When requested is
// eligible it comes first, followed by the other eligible actions in
// canonical order. Otherwise the fixed fallback sequence replacement, store
// credit, escalate is returned, filtered to what is eligible.
func Ladder(d Decision, requested Action) []Action {
	if requested != "" && d.Eligible.Has(requested) {
		out := []Action{requested}
		for _, a := range d.Eligible.List() {
			if a != requested {
				out = append(out, a)
			}
		}
		return out
	}
	out := make([]Action, 0, len(ladder))
	for _, a := range ladder {
		if d.Eligible.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// Refund quote kinds.
const (
	RefundFull    = "full"
	RefundPartial = "partial"
	RefundNone    = "none"
)

// RefundQuote is the amount breakdown for a refund or store credit.
type RefundQuote struct {
	Kind     string          `json:"kind"`
	Item     decimal.Decimal `json:"item_amount"`
	Shipping decimal.Decimal `json:"shipping_amount"`
	Total    decimal.Decimal `json:"total"`
}

// Quote computes the refundable amount. Shipping is included only for
// merchant-fault reasons in categories that refund shipping.
func (e *Engine) Quote(o OrderFacts, r Reason) RefundQuote {
	cat := e.table.Category(o.Category)
	if cat.NonReturnable {
		return RefundQuote{Kind: RefundNone, Item: decimal.Zero, Shipping: decimal.Zero, Total: decimal.Zero}
	}
	rule, _ := e.table.Reason(r)
	q := RefundQuote{Kind: RefundPartial, Item: o.ItemPrice.Round(2), Shipping: decimal.Zero}
	if rule.MerchantFault && cat.RefundShipping {
		q.Kind = RefundFull
		q.Shipping = o.ShippingFee.Round(2)
	}
	q.Total = q.Item.Add(q.Shipping)
	return q
}
