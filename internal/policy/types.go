// Package policy implements the deterministic eligibility engine that maps
// authoritative order facts, the return history of an item and an optional
// evidence outcome to the set of resolutions the agent may offer.
//
// The engine performs no I/O and holds no mutable state: a decision is a pure
// function of its Input and the rule Table, so it is safe to call from any
// number of goroutines without locking. Decisions are never cached by callers;
// they are re-derived every time an action is about to be offered or executed.
package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// Action is a resolution the agent can offer.
type Action string

const (
	ActionRefund      Action = "refund"
	ActionReturn      Action = "return"
	ActionReplacement Action = "replacement"
	ActionCancel      Action = "cancel"
	ActionStoreCredit Action = "store_credit"
	ActionEscalate    Action = "escalate"
)

// canonical is the fixed presentation order of actions.
var canonical = []Action{
	ActionRefund, ActionReturn, ActionReplacement, ActionCancel, ActionStoreCredit, ActionEscalate,
}

// ladder is the deterministic fallback sequence offered when the requested
// action is not eligible.
var ladder = []Action{ActionReplacement, ActionStoreCredit, ActionEscalate}

func (a Action) bit() ActionSet {
	for i, c := range canonical {
		if c == a {
			return 1 << i
		}
	}
	return 0
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return a.bit() != 0 }

// ParseAction normalizes s ("Store Credit", "store-credit") into an Action.
func ParseAction(s string) (Action, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	a := Action(s)
	return a, a.Valid()
}

// ActionSet is a set of actions stored as a bitmask.
type ActionSet uint8

// NewActionSet builds a set from the given actions; unknown values are ignored.
func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s |= a.bit()
	}
	return s
}

// Has reports whether a is in the set.
func (s ActionSet) Has(a Action) bool { b := a.bit(); return b != 0 && s&b != 0 }

// With returns the set plus the given actions.
func (s ActionSet) With(actions ...Action) ActionSet { return s | NewActionSet(actions...) }

// Without returns the set minus the given actions.
func (s ActionSet) Without(actions ...Action) ActionSet { return s &^ NewActionSet(actions...) }

// SubsetOf reports whether every action in s is also in o.
func (s ActionSet) SubsetOf(o ActionSet) bool { return s&^o == 0 }

// Len returns the number of actions in the set.
func (s ActionSet) Len() int {
	n := 0
	for v := s; v != 0; v &= v - 1 {
		n++
	}
	return n
}

// List returns the members in canonical order.
func (s ActionSet) List() []Action {
	out := make([]Action, 0, len(canonical))
	for _, a := range canonical {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// String renders the set as "{a, b}".
func (s ActionSet) String() string {
	parts := make([]string, 0, len(canonical))
	for _, a := range s.List() {
		parts = append(parts, string(a))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MarshalJSON encodes the set as a list in canonical order.
func (s ActionSet) MarshalJSON() ([]byte, error) { return json.Marshal(s.List()) }

// UnmarshalJSON decodes a list of action names.
func (s *ActionSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var out ActionSet
	for _, n := range names {
		a, ok := ParseAction(n)
		if !ok {
			return fmt.Errorf("policy: unknown action %q", n)
		}
		out = out.With(a)
	}
	*s = out
	return nil
}

// Reason is the customer's stated problem, normalized through the table.
type Reason string

// OrderFacts are the authoritative order attributes a decision depends on.
type OrderFacts struct {
	OrderID      string
	ItemID       string
	Category     string
	Status       string
	OrderDate    time.Time
	DeliveryDate *time.Time
	ItemPrice    decimal.Decimal
	ShippingFee  decimal.Decimal
}

// FactsFromOrder copies the decision-relevant fields of a stored order.
func FactsFromOrder(o domain.Order) OrderFacts {
	return OrderFacts{
		OrderID:      o.OrderID,
		ItemID:       o.ItemID,
		Category:     strings.ToLower(strings.TrimSpace(o.ItemCategory)),
		Status:       o.Status,
		OrderDate:    o.OrderDate,
		DeliveryDate: o.DeliveryDate,
		ItemPrice:    o.ItemPrice,
		ShippingFee:  o.ShippingFee,
	}
}

// PriorReturn is an existing RMA for the same order.
type PriorReturn struct {
	RMAID  string
	ItemID string
	Method string
}

// EvidenceOutcome is the stored validator result for the case's evidence.
type EvidenceOutcome struct {
	EvidenceID string
	Passed     bool
	Confidence decimal.Decimal
}

// Input is everything a decision depends on. Today is supplied by the
// caller so that decisions stay reproducible.
type Input struct {
	Order    OrderFacts
	History  []PriorReturn
	Reason   Reason
	Evidence *EvidenceOutcome
	Today    time.Time
}

// Decision is the outcome of the engine. Eligible always contains at least
// ActionEscalate.
type Decision struct {
	Eligible    ActionSet `json:"eligible_actions"`
	ReasonCodes []string  `json:"reason_codes"`
}

// Allows reports whether a is eligible.
func (d Decision) Allows(a Action) bool { return d.Eligible.Has(a) }

// EscalateOnly reports whether escalation is the only remaining option.
func (d Decision) EscalateOnly() bool { return d.Eligible == NewActionSet(ActionEscalate) }

// Reason codes.
const (
	CodeNotDelivered        = "not_delivered"
	CodeCancellable         = "cancellable_while_processing"
	CodeCancelAfterDelivery = "cancel_after_delivery"
	CodeNonReturnable       = "non_returnable_category"
	CodePriorReturnExists   = "prior_return_exists"
	CodeWithinReturnWindow  = "within_return_window"
	CodeReturnWindowExpired = "return_window_expired"
	CodeEvidenceRequired    = "evidence_required"
	CodeEvidenceFailed      = "evidence_failed"
	CodeEvidenceVerified    = "evidence_verified"
	CodeUnknownReason       = "unknown_reason"
)
