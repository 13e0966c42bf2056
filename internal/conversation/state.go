// Package conversation implements the guided, slot-filling dialogue that
// walks a customer from identification to a resolution.
//
// Every stage of the dialogue is its own Go type carrying exactly the fields
// that are valid in that stage. A state is checked before it is encoded and
// after it is decoded, so a session can never hold a partially filled stage
// (for example a resolution choice without a selected item).
package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-support-agent/internal/domain"
	"github.com/tbourn/go-support-agent/internal/policy"
)

// Stage names a dialogue state. The values are persisted.
type Stage string

const (
	StageAwaitIdentifier       Stage = "await_identifier"
	StageAwaitOrderSelection   Stage = "await_order_selection"
	StageAwaitItemSelection    Stage = "await_item_selection"
	StageAwaitReason           Stage = "await_reason"
	StageAwaitEvidence         Stage = "await_evidence"
	StageAwaitResolutionChoice Stage = "await_resolution_choice"
	StageAwaitSatisfaction     Stage = "await_satisfaction"
	StageResolved              Stage = "resolved"
	StageEscalated             Stage = "escalated"
	StageExited                Stage = "exited"
)

// ErrInvalidState is wrapped by every state validation failure.
var ErrInvalidState = errors.New("conversation: invalid state")

// State is one stage of the dialogue.
type State interface {
	Stage() Stage
	validate() error
}

// Claim is the fully identified request: who, which order, which item and
// why. It is complete from AwaitReason onwards.
type Claim struct {
	Identifier string        `json:"identifier"`
	OrderID    string        `json:"order_id"`
	ItemID     string        `json:"item_id"`
	Reason     policy.Reason `json:"reason"`
}

func (c Claim) validate() error {
	return required(
		field{"identifier", c.Identifier},
		field{"order_id", c.OrderID},
		field{"item_id", c.ItemID},
		field{"reason", string(c.Reason)},
	)
}

// Outcome records what was executed for the case.
type Outcome struct {
	Action       policy.Action    `json:"action"`
	RMAID        string           `json:"rma_id,omitempty"`
	LabelID      string           `json:"label_id,omitempty"`
	LabelURL     string           `json:"label_url,omitempty"`
	CreditAmount *decimal.Decimal `json:"credit_amount,omitempty"`
}

func (o Outcome) validate() error {
	if !o.Action.Valid() {
		return fmt.Errorf("%w: outcome action %q", ErrInvalidState, o.Action)
	}
	switch o.Action {
	case policy.ActionRefund, policy.ActionReturn, policy.ActionReplacement:
		return required(field{"rma_id", o.RMAID}, field{"label_id", o.LabelID})
	case policy.ActionCancel:
		return required(field{"rma_id", o.RMAID})
	case policy.ActionStoreCredit:
		if o.CreditAmount == nil {
			return fmt.Errorf("%w: missing credit_amount", ErrInvalidState)
		}
	}
	return nil
}

// AwaitIdentifier asks for an order id, email or phone last-4.
type AwaitIdentifier struct{}

// AwaitOrderSelection asks the customer to pick one of their orders.
type AwaitOrderSelection struct {
	Identifier string `json:"identifier"`
}

// AwaitItemSelection asks for the item of the selected order.
type AwaitItemSelection struct {
	Identifier string `json:"identifier"`
	OrderID    string `json:"order_id"`
}

// AwaitReason asks why the customer is contacting us.
type AwaitReason struct {
	Identifier string `json:"identifier"`
	OrderID    string `json:"order_id"`
	ItemID     string `json:"item_id"`
}

// AwaitEvidence asks for a photo when the reason requires one.
type AwaitEvidence struct {
	Claim
}

// AwaitResolutionChoice offers the eligible resolutions. Requested is the
// action implied by the reason; Offered is the presented ladder.
type AwaitResolutionChoice struct {
	Claim
	EvidenceID string          `json:"evidence_id,omitempty"`
	Requested  policy.Action   `json:"requested,omitempty"`
	Offered    []policy.Action `json:"offered"`
}

// AwaitSatisfaction waits for the customer to confirm the executed outcome.
type AwaitSatisfaction struct {
	Claim
	Outcome Outcome `json:"outcome"`
}

// Resolved is terminal.
type Resolved struct {
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Escalated is terminal; TicketID is the escalation row.
type Escalated struct {
	TicketID string   `json:"ticket_id"`
	Reason   string   `json:"reason"`
	Outcome  *Outcome `json:"outcome,omitempty"`
}

// Exited is terminal; From is the stage the customer left.
type Exited struct {
	From Stage `json:"from"`
}

func (AwaitIdentifier) Stage() Stage       { return StageAwaitIdentifier }
func (AwaitOrderSelection) Stage() Stage   { return StageAwaitOrderSelection }
func (AwaitItemSelection) Stage() Stage    { return StageAwaitItemSelection }
func (AwaitReason) Stage() Stage           { return StageAwaitReason }
func (AwaitEvidence) Stage() Stage         { return StageAwaitEvidence }
func (AwaitResolutionChoice) Stage() Stage { return StageAwaitResolutionChoice }
func (AwaitSatisfaction) Stage() Stage     { return StageAwaitSatisfaction }
func (Resolved) Stage() Stage              { return StageResolved }
func (Escalated) Stage() Stage             { return StageEscalated }
func (Exited) Stage() Stage                { return StageExited }

func (AwaitIdentifier) validate() error { return nil }

func (s AwaitOrderSelection) validate() error {
	return required(field{"identifier", s.Identifier})
}

func (s AwaitItemSelection) validate() error {
	return required(field{"identifier", s.Identifier}, field{"order_id", s.OrderID})
}

func (s AwaitReason) validate() error {
	return required(field{"identifier", s.Identifier}, field{"order_id", s.OrderID}, field{"item_id", s.ItemID})
}

func (s AwaitEvidence) validate() error { return s.Claim.validate() }

func (s AwaitResolutionChoice) validate() error {
	if err := s.Claim.validate(); err != nil {
		return err
	}
	if len(s.Offered) == 0 {
		return fmt.Errorf("%w: no offered actions", ErrInvalidState)
	}
	for _, a := range s.Offered {
		if !a.Valid() {
			return fmt.Errorf("%w: offered action %q", ErrInvalidState, a)
		}
	}
	if s.Requested != "" && !s.Requested.Valid() {
		return fmt.Errorf("%w: requested action %q", ErrInvalidState, s.Requested)
	}
	return nil
}

func (s AwaitSatisfaction) validate() error {
	if err := s.Claim.validate(); err != nil {
		return err
	}
	return s.Outcome.validate()
}

func (s Resolved) validate() error {
	if s.Outcome != nil {
		return s.Outcome.validate()
	}
	return nil
}

func (s Escalated) validate() error {
	if err := required(field{"ticket_id", s.TicketID}, field{"reason", s.Reason}); err != nil {
		return err
	}
	if s.Outcome != nil {
		return s.Outcome.validate()
	}
	return nil
}

func (s Exited) validate() error {
	switch s.From {
	case StageAwaitIdentifier, StageAwaitOrderSelection, StageAwaitItemSelection, StageAwaitReason,
		StageAwaitEvidence, StageAwaitResolutionChoice, StageAwaitSatisfaction:
		return nil
	}
	return fmt.Errorf("%w: exited from unknown stage %q", ErrInvalidState, s.From)
}

// Validate reports whether s carries every field its stage requires.
func Validate(s State) error {
	if s == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidState)
	}
	return s.validate()
}

// IsTerminal reports whether stage ends the conversation.
func IsTerminal(stage Stage) bool {
	switch stage {
	case StageResolved, StageEscalated, StageExited:
		return true
	}
	return false
}

// SessionStatus maps a stage to the persisted session status. Slot filling
// is active; waiting for the customer to confirm an executed outcome is
// waiting_on_user.
func SessionStatus(stage Stage) string {
	switch stage {
	case StageAwaitSatisfaction:
		return domain.SessionWaitingOnUser
	case StageResolved:
		return domain.SessionResolved
	case StageEscalated:
		return domain.SessionEscalated
	case StageExited:
		return domain.SessionExited
	default:
		return domain.SessionActive
	}
}

// OutcomeOf returns the executed outcome carried by s, if any.
func OutcomeOf(s State) *Outcome {
	switch v := s.(type) {
	case AwaitSatisfaction:
		o := v.Outcome
		return &o
	case Resolved:
		return v.Outcome
	case Escalated:
		return v.Outcome
	}
	return nil
}

type field struct {
	name, value string
}

func required(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidState, strings.Join(missing, ", "))
	}
	return nil
}
