package conversation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-support-agent/internal/policy"
)

// Control types understood by the guided UI.
const (
	ControlButtons = "buttons"
	ControlSelect  = "select"
	ControlUpload  = "upload"
	ControlText    = "text"
)

// Input fields a control can fill.
const (
	FieldIdentifier   = "identifier"
	FieldOrderID      = "order_id"
	FieldItemIDs      = "item_ids"
	FieldReason       = "reason"
	FieldEvidence     = "evidence"
	FieldChoice       = "choice"
	FieldSatisfaction = "satisfaction"
)

// Option is one selectable value of a control.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Control is a guided input affordance.
type Control struct {
	Type    string   `json:"type"`
	Field   string   `json:"field"`
	Label   string   `json:"label"`
	Options []Option `json:"options,omitempty"`
}

// Directive is the agent's response for one turn: a fixed template message
// plus the controls for the next expected slot.
type Directive struct {
	Message   string    `json:"message"`
	Stage     Stage     `json:"stage"`
	Expects   string    `json:"expects,omitempty"`
	Status    string    `json:"status"`
	Controls  []Control `json:"controls"`
	Mode      string    `json:"mode"`
	CaseID    string    `json:"case_id"`
	SessionID string    `json:"session_id"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
	Refused   bool      `json:"refused,omitempty"`
}

// Message templates.
const (
	msgGreeting         = "Hi, I can help with refund, return, replacement, missing or wrong item, late delivery, or cancellation. Please share your order ID, email, or phone last 4."
	msgNoOrders         = "I couldn't find orders for that identifier. Try another one."
	msgSelectOrder      = "Select your order."
	msgOrderUnavailable = "That order isn't available for this identifier."
	msgSelectItem       = "Select the item for this request."
	msgOneItem          = "Please select one item per request."
	msgItemUnavailable  = "That item isn't part of the selected order."
	msgSelectReason     = "Select the reason for your request."
	msgUnknownReason    = "Please choose one of the listed reasons."
	msgUploadEvidence   = "Please upload a photo of the item or packaging to continue."
	msgEvidenceUnusable = "That upload can't be used for this case."
	msgEligible         = "Here are the options available for your request. Choose how you'd like to proceed."
	msgLadder           = "Your requested resolution isn't available under the return policy. Here are the alternatives."
	msgChooseOffered    = "Please choose one of the offered options."
	msgNoLongerEligible = "That option is no longer available under the current policy."
	msgAskSatisfied     = "Are you satisfied with this resolution?"
	msgResolved         = "Great. Your case is now closed. You can start a new chat anytime."
	msgExited           = "Chat ended. You can restart anytime if you need further help."
	msgClosed           = "This case is closed. Start a new chat if you need more help."
)

var satisfactionControl = Control{
	Type:  ControlButtons,
	Field: FieldSatisfaction,
	Label: msgAskSatisfied,
	Options: []Option{
		{Label: "Yes, end chat", Value: "yes"},
		{Label: "No, continue", Value: "no"},
	},
}

// Render builds the directive that asks for the next expected slot of s.
// It reads the store (order and item lists) but never the chat history, so
// resuming a session renders the same prompt as the turn that saved it.
func (m *Machine) Render(ctx context.Context, ids IDs, snap Snapshot) (Directive, error) {
	d := Directive{
		Stage:     snap.State.Stage(),
		Status:    SessionStatus(snap.State.Stage()),
		Controls:  []Control{},
		Mode:      m.mode(),
		CaseID:    ids.CaseID,
		SessionID: ids.SessionID,
		Outcome:   OutcomeOf(snap.State),
	}

	switch s := snap.State.(type) {
	case AwaitIdentifier:
		d.Message = msgGreeting
		d.Expects = FieldIdentifier
		d.Controls = append(d.Controls, Control{Type: ControlText, Field: FieldIdentifier, Label: "Order ID / email / phone last 4"})

	case AwaitOrderSelection:
		orders, err := m.Tools.ListOrders(ctx, s.Identifier)
		if err != nil {
			return Directive{}, err
		}
		d.Message = msgSelectOrder
		d.Expects = FieldOrderID
		d.Controls = append(d.Controls, Control{Type: ControlSelect, Field: FieldOrderID, Label: "Select order", Options: orders})

	case AwaitItemSelection:
		items, err := m.Tools.ListOrderItems(ctx, s.OrderID)
		if err != nil {
			return Directive{}, err
		}
		d.Message = msgSelectItem
		d.Expects = FieldItemIDs
		d.Controls = append(d.Controls, Control{Type: ControlSelect, Field: FieldItemIDs, Label: "Select item", Options: items})

	case AwaitReason:
		d.Message = msgSelectReason
		d.Expects = FieldReason
		d.Controls = append(d.Controls, Control{Type: ControlButtons, Field: FieldReason, Label: "Reason", Options: m.reasonOptions()})

	case AwaitEvidence:
		d.Message = msgUploadEvidence
		d.Expects = FieldEvidence
		d.Controls = append(d.Controls, Control{Type: ControlUpload, Field: FieldEvidence, Label: "Upload a photo"})

	case AwaitResolutionChoice:
		d.Message = msgEligible
		if s.Requested != "" && (len(s.Offered) == 0 || s.Offered[0] != s.Requested) {
			d.Message = msgLadder
		}
		d.Expects = FieldChoice
		d.Controls = append(d.Controls, Control{Type: ControlButtons, Field: FieldChoice, Label: "Resolution", Options: actionOptions(s.Offered)})

	case AwaitSatisfaction:
		d.Message = describeOutcome(s.Outcome) + " " + msgAskSatisfied
		d.Expects = FieldSatisfaction
		d.Controls = append(d.Controls, satisfactionControl)

	case Resolved:
		d.Message = msgResolved

	case Escalated:
		d.Message = fmt.Sprintf("Your case has been escalated to a specialist. Ticket: %s. A specialist will follow up.", s.TicketID)

	case Exited:
		d.Message = msgExited

	default:
		return Directive{}, fmt.Errorf("%w: unhandled stage %T", ErrInvalidState, snap.State)
	}
	return d, nil
}

func describeOutcome(o Outcome) string {
	switch o.Action {
	case policy.ActionRefund, policy.ActionReturn:
		return fmt.Sprintf("Your %s has been initiated. RMA: %s. Label: %s.", o.Action, o.RMAID, o.LabelURL)
	case policy.ActionReplacement:
		return fmt.Sprintf("Replacement has been initiated. RMA: %s. Label: %s. You'll receive shipment details shortly.", o.RMAID, o.LabelURL)
	case policy.ActionCancel:
		return fmt.Sprintf("Order cancellation approved because the item has not shipped yet. RMA: %s.", o.RMAID)
	case policy.ActionStoreCredit:
		amount := "0.00"
		if o.CreditAmount != nil {
			amount = o.CreditAmount.StringFixed(2)
		}
		return fmt.Sprintf("Store credit of %s will be applied within 24 hours.", amount)
	}
	return "Your request has been processed."
}

func (m *Machine) reasonOptions() []Option {
	tbl := m.Policy.Engine().Table()
	title := cases.Title(language.English)
	out := make([]Option, 0, len(tbl.Reasons))
	for _, r := range tbl.ReasonNames() {
		out = append(out, Option{Label: title.String(strings.ReplaceAll(string(r), "_", " ")), Value: string(r)})
	}
	return out
}

func actionOptions(actions []policy.Action) []Option {
	title := cases.Title(language.English)
	out := make([]Option, 0, len(actions))
	for _, a := range actions {
		label := title.String(strings.ReplaceAll(string(a), "_", " "))
		if a == policy.ActionEscalate {
			label = "Escalate to human"
		}
		out = append(out, Option{Label: label, Value: string(a)})
	}
	return out
}
