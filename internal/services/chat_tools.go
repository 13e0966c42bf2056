package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-support-agent/internal/conversation"
	"github.com/tbourn/go-support-agent/internal/policy"
)

// chatTools adapts ToolService to the conversation machine. Every call goes
// through the audited tool methods.
type chatTools struct {
	svc *ToolService
}

var _ conversation.Tools = chatTools{}

func (t chatTools) ListOrders(ctx context.Context, identifier string) ([]conversation.Option, error) {
	orders, err := t.svc.ListOrders(ctx, identifier)
	if err != nil {
		return nil, err
	}
	out := make([]conversation.Option, 0, len(orders))
	for _, o := range orders {
		out = append(out, conversation.Option{
			Label: fmt.Sprintf("%s (%s, %s)", o.OrderID, o.ItemCategory, o.Status),
			Value: o.OrderID,
		})
	}
	return out, nil
}

func (t chatTools) ListOrderItems(ctx context.Context, orderID string) ([]conversation.Option, error) {
	items, err := t.svc.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := make([]conversation.Option, 0, len(items))
	for _, it := range items {
		out = append(out, conversation.Option{
			Label: fmt.Sprintf("%s (%s, %s)", it.ItemID, it.ItemCategory, it.ItemPrice.StringFixed(2)),
			Value: it.ItemID,
		})
	}
	return out, nil
}

func (t chatTools) SelectOrder(ctx context.Context, identifier, orderID string) error {
	_, err := t.svc.SetSelectedOrder(ctx, identifier, orderID)
	return err
}

func (t chatTools) SelectItems(ctx context.Context, orderID string, itemIDs []string) error {
	_, err := t.svc.SetSelectedItems(ctx, orderID, itemIDs)
	return err
}

func (t chatTools) CheckEligibility(ctx context.Context, caseID string, c conversation.Claim, evidenceID string) (policy.Decision, error) {
	res, err := t.svc.CheckEligibility(ctx, EligibilityRequest{
		CaseID:     caseID,
		OrderID:    c.OrderID,
		ItemID:     c.ItemID,
		Reason:     string(c.Reason),
		EvidenceID: evidenceID,
	})
	if err != nil {
		return policy.Decision{}, err
	}
	return res.Decision, nil
}

// ValidateEvidence validates once per triple. A retried turn finds the
// stored outcome instead of a second validation.
func (t chatTools) ValidateEvidence(ctx context.Context, caseID, evidenceID, orderID, itemID string) (bool, error) {
	res, err := t.svc.ValidateEvidence(ctx, ValidateEvidenceRequest{
		CaseID:     caseID,
		EvidenceID: evidenceID,
		OrderID:    orderID,
		ItemID:     itemID,
	})
	if errors.Is(err, ErrEvidenceAlreadyValidated) {
		res, err = t.svc.StoredValidation(ctx, evidenceID, orderID, itemID)
	}
	if err != nil {
		return false, err
	}
	return res.Passed, nil
}

func (t chatTools) CreateReturn(ctx context.Context, key, caseID string, c conversation.Claim, evidenceID string, method policy.Action) (string, error) {
	res, err := t.svc.CreateReturn(ctx, CreateReturnRequest{
		IdempotencyKey: key,
		CaseID:         caseID,
		OrderID:        c.OrderID,
		ItemID:         c.ItemID,
		Method:         string(method),
		Reason:         string(c.Reason),
		EvidenceID:     evidenceID,
	})
	if err != nil {
		return "", err
	}
	return res.RMAID, nil
}

func (t chatTools) GenerateLabel(ctx context.Context, rmaID string) (string, string, error) {
	res, err := t.svc.GenerateLabel(ctx, rmaID)
	if err != nil {
		return "", "", err
	}
	return res.LabelID, res.LabelURL, nil
}

func (t chatTools) IssueStoreCredit(ctx context.Context, caseID string, c conversation.Claim, evidenceID string) (decimal.Decimal, error) {
	res, err := t.svc.IssueStoreCredit(ctx, StoreCreditRequest{
		CaseID:     caseID,
		OrderID:    c.OrderID,
		ItemID:     c.ItemID,
		Reason:     string(c.Reason),
		EvidenceID: evidenceID,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return res.Amount, nil
}

func (t chatTools) CreateEscalation(ctx context.Context, key, caseID, reason string, evidence map[string]any) (string, error) {
	res, err := t.svc.CreateEscalation(ctx, CreateEscalationRequest{
		IdempotencyKey: key,
		CaseID:         caseID,
		Reason:         reason,
		Evidence:       evidence,
	})
	if err != nil {
		return "", err
	}
	return res.TicketID, nil
}

func (t chatTools) CaseStatus(ctx context.Context, caseID string) (conversation.CaseReport, error) {
	cs, err := t.svc.GetCaseStatus(ctx, caseID)
	if err != nil {
		return conversation.CaseReport{}, err
	}
	return conversation.CaseReport{
		Status:   cs.Status,
		ETA:      cs.ETA,
		Tracking: cs.Tracking,
		Pending:  cs.Pending,
	}, nil
}
