package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-support-agent/internal/domain"
)

func newEvidence(id, caseID string, at time.Time) *domain.EvidenceRecord {
	return &domain.EvidenceRecord{
		EvidenceID:  id,
		SessionID:   "SES-E",
		CaseID:      caseID,
		FileName:    "broken_screen.jpg",
		MimeType:    "image/jpeg",
		SizeBytes:   20000,
		StoragePath: "/tmp/" + id,
		UploadedAt:  at,
	}
}

func TestEvidence_CreateListGet(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	base := time.Now().UTC()

	if err := CreateEvidence(ctx, db, newEvidence("EVD-1", "CASE-E", base)); err != nil {
		t.Fatalf("CreateEvidence: %v", err)
	}
	if err := CreateEvidence(ctx, db, newEvidence("EVD-2", "CASE-E", base.Add(time.Second))); err != nil {
		t.Fatalf("CreateEvidence: %v", err)
	}
	if err := CreateEvidence(ctx, db, newEvidence("EVD-1", "CASE-E", base)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate evidence id: %v", err)
	}

	list, err := ListEvidenceByCase(ctx, db, "CASE-E", 0)
	if err != nil || len(list) != 2 || list[0].EvidenceID != "EVD-2" {
		t.Fatalf("ListEvidenceByCase = %+v, %v", list, err)
	}
	if list, _ := ListEvidenceByCase(ctx, db, "CASE-E", 1); len(list) != 1 {
		t.Fatalf("limit ignored: %d rows", len(list))
	}
	if got, err := GetEvidence(ctx, db, "EVD-1"); err != nil || got.FileName != "broken_screen.jpg" {
		t.Fatalf("GetEvidence = %+v, %v", got, err)
	}
	if _, err := GetEvidence(ctx, db, "EVD-NONE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing evidence: %v", err)
	}
}

func TestInsertValidation_UniquePerTriple(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	if err := CreateEvidence(ctx, db, newEvidence("EVD-V", "CASE-V", time.Now().UTC())); err != nil {
		t.Fatalf("CreateEvidence: %v", err)
	}

	mk := func(orderID string, passed bool) *domain.EvidenceValidation {
		return &domain.EvidenceValidation{
			EvidenceID:  "EVD-V",
			OrderID:     orderID,
			ItemID:      "ITEM-1",
			Passed:      passed,
			Confidence:  decimal.RequireFromString("0.650"),
			Reasons:     domain.JSON(`["Image MIME type accepted"]`),
			Approach:    "B",
			ValidatedAt: time.Now().UTC(),
		}
	}

	if err := InsertValidation(ctx, db, mk("ORD-1001", true)); err != nil {
		t.Fatalf("InsertValidation: %v", err)
	}
	if err := InsertValidation(ctx, db, mk("ORD-1001", false)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second validation of triple: %v; want ErrDuplicate", err)
	}
	if err := InsertValidation(ctx, db, mk("ORD-1002", false)); err != nil {
		t.Fatalf("other order is a different triple: %v", err)
	}

	got, err := GetValidation(ctx, db, "EVD-V", "ORD-1001", "ITEM-1")
	if err != nil || !got.Passed || !got.Confidence.Equal(decimal.RequireFromString("0.65")) {
		t.Fatalf("GetValidation = %+v, %v", got, err)
	}
	if _, err := GetValidation(ctx, db, "EVD-V", "ORD-1003", "ITEM-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing triple: %v", err)
	}
	all, err := ListValidations(ctx, db, "EVD-V")
	if err != nil || len(all) != 2 || all[0].OrderID != "ORD-1001" {
		t.Fatalf("ListValidations = %+v, %v", all, err)
	}

	orphan := mk("ORD-1001", true)
	orphan.EvidenceID = "EVD-MISSING"
	if err := InsertValidation(ctx, db, orphan); err == nil {
		t.Fatalf("validation without evidence should fail the foreign key")
	}
}

func TestToolCalls_InsertListStats(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	msg := "order not found"
	rows := []*domain.ToolCallLog{
		{ToolName: "list_orders", RequestPayload: domain.JSON(`{"identifier":"1234"}`), ResponsePayload: domain.JSON(`[]`), LatencyMS: 3},
		{ToolName: "create_return", RequestPayload: domain.JSON(`{"order_id":"ORD-9"}`), ErrorMessage: &msg, LatencyMS: 1},
		{ToolName: "list_orders", RequestPayload: domain.JSON(`{"identifier":"5678"}`), ResponsePayload: domain.JSON(`[]`), LatencyMS: 2},
	}
	for _, r := range rows {
		if err := InsertToolCall(ctx, db, r); err != nil {
			t.Fatalf("InsertToolCall: %v", err)
		}
		if r.CreatedAt.IsZero() || r.ID == 0 {
			t.Fatalf("row not populated: %+v", r)
		}
	}

	list, err := ListToolCalls(ctx, db, "list_orders", 0)
	if err != nil || len(list) != 2 || list[0].ID != rows[2].ID {
		t.Fatalf("ListToolCalls = %+v, %v", list, err)
	}
	all, _ := ListToolCalls(ctx, db, "", 1)
	if len(all) != 1 {
		t.Fatalf("limit ignored: %d", len(all))
	}
	failed, _ := ListToolCalls(ctx, db, "create_return", 0)
	if len(failed) != 1 || failed[0].ErrorMessage == nil || *failed[0].ErrorMessage != msg || failed[0].ResponsePayload != nil {
		t.Fatalf("failed call not recorded: %+v", failed)
	}

	stats, err := ToolCallStats(ctx, db)
	if err != nil || stats["list_orders"] != 2 || stats["create_return"] != 1 {
		t.Fatalf("ToolCallStats = %v, %v", stats, err)
	}
}
