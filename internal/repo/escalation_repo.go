// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Escalation model.
package repo

import (
	"bytes"
	"context"

	"github.com/gowebpki/jcs"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// InsertEscalation creates esc or, when its idempotency key already exists,
// returns the stored ticket. Evidence blobs are compared in RFC 8785
// canonical form, so key order and whitespace do not cause conflicts.
func InsertEscalation(ctx context.Context, db *gorm.DB, esc *domain.Escalation) (*domain.Escalation, bool, error) {
	var stored domain.Escalation
	created, err := insertOrLoad(ctx, db, esc, &stored, "idempotency_key = ?", esc.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if created {
		return &stored, true, nil
	}
	if stored.CaseID != esc.CaseID || stored.Reason != esc.Reason || !sameJSON(stored.Evidence, esc.Evidence) {
		return &stored, false, ErrKeyConflict
	}
	return &stored, false, nil
}

// sameJSON compares two JSON documents canonically. Empty and "null" are
// equivalent.
func sameJSON(a, b domain.JSON) bool {
	ca, errA := canonical(a)
	cb, errB := canonical(b)
	if errA != nil || errB != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca, cb)
}

func canonical(j domain.JSON) ([]byte, error) {
	if len(bytes.TrimSpace(j)) == 0 {
		return []byte("null"), nil
	}
	return jcs.Transform(j)
}

// GetEscalation fetches a ticket by id, or ErrNotFound.
func GetEscalation(ctx context.Context, db *gorm.DB, ticketID string) (*domain.Escalation, error) {
	var e domain.Escalation
	if err := db.WithContext(ctx).Where("ticket_id = ?", ticketID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEscalationsByCase returns the tickets raised for a case, oldest first.
func ListEscalationsByCase(ctx context.Context, db *gorm.DB, caseID string) ([]domain.Escalation, error) {
	var out []domain.Escalation
	err := db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at ASC, ticket_id ASC").
		Find(&out).Error
	return out, err
}
