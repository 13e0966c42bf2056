// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for evidence
// uploads and their validation outcomes.
//
// Validation outcomes are unique per (evidence, order, item). A second
// insert for the same triple fails with ErrDuplicate; outcomes are never
// overwritten.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// CreateEvidence inserts an evidence record.
func CreateEvidence(ctx context.Context, db *gorm.DB, rec *domain.EvidenceRecord) error {
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetEvidence fetches an evidence record by id, or ErrNotFound.
func GetEvidence(ctx context.Context, db *gorm.DB, evidenceID string) (*domain.EvidenceRecord, error) {
	var rec domain.EvidenceRecord
	if err := db.WithContext(ctx).Where("evidence_id = ?", evidenceID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListEvidenceByCase returns the uploads for a case, newest first.
func ListEvidenceByCase(ctx context.Context, db *gorm.DB, caseID string, limit int) ([]domain.EvidenceRecord, error) {
	q := db.WithContext(ctx).Where("case_id = ?", caseID).Order("uploaded_at DESC, evidence_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.EvidenceRecord
	err := q.Find(&out).Error
	return out, err
}

// InsertValidation stores a validation outcome. It returns ErrDuplicate when
// the triple already has one.
func InsertValidation(ctx context.Context, db *gorm.DB, v *domain.EvidenceValidation) error {
	res := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(v)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetValidation fetches the outcome for a triple, or ErrNotFound.
func GetValidation(ctx context.Context, db *gorm.DB, evidenceID, orderID, itemID string) (*domain.EvidenceValidation, error) {
	var v domain.EvidenceValidation
	err := db.WithContext(ctx).
		Where("evidence_id = ? AND order_id = ? AND item_id = ?", evidenceID, orderID, itemID).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListValidations returns all outcomes recorded for an evidence record.
func ListValidations(ctx context.Context, db *gorm.DB, evidenceID string) ([]domain.EvidenceValidation, error) {
	var out []domain.EvidenceValidation
	err := db.WithContext(ctx).
		Where("evidence_id = ?", evidenceID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}
