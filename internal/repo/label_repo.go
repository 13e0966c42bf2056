// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Label
// model.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// InsertLabel creates the label for an RMA or returns the existing one; there
// is at most one label per RMA. created reports whether a row was written.
// The foreign key to returns rejects labels for unknown RMAs.
func InsertLabel(ctx context.Context, db *gorm.DB, l *domain.Label) (*domain.Label, bool, error) {
	var stored domain.Label
	created, err := insertOrLoad(ctx, db, l, &stored, "rma_id = ?", l.RMAID)
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

// GetLabelByRMA fetches the label for an RMA, or ErrNotFound.
func GetLabelByRMA(ctx context.Context, db *gorm.DB, rmaID string) (*domain.Label, error) {
	var l domain.Label
	if err := db.WithContext(ctx).Where("rma_id = ?", rmaID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}
