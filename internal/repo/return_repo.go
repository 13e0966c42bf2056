// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the idempotent write path shared by
// returns, labels and escalations, and the repository functions for the
// ReturnRequest model.
//
// Idempotent inserts are a single INSERT … ON CONFLICT DO NOTHING. When no
// row was inserted, the stored row is read back and compared with the
// request: an identical payload is a replay (the stored row is returned), a
// different payload is ErrKeyConflict. Concurrent callers with the same key
// therefore race on the unique index, never on an application-level check.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// ErrKeyConflict indicates that an idempotency key is already bound to a
// request with a different payload.
var ErrKeyConflict = errors.New("idempotency key bound to a different request")

// insertOrLoad inserts row unless a conflicting row exists. On conflict it
// loads the stored row matching query/args into stored and reports
// created=false.
func insertOrLoad[T any](ctx context.Context, db *gorm.DB, row *T, stored *T, query string, args ...any) (bool, error) {
	res := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)
	if res.Error != nil {
		if !isUniqueViolation(res.Error) {
			return false, res.Error
		}
	} else if res.RowsAffected == 1 {
		*stored = *row
		return true, nil
	}
	if err := db.WithContext(ctx).Where(query, args...).First(stored).Error; err != nil {
		return false, err
	}
	return false, nil
}

// InsertReturn creates rec or, when its idempotency key already exists,
// returns the stored RMA. created reports whether a new row was written. A
// stored row with a different order, item or method yields ErrKeyConflict
// together with the stored row.
func InsertReturn(ctx context.Context, db *gorm.DB, rec *domain.ReturnRequest) (*domain.ReturnRequest, bool, error) {
	var stored domain.ReturnRequest
	created, err := insertOrLoad(ctx, db, rec, &stored, "idempotency_key = ?", rec.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if created {
		return &stored, true, nil
	}
	if stored.OrderID != rec.OrderID || stored.ItemID != rec.ItemID || stored.Method != rec.Method {
		return &stored, false, ErrKeyConflict
	}
	return &stored, false, nil
}

// GetReturn fetches an RMA by id, or ErrNotFound.
func GetReturn(ctx context.Context, db *gorm.DB, rmaID string) (*domain.ReturnRequest, error) {
	var r domain.ReturnRequest
	if err := db.WithContext(ctx).Where("rma_id = ?", rmaID).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReturnByKey fetches an RMA by idempotency key, or ErrNotFound.
func GetReturnByKey(ctx context.Context, db *gorm.DB, key string) (*domain.ReturnRequest, error) {
	var r domain.ReturnRequest
	if err := db.WithContext(ctx).Where("idempotency_key = ?", key).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReturnsForOrder returns the RMAs for an order, oldest first.
func ListReturnsForOrder(ctx context.Context, db *gorm.DB, orderID string) ([]domain.ReturnRequest, error) {
	var out []domain.ReturnRequest
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, rma_id ASC").
		Find(&out).Error
	return out, err
}

// IdempotencyKeyUsed reports whether key is bound to a return or an
// escalation.
func IdempotencyKeyUsed(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.ReturnRequest{}).Where("idempotency_key = ?", key).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if err := db.WithContext(ctx).Model(&domain.Escalation{}).Where("idempotency_key = ?", key).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
