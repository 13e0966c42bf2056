// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Order
// model.
//
// Orders are owned by the store; the support agent only reads them, except
// for the processing → cancelled transition performed by a cancel RMA and
// the fixture helper used by demos and tests.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation on insert.
var ErrDuplicate = errors.New("duplicate")

// ErrStaleStatus is returned by UpdateOrderStatus when the order is no
// longer in the expected status.
var ErrStaleStatus = errors.New("order status changed")

// DefaultOrderListLimit caps FindOrders results.
const DefaultOrderListLimit = 50

// IdentifierKind classifies a customer identifier.
type IdentifierKind int

const (
	IdentifierOrderID IdentifierKind = iota
	IdentifierEmail
	IdentifierPhone
)

// ClassifyIdentifier routes an identifier: an "ORD-" prefix is an order id,
// anything containing "@" is an email, everything else is a phone last-4.
func ClassifyIdentifier(identifier string) IdentifierKind {
	s := strings.TrimSpace(identifier)
	switch {
	case strings.HasPrefix(strings.ToUpper(s), "ORD-"):
		return IdentifierOrderID
	case strings.Contains(s, "@"):
		return IdentifierEmail
	default:
		return IdentifierPhone
	}
}

// GetOrder fetches an order by id, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, orderID string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// FindOrders returns the orders visible to identifier, newest first. A
// non-positive limit selects DefaultOrderListLimit. Email matching is
// case-insensitive.
func FindOrders(ctx context.Context, db *gorm.DB, identifier string, limit int) ([]domain.Order, error) {
	if limit <= 0 || limit > DefaultOrderListLimit {
		limit = DefaultOrderListLimit
	}
	s := strings.TrimSpace(identifier)
	q := db.WithContext(ctx).Model(&domain.Order{})
	switch ClassifyIdentifier(s) {
	case IdentifierOrderID:
		q = q.Where("order_id = ?", strings.ToUpper(s))
	case IdentifierEmail:
		q = q.Where("LOWER(customer_email) = ?", strings.ToLower(s))
	default:
		q = q.Where("customer_phone_last4 = ?", s)
	}
	var out []domain.Order
	err := q.Order("order_date DESC, order_id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// UpdateOrderStatus moves an order from one status to another. The update is
// conditional on the current status so concurrent transitions cannot both
// succeed. It returns ErrNotFound for unknown orders and ErrStaleStatus when
// the order is no longer in status from.
func UpdateOrderStatus(ctx context.Context, db *gorm.DB, orderID, from, to string) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := GetOrder(ctx, db, orderID); err != nil {
		return err
	}
	return ErrStaleStatus
}

// CreateOrder inserts a new order and returns ErrDuplicate when the id is
// taken.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpsertOrders inserts orders that do not exist yet and leaves existing rows
// untouched. It returns the number of rows inserted.
func UpsertOrders(ctx context.Context, db *gorm.DB, orders []domain.Order) (int64, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(&orders)
	return res.RowsAffected, res.Error
}
