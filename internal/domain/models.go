// Package domain defines the persistence models for orders, return
// authorizations, shipping labels, and escalations. These types are mapped
// with GORM and form the core data layer of the support agent.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderPlaced     = "placed"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

// Return methods accepted by the returns table.
const (
	MethodRefund      = "refund"
	MethodReturn      = "return"
	MethodReplacement = "replacement"
	MethodCancel      = "cancel"
)

// Order is the authoritative record of a customer purchase. It is owned by
// the store and only changes status through tool operations once delivered.
//
// Fields:
//   - OrderID: external order identifier (e.g. "ORD-1001").
//   - MerchantID: selling merchant.
//   - CustomerEmail / CustomerPhoneLast4: identifiers the customer can give
//     to look the order up; both indexed.
//   - ItemID / ItemCategory: the purchased item and its policy category.
//   - OrderDate / DeliveryDate: calendar dates; DeliveryDate is nil until
//     the order is delivered.
//   - ItemPrice / ShippingFee: money amounts with two decimal places.
//   - Status: one of the Order* constants.
type Order struct {
	OrderID            string          `json:"order_id"             gorm:"column:order_id;type:varchar(32);primaryKey"`
	MerchantID         string          `json:"merchant_id"          gorm:"column:merchant_id;type:varchar(32);not null;index"`
	CustomerEmail      string          `json:"customer_email"       gorm:"column:customer_email;type:varchar(255);not null;index:idx_orders_email"`
	CustomerPhoneLast4 string          `json:"customer_phone_last4" gorm:"column:customer_phone_last4;type:varchar(4);not null;index:idx_orders_phone"`
	ItemID             string          `json:"item_id"              gorm:"column:item_id;type:varchar(32);not null"`
	ItemCategory       string          `json:"item_category"        gorm:"column:item_category;type:varchar(32);not null"`
	OrderDate          time.Time       `json:"order_date"           gorm:"column:order_date;type:date;not null"`
	DeliveryDate       *time.Time      `json:"delivery_date"        gorm:"column:delivery_date;type:date"`
	ItemPrice          decimal.Decimal `json:"item_price"           gorm:"column:item_price;type:numeric(10,2);not null"`
	ShippingFee        decimal.Decimal `json:"shipping_fee"         gorm:"column:shipping_fee;type:numeric(10,2);not null"`
	Status             string          `json:"status"               gorm:"column:status;type:varchar(16);not null;index"`

	// Returns are the RMAs raised against this order.
	Returns []ReturnRequest `json:"-" gorm:"foreignKey:OrderID;references:OrderID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// Delivered reports whether the order has a delivery date and delivered status.
func (o Order) Delivered() bool {
	return o.Status == OrderDelivered && o.DeliveryDate != nil
}

// ReturnRequest is a return merchandise authorization (RMA). The
// idempotency key binds one logical customer intent to exactly one row;
// rows are never updated after creation.
type ReturnRequest struct {
	RMAID          string    `json:"rma_id"          gorm:"column:rma_id;type:varchar(32);primaryKey"`
	IdempotencyKey string    `json:"idempotency_key" gorm:"column:idempotency_key;type:varchar(200);not null;uniqueIndex:ux_returns_idempotency_key"`
	OrderID        string    `json:"order_id"        gorm:"column:order_id;type:varchar(32);not null;index"`
	ItemID         string    `json:"item_id"         gorm:"column:item_id;type:varchar(32);not null"`
	Method         string    `json:"method"          gorm:"column:method;type:varchar(16);not null;check:method IN ('refund','return','replacement','cancel')"`
	CreatedAt      time.Time `json:"created_at"      gorm:"column:created_at;not null"`

	// Label is the shipping label issued for this RMA, if any.
	Label *Label `json:"-" gorm:"foreignKey:RMAID;references:RMAID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for ReturnRequest.
func (ReturnRequest) TableName() string { return "returns" }

// Label is the shipping label for an RMA. There is at most one label per
// RMA and a label cannot exist without its RMA.
type Label struct {
	LabelID   string    `json:"label_id"   gorm:"column:label_id;type:varchar(32);primaryKey"`
	RMAID     string    `json:"rma_id"     gorm:"column:rma_id;type:varchar(32);not null;uniqueIndex:ux_labels_rma_id"`
	LabelURL  string    `json:"label_url"  gorm:"column:label_url;type:varchar(512);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null"`
}

// TableName returns the database table name for Label.
func (Label) TableName() string { return "labels" }

// Escalation is a hand-off ticket to a human agent. It references a case
// (a conversation), carries a reason and a structured evidence blob, and is
// terminal once created.
type Escalation struct {
	TicketID       string    `json:"ticket_id"       gorm:"column:ticket_id;type:varchar(32);primaryKey"`
	IdempotencyKey string    `json:"idempotency_key" gorm:"column:idempotency_key;type:varchar(200);not null;uniqueIndex:ux_escalations_idempotency_key"`
	CaseID         string    `json:"case_id"         gorm:"column:case_id;type:varchar(32);not null;index"`
	Reason         string    `json:"reason"          gorm:"column:reason;type:varchar(64);not null"`
	Evidence       JSON      `json:"evidence"        gorm:"column:evidence"`
	CreatedAt      time.Time `json:"created_at"      gorm:"column:created_at;not null"`
}

// TableName returns the database table name for Escalation.
func (Escalation) TableName() string { return "escalations" }
