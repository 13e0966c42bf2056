// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file seeds the demo orders used by local runs and the
// scripted scenarios.
package repo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-agent/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DemoOrders returns the fixed demo data set.
func DemoOrders() []domain.Order {
	d1001 := day(2025, 12, 5)
	d1002 := day(2025, 11, 14)
	return []domain.Order{
		{
			OrderID:            "ORD-1001",
			MerchantID:         "M-001",
			CustomerEmail:      "alice@example.com",
			CustomerPhoneLast4: "1234",
			ItemID:             "ITEM-1",
			ItemCategory:       "electronics",
			OrderDate:          day(2025, 12, 1),
			DeliveryDate:       &d1001,
			ItemPrice:          decimal.RequireFromString("120.00"),
			ShippingFee:        decimal.RequireFromString("10.00"),
			Status:             domain.OrderDelivered,
		},
		{
			OrderID:            "ORD-1002",
			MerchantID:         "M-001",
			CustomerEmail:      "bob@example.com",
			CustomerPhoneLast4: "5678",
			ItemID:             "ITEM-2",
			ItemCategory:       "fashion",
			OrderDate:          day(2025, 11, 10),
			DeliveryDate:       &d1002,
			ItemPrice:          decimal.RequireFromString("55.00"),
			ShippingFee:        decimal.RequireFromString("5.00"),
			Status:             domain.OrderDelivered,
		},
		{
			OrderID:            "ORD-1003",
			MerchantID:         "M-001",
			CustomerEmail:      "alice@example.com",
			CustomerPhoneLast4: "1234",
			ItemID:             "ITEM-3",
			ItemCategory:       "home",
			OrderDate:          day(2025, 12, 10),
			ItemPrice:          decimal.RequireFromString("35.50"),
			ShippingFee:        decimal.RequireFromString("4.50"),
			Status:             domain.OrderProcessing,
		},
	}
}

// SeedDemoData inserts the demo orders that are not present yet. Running it
// twice is a no-op. It returns the number of rows inserted.
func SeedDemoData(ctx context.Context, db *gorm.DB) (int64, error) {
	return UpsertOrders(ctx, db, DemoOrders())
}
