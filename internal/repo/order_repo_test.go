package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-support-agent/internal/domain"
)

func TestClassifyIdentifier(t *testing.T) {
	cases := map[string]IdentifierKind{
		"ORD-1001":          IdentifierOrderID,
		" ord-1002 ":        IdentifierOrderID,
		"alice@example.com": IdentifierEmail,
		"1234":              IdentifierPhone,
	}
	for in, want := range cases {
		if got := ClassifyIdentifier(in); got != want {
			t.Fatalf("ClassifyIdentifier(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestFindOrders_Routing(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()

	got, err := FindOrders(ctx, db, "ord-1001", 0)
	if err != nil || len(got) != 1 || got[0].OrderID != "ORD-1001" {
		t.Fatalf("by order id = %+v, %v", got, err)
	}

	got, err = FindOrders(ctx, db, "ALICE@Example.com", 0)
	if err != nil || len(got) != 2 {
		t.Fatalf("by email = %+v, %v", got, err)
	}
	if got[0].OrderID != "ORD-1003" || got[1].OrderID != "ORD-1001" {
		t.Fatalf("expected newest first, got %s, %s", got[0].OrderID, got[1].OrderID)
	}

	got, err = FindOrders(ctx, db, "5678", 0)
	if err != nil || len(got) != 1 || got[0].OrderID != "ORD-1002" {
		t.Fatalf("by phone = %+v, %v", got, err)
	}

	got, err = FindOrders(ctx, db, "1234", 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("limit 1 = %+v, %v", got, err)
	}

	got, err = FindOrders(ctx, db, "nobody@example.com", 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("unknown email = %+v, %v", got, err)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()

	if err := UpdateOrderStatus(ctx, db, "ORD-1003", domain.OrderProcessing, domain.OrderCancelled); err != nil {
		t.Fatalf("processing -> cancelled: %v", err)
	}
	o, err := GetOrder(ctx, db, "ORD-1003")
	if err != nil || o.Status != domain.OrderCancelled {
		t.Fatalf("GetOrder = %+v, %v", o, err)
	}
	if err := UpdateOrderStatus(ctx, db, "ORD-1003", domain.OrderProcessing, domain.OrderCancelled); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("second transition: %v; want ErrStaleStatus", err)
	}
	if err := UpdateOrderStatus(ctx, db, "ORD-NONE", domain.OrderProcessing, domain.OrderCancelled); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown order: %v; want ErrNotFound", err)
	}
}

func TestCreateOrder_Duplicate(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	delivered := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	o := &domain.Order{
		OrderID:            "ORD-9001",
		MerchantID:         "M-002",
		CustomerEmail:      "carol@example.com",
		CustomerPhoneLast4: "4321",
		ItemID:             "ITEM-9",
		ItemCategory:       "books",
		OrderDate:          delivered.AddDate(0, 0, -3),
		DeliveryDate:       &delivered,
		ItemPrice:          decimal.RequireFromString("12.99"),
		ShippingFee:        decimal.RequireFromString("3.00"),
		Status:             domain.OrderDelivered,
	}
	if err := CreateOrder(ctx, db, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	dup := *o
	if err := CreateOrder(ctx, db, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate: %v; want ErrDuplicate", err)
	}

	got, err := GetOrder(ctx, db, "ORD-9001")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if !got.ItemPrice.Equal(decimal.RequireFromString("12.99")) || !got.Delivered() {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestSeedDemoData_Idempotent(t *testing.T) {
	db := newTestDB(t, false)
	ctx := context.Background()
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	n, err := SeedDemoData(ctx, db)
	if err != nil || n != 3 {
		t.Fatalf("first seed = %d, %v; want 3", n, err)
	}
	n, err = SeedDemoData(ctx, db)
	if err != nil || n != 0 {
		t.Fatalf("second seed = %d, %v; want 0", n, err)
	}
	if n, err := UpsertOrders(ctx, db, nil); err != nil || n != 0 {
		t.Fatalf("empty upsert = %d, %v", n, err)
	}
}
