package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	OrderID   string
	TableID   string
	SessionID string
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusCooking   OrderStatus = "cooking"
	StatusServed    OrderStatus = "served"
	StatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCooking, StatusServed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is defined from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusServed || s == StatusCancelled
}

// CanTransitionTo covers the transitions staff can request. Kitchen-side
// moves such as accepted -> cooking arrive through events only.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAccepted || next == StatusCancelled
	case StatusAccepted, StatusCooking:
		return next == StatusServed
	}
	return false
}

type OrderItem struct {
	MenuItemID   string
	VariantID    string
	Name         string
	VariantLabel string
	Quantity     int
	Price        decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID          OrderID
	TableID     TableID
	TableNumber string
	SessionID   SessionID
	Status      OrderStatus
	CreatedAt   time.Time
	Items       []OrderItem
}

func (o Order) Active() bool { return !o.Status.Terminal() }

func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (o Order) ItemCount() int {
	var n int
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

func (o Order) Age(now time.Time) time.Duration {
	if o.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(o.CreatedAt)
}

// Clone returns a copy that shares no slice backing with o.
func (o Order) Clone() Order {
	if o.Items != nil {
		items := make([]OrderItem, len(o.Items))
		copy(items, o.Items)
		o.Items = items
	}
	return o
}
