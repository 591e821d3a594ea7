package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillStatus string

const (
	BillOpen      BillStatus = "open"
	BillRequested BillStatus = "bill_requested"
	BillPrinted   BillStatus = "bill_printed"
	BillPaid      BillStatus = "paid"
)

func (b BillStatus) Valid() bool {
	switch b {
	case BillOpen, BillRequested, BillPrinted, BillPaid:
		return true
	}
	return false
}

// Table is a provisioned floor table. Occupied, SessionID, Total, ItemCount
// and SeatedAt are derived from the orders referencing the table and are
// never taken from a backend read.
type Table struct {
	ID         TableID
	Code       string
	Enabled    bool
	BillStatus BillStatus

	Occupied  bool
	SessionID SessionID
	Total     decimal.Decimal
	ItemCount int
	SeatedAt  time.Time
}

func (t Table) SeatedFor(now time.Time) time.Duration {
	if !t.Occupied || t.SeatedAt.IsZero() {
		return 0
	}
	return now.Sub(t.SeatedAt)
}

// WithoutDerived drops every order-derived field.
func (t Table) WithoutDerived() Table {
	t.Occupied = false
	t.SessionID = ""
	t.Total = decimal.Zero
	t.ItemCount = 0
	t.SeatedAt = time.Time{}
	return t
}
