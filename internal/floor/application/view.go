package application

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

type StreamState string

const (
	StreamConnecting   StreamState = "connecting"
	StreamConnected    StreamState = "connected"
	StreamDisconnected StreamState = "disconnected"
)

type StreamStatus struct {
	State  StreamState
	Reason string
	Since  time.Time
}

// Err is non-nil while the push channel is down.
func (s StreamStatus) Err() error {
	if s.State != StreamDisconnected {
		return nil
	}
	if s.Reason == "" {
		return domain.ErrStreamDisconnected
	}
	return fmt.Errorf("%w: %s", domain.ErrStreamDisconnected, s.Reason)
}

type SliceStatus struct {
	LastAttempt time.Time
	LastSuccess time.Time
	LastError   string
}

func (s SliceStatus) Stale() bool { return s.LastError != "" }

// View is an immutable copy of the reconciled state. Orders holds only orders
// attached to a known table; quarantined orphans are counted, never listed.
type View struct {
	Tables  map[domain.TableID]domain.Table
	Orders  map[domain.OrderID]domain.Order
	Calls   map[domain.CallID]domain.ServiceCall
	Sales   decimal.Decimal
	Orphans int

	Stream    StreamStatus
	Slices    map[Slice]SliceStatus
	Version   uint64
	UpdatedAt time.Time
}

func emptyView() *View {
	return &View{
		Tables: map[domain.TableID]domain.Table{},
		Orders: map[domain.OrderID]domain.Order{},
		Calls:  map[domain.CallID]domain.ServiceCall{},
		Sales:  decimal.Zero,
		Slices: map[Slice]SliceStatus{},
		Stream: StreamStatus{State: StreamDisconnected, Reason: "not started"},
	}
}

func (v *View) Table(id domain.TableID) (domain.Table, bool) {
	t, ok := v.Tables[id]
	return t, ok
}

// TableOrders lists the orders attached to a table, oldest first.
func (v *View) TableOrders(id domain.TableID) []domain.Order {
	var out []domain.Order
	for _, o := range v.Orders {
		if o.TableID == id {
			out = append(out, o)
		}
	}
	sortOrdersByAge(out)
	return out
}
