package application

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

// SnapshotSource is the request/response side of the backend, read half.
type SnapshotSource interface {
	ListTables(ctx context.Context) ([]domain.Table, error)
	ListActiveOrders(ctx context.Context) ([]domain.Order, error)
	ListOpenServiceCalls(ctx context.Context) ([]domain.ServiceCall, error)
	TodaySales(ctx context.Context) (decimal.Decimal, error)
}

// CommandGateway is the write half. Implementations return errors matching
// domain.ErrInvalidTransition for backend rejections and
// domain.ErrTransientNetwork for everything retryable.
type CommandGateway interface {
	UpdateOrderStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error
	UpdateServiceCallStatus(ctx context.Context, id domain.CallID, status domain.CallStatus) error
	MoveTable(ctx context.Context, session domain.SessionID, target domain.TableID) error
}

// EventSink receives decoded push events and connection status changes.
type EventSink interface {
	ApplyEvent(ctx context.Context, ev domain.Event) error
	SetStreamStatus(ctx context.Context, status StreamStatus) error
}

// StateSink is every way into the reconciled state.
type StateSink interface {
	EventSink
	ApplySnapshot(ctx context.Context, snap Snapshot) error
}

type ViewSource interface {
	View() *View
}

// CommandGuard rejects a command key already seen within its window.
// Release frees a key whose command never reached the backend.
type CommandGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
