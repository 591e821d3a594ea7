package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SnapshotSource reads the four snapshot slices straight from a read replica
// of the backend database. Commands still go through the REST gateway.
type SnapshotSource struct {
	log *slog.Logger
	db  querier
}

func NewSnapshotSource(log *slog.Logger, db querier) *SnapshotSource {
	return &SnapshotSource{log: log, db: db}
}

func (s *SnapshotSource) ListTables(ctx context.Context) ([]domain.Table, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, number::text, enabled, bill_status
		FROM tables WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, transient("list tables", err)
	}
	defer rows.Close()

	var out []domain.Table
	for rows.Next() {
		var t domain.Table
		var bill string
		if err := rows.Scan(&t.ID, &t.Code, &t.Enabled, &bill); err != nil {
			return nil, transient("scan table", err)
		}
		t.BillStatus = domain.BillStatus(bill)
		if !t.BillStatus.Valid() {
			t.BillStatus = domain.BillOpen
		}
		out = append(out, t.WithoutDerived())
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list tables", err)
	}
	return out, nil
}

func (s *SnapshotSource) ListActiveOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx, `SELECT o.id::text, o.table_id::text, COALESCE(t.number::text, ''),
			COALESCE(o.session_id::text, ''), o.status, o.created_at
		FROM orders o LEFT JOIN tables t ON t.id = o.table_id
		WHERE o.status IN ('pending', 'accepted', 'cooking')
		ORDER BY o.created_at, o.id`)
	if err != nil {
		return nil, transient("list orders", err)
	}
	defer rows.Close()

	var orders []domain.Order
	index := map[domain.OrderID]int{}
	for rows.Next() {
		var o domain.Order
		var status string
		if err := rows.Scan(&o.ID, &o.TableID, &o.TableNumber, &o.SessionID, &status, &o.CreatedAt); err != nil {
			return nil, transient("scan order", err)
		}
		o.Status = domain.OrderStatus(status)
		if !o.Status.Valid() {
			s.log.Warn("dropping invalid row", "kind", "order", "order_id", o.ID, "status", status)
			continue
		}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list orders", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, string(o.ID))
	}
	if err := s.attachItems(ctx, ids, orders, index); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *SnapshotSource) attachItems(ctx context.Context, ids []string, orders []domain.Order, index map[domain.OrderID]int) error {
	rows, err := s.db.Query(ctx, `SELECT order_id::text, COALESCE(menu_item_id::text, ''), COALESCE(variant_id::text, ''),
			COALESCE(name, ''), COALESCE(variant_label, ''), quantity, price::text
		FROM order_items WHERE order_id::text = ANY($1) ORDER BY order_id, id`, ids)
	if err != nil {
		return transient("list order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID domain.OrderID
			it      domain.OrderItem
			price   string
		)
		if err := rows.Scan(&orderID, &it.MenuItemID, &it.VariantID, &it.Name, &it.VariantLabel, &it.Quantity, &price); err != nil {
			return transient("scan order item", err)
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			s.log.Warn("dropping invalid row", "kind", "order item", "order_id", orderID, "err", err)
			continue
		}
		i, ok := index[orderID]
		if !ok {
			continue
		}
		orders[i].Items = append(orders[i].Items, it)
	}
	if err := rows.Err(); err != nil {
		return transient("list order items", err)
	}
	return nil
}

func (s *SnapshotSource) ListOpenServiceCalls(ctx context.Context) ([]domain.ServiceCall, error) {
	rows, err := s.db.Query(ctx, `SELECT c.id::text, c.table_id::text, COALESCE(t.number::text, ''),
			COALESCE(c.session_id::text, ''), c.type, c.status, c.created_at
		FROM service_calls c LEFT JOIN tables t ON t.id = c.table_id
		WHERE c.status IN ('open', 'attending')
		ORDER BY c.created_at, c.id`)
	if err != nil {
		return nil, transient("list service calls", err)
	}
	defer rows.Close()

	var out []domain.ServiceCall
	for rows.Next() {
		var c domain.ServiceCall
		var typ, status string
		if err := rows.Scan(&c.ID, &c.TableID, &c.TableNumber, &c.SessionID, &typ, &status, &c.CreatedAt); err != nil {
			return nil, transient("scan service call", err)
		}
		c.Type, c.Status = domain.CallType(typ), domain.CallStatus(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list service calls", err)
	}
	return out, nil
}

// TodaySales sums non-cancelled orders created since local midnight of the
// database server.
func (s *SnapshotSource) TodaySales(ctx context.Context) (decimal.Decimal, error) {
	var total string
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(oi.price * oi.quantity), 0)::text
		FROM orders o JOIN order_items oi ON oi.order_id = o.id
		WHERE o.status <> 'cancelled' AND o.created_at >= date_trunc('day', now())`).Scan(&total)
	if err != nil {
		return decimal.Zero, transient("today sales", err)
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse sales total %q: %w", total, err)
	}
	return d, nil
}

// Ping checks the replica is reachable.
func (s *SnapshotSource) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return transient("ping", err)
	}
	return nil
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrTransientNetwork, op, err)
}
