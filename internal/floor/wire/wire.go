// Package wire holds the backend's JSON shapes and converts them to domain
// values. It is shared by the REST client and both push transports.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

// FlexString accepts a JSON string or a JSON number. Backends disagree on
// whether ids and table numbers are numeric.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return strings.TrimSpace(string(f)) }

type Table struct {
	ID         FlexString `json:"id"`
	Number     FlexString `json:"number"`
	Enabled    *bool      `json:"enabled,omitempty"`
	BillStatus string     `json:"bill_status,omitempty"`
}

func (t Table) Domain() (domain.Table, error) {
	if t.ID.String() == "" {
		return domain.Table{}, fmt.Errorf("table without id")
	}
	out := domain.Table{
		ID:         domain.TableID(t.ID.String()),
		Code:       t.Number.String(),
		Enabled:    t.Enabled == nil || *t.Enabled,
		BillStatus: domain.BillStatus(t.BillStatus),
	}
	if !out.BillStatus.Valid() {
		out.BillStatus = domain.BillOpen
	}
	return out.WithoutDerived(), nil
}

type OrderItem struct {
	MenuItemID   FlexString      `json:"menu_item_id"`
	VariantID    FlexString      `json:"variant_id"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Name         string          `json:"name"`
	VariantLabel string          `json:"variant_label"`
}

type Order struct {
	ID          FlexString  `json:"id"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	SessionID   FlexString  `json:"session_id"`
	TableID     FlexString  `json:"table_id"`
	TableNumber FlexString  `json:"table_number"`
	Items       []OrderItem `json:"items"`
}

func (o Order) Domain() (domain.Order, error) {
	if o.ID.String() == "" {
		return domain.Order{}, fmt.Errorf("order without id")
	}
	status := domain.OrderStatus(o.Status)
	if !status.Valid() {
		return domain.Order{}, fmt.Errorf("order %s: unknown status %q", o.ID, o.Status)
	}
	if o.TableID.String() == "" {
		return domain.Order{}, fmt.Errorf("order %s: missing table_id", o.ID)
	}
	out := domain.Order{
		ID:          domain.OrderID(o.ID.String()),
		TableID:     domain.TableID(o.TableID.String()),
		TableNumber: o.TableNumber.String(),
		SessionID:   domain.SessionID(o.SessionID.String()),
		Status:      status,
		CreatedAt:   o.CreatedAt,
		Items:       make([]domain.OrderItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		if it.Quantity < 0 {
			return domain.Order{}, fmt.Errorf("order %s: negative quantity", o.ID)
		}
		out.Items = append(out.Items, domain.OrderItem{
			MenuItemID:   it.MenuItemID.String(),
			VariantID:    it.VariantID.String(),
			Name:         it.Name,
			VariantLabel: it.VariantLabel,
			Quantity:     it.Quantity,
			Price:        it.Price,
		})
	}
	return out, nil
}

type ServiceCall struct {
	ID          FlexString `json:"id"`
	TableID     FlexString `json:"table_id"`
	TableNumber FlexString `json:"table_number"`
	SessionID   FlexString `json:"session_id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (c ServiceCall) Domain() (domain.ServiceCall, error) {
	if c.ID.String() == "" {
		return domain.ServiceCall{}, fmt.Errorf("service call without id")
	}
	status := domain.CallStatus(c.Status)
	if !status.Valid() {
		return domain.ServiceCall{}, fmt.Errorf("service call %s: unknown status %q", c.ID, c.Status)
	}
	return domain.ServiceCall{
		ID:          domain.CallID(c.ID.String()),
		TableID:     domain.TableID(c.TableID.String()),
		TableNumber: c.TableNumber.String(),
		SessionID:   domain.SessionID(c.SessionID.String()),
		Type:        domain.CallType(c.Type),
		Status:      status,
		CreatedAt:   c.CreatedAt,
	}, nil
}

type SalesTotal struct {
	Total decimal.Decimal `json:"total"`
}

type OrderStatusUpdate struct {
	Status domain.OrderStatus `json:"status"`
}

type CallStatusUpdate struct {
	Status domain.CallStatus `json:"status"`
}

type MoveTable struct {
	SessionID     domain.SessionID `json:"session_id"`
	TargetTableID domain.TableID   `json:"target_table_id"`
}
