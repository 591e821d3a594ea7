package http

import (
	"time"

	"github.com/dmehra2102/floor-ops/internal/floor/application"
	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

type tableDTO struct {
	ID            domain.TableID    `json:"id"`
	Code          string            `json:"code"`
	BillStatus    domain.BillStatus `json:"bill_status"`
	Occupied      bool              `json:"occupied"`
	SessionID     domain.SessionID  `json:"session_id,omitempty"`
	Total         string            `json:"total"`
	ItemCount     int               `json:"item_count"`
	SeatedAt      *time.Time        `json:"seated_at,omitempty"`
	SeatedMinutes int               `json:"seated_minutes"`
}

type tableDetailDTO struct {
	tableDTO
	Orders []orderDTO `json:"orders"`
}

type itemDTO struct {
	MenuItemID   string `json:"menu_item_id"`
	VariantID    string `json:"variant_id,omitempty"`
	Name         string `json:"name,omitempty"`
	VariantLabel string `json:"variant_label,omitempty"`
	Quantity     int    `json:"quantity"`
	Price        string `json:"price"`
}

type orderDTO struct {
	ID          domain.OrderID     `json:"id"`
	TableID     domain.TableID     `json:"table_id"`
	TableNumber string             `json:"table_number,omitempty"`
	SessionID   domain.SessionID   `json:"session_id,omitempty"`
	Status      domain.OrderStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	AgeMinutes  int                `json:"age_minutes"`
	Total       string             `json:"total"`
	ItemCount   int                `json:"item_count"`
	Items       []itemDTO          `json:"items"`
}

type callDTO struct {
	ID          domain.CallID     `json:"id"`
	TableID     domain.TableID    `json:"table_id"`
	TableNumber string            `json:"table_number,omitempty"`
	Type        domain.CallType   `json:"type"`
	Status      domain.CallStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	AgeMinutes  int               `json:"age_minutes"`
}

type mergedDTO struct {
	Tables        []tableDTO `json:"tables"`
	Total         string     `json:"total"`
	ItemCount     int        `json:"item_count"`
	SeatedAt      *time.Time `json:"seated_at,omitempty"`
	Authoritative bool       `json:"authoritative"`
}

type streamDTO struct {
	State  application.StreamState `json:"state"`
	Reason string                  `json:"reason,omitempty"`
	Since  *time.Time              `json:"since,omitempty"`
}

type sliceDTO struct {
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Stale       bool       `json:"stale"`
}

type dashboardDTO struct {
	Occupied    int                 `json:"occupied"`
	Free        int                 `json:"free"`
	Pending     int                 `json:"pending"`
	Cooking     int                 `json:"cooking"`
	Delayed     int                 `json:"delayed"`
	LongSitting []tableDTO          `json:"long_sitting"`
	Calls       []callDTO           `json:"service_calls"`
	Sales       string              `json:"sales_today"`
	Orphans     int                 `json:"orphaned_orders"`
	Stream      streamDTO           `json:"stream"`
	Slices      map[string]sliceDTO `json:"slices"`
	Version     uint64              `json:"version"`
	UpdatedAt   *time.Time          `json:"updated_at,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func minutes(d time.Duration) int { return int(d / time.Minute) }

func toTable(t domain.Table, now time.Time) tableDTO {
	return tableDTO{
		ID:            t.ID,
		Code:          t.Code,
		BillStatus:    t.BillStatus,
		Occupied:      t.Occupied,
		SessionID:     t.SessionID,
		Total:         t.Total.StringFixed(2),
		ItemCount:     t.ItemCount,
		SeatedAt:      timePtr(t.SeatedAt),
		SeatedMinutes: minutes(t.SeatedFor(now)),
	}
}

func toTables(tables []domain.Table, now time.Time) []tableDTO {
	out := make([]tableDTO, 0, len(tables))
	for _, t := range tables {
		out = append(out, toTable(t, now))
	}
	return out
}

func toOrders(orders []domain.Order, now time.Time) []orderDTO {
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		items := make([]itemDTO, 0, len(o.Items))
		for _, it := range o.Items {
			items = append(items, itemDTO{
				MenuItemID:   it.MenuItemID,
				VariantID:    it.VariantID,
				Name:         it.Name,
				VariantLabel: it.VariantLabel,
				Quantity:     it.Quantity,
				Price:        it.Price.StringFixed(2),
			})
		}
		out = append(out, orderDTO{
			ID:          o.ID,
			TableID:     o.TableID,
			TableNumber: o.TableNumber,
			SessionID:   o.SessionID,
			Status:      o.Status,
			CreatedAt:   o.CreatedAt,
			AgeMinutes:  minutes(o.Age(now)),
			Total:       o.Total().StringFixed(2),
			ItemCount:   o.ItemCount(),
			Items:       items,
		})
	}
	return out
}

func toCalls(calls []domain.ServiceCall, now time.Time) []callDTO {
	out := make([]callDTO, 0, len(calls))
	for _, c := range calls {
		out = append(out, callDTO{
			ID:          c.ID,
			TableID:     c.TableID,
			TableNumber: c.TableNumber,
			Type:        c.Type,
			Status:      c.Status,
			CreatedAt:   c.CreatedAt,
			AgeMinutes:  minutes(now.Sub(c.CreatedAt)),
		})
	}
	return out
}

func toDashboard(s application.Summary, now time.Time) dashboardDTO {
	slices := make(map[string]sliceDTO, len(s.Slices))
	for sl, st := range s.Slices {
		slices[string(sl)] = sliceDTO{
			LastSuccess: timePtr(st.LastSuccess),
			LastError:   st.LastError,
			Stale:       st.Stale(),
		}
	}
	return dashboardDTO{
		Occupied:    s.Occupancy.Occupied,
		Free:        s.Occupancy.Free,
		Pending:     s.Orders.Pending,
		Cooking:     s.Orders.Cooking,
		Delayed:     s.Orders.Delayed,
		LongSitting: toTables(s.LongSitting, now),
		Calls:       toCalls(s.Calls, now),
		Sales:       s.Sales.StringFixed(2),
		Orphans:     s.Orphans,
		Stream: streamDTO{
			State:  s.Stream.State,
			Reason: s.Stream.Reason,
			Since:  timePtr(s.Stream.Since),
		},
		Slices:    slices,
		Version:   s.Version,
		UpdatedAt: timePtr(s.UpdatedAt),
	}
}
