package application

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

const (
	DelayedAfter     = 10 * time.Minute
	LongSittingAfter = 90 * time.Minute
)

type OccupancyCounts struct {
	Occupied int
	Free     int
}

func Occupancy(v *View) OccupancyCounts {
	var c OccupancyCounts
	for _, t := range v.Tables {
		if t.Occupied {
			c.Occupied++
		} else {
			c.Free++
		}
	}
	return c
}

// OrderCounts: Cooking covers accepted and cooking orders; Delayed is the
// subset of Pending older than DelayedAfter.
type OrderCounts struct {
	Pending int
	Cooking int
	Delayed int
}

func CountOrders(v *View, now time.Time) OrderCounts {
	var c OrderCounts
	for _, o := range v.Orders {
		switch o.Status {
		case domain.StatusPending:
			c.Pending++
			if o.Age(now) > DelayedAfter {
				c.Delayed++
			}
		case domain.StatusAccepted, domain.StatusCooking:
			c.Cooking++
		}
	}
	return c
}

func DelayedOrders(v *View, now time.Time) []domain.Order {
	var out []domain.Order
	for _, o := range v.Orders {
		if o.Status == domain.StatusPending && o.Age(now) > DelayedAfter {
			out = append(out, o)
		}
	}
	sortOrdersByAge(out)
	return out
}

// ActiveOrders lists non-terminal orders, optionally narrowed to one status.
func ActiveOrders(v *View, status domain.OrderStatus) []domain.Order {
	var out []domain.Order
	for _, o := range v.Orders {
		if !o.Active() || (status != "" && o.Status != status) {
			continue
		}
		out = append(out, o)
	}
	sortOrdersByAge(out)
	return out
}

func LongSitting(v *View, now time.Time) []domain.Table {
	var out []domain.Table
	for _, t := range v.Tables {
		if t.Occupied && t.SeatedFor(now) > LongSittingAfter {
			out = append(out, t)
		}
	}
	SortTables(out, SortBySeatedDesc, now)
	return out
}

func ActiveServiceCalls(v *View) []domain.ServiceCall {
	var out []domain.ServiceCall
	for _, c := range v.Calls {
		if c.Active() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type TableSort string

const (
	SortByCode       TableSort = "code"
	SortByTotalDesc  TableSort = "total"
	SortBySeatedDesc TableSort = "seated"
)

func ParseTableSort(s string) (TableSort, bool) {
	switch TableSort(s) {
	case "", SortByCode:
		return SortByCode, true
	case SortByTotalDesc, SortBySeatedDesc:
		return TableSort(s), true
	}
	return "", false
}

type TableFilter struct {
	Occupied *bool
	// CodePrefix matches case-insensitively.
	CodePrefix  string
	LongSitting bool
}

func FilterTables(v *View, f TableFilter, now time.Time) []domain.Table {
	prefix := strings.ToLower(strings.TrimSpace(f.CodePrefix))
	out := make([]domain.Table, 0, len(v.Tables))
	for _, t := range v.Tables {
		if f.Occupied != nil && t.Occupied != *f.Occupied {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(t.Code), prefix) {
			continue
		}
		if f.LongSitting && !(t.Occupied && t.SeatedFor(now) > LongSittingAfter) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// SortTables orders tables in place. Ties always fall back to code order so
// the result is stable across views.
func SortTables(tables []domain.Table, by TableSort, now time.Time) {
	sort.SliceStable(tables, func(i, j int) bool {
		a, b := tables[i], tables[j]
		switch by {
		case SortByTotalDesc:
			if c := a.Total.Cmp(b.Total); c != 0 {
				return c > 0
			}
		case SortBySeatedDesc:
			if da, db := a.SeatedFor(now), b.SeatedFor(now); da != db {
				return da > db
			}
		}
		return codeLess(a.Code, b.Code)
	})
}

// codeLess compares numerically when both codes are numbers so "2" sorts
// before "10".
func codeLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil && na != nb:
		return na < nb
	case errA == nil && errB != nil:
		return true
	case errA != nil && errB == nil:
		return false
	}
	return a < b
}

func sortOrdersByAge(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

// MergedTables is a local, non-authoritative combination of two tables. No
// backend command backs it; it must be presented as a preview only.
type MergedTables struct {
	Tables        [2]domain.Table
	Total         decimal.Decimal
	ItemCount     int
	SeatedAt      time.Time
	Authoritative bool
}

func MergeTables(v *View, a, b domain.TableID) (MergedTables, error) {
	ta, ok := v.Table(a)
	if !ok {
		return MergedTables{}, unknownTable(a)
	}
	tb, ok := v.Table(b)
	if !ok {
		return MergedTables{}, unknownTable(b)
	}
	if a == b {
		return MergedTables{}, sameTable(a)
	}
	m := MergedTables{
		Tables:    [2]domain.Table{ta, tb},
		Total:     ta.Total.Add(tb.Total),
		ItemCount: ta.ItemCount + tb.ItemCount,
		SeatedAt:  ta.SeatedAt,
	}
	if m.SeatedAt.IsZero() || (!tb.SeatedAt.IsZero() && tb.SeatedAt.Before(m.SeatedAt)) {
		m.SeatedAt = tb.SeatedAt
	}
	return m, nil
}

type Summary struct {
	Occupancy   OccupancyCounts
	Orders      OrderCounts
	LongSitting []domain.Table
	Calls       []domain.ServiceCall
	Sales       decimal.Decimal
	Orphans     int
	Stream      StreamStatus
	Slices      map[Slice]SliceStatus
	Version     uint64
	UpdatedAt   time.Time
}

func Summarize(v *View, now time.Time) Summary {
	return Summary{
		Occupancy:   Occupancy(v),
		Orders:      CountOrders(v, now),
		LongSitting: LongSitting(v, now),
		Calls:       ActiveServiceCalls(v),
		Sales:       v.Sales,
		Orphans:     v.Orphans,
		Stream:      v.Stream,
		Slices:      v.Slices,
		Version:     v.Version,
		UpdatedAt:   v.UpdatedAt,
	}
}
