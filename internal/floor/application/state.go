package application

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

// State is the reconciled model. It is not safe for concurrent use; the
// Reconciler owns the only instance and serialises every merge.
//
// Merge rule: last writer wins per identity. A snapshot slice that was read
// successfully is authoritative for that slice; a slice that failed leaves
// the previous values alone. A read only evicts identities last written
// before the read started, so an event that lands while a fetch is in flight
// survives the late response.
type State struct {
	log *slog.Logger

	tables  map[domain.TableID]domain.Table
	orders  map[domain.OrderID]domain.Order
	orphans map[domain.OrderID]domain.Order
	calls   map[domain.CallID]domain.ServiceCall
	sales   decimal.Decimal

	// Last write per identity: event arrival or the At of the carrying read.
	orderWritten map[domain.OrderID]time.Time
	callWritten  map[domain.CallID]time.Time
	now          func() time.Time

	slices  map[Slice]SliceStatus
	stream  StreamStatus
	version uint64
}

func NewState(log *slog.Logger) *State {
	return &State{
		log:     log,
		tables:  map[domain.TableID]domain.Table{},
		orders:  map[domain.OrderID]domain.Order{},
		orphans: map[domain.OrderID]domain.Order{},
		calls:   map[domain.CallID]domain.ServiceCall{},
		sales:   decimal.Zero,
		slices:  map[Slice]SliceStatus{},
		stream:  StreamStatus{State: StreamDisconnected, Reason: "not started"},

		orderWritten: map[domain.OrderID]time.Time{},
		callWritten:  map[domain.CallID]time.Time{},
		now:          time.Now,
	}
}

func (s *State) ApplySnapshot(snap Snapshot) {
	for _, sl := range allSlices {
		st := s.slices[sl]
		switch {
		case snap.Has(sl):
			st.LastAttempt, st.LastSuccess, st.LastError = snap.At, snap.At, ""
		case snap.Errors[sl] != nil:
			st.LastAttempt, st.LastError = snap.At, snap.Errors[sl].Error()
		default:
			continue
		}
		s.slices[sl] = st
	}

	if snap.Has(SliceTables) {
		s.replaceTables(snap.Tables)
	}
	if snap.Has(SliceOrders) {
		s.replaceActiveOrders(snap.Orders, snap.At)
	}
	if snap.Has(SliceCalls) {
		s.replaceOpenCalls(snap.Calls, snap.At)
	}
	if snap.Has(SliceSales) {
		s.sales = snap.Sales
	}
	s.recomputeAll()
	s.version++
}

func (s *State) ApplyEvent(ev domain.Event) {
	at := s.now()
	switch {
	case ev.Order != nil:
		prev, had := s.orders[ev.Order.ID]
		s.putOrder(*ev.Order, at)
		if had && prev.TableID != ev.Order.TableID {
			s.recomputeTable(prev.TableID)
		}
		s.recomputeTable(ev.Order.TableID)
	case ev.Call != nil:
		// Arrival order decides, even when a late event moves a done call
		// back to attending.
		s.calls[ev.Call.ID] = *ev.Call
		s.callWritten[ev.Call.ID] = at
	default:
		return
	}
	s.version++
}

func (s *State) SetStreamStatus(st StreamStatus) {
	s.stream = st
	s.version++
}

func (s *State) replaceTables(tables []domain.Table) {
	next := make(map[domain.TableID]domain.Table, len(tables))
	for _, t := range tables {
		if !t.Enabled {
			continue
		}
		if !t.BillStatus.Valid() {
			t.BillStatus = domain.BillOpen
		}
		next[t.ID] = t.WithoutDerived()
	}
	s.tables = next

	for id, o := range s.orders {
		if _, ok := next[o.TableID]; !ok {
			delete(s.orders, id)
			s.quarantine(o)
		}
	}
	for id, o := range s.orphans {
		if _, ok := next[o.TableID]; ok {
			delete(s.orphans, id)
			s.orders[id] = o
			s.log.Info("orphaned order re-attached", "order_id", id, "table_id", o.TableID)
		}
	}
}

// replaceActiveOrders treats a successful read as the full active set as of
// the moment it started: known orders it does not carry left the active set
// on the backend, unless an event rewrote them after that moment.
func (s *State) replaceActiveOrders(orders []domain.Order, at time.Time) {
	carried := make(map[domain.OrderID]struct{}, len(orders))
	for _, o := range orders {
		carried[o.ID] = struct{}{}
		s.putOrder(o, at)
	}
	for _, known := range []map[domain.OrderID]domain.Order{s.orders, s.orphans} {
		for id := range known {
			if _, ok := carried[id]; ok {
				continue
			}
			if s.orderWritten[id].After(at) {
				s.log.Debug("order newer than snapshot kept", "order_id", id)
				continue
			}
			delete(known, id)
			delete(s.orderWritten, id)
		}
	}
}

func (s *State) replaceOpenCalls(calls []domain.ServiceCall, at time.Time) {
	carried := make(map[domain.CallID]struct{}, len(calls))
	for _, c := range calls {
		carried[c.ID] = struct{}{}
		s.calls[c.ID] = c
		s.callWritten[c.ID] = at
	}
	for id := range s.calls {
		if _, ok := carried[id]; ok {
			continue
		}
		if s.callWritten[id].After(at) {
			s.log.Debug("service call newer than snapshot kept", "call_id", id)
			continue
		}
		delete(s.calls, id)
		delete(s.callWritten, id)
	}
}

func (s *State) putOrder(o domain.Order, at time.Time) {
	s.orderWritten[o.ID] = at
	o = o.Clone()
	if _, ok := s.tables[o.TableID]; !ok {
		delete(s.orders, o.ID)
		s.quarantine(o)
		return
	}
	delete(s.orphans, o.ID)
	s.orders[o.ID] = o
}

func (s *State) quarantine(o domain.Order) {
	s.orphans[o.ID] = o
	s.log.Warn("merge anomaly", "err", domain.ErrOrphanedOrder, "order_id", o.ID, "table_id", o.TableID)
}

func (s *State) recomputeTable(id domain.TableID) {
	t, ok := s.tables[id]
	if !ok {
		return
	}
	var orders []domain.Order
	for _, o := range s.orders {
		if o.TableID == id {
			orders = append(orders, o)
		}
	}
	s.tables[id] = aggregate(t, orders)
}

func (s *State) recomputeAll() {
	byTable := make(map[domain.TableID][]domain.Order, len(s.tables))
	for _, o := range s.orders {
		byTable[o.TableID] = append(byTable[o.TableID], o)
	}
	for id, t := range s.tables {
		s.tables[id] = aggregate(t, byTable[id])
	}
}

// aggregate derives occupancy, totals, seating time and the active session
// from the table's non-terminal orders.
func aggregate(t domain.Table, orders []domain.Order) domain.Table {
	t = t.WithoutDerived()
	var latest domain.Order
	for _, o := range orders {
		if !o.Active() {
			continue
		}
		t.Occupied = true
		t.Total = t.Total.Add(o.Total())
		t.ItemCount += o.ItemCount()
		if !o.CreatedAt.IsZero() && (t.SeatedAt.IsZero() || o.CreatedAt.Before(t.SeatedAt)) {
			t.SeatedAt = o.CreatedAt
		}
		if o.SessionID != "" && (latest.SessionID == "" || newer(o, latest)) {
			latest = o
		}
	}
	t.SessionID = latest.SessionID
	return t
}

func newer(a, b domain.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (s *State) View(now time.Time) *View {
	v := &View{
		Tables:    make(map[domain.TableID]domain.Table, len(s.tables)),
		Orders:    make(map[domain.OrderID]domain.Order, len(s.orders)),
		Calls:     make(map[domain.CallID]domain.ServiceCall, len(s.calls)),
		Sales:     s.sales,
		Orphans:   len(s.orphans),
		Stream:    s.stream,
		Slices:    make(map[Slice]SliceStatus, len(s.slices)),
		Version:   s.version,
		UpdatedAt: now,
	}
	for id, t := range s.tables {
		v.Tables[id] = t
	}
	for id, o := range s.orders {
		v.Orders[id] = o.Clone()
	}
	for id, c := range s.calls {
		v.Calls[id] = c
	}
	for sl, st := range s.slices {
		v.Slices[sl] = st
	}
	return v
}
