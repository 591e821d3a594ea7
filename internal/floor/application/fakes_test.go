package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

var t0 = time.Date(2024, 5, 1, 19, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func table(id, code string) domain.Table {
	return domain.Table{ID: domain.TableID(id), Code: code, Enabled: true, BillStatus: domain.BillOpen}
}

func item(qty int, price int64) domain.OrderItem {
	return domain.OrderItem{MenuItemID: "m", Quantity: qty, Price: decimal.NewFromInt(price)}
}

func order(id, tableID string, status domain.OrderStatus, at time.Time, items ...domain.OrderItem) domain.Order {
	return domain.Order{
		ID:        domain.OrderID(id),
		TableID:   domain.TableID(tableID),
		SessionID: domain.SessionID("s-" + tableID),
		Status:    status,
		CreatedAt: at,
		Items:     items,
	}
}

func call(id, tableID string, status domain.CallStatus, at time.Time) domain.ServiceCall {
	return domain.ServiceCall{
		ID:        domain.CallID(id),
		TableID:   domain.TableID(tableID),
		Type:      domain.CallWaiter,
		Status:    status,
		CreatedAt: at,
	}
}

// fullSnapshot builds a bundle where every slice was read successfully.
func fullSnapshot(tables []domain.Table, orders []domain.Order, calls []domain.ServiceCall) Snapshot {
	snap := newSnapshot(t0)
	snap.Tables, snap.Orders, snap.Calls = tables, orders, calls
	snap.Sales = decimal.Zero
	for _, sl := range allSlices {
		snap.Fetched[sl] = true
	}
	return snap
}

type tableFacts struct {
	Occupied  bool
	SessionID domain.SessionID
	Total     string
	ItemCount int
	SeatedAt  time.Time
}

func facts(v *View) map[domain.TableID]tableFacts {
	out := make(map[domain.TableID]tableFacts, len(v.Tables))
	for id, t := range v.Tables {
		out[id] = tableFacts{
			Occupied:  t.Occupied,
			SessionID: t.SessionID,
			Total:     t.Total.StringFixed(2),
			ItemCount: t.ItemCount,
			SeatedAt:  t.SeatedAt,
		}
	}
	return out
}

func orderStatuses(v *View) map[domain.OrderID]domain.OrderStatus {
	out := make(map[domain.OrderID]domain.OrderStatus, len(v.Orders))
	for id, o := range v.Orders {
		out[id] = o.Status
	}
	return out
}

type fakeSource struct {
	mu     sync.Mutex
	tables []domain.Table
	orders []domain.Order
	calls  []domain.ServiceCall
	sales  decimal.Decimal
	errs   map[Slice]error
	reads  map[Slice]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{sales: decimal.Zero, errs: map[Slice]error{}, reads: map[Slice]int{}}
}

func (f *fakeSource) set(fn func(f *fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeSource) readCount(sl Slice) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[sl]
}

func (f *fakeSource) read(sl Slice) error {
	f.reads[sl]++
	return f.errs[sl]
}

func (f *fakeSource) ListTables(ctx context.Context) ([]domain.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(SliceTables); err != nil {
		return nil, err
	}
	return append([]domain.Table(nil), f.tables...), nil
}

func (f *fakeSource) ListActiveOrders(ctx context.Context) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(SliceOrders); err != nil {
		return nil, err
	}
	return append([]domain.Order(nil), f.orders...), nil
}

func (f *fakeSource) ListOpenServiceCalls(ctx context.Context) ([]domain.ServiceCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(SliceCalls); err != nil {
		return nil, err
	}
	return append([]domain.ServiceCall(nil), f.calls...), nil
}

func (f *fakeSource) TodaySales(ctx context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.read(SliceSales); err != nil {
		return decimal.Zero, err
	}
	return f.sales, nil
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) UpdateOrderStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error {
	return m.Called(id, status).Error(0)
}

func (m *mockGateway) UpdateServiceCallStatus(ctx context.Context, id domain.CallID, status domain.CallStatus) error {
	return m.Called(id, status).Error(0)
}

func (m *mockGateway) MoveTable(ctx context.Context, session domain.SessionID, target domain.TableID) error {
	return m.Called(session, target).Error(0)
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *memoryGuard) Seen(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = map[string]bool{}
	}
	was := g.seen[key]
	g.seen[key] = true
	return was, nil
}

func (g *memoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}

// startReconciler runs a reconciler until the test ends.
func startReconciler(t *testing.T) *Reconciler {
	t.Helper()
	rec := NewReconciler(testLogger())
	rec.now = func() time.Time { return t0 }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rec.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rec
}
