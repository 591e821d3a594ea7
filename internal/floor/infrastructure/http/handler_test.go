package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/floor-ops/internal/floor/application"
	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

const secret = "test-secret"

// fakeBackend plays both halves of the restaurant backend.
type fakeBackend struct {
	mu      sync.Mutex
	tables  []domain.Table
	orders  map[domain.OrderID]domain.Order
	calls   []domain.ServiceCall
	failing bool
}

func (b *fakeBackend) check() error {
	if b.failing {
		return errors.New("backend unreachable")
	}
	return nil
}

func (b *fakeBackend) ListTables(context.Context) ([]domain.Table, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Table(nil), b.tables...), b.check()
}

func (b *fakeBackend) ListActiveOrders(context.Context) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Order
	for _, o := range b.orders {
		if o.Active() {
			out = append(out, o)
		}
	}
	return out, b.check()
}

func (b *fakeBackend) ListOpenServiceCalls(context.Context) ([]domain.ServiceCall, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.ServiceCall(nil), b.calls...), b.check()
}

func (b *fakeBackend) TodaySales(context.Context) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return decimal.NewFromInt(500), b.check()
}

func (b *fakeBackend) UpdateOrderStatus(_ context.Context, id domain.OrderID, status domain.OrderStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	b.orders[id] = o
	return nil
}

func (b *fakeBackend) UpdateServiceCallStatus(_ context.Context, id domain.CallID, status domain.CallStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.calls {
		if b.calls[i].ID == id {
			b.calls[i].Status = status
		}
	}
	return nil
}

func (b *fakeBackend) MoveTable(_ context.Context, session domain.SessionID, target domain.TableID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, o := range b.orders {
		if o.SessionID == session {
			o.TableID = target
			b.orders[id] = o
		}
	}
	b.failing = true
	return nil
}

type fixture struct {
	backend *fakeBackend
	srv     *httptest.Server
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC)
	item := func(qty int, price int64) domain.OrderItem {
		return domain.OrderItem{MenuItemID: "m", Quantity: qty, Price: decimal.NewFromInt(price)}
	}
	backend := &fakeBackend{
		tables: []domain.Table{
			{ID: "t1", Code: "1", Enabled: true, BillStatus: domain.BillOpen},
			{ID: "t2", Code: "2", Enabled: true, BillStatus: domain.BillOpen},
			{ID: "t3", Code: "A1", Enabled: true, BillStatus: domain.BillRequested},
		},
		orders: map[domain.OrderID]domain.Order{
			"o1": {ID: "o1", TableID: "t1", SessionID: "s1", Status: domain.StatusPending, CreatedAt: now.Add(-20 * time.Minute), Items: []domain.OrderItem{item(2, 10)}},
			"o2": {ID: "o2", TableID: "t3", SessionID: "s3", Status: domain.StatusCooking, CreatedAt: now.Add(-2 * time.Hour), Items: []domain.OrderItem{item(1, 80)}},
		},
		calls: []domain.ServiceCall{
			{ID: "c1", TableID: "t1", Type: domain.CallWater, Status: domain.CallOpen, CreatedAt: now.Add(-time.Minute)},
		},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := application.NewReconciler(log)
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

	refresher := application.NewRefresher(log, application.NewFetcher(log, backend), rec)
	require.NoError(t, refresher.Refresh(context.Background()))
	dispatcher := application.NewDispatcher(log, backend, refresher, rec, nil)

	h := NewHandler(log, rec, dispatcher)
	h.now = func() time.Time { return now }
	srv := httptest.NewServer(h.Routes(JWTMiddleware(secret)))
	t.Cleanup(srv.Close)

	return &fixture{backend: backend, srv: srv, now: now}
}

func (f *fixture) do(t *testing.T, role, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if role != "" {
		tok, err := SignToken(secret, "staff-1", role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "", http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "degraded", body["status"])
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, "", http.MethodGet, "/dashboard", "").StatusCode)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/dashboard", nil)
	forged, err := SignToken("other-secret", "x", RoleManager, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, http.StatusForbidden, f.do(t, RoleKitchen, http.MethodPost, "/orders/o1/accept", "").StatusCode)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, RoleKitchen, http.MethodGet, "/dashboard", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[dashboardDTO](t, resp)

	assert.Equal(t, 2, d.Occupied)
	assert.Equal(t, 1, d.Free)
	assert.Equal(t, 1, d.Pending)
	assert.Equal(t, 1, d.Cooking)
	assert.Equal(t, 1, d.Delayed)
	require.Len(t, d.LongSitting, 1)
	assert.Equal(t, domain.TableID("t3"), d.LongSitting[0].ID)
	require.Len(t, d.Calls, 1)
	assert.Equal(t, "500.00", d.Sales)
	assert.False(t, d.Slices["orders"].Stale)
}

func TestListTables(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, RoleWaiter, http.MethodGet, "/tables?sort=total", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tables := decode[[]tableDTO](t, resp)
	require.Len(t, tables, 3)
	assert.Equal(t, domain.TableID("t3"), tables[0].ID)
	assert.Equal(t, "80.00", tables[0].Total)
	assert.Equal(t, 120, tables[0].SeatedMinutes)

	free := decode[[]tableDTO](t, f.do(t, RoleWaiter, http.MethodGet, "/tables?occupied=false", ""))
	require.Len(t, free, 1)
	assert.Equal(t, domain.TableID("t2"), free[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, RoleWaiter, http.MethodGet, "/tables?sort=price", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, RoleWaiter, http.MethodGet, "/tables?occupied=maybe", "").StatusCode)
}

func TestGetTable(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, RoleWaiter, http.MethodGet, "/tables/t1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[tableDetailDTO](t, resp)
	assert.Equal(t, "20.00", got.Total)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, 20, got.Orders[0].AgeMinutes)

	assert.Equal(t, http.StatusNotFound, f.do(t, RoleWaiter, http.MethodGet, "/tables/t9", "").StatusCode)
}

func TestMergeTables(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, RoleWaiter, http.MethodGet, "/tables/merge?a=t1&b=t3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[mergedDTO](t, resp)
	assert.Equal(t, "100.00", m.Total)
	assert.Equal(t, 3, m.ItemCount)
	assert.False(t, m.Authoritative)

	assert.Equal(t, http.StatusConflict, f.do(t, RoleWaiter, http.MethodGet, "/tables/merge?a=t1&b=t1", "").StatusCode)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)

	all := decode[[]orderDTO](t, f.do(t, RoleWaiter, http.MethodGet, "/orders", ""))
	require.Len(t, all, 2)
	assert.Equal(t, domain.OrderID("o2"), all[0].ID)

	delayed := decode[[]orderDTO](t, f.do(t, RoleWaiter, http.MethodGet, "/orders?delayed=true", ""))
	require.Len(t, delayed, 1)
	assert.Equal(t, domain.OrderID("o1"), delayed[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, RoleWaiter, http.MethodGet, "/orders?status=lost", "").StatusCode)
}

func TestOrderActions(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusConflict, f.do(t, RoleWaiter, http.MethodPost, "/orders/o1/serve", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, RoleWaiter, http.MethodPost, "/orders/o1/dance", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, RoleWaiter, http.MethodPost, "/orders/o9/accept", "").StatusCode)

	require.Equal(t, http.StatusNoContent, f.do(t, RoleWaiter, http.MethodPost, "/orders/o1/accept", "").StatusCode)

	orders := decode[[]orderDTO](t, f.do(t, RoleWaiter, http.MethodGet, "/orders?status=accepted", ""))
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderID("o1"), orders[0].ID)
}

func TestUpdateServiceCall(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, RoleWaiter, http.MethodPatch, "/service-calls/c1/status", `{"status":"done"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Empty(t, decode[[]callDTO](t, f.do(t, RoleWaiter, http.MethodGet, "/service-calls", "")))
	assert.Equal(t, http.StatusBadRequest, f.do(t, RoleWaiter, http.MethodPatch, "/service-calls/c1/status", `{`).StatusCode)
}

func TestMoveTable(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusConflict, f.do(t, RoleManager, http.MethodPost, "/tables/t2/move", `{"target_table_id":"t1"}`).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, RoleManager, http.MethodPost, "/tables/t1/move", `{"target_table_id":"t9"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, RoleManager, http.MethodPost, "/tables/t1/move", `{}`).StatusCode)

	// The fake backend applies the move and then becomes unreachable.
	resp := f.do(t, RoleManager, http.MethodPost, "/tables/t1/move", `{"target_table_id":"t2"}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.True(t, body.Applied)

	tables := decode[[]tableDTO](t, f.do(t, RoleManager, http.MethodGet, "/tables", ""))
	require.Len(t, tables, 3)
	assert.True(t, tables[0].Occupied, "pre-move view is kept")
	assert.False(t, tables[1].Occupied)

	d := decode[dashboardDTO](t, f.do(t, RoleManager, http.MethodGet, "/dashboard", ""))
	assert.True(t, d.Slices["tables"].Stale)

	assert.Equal(t, http.StatusBadGateway, f.do(t, RoleManager, http.MethodPost, "/refresh", "").StatusCode)
}
