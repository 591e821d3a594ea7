package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

type Slice string

const (
	SliceTables Slice = "tables"
	SliceOrders Slice = "orders"
	SliceCalls  Slice = "service_calls"
	SliceSales  Slice = "sales"
)

var allSlices = []Slice{SliceTables, SliceOrders, SliceCalls, SliceSales}

// SliceError reports one failed read. It matches domain.ErrTransientNetwork
// as well as the underlying cause.
type SliceError struct {
	Slice Slice
	Err   error
}

func (e *SliceError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Slice, e.Err)
}

func (e *SliceError) Unwrap() []error {
	return []error{domain.ErrTransientNetwork, e.Err}
}

// Snapshot is one fetch bundle. Only slices present in Fetched carry data;
// the reconciler leaves every other slice untouched.
type Snapshot struct {
	Tables []domain.Table
	Orders []domain.Order
	Calls  []domain.ServiceCall
	Sales  decimal.Decimal

	Fetched map[Slice]bool
	Errors  map[Slice]error
	At      time.Time
}

func newSnapshot(at time.Time) Snapshot {
	return Snapshot{
		Fetched: make(map[Slice]bool, len(allSlices)),
		Errors:  make(map[Slice]error),
		At:      at,
	}
}

func (s Snapshot) Has(sl Slice) bool { return s.Fetched[sl] }

// Err joins the per-slice failures, nil when every attempted read succeeded.
func (s Snapshot) Err() error {
	var errs []error
	for _, sl := range allSlices {
		if err, ok := s.Errors[sl]; ok {
			errs = append(errs, &SliceError{Slice: sl, Err: err})
		}
	}
	return errors.Join(errs...)
}

type Fetcher struct {
	log    *slog.Logger
	source SnapshotSource
	now    func() time.Time
}

func NewFetcher(log *slog.Logger, source SnapshotSource) *Fetcher {
	return &Fetcher{log: log, source: source, now: time.Now}
}

// Fetch runs the four reads concurrently. A failed read is recorded in the
// bundle and never cancels its siblings.
func (f *Fetcher) Fetch(ctx context.Context) Snapshot {
	snap := newSnapshot(f.now())
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	read := func(sl Slice, load func() (func(), error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assign, err := load()
			mu.Lock()
			defer mu.Unlock()
			f.record(&snap, sl, err, assign)
		}()
	}

	read(SliceTables, func() (func(), error) {
		tables, err := f.source.ListTables(ctx)
		return func() { snap.Tables = tables }, err
	})
	read(SliceOrders, func() (func(), error) {
		orders, err := f.source.ListActiveOrders(ctx)
		return func() { snap.Orders = orders }, err
	})
	read(SliceCalls, func() (func(), error) {
		calls, err := f.source.ListOpenServiceCalls(ctx)
		return func() { snap.Calls = calls }, err
	})
	read(SliceSales, func() (func(), error) {
		sales, err := f.source.TodaySales(ctx)
		return func() { snap.Sales = sales }, err
	})
	wg.Wait()

	return snap
}

func (f *Fetcher) FetchServiceCalls(ctx context.Context) Snapshot {
	snap := newSnapshot(f.now())
	calls, err := f.source.ListOpenServiceCalls(ctx)
	f.record(&snap, SliceCalls, err, func() { snap.Calls = calls })
	return snap
}

// record stores one read's outcome; concurrent callers hold the fetch lock.
func (f *Fetcher) record(snap *Snapshot, sl Slice, err error, assign func()) {
	if err != nil {
		f.log.Warn("snapshot read failed", "slice", sl, "err", err)
		snap.Errors[sl] = err
		return
	}
	assign()
	snap.Fetched[sl] = true
}
