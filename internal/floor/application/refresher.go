package application

import (
	"context"
	"log/slog"
)

// Refresher fetches a snapshot and hands it to the reconciler. The snapshot is
// merged even when some slices failed so their staleness is recorded.
type Refresher struct {
	log     *slog.Logger
	fetcher *Fetcher
	sink    StateSink
}

func NewRefresher(log *slog.Logger, fetcher *Fetcher, sink StateSink) *Refresher {
	return &Refresher{log: log, fetcher: fetcher, sink: sink}
}

func (r *Refresher) Refresh(ctx context.Context) error {
	return r.apply(ctx, r.fetcher.Fetch(ctx))
}

func (r *Refresher) RefreshServiceCalls(ctx context.Context) error {
	return r.apply(ctx, r.fetcher.FetchServiceCalls(ctx))
}

func (r *Refresher) apply(ctx context.Context, snap Snapshot) error {
	if err := r.sink.ApplySnapshot(ctx, snap); err != nil {
		return err
	}
	return snap.Err()
}
