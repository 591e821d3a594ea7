package application

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

var ErrReconcilerStopped = errors.New("reconciler stopped")

type message struct {
	snapshot *Snapshot
	event    *domain.Event
	status   *StreamStatus
	done     chan struct{}
}

// Reconciler is the single writer of the floor state. Producers post
// immutable messages through ApplySnapshot, ApplyEvent and SetStreamStatus;
// Run merges them one at a time and publishes a fresh View after each.
type Reconciler struct {
	log     *slog.Logger
	state   *State
	inbox   chan message
	stopped chan struct{}
	view    atomic.Pointer[View]
	now     func() time.Time
}

func NewReconciler(log *slog.Logger) *Reconciler {
	r := &Reconciler{
		log:     log,
		state:   NewState(log),
		inbox:   make(chan message, 64),
		stopped: make(chan struct{}),
		now:     time.Now,
	}
	r.state.now = func() time.Time { return r.now() }
	r.view.Store(emptyView())
	return r
}

func (r *Reconciler) Run(ctx context.Context) error {
	defer close(r.stopped)
	r.log.Info("reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopping")
			return nil
		case m := <-r.inbox:
			r.handle(m)
			close(m.done)
		}
	}
}

func (r *Reconciler) handle(m message) {
	switch {
	case m.snapshot != nil:
		r.state.ApplySnapshot(*m.snapshot)
		if err := m.snapshot.Err(); err != nil {
			r.log.Warn("snapshot merged with stale slices", "err", err)
		}
	case m.event != nil:
		r.state.ApplyEvent(*m.event)
	case m.status != nil:
		r.state.SetStreamStatus(*m.status)
		r.log.Info("stream status", "state", m.status.State, "reason", m.status.Reason)
	}
	r.view.Store(r.state.View(r.now()))
}

// View returns the latest published state. The result is shared and must not
// be modified.
func (r *Reconciler) View() *View {
	return r.view.Load()
}

func (r *Reconciler) ApplySnapshot(ctx context.Context, snap Snapshot) error {
	return r.submit(ctx, message{snapshot: &snap})
}

func (r *Reconciler) ApplyEvent(ctx context.Context, ev domain.Event) error {
	return r.submit(ctx, message{event: &ev})
}

func (r *Reconciler) SetStreamStatus(ctx context.Context, status StreamStatus) error {
	if status.Since.IsZero() {
		status.Since = r.now()
	}
	return r.submit(ctx, message{status: &status})
}

// submit hands m to Run and waits until it has been merged.
func (r *Reconciler) submit(ctx context.Context, m message) error {
	m.done = make(chan struct{})
	select {
	case r.inbox <- m:
	case <-r.stopped:
		return ErrReconcilerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-m.done:
		return nil
	case <-r.stopped:
		select {
		case <-m.done:
			return nil
		default:
			return ErrReconcilerStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
