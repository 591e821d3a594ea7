package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

// StaleViewError means the backend accepted a command but the refresh that
// follows it failed. The view still shows the pre-command state.
type StaleViewError struct {
	Command string
	Err     error
}

func (e *StaleViewError) Error() string {
	return fmt.Sprintf("%s applied, view not refreshed: %v", e.Command, e.Err)
}

func (e *StaleViewError) Unwrap() error { return e.Err }

func unknownTable(id domain.TableID) error {
	return fmt.Errorf("%w: %s", domain.ErrUnknownTable, id)
}

func sameTable(id domain.TableID) error {
	return fmt.Errorf("%w: table %s cannot be combined with itself", domain.ErrInvalidTransition, id)
}

// Dispatcher turns staff intents into backend commands. It never mutates the
// view itself: every accepted command is followed by a refresh, so what staff
// see is always backend-confirmed.
type Dispatcher struct {
	log       *slog.Logger
	gateway   CommandGateway
	refresher *Refresher
	views     ViewSource
	guard     CommandGuard
	tracer    trace.Tracer
}

// NewDispatcher builds a dispatcher; guard may be nil.
func NewDispatcher(log *slog.Logger, gateway CommandGateway, refresher *Refresher, views ViewSource, guard CommandGuard) *Dispatcher {
	return &Dispatcher{
		log:       log,
		gateway:   gateway,
		refresher: refresher,
		views:     views,
		guard:     guard,
		tracer:    otel.Tracer("floor-dispatcher"),
	}
}

func (d *Dispatcher) AcceptOrder(ctx context.Context, id domain.OrderID) error {
	return d.transitionOrder(ctx, id, domain.StatusAccepted)
}

func (d *Dispatcher) ServeOrder(ctx context.Context, id domain.OrderID) error {
	return d.transitionOrder(ctx, id, domain.StatusServed)
}

func (d *Dispatcher) RejectOrder(ctx context.Context, id domain.OrderID) error {
	return d.transitionOrder(ctx, id, domain.StatusCancelled)
}

func (d *Dispatcher) transitionOrder(ctx context.Context, id domain.OrderID, to domain.OrderStatus) (err error) {
	ctx, span := d.tracer.Start(ctx, "TransitionOrder", trace.WithAttributes(
		attribute.String("order.id", string(id)),
		attribute.String("order.status", string(to)),
	))
	defer func() { endSpan(span, err) }()

	if o, ok := d.views.View().Orders[id]; ok && !o.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: order %s is %s, cannot become %s", domain.ErrInvalidTransition, id, o.Status, to)
	}
	key := fmt.Sprintf("order:%s:%s", id, to)
	if err := d.claim(ctx, key); err != nil {
		return err
	}
	if err := d.gateway.UpdateOrderStatus(ctx, id, to); err != nil {
		d.release(ctx, key)
		d.log.Error("order status command failed", "order_id", id, "status", to, "err", err)
		return fmt.Errorf("set order %s to %s: %w", id, to, err)
	}
	d.log.Info("order status command accepted", "order_id", id, "status", to)
	return d.afterCommand(ctx, "order "+string(to), d.refresher.Refresh)
}

// MoveTable moves the source table's active session to target.
func (d *Dispatcher) MoveTable(ctx context.Context, source, target domain.TableID) (err error) {
	ctx, span := d.tracer.Start(ctx, "MoveTable", trace.WithAttributes(
		attribute.String("table.source", string(source)),
		attribute.String("table.target", string(target)),
	))
	defer func() { endSpan(span, err) }()

	v := d.views.View()
	src, ok := v.Table(source)
	if !ok {
		return unknownTable(source)
	}
	if _, ok := v.Table(target); !ok {
		return unknownTable(target)
	}
	if source == target {
		return fmt.Errorf("%w: table %s moved onto itself", domain.ErrInvalidTransition, source)
	}
	if src.SessionID == "" {
		return fmt.Errorf("%w: %s", domain.ErrNoActiveSession, source)
	}
	key := fmt.Sprintf("move:%s:%s", src.SessionID, target)
	if err := d.claim(ctx, key); err != nil {
		return err
	}
	if err := d.gateway.MoveTable(ctx, src.SessionID, target); err != nil {
		d.release(ctx, key)
		d.log.Error("move table command failed", "source", source, "target", target, "session_id", src.SessionID, "err", err)
		return fmt.Errorf("move table %s to %s: %w", source, target, err)
	}
	d.log.Info("move table command accepted", "source", source, "target", target, "session_id", src.SessionID)
	return d.afterCommand(ctx, "move table", d.refresher.Refresh)
}

// MergeTables only combines the two tables' derived figures locally; the
// result is flagged non-authoritative.
func (d *Dispatcher) MergeTables(a, b domain.TableID) (MergedTables, error) {
	return MergeTables(d.views.View(), a, b)
}

func (d *Dispatcher) UpdateServiceCall(ctx context.Context, id domain.CallID, to domain.CallStatus) (err error) {
	ctx, span := d.tracer.Start(ctx, "UpdateServiceCall", trace.WithAttributes(
		attribute.String("call.id", string(id)),
		attribute.String("call.status", string(to)),
	))
	defer func() { endSpan(span, err) }()

	if !to.Valid() {
		return fmt.Errorf("%w: unknown service call status %q", domain.ErrInvalidTransition, to)
	}
	if c, ok := d.views.View().Calls[id]; ok && !c.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: service call %s is %s, cannot become %s", domain.ErrInvalidTransition, id, c.Status, to)
	}
	key := fmt.Sprintf("call:%s:%s", id, to)
	if err := d.claim(ctx, key); err != nil {
		return err
	}
	if err := d.gateway.UpdateServiceCallStatus(ctx, id, to); err != nil {
		d.release(ctx, key)
		d.log.Error("service call command failed", "call_id", id, "status", to, "err", err)
		return fmt.Errorf("set service call %s to %s: %w", id, to, err)
	}
	d.log.Info("service call command accepted", "call_id", id, "status", to)
	return d.afterCommand(ctx, "service call "+string(to), d.refresher.RefreshServiceCalls)
}

// Refresh is the manual full refresh.
func (d *Dispatcher) Refresh(ctx context.Context) error {
	return d.refresher.Refresh(ctx)
}

func (d *Dispatcher) afterCommand(ctx context.Context, command string, refresh func(context.Context) error) error {
	if err := refresh(ctx); err != nil {
		d.log.Warn("refresh after command failed", "command", command, "err", err)
		return &StaleViewError{Command: command, Err: err}
	}
	return nil
}

func (d *Dispatcher) claim(ctx context.Context, key string) error {
	if d.guard == nil {
		return nil
	}
	seen, err := d.guard.Seen(ctx, key)
	if err != nil {
		// The guard only filters double submits; the backend still decides.
		d.log.Warn("command guard unavailable", "key", key, "err", err)
		return nil
	}
	if seen {
		d.log.Info("duplicate command skipped", "key", key)
		return fmt.Errorf("%w: %s", domain.ErrDuplicateCommand, key)
	}
	return nil
}

func (d *Dispatcher) release(ctx context.Context, key string) {
	if d.guard == nil {
		return
	}
	if err := d.guard.Release(ctx, key); err != nil {
		d.log.Warn("command guard release failed", "key", key, "err", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		var stale *StaleViewError
		if !errors.As(err, &stale) {
			span.SetStatus(codes.Error, err.Error())
		}
		span.RecordError(err)
	}
	span.End()
}
