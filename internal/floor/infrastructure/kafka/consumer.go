package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/floor-ops/internal/floor/application"
	"github.com/dmehra2102/floor-ops/internal/floor/domain"
	"github.com/dmehra2102/floor-ops/internal/floor/wire"
	"github.com/dmehra2102/floor-ops/pkg/tracing"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const healthTimeout = 5 * time.Second

type Options struct {
	Brokers     []string
	Topic       string
	GroupPrefix string
	Backoff     time.Duration
	// HealthInterval is how often a connected consumer re-checks that a
	// broker still answers for the topic.
	HealthInterval time.Duration
	OnConnect      func()
}

// Consumer is the Kafka rendition of the push stream. Every process joins
// its own consumer group at the newest offset: like the websocket stream it
// never replays, and gaps are closed by a refresh from OnConnect.
//
// The group reader retries broker failures internally and never surfaces
// them from FetchMessage, so reachability is checked out of band: once
// before reporting connected, then on every health tick and whenever the
// reader logs an error.
type Consumer struct {
	log         *slog.Logger
	sink        application.EventSink
	newReader   func() messageReader
	check       func(ctx context.Context) error
	group       string
	backoff     time.Duration
	healthEvery time.Duration
	onConnect   func()
	readerErrs  chan struct{}
	tracer      trace.Tracer
}

func NewConsumer(log *slog.Logger, sink application.EventSink, opts Options) *Consumer {
	group := fmt.Sprintf("%s-%s", opts.GroupPrefix, uuid.NewString())

	var c *Consumer
	newReader := func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     opts.Brokers,
			Topic:       opts.Topic,
			GroupID:     group,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			MaxWait:     500 * time.Millisecond,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Warn("kafka reader error", "detail", fmt.Sprintf(msg, args...))
				c.readerFailed()
			}),
		})
	}
	c = newConsumer(log, sink, newReader, topicCheck(opts.Brokers, opts.Topic), opts)
	c.group = group
	return c
}

func newConsumer(log *slog.Logger, sink application.EventSink, newReader func() messageReader, check func(context.Context) error, opts Options) *Consumer {
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 10 * time.Second
	}
	return &Consumer{
		log:         log,
		sink:        sink,
		newReader:   newReader,
		check:       check,
		backoff:     opts.Backoff,
		healthEvery: opts.HealthInterval,
		onConnect:   opts.OnConnect,
		readerErrs:  make(chan struct{}, 1),
		tracer:      otel.Tracer("floor-consumer"),
	}
}

// topicCheck succeeds when any broker returns partition metadata for topic.
func topicCheck(brokers []string, topic string) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()

		var errs []error
		for _, broker := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", broker)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			_ = conn.SetDeadline(time.Now().Add(healthTimeout))
			partitions, err := conn.ReadPartitions(topic)
			_ = conn.Close()
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			case len(partitions) == 0:
				errs = append(errs, fmt.Errorf("%s: topic %s has no partitions", broker, topic))
			default:
				return nil
			}
		}
		if len(errs) == 0 {
			return errors.New("no brokers configured")
		}
		return errors.Join(errs...)
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		c.setStatus(ctx, application.StreamConnecting, "")
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.log.Info("consumer stopping")
			return nil
		}
		c.log.Warn("consumer disconnected", "err", err)
		c.setStatus(ctx, application.StreamDisconnected, err.Error())

		t := time.NewTimer(c.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			c.log.Info("consumer stopping")
			return nil
		case <-t.C:
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	if err := c.check(ctx); err != nil {
		return fmt.Errorf("%w: no broker reachable: %v", domain.ErrStreamDisconnected, err)
	}

	r := c.newReader()
	defer r.Close()

	c.log.Info("consumer connected", "group", c.group)
	c.setStatus(ctx, application.StreamConnected, "")
	if c.onConnect != nil {
		c.onConnect()
	}

	sessCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go c.watch(sessCtx, cancel)

	for {
		msg, err := r.FetchMessage(sessCtx)
		if err != nil {
			if cause := context.Cause(sessCtx); cause != nil && ctx.Err() == nil {
				return cause
			}
			return fmt.Errorf("%w: fetch: %v", domain.ErrStreamDisconnected, err)
		}
		c.handle(ctx, msg)
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warn("commit failed", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
	}
}

// watch ends the session with a cause once the broker stops answering.
func (c *Consumer) watch(ctx context.Context, fail context.CancelCauseFunc) {
	t := time.NewTicker(c.healthEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-c.readerErrs:
		}
		if err := c.check(ctx); err != nil && ctx.Err() == nil {
			fail(fmt.Errorf("%w: broker lost: %v", domain.ErrStreamDisconnected, err))
			return
		}
	}
}

func (c *Consumer) readerFailed() {
	select {
	case c.readerErrs <- struct{}{}:
	default:
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeFloorEvent", trace.WithAttributes(
		attribute.Int("kafka.partition", msg.Partition),
		attribute.Int64("kafka.offset", msg.Offset),
	))
	defer span.End()

	ev, err := wire.DecodeEvent(msg.Value)
	switch {
	case errors.Is(err, domain.ErrUnknownEventType):
		c.log.Debug("ignoring event", "offset", msg.Offset, "err", err)
		return
	case err != nil:
		c.log.Warn("dropping malformed event", "offset", msg.Offset, "err", err)
		return
	}
	span.SetAttributes(attribute.String("event.type", string(ev.Type)))

	if err := c.sink.ApplyEvent(msgCtx, ev); err != nil && ctx.Err() == nil {
		c.log.Error("apply event failed", "type", ev.Type, "err", err)
	}
}

func (c *Consumer) setStatus(ctx context.Context, state application.StreamState, reason string) {
	if err := c.sink.SetStreamStatus(ctx, application.StreamStatus{State: state, Reason: reason}); err != nil && ctx.Err() == nil {
		c.log.Error("stream status update failed", "state", state, "err", err)
	}
}
