package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/floor-ops/internal/floor/application"
	"github.com/dmehra2102/floor-ops/internal/floor/domain"
)

type fakeReader struct {
	msgs      chan kafka.Message
	failAfter int
	fetched   int
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.failAfter > 0 && r.fetched >= r.failAfter {
		return kafka.Message{}, errors.New("broker gone")
	}
	select {
	case m := <-r.msgs:
		r.fetched++
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error { return nil }

type recordingSink struct {
	mu       sync.Mutex
	events   []domain.Event
	statuses []application.StreamStatus
}

func (s *recordingSink) ApplyEvent(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) SetStreamStatus(ctx context.Context, st application.StreamStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	return nil
}

func (s *recordingSink) snapshot() ([]domain.Event, []application.StreamStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...), append([]application.StreamStatus(nil), s.statuses...)
}

func run(t *testing.T, c *Consumer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reachable(context.Context) error { return nil }

func states(statuses []application.StreamStatus) []application.StreamState {
	out := make([]application.StreamState, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st.State)
	}
	return out
}

func lastStatus(sink *recordingSink) application.StreamStatus {
	_, statuses := sink.snapshot()
	if len(statuses) == 0 {
		return application.StreamStatus{}
	}
	return statuses[len(statuses)-1]
}

func TestConsumer_AppliesAndCommits(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 3)}
	reader.msgs <- kafka.Message{Offset: 1, Value: []byte(`{"type":"order.updated","data":{"id":"o1","status":"cooking","table_id":"t1"}}`)}
	reader.msgs <- kafka.Message{Offset: 2, Value: []byte(`garbage`)}
	reader.msgs <- kafka.Message{Offset: 3, Value: []byte(`{"type":"service.call.updated","data":{"id":"c1","table_id":"t1","status":"done"}}`)}

	sink := &recordingSink{}
	var connects atomic.Int32
	c := newConsumer(discard(), sink, func() messageReader { return reader }, reachable, Options{
		OnConnect: func() { connects.Add(1) },
	})
	run(t, c)

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)

	events, statuses := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, domain.StatusCooking, events[0].Order.Status)
	assert.Equal(t, domain.CallDone, events[1].Call.Status)
	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	require.GreaterOrEqual(t, len(statuses), 2)
	assert.Equal(t, application.StreamConnecting, statuses[0].State)
	assert.Equal(t, application.StreamConnected, statuses[1].State)
	assert.Equal(t, int32(1), connects.Load())
}

func TestConsumer_ReconnectsWithFreshReader(t *testing.T) {
	var created atomic.Int32
	newReader := func() messageReader {
		created.Add(1)
		r := &fakeReader{msgs: make(chan kafka.Message, 1), failAfter: 1}
		r.msgs <- kafka.Message{Value: []byte(`{"type":"order.created","data":{"id":"o1","status":"pending","table_id":"t1"}}`)}
		return r
	}

	sink := &recordingSink{}
	var connects atomic.Int32
	run(t, newConsumer(discard(), sink, newReader, reachable, Options{
		Backoff:   5 * time.Millisecond,
		OnConnect: func() { connects.Add(1) },
	}))

	require.Eventually(t, func() bool { return created.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return connects.Load() >= 2 }, time.Second, 5*time.Millisecond)

	_, statuses := sink.snapshot()
	var disconnected *application.StreamStatus
	for i := range statuses {
		if statuses[i].State == application.StreamDisconnected {
			disconnected = &statuses[i]
			break
		}
	}
	require.NotNil(t, disconnected)
	assert.Contains(t, disconnected.Reason, "broker gone")
	assert.ErrorIs(t, disconnected.Err(), domain.ErrStreamDisconnected)
}

func TestConsumer_UnreachableBrokerNeverConnects(t *testing.T) {
	sink := &recordingSink{}
	run(t, NewConsumer(discard(), sink, Options{
		Brokers:     []string{"127.0.0.1:1"},
		Topic:       "floor.events",
		GroupPrefix: "floor-test",
		Backoff:     time.Hour,
	}))

	require.Eventually(t, func() bool {
		return lastStatus(sink).State == application.StreamDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	_, statuses := sink.snapshot()
	assert.NotContains(t, states(statuses), application.StreamConnected)
	last := lastStatus(sink)
	assert.ErrorIs(t, last.Err(), domain.ErrStreamDisconnected)
	assert.Contains(t, last.Reason, "no broker reachable")
}

func TestConsumer_LostBrokerReportsDisconnected(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	check := func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	}
	newReader := func() messageReader { return &fakeReader{msgs: make(chan kafka.Message)} }

	sink := &recordingSink{}
	run(t, newConsumer(discard(), sink, newReader, check, Options{
		Backoff:        5 * time.Millisecond,
		HealthInterval: 10 * time.Millisecond,
	}))

	require.Eventually(t, func() bool {
		return lastStatus(sink).State == application.StreamConnected
	}, time.Second, 5*time.Millisecond)

	healthy.Store(false)

	require.Eventually(t, func() bool {
		return lastStatus(sink).State == application.StreamDisconnected
	}, time.Second, 5*time.Millisecond)

	_, statuses := sink.snapshot()
	var lost *application.StreamStatus
	for i := range statuses {
		if statuses[i].State == application.StreamDisconnected {
			lost = &statuses[i]
			break
		}
	}
	require.NotNil(t, lost)
	assert.Contains(t, lost.Reason, "broker lost")
	assert.ErrorIs(t, lost.Err(), domain.ErrStreamDisconnected)

	healthy.Store(true)
	require.Eventually(t, func() bool {
		return lastStatus(sink).State == application.StreamConnected
	}, time.Second, 5*time.Millisecond)
}

func TestConsumer_ReaderErrorTriggersHealthCheck(t *testing.T) {
	var checks atomic.Int32
	check := func(context.Context) error {
		if checks.Add(1) == 1 {
			return nil
		}
		return errors.New("leader not available")
	}
	newReader := func() messageReader { return &fakeReader{msgs: make(chan kafka.Message)} }

	sink := &recordingSink{}
	c := newConsumer(discard(), sink, newReader, check, Options{
		Backoff:        time.Hour,
		HealthInterval: time.Hour,
	})
	run(t, c)

	require.Eventually(t, func() bool {
		return lastStatus(sink).State == application.StreamConnected
	}, time.Second, 5*time.Millisecond)

	c.readerFailed()

	require.Eventually(t, func() bool {
		return lastStatus(sink).State == application.StreamDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, lastStatus(sink).Reason, "leader not available")
}

func TestNewConsumer_GroupFixedPerProcess(t *testing.T) {
	c := NewConsumer(discard(), &recordingSink{}, Options{
		Brokers:     []string{"127.0.0.1:1"},
		Topic:       "floor.events",
		GroupPrefix: "floor-test",
	})
	assert.True(t, strings.HasPrefix(c.group, "floor-test-"), c.group)

	first := c.newReader().(*kafka.Reader)
	second := c.newReader().(*kafka.Reader)
	t.Cleanup(func() {
		_ = first.Close()
		_ = second.Close()
	})
	assert.Equal(t, c.group, first.Config().GroupID)
	assert.Equal(t, c.group, second.Config().GroupID)
}
