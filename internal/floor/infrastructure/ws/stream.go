package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/dmehra2102/floor-ops/internal/floor/application"
	"github.com/dmehra2102/floor-ops/internal/floor/domain"
	"github.com/dmehra2102/floor-ops/internal/floor/wire"
)

var errTokenExpiring = errors.New("stream token expiring")

// TokenSource returns the bearer token for the next connection attempt.
type TokenSource func(ctx context.Context) (string, error)

func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

type Options struct {
	URL          string
	Token        TokenSource
	PingInterval time.Duration
	PongWait     time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	// ExpirySkew is how long before the token's exp claim the stream
	// reconnects with a fresh token.
	ExpirySkew time.Duration
	// OnConnect runs after every successful handshake. Events missed while
	// disconnected are never replayed, so callers use it to force a refresh.
	OnConnect func()
}

func (o *Options) defaults() {
	if o.Token == nil {
		o.Token = StaticToken("")
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = 3 * o.PingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = 30 * time.Second
	}
	if o.ExpirySkew <= 0 {
		o.ExpirySkew = 30 * time.Second
	}
}

// Stream keeps one websocket connection to the backend's push channel open,
// decodes its events and forwards them to the sink in arrival order.
type Stream struct {
	log    *slog.Logger
	sink   application.EventSink
	opts   Options
	dialer *websocket.Dialer
}

func NewStream(log *slog.Logger, sink application.EventSink, opts Options) *Stream {
	opts.defaults()
	return &Stream{
		log:  log,
		sink: sink,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.opts.BackoffMin
	for {
		s.setStatus(ctx, application.StreamConnecting, "")
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			s.log.Info("stream stopping")
			return nil
		}

		s.log.Warn("stream disconnected", "err", err)
		s.setStatus(ctx, application.StreamDisconnected, err.Error())

		if connected {
			backoff = s.opts.BackoffMin
		}
		if errors.Is(err, errTokenExpiring) {
			continue
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			s.log.Info("stream stopping")
			return nil
		case <-t.C:
		}
		backoff = min(2*backoff, s.opts.BackoffMax)
	}
}

// session runs one connection. connected reports whether the handshake
// succeeded.
func (s *Stream) session(ctx context.Context) (connected bool, err error) {
	token, err := s.opts.Token(ctx)
	if err != nil {
		return false, fmt.Errorf("stream token: %w", err)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, fmt.Errorf("%w: stream handshake: %w", domain.ErrUnauthorized, err)
		}
		return false, fmt.Errorf("%w: dial stream: %v", domain.ErrStreamDisconnected, err)
	}
	defer conn.Close()

	s.log.Info("stream connected", "url", s.opts.URL)
	s.setStatus(ctx, application.StreamConnected, "")
	if s.opts.OnConnect != nil {
		s.opts.OnConnect()
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	expiring := make(chan struct{})
	go s.watch(sessCtx, conn, token, expiring)

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-expiring:
				return true, errTokenExpiring
			default:
			}
			return true, fmt.Errorf("%w: %v", domain.ErrStreamDisconnected, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.handle(ctx, data)
	}
}

// watch pings the server and closes conn when ctx ends or the token is about
// to expire, which unblocks the read loop.
func (s *Stream) watch(ctx context.Context, conn *websocket.Conn, token string, expiring chan<- struct{}) {
	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	var expiry <-chan time.Time
	if exp, ok := tokenExpiry(token); ok {
		until := time.Until(exp.Add(-s.opts.ExpirySkew))
		if until > 0 {
			t := time.NewTimer(until)
			defer t.Stop()
			expiry = t.C
		} else {
			s.log.Warn("stream token expires within skew, not scheduling reconnect", "exp", exp)
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.log.Debug("stream ping failed", "err", err)
			}
		case <-expiry:
			s.log.Info("stream token expiring, reconnecting")
			close(expiring)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "token expiring")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}
	}
}

func (s *Stream) handle(ctx context.Context, data []byte) {
	ev, err := wire.DecodeEvent(data)
	switch {
	case errors.Is(err, domain.ErrUnknownEventType):
		s.log.Debug("ignoring event", "err", err)
		return
	case err != nil:
		s.log.Warn("dropping malformed event", "err", err)
		return
	}
	if err := s.sink.ApplyEvent(ctx, ev); err != nil && ctx.Err() == nil {
		s.log.Error("apply event failed", "type", ev.Type, "err", err)
	}
}

func (s *Stream) setStatus(ctx context.Context, state application.StreamState, reason string) {
	if err := s.sink.SetStreamStatus(ctx, application.StreamStatus{State: state, Reason: reason}); err != nil && ctx.Err() == nil {
		s.log.Error("stream status update failed", "state", state, "err", err)
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the
// backend verifies, this side only schedules the reconnect.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
