package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/floor-ops/internal/floor/domain"
	"github.com/dmehra2102/floor-ops/internal/floor/wire"
	"github.com/dmehra2102/floor-ops/pkg/tracing"
)

const maxErrorBody = 4 << 10

// BackendError is a non-2xx answer from the restaurant backend. It unwraps to
// the domain sentinel matching its status code.
type BackendError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *BackendError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return domain.ErrInvalidTransition
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	default:
		return domain.ErrTransientNetwork
	}
}

// Client talks to the backend's request/response API. It serves both as the
// snapshot source and the command gateway.
type Client struct {
	log   *slog.Logger
	base  string
	token string
	http  *http.Client
}

func NewClient(log *slog.Logger, baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}
	return &Client{
		log:   log,
		base:  strings.TrimRight(u.String(), "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) ListTables(ctx context.Context) ([]domain.Table, error) {
	var rows []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/tables?enabled=true", nil, &rows); err != nil {
		return nil, err
	}
	return decodeRows(c.log, "table", rows, wire.Table.Domain), nil
}

func (c *Client) ListActiveOrders(ctx context.Context) ([]domain.Order, error) {
	var rows []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/orders/active", nil, &rows); err != nil {
		return nil, err
	}
	return decodeRows(c.log, "order", rows, wire.Order.Domain), nil
}

func (c *Client) ListOpenServiceCalls(ctx context.Context) ([]domain.ServiceCall, error) {
	var rows []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/service-calls/open", nil, &rows); err != nil {
		return nil, err
	}
	return decodeRows(c.log, "service call", rows, wire.ServiceCall.Domain), nil
}

func (c *Client) TodaySales(ctx context.Context) (decimal.Decimal, error) {
	var out wire.SalesTotal
	if err := c.do(ctx, http.MethodGet, "/sales/today", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error {
	path := "/orders/" + url.PathEscape(string(id)) + "/status"
	return c.do(ctx, http.MethodPatch, path, wire.OrderStatusUpdate{Status: status}, nil)
}

func (c *Client) UpdateServiceCallStatus(ctx context.Context, id domain.CallID, status domain.CallStatus) error {
	path := "/service-calls/" + url.PathEscape(string(id)) + "/status"
	return c.do(ctx, http.MethodPatch, path, wire.CallStatusUpdate{Status: status}, nil)
}

func (c *Client) MoveTable(ctx context.Context, session domain.SessionID, target domain.TableID) error {
	return c.do(ctx, http.MethodPost, "/tables/move", wire.MoveTable{SessionID: session, TargetTableID: target}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransientNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &BackendError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %v", domain.ErrTransientNetwork, method, path, err)
	}
	if err := json.Unmarshal(unwrapData(raw), out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", domain.ErrTransientNetwork, method, path, err)
	}
	return nil
}

// unwrapData strips an optional {"data": ...} envelope.
func unwrapData(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return trimmed
	}
	return env.Data
}

func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

// decodeRows converts each row on its own so one bad row does not cost the
// whole slice.
func decodeRows[W, D any](log *slog.Logger, kind string, rows []json.RawMessage, conv func(W) (D, error)) []D {
	out := make([]D, 0, len(rows))
	for _, raw := range rows {
		var w W
		if err := json.Unmarshal(raw, &w); err != nil {
			log.Warn("dropping undecodable row", "kind", kind, "err", err)
			continue
		}
		d, err := conv(w)
		if err != nil {
			log.Warn("dropping invalid row", "kind", kind, "err", err)
			continue
		}
		out = append(out, d)
	}
	return out
}
