package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/floor-ops/internal/floor/application"
	"github.com/dmehra2102/floor-ops/internal/floor/domain"
	"github.com/dmehra2102/floor-ops/pkg/tracing"
)

// Handler is the staff-facing API over the reconciled view.
type Handler struct {
	log        *slog.Logger
	views      application.ViewSource
	dispatcher *application.Dispatcher
	tracer     trace.Tracer
	now        func() time.Time
}

func NewHandler(log *slog.Logger, views application.ViewSource, dispatcher *application.Dispatcher) *Handler {
	return &Handler{
		log:        log,
		views:      views,
		dispatcher: dispatcher,
		tracer:     otel.Tracer("floor-http"),
		now:        time.Now,
	}
}

func (h *Handler) Routes(auth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, traceContext)

	r.Get("/healthz", h.health)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/dashboard", h.dashboard)
		r.Get("/tables", h.listTables)
		r.Get("/tables/merge", h.mergeTables)
		r.Get("/tables/{id}", h.getTable)
		r.Get("/orders", h.listOrders)
		r.Get("/service-calls", h.listCalls)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleWaiter, RoleManager))
			r.Post("/orders/{id}/{action}", h.orderAction)
			r.Post("/tables/{id}/move", h.moveTable)
			r.Patch("/service-calls/{id}/status", h.updateCall)
			r.Post("/refresh", h.refresh)
		})
	})

	return r
}

func traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(tracing.ExtractHTTPHeaders(r.Context(), r.Header)))
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	v := h.views.View()
	status := "ok"
	if v.Stream.State != application.StreamConnected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"stream":  v.Stream.State,
		"version": v.Version,
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSON(w, http.StatusOK, toDashboard(application.Summarize(h.views.View(), now), now))
}

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f application.TableFilter
	if s := q.Get("occupied"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "occupied must be a boolean"})
			return
		}
		f.Occupied = &b
	}
	f.CodePrefix = q.Get("prefix")
	f.LongSitting = q.Get("long_sitting") == "true"

	by, ok := application.ParseTableSort(q.Get("sort"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "sort must be code, total or seated"})
		return
	}

	now := h.now()
	tables := application.FilterTables(h.views.View(), f, now)
	application.SortTables(tables, by, now)
	writeJSON(w, http.StatusOK, toTables(tables, now))
}

func (h *Handler) getTable(w http.ResponseWriter, r *http.Request) {
	v := h.views.View()
	id := domain.TableID(chi.URLParam(r, "id"))
	t, ok := v.Table(id)
	if !ok {
		writeError(w, h.log, domain.ErrUnknownTable)
		return
	}
	now := h.now()
	writeJSON(w, http.StatusOK, tableDetailDTO{
		tableDTO: toTable(t, now),
		Orders:   toOrders(v.TableOrders(id), now),
	})
}

func (h *Handler) mergeTables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	m, err := h.dispatcher.MergeTables(domain.TableID(q.Get("a")), domain.TableID(q.Get("b")))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	now := h.now()
	writeJSON(w, http.StatusOK, mergedDTO{
		Tables:        toTables(m.Tables[:], now),
		Total:         m.Total.StringFixed(2),
		ItemCount:     m.ItemCount,
		SeatedAt:      timePtr(m.SeatedAt),
		Authoritative: m.Authoritative,
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v, now := h.views.View(), h.now()

	if q.Get("delayed") == "true" {
		writeJSON(w, http.StatusOK, toOrders(application.DelayedOrders(v, now), now))
		return
	}
	status := domain.OrderStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown order status"})
		return
	}
	writeJSON(w, http.StatusOK, toOrders(application.ActiveOrders(v, status), now))
}

func (h *Handler) listCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toCalls(application.ActiveServiceCalls(h.views.View()), h.now()))
}

func (h *Handler) orderAction(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "OrderAction")
	defer span.End()

	id := domain.OrderID(chi.URLParam(r, "id"))
	action := chi.URLParam(r, "action")
	span.SetAttributes(attribute.String("order.id", string(id)), attribute.String("order.action", action))

	var err error
	switch action {
	case "accept":
		err = h.dispatcher.AcceptOrder(ctx, id)
	case "serve":
		err = h.dispatcher.ServeOrder(ctx, id)
	case "reject":
		err = h.dispatcher.RejectOrder(ctx, id)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "action must be accept, serve or reject"})
		return
	}
	h.commandResult(w, r, err)
}

type moveReq struct {
	TargetTableID domain.TableID `json:"target_table_id"`
}

func (h *Handler) moveTable(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "MoveTable")
	defer span.End()

	var req moveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetTableID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "target_table_id required"})
		return
	}
	err := h.dispatcher.MoveTable(ctx, domain.TableID(chi.URLParam(r, "id")), req.TargetTableID)
	h.commandResult(w, r, err)
}

type callStatusReq struct {
	Status domain.CallStatus `json:"status"`
}

func (h *Handler) updateCall(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateServiceCall")
	defer span.End()

	var req callStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	err := h.dispatcher.UpdateServiceCall(ctx, domain.CallID(chi.URLParam(r, "id")), req.Status)
	h.commandResult(w, r, err)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.Refresh(r.Context()); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) commandResult(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if claims, ok := ClaimsFrom(r.Context()); ok {
		h.log.Info("staff command", "staff_id", claims.StaffID, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error   string `json:"error"`
	Applied bool   `json:"applied,omitempty"`
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var stale *application.StaleViewError
	switch {
	case errors.As(err, &stale):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Applied: true})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNoActiveSession),
		errors.Is(err, domain.ErrDuplicateCommand):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrUnknownTable), errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrTransientNetwork), errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		log.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
