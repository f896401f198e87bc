package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"strings"

	"qms/place-queue/internal/models"
	"qms/place-queue/internal/queue"
	"qms/place-queue/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Queue is the set of queue operations served over HTTP.
type Queue interface {
	Book(ctx context.Context, input queue.BookInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	Position(ctx context.Context, ticketID string) (queue.PositionInfo, error)
	ListWaiting(ctx context.Context, input queue.ScopeInput) (queue.WaitingList, error)
	FirstActive(ctx context.Context, input queue.ScopeInput) (models.Ticket, bool, error)
	MyQueuesToday(ctx context.Context, userID string) ([]queue.QueueEntry, error)
	History(ctx context.Context, userID string) ([]models.Ticket, error)
	Activate(ctx context.Context, ticketID, employeeID string) (models.Ticket, error)
	Cancel(ctx context.Context, ticketID string) (models.Ticket, error)
	Complete(ctx context.Context, ticketID string) (models.Ticket, error)
	Reject(ctx context.Context, ticketID string) (models.Ticket, error)
	MoveToBack(ctx context.Context, ticketID string) (models.Ticket, error)
}

type Handler struct {
	queue   Queue
	qrSize  int
	logger  *zap.Logger
	limiter *RateLimiter
}

type Options struct {
	QRSize  int
	Logger  *zap.Logger
	Limiter *RateLimiter
}

type bookRequest struct {
	UserID    string `json:"user_id"`
	PlaceID   string `json:"place_id"`
	ServiceID string `json:"service_id"`
}

type activateRequest struct {
	EmployeeID string `json:"employee_id"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(queue Queue, options Options) *Handler {
	h := &Handler{
		queue:   queue,
		qrSize:  options.QRSize,
		logger:  options.Logger,
		limiter: options.Limiter,
	}
	if h.qrSize <= 0 {
		h.qrSize = 256
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Routes builds the API router. Callers may mount further handlers on it.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(h.logger))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", expvar.Handler())

	r.Route("/api", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Post("/tickets", h.handleBook)
		r.Route("/tickets/{ticketID}", func(r chi.Router) {
			r.Get("/", h.handleGetTicket)
			r.Get("/position", h.handlePosition)
			r.Get("/qr", h.handleQR)
			r.Post("/actions/activate", h.handleActivate)
			r.Post("/actions/cancel", h.handleAction(h.queue.Cancel))
			r.Post("/actions/complete", h.handleAction(h.queue.Complete))
			r.Post("/actions/reject", h.handleAction(h.queue.Reject))
			r.Post("/actions/move-to-back", h.handleAction(h.queue.MoveToBack))
		})
		r.Get("/places/{placeID}/queue", h.handleListWaiting)
		r.Get("/places/{placeID}/active", h.handleFirstActive)
		r.Get("/users/{userID}/queues/today", h.handleMyQueuesToday)
		r.Get("/users/{userID}/queues/history", h.handleHistory)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := h.queue.Book(r.Context(), queue.BookInput{
		UserID:    strings.TrimSpace(req.UserID),
		PlaceID:   strings.TrimSpace(req.PlaceID),
		ServiceID: strings.TrimSpace(req.ServiceID),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.queue.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request) {
	info, err := h.queue.Position(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleQR renders a PNG that staff scanners resolve back to the ticket.
func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.queue.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	png, err := qrcode.Encode(QRContent(ticket), qrcode.Medium, h.qrSize)
	if err != nil {
		h.fail(w, r, fmt.Errorf("encode qr: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func QRContent(ticket models.Ticket) string {
	return fmt.Sprintf("qms:ticket:%s:%d", ticket.TicketID, ticket.Number)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := h.queue.Activate(r.Context(), chi.URLParam(r, "ticketID"), strings.TrimSpace(req.EmployeeID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleAction(action func(ctx context.Context, ticketID string) (models.Ticket, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticket, err := action(r.Context(), chi.URLParam(r, "ticketID"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}
}

func (h *Handler) handleListWaiting(w http.ResponseWriter, r *http.Request) {
	list, err := h.queue.ListWaiting(r.Context(), scopeInput(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleFirstActive(w http.ResponseWriter, r *http.Request) {
	ticket, found, err := h.queue.FirstActive(r.Context(), scopeInput(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleMyQueuesToday(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.MyQueuesToday(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []queue.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.queue.History(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func scopeInput(r *http.Request) queue.ScopeInput {
	query := r.URL.Query()
	return queue.ScopeInput{
		PlaceID:   chi.URLParam(r, "placeID"),
		ServiceID: strings.TrimSpace(query.Get("service_id")),
		Day:       strings.TrimSpace(query.Get("day")),
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, middleware.GetReqID(r.Context()), status, code, msg)
}

// decodeRequest accepts an empty body as the zero request.
func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, middleware.GetReqID(r.Context()), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	var validation *store.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "invalid_request", validation.Error()
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrPlaceNotFound):
		return http.StatusNotFound, "place_not_found", "place not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrEmployeeNotFound):
		return http.StatusNotFound, "employee_not_found", "employee not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state", err.Error()
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "queue is busy, retry later"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
