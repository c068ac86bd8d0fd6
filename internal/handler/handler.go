// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/service"
)

// Handler holds all HTTP handlers for the registration API.
type Handler struct {
	regs     *service.RegistrationService
	payments *service.PaymentService
}

// New constructs a Handler.
func New(regs *service.RegistrationService, payments *service.PaymentService) *Handler {
	return &Handler{regs: regs, payments: payments}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its status code. Errors without a kind are
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, kind.HTTPStatus(), model.ErrorResponse{Error: apperr.MessageOf(err), Code: string(kind)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidRequest, "invalid request body: "+err.Error(), err)
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.KindInvalidRequest, "invalid "+name)
	}
	return id, nil
}

// identity returns the caller; RequireIdentity guarantees it is present.
func identity(r *http.Request) model.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

// ─── Event catalogue ──────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	event, err := h.regs.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.regs.ListEvents(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	event, err := h.regs.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// Status handles GET /events/{id}/status
// Anonymous callers get a projection whose only action is LOGIN.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	eventID, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var caller *model.Identity
	if id, ok := IdentityFrom(r.Context()); ok {
		caller = &id
	}

	v, err := h.regs.Status(r.Context(), caller, eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// ─── Mutation gateway ─────────────────────────────────────────────────────────

// RegisterSolo handles POST /events/{id}/registrations
// An Idempotency-Key header makes retries return the original registration.
func (h *Handler) RegisterSolo(w http.ResponseWriter, r *http.Request) {
	eventID, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	reg, err := h.regs.RegisterSolo(r.Context(), identity(r), eventID, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// CreateTeam handles POST /events/{id}/teams
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	eventID, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req model.CreateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	team, err := h.regs.CreateTeam(r.Context(), identity(r), eventID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, team)
}

// JoinTeam handles POST /teams/join
func (h *Handler) JoinTeam(w http.ResponseWriter, r *http.Request) {
	var req model.JoinTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	team, err := h.regs.JoinTeam(r.Context(), identity(r), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, team)
}

// EditTeam handles PATCH /teams/{id}
func (h *Handler) EditTeam(w http.ResponseWriter, r *http.Request) {
	teamID, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var changes model.TeamChanges
	if err := decodeJSON(w, r, &changes); err != nil {
		writeError(w, r, err)
		return
	}

	team, err := h.regs.EditTeam(r.Context(), identity(r), teamID, changes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, team)
}

// ─── Payments ─────────────────────────────────────────────────────────────────

// CreateOrder handles POST /payments/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	order, err := h.payments.CreateOrder(r.Context(), identity(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// Webhook handles POST /payments/webhook
// The provider signs the callback fields; the signature arrives in X-Signature.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var cb model.ProviderCallback
	if err := decodeJSON(w, r, &cb); err != nil {
		writeError(w, r, err)
		return
	}
	cb.Signature = r.Header.Get("X-Signature")

	settlement, err := h.payments.Reconcile(r.Context(), cb)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, settlement)
}

// StubCheckout handles POST /pay/stub/{orderID}?outcome=success|failure
func (h *Handler) StubCheckout(w http.ResponseWriter, r *http.Request) {
	outcome := model.Outcome(r.URL.Query().Get("outcome"))
	if outcome == "" {
		outcome = model.OutcomeSuccess
	}

	settlement, err := h.payments.CompleteCheckout(r.Context(), chi.URLParam(r, "orderID"), outcome)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, settlement)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
