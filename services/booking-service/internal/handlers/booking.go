// Package handlers exposes the booking arbiter over HTTP. Handlers parse
// and hand off; every scheduling decision, including validation of ids
// and windows, belongs to the arbiter so the HTTP and gRPC surfaces
// cannot drift apart.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prenotaly/prenotaly/libs/httpx"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/arbiter"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/model"
)

// Arbiter is the booking decision surface the HTTP layer calls into.
type Arbiter interface {
	CreateBooking(ctx context.Context, req arbiter.CreateRequest) (arbiter.CreateResult, error)
	RescheduleBooking(ctx context.Context, req arbiter.RescheduleRequest) (arbiter.RescheduleResult, error)
	CancelBooking(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error)
	ConfirmBooking(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error)
	CheckInBooking(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error)
	CompleteBooking(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error)
}

// AppointmentReader serves the read side, outside arbiter transactions.
type AppointmentReader interface {
	ListClientAppointments(ctx context.Context, tenantID, clientID string, from time.Time, limit int) ([]model.Appointment, error)
}

type BookingHandler struct {
	arbiter Arbiter
	reader  AppointmentReader
	logger  *slog.Logger
}

func NewBookingHandler(arb Arbiter, reader AppointmentReader, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{arbiter: arb, reader: reader, logger: logger}
}

type bookAppointmentRequest struct {
	TenantID  string `json:"tenant_id"`
	ClientID  string `json:"client_id"`
	ServiceID string `json:"service_id"`
	StaffID   string `json:"staff_id"`
	StartAt   string `json:"start_at"`
	EndAt     string `json:"end_at"`
	Source    string `json:"source"`
	Notes     string `json:"notes"`
}

type bookAppointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type rescheduleAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
	TenantID      string `json:"tenant_id"`
	StartAt       string `json:"start_at"`
	EndAt         string `json:"end_at"`
	Source        string `json:"source"`
}

type rescheduleAppointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	StartAt       string `json:"start_at"`
	EndAt         string `json:"end_at"`
}

type transitionAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
	TenantID      string `json:"tenant_id"`
	Source        string `json:"source"`
}

type transitionAppointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type listAppointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	StaffID       string `json:"staff_id"`
	StartAt       string `json:"start_at"`
	EndAt         string `json:"end_at"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid json body"))
		return
	}
	startAt, err := parseTimestamp("start_at", req.StartAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	endAt, err := parseTimestamp("end_at", req.EndAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.arbiter.CreateBooking(r.Context(), arbiter.CreateRequest{
		TenantID:       strings.TrimSpace(req.TenantID),
		ClientID:       strings.TrimSpace(req.ClientID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		StaffID:        strings.TrimSpace(req.StaffID),
		StartAt:        startAt,
		EndAt:          endAt,
		Source:         req.Source,
		Notes:          req.Notes,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, bookAppointmentResponse{AppointmentID: res.AppointmentID, Status: res.Status})
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid json body"))
		return
	}
	startAt, err := parseTimestamp("start_at", req.StartAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	endAt, err := parseTimestamp("end_at", req.EndAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.arbiter.RescheduleBooking(r.Context(), arbiter.RescheduleRequest{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		ClientID:      strings.TrimSpace(req.ClientID),
		TenantID:      strings.TrimSpace(req.TenantID),
		StartAt:       startAt,
		EndAt:         endAt,
		Source:        req.Source,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rescheduleAppointmentResponse{
		AppointmentID: res.AppointmentID,
		Status:        res.Status,
		StartAt:       res.StartAt.UTC().Format(time.RFC3339),
		EndAt:         res.EndAt.UTC().Format(time.RFC3339),
	})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.arbiter.CancelBooking)
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.arbiter.ConfirmBooking)
}

func (h *BookingHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.arbiter.CheckInBooking)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.arbiter.CompleteBooking)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, arbiter.TransitionRequest) (arbiter.TransitionResult, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transitionAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid json body"))
		return
	}

	res, err := apply(r.Context(), arbiter.TransitionRequest{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		ClientID:      strings.TrimSpace(req.ClientID),
		TenantID:      strings.TrimSpace(req.TenantID),
		Source:        req.Source,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, transitionAppointmentResponse{AppointmentID: res.AppointmentID, Status: res.Status})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
	if tenantID == "" {
		tenantID = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if tenantID == "" || clientID == "" {
		h.writeError(w, r, badRequest("tenant_id and client_id are required"))
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	from := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := parseTimestamp("from", raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		from = parsed
	}

	appts, err := h.reader.ListClientAppointments(r.Context(), tenantID, clientID, from, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]listAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, listAppointmentItem{
			AppointmentID: appt.ID,
			ServiceID:     appt.ServiceID,
			StaffID:       appt.StaffID,
			StartAt:       appt.StartAt.UTC().Format(time.RFC3339),
			EndAt:         appt.EndAt.UTC().Format(time.RFC3339),
			Status:        appt.Status,
			Notes:         appt.Notes,
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// writeError renders the arbiter's verdict. Unknown failures stay
// opaque: log the cause, answer 500.
func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := arbiter.FromError(err)
	if !ok {
		h.logger.Error("booking request failed",
			"err", err,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "Si è verificato un errore imprevisto.",
			Code:  "internal",
		})
		return
	}

	if ae.Kind == arbiter.KindTransient {
		h.logger.Warn("transient store failure",
			"err", ae.Unwrap(),
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
		)
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusForKind(ae.Kind), errorResponse{
		Error:  ae.Message,
		Code:   string(ae.Kind),
		Detail: ae.Detail,
	})
}

func statusForKind(kind arbiter.Kind) int {
	switch kind {
	case arbiter.KindInvalidInput:
		return http.StatusBadRequest
	case arbiter.KindSlotUnavailable:
		return http.StatusConflict
	case arbiter.KindNotFoundOrForbidden:
		return http.StatusNotFound
	case arbiter.KindInvalidState:
		return http.StatusUnprocessableEntity
	case arbiter.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func badRequest(detail string) error {
	return &arbiter.Error{
		Kind:    arbiter.KindInvalidInput,
		Message: arbiter.MsgInvalidInput,
		Detail:  detail,
	}
}

func parseTimestamp(field, value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, badRequest(field + " must be an RFC3339 timestamp")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
