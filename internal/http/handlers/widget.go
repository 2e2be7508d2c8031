// Package handlers exposes the booking widget's HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/halcyonwell/booking-widget/internal/catalog"
	"github.com/halcyonwell/booking-widget/internal/http/middleware"
	"github.com/halcyonwell/booking-widget/internal/identity"
	"github.com/halcyonwell/booking-widget/internal/mindbody"
	"github.com/halcyonwell/booking-widget/internal/wizard"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

// WidgetHandler serves the widget flow: catalog, availability, state
// transitions, auth and checkout.
type WidgetHandler struct {
	wizard   *wizard.Wizard
	identity *identity.Service
	logger   *logging.Logger
}

// NewWidgetHandler creates the widget API handler.
func NewWidgetHandler(wz *wizard.Wizard, id *identity.Service, logger *logging.Logger) *WidgetHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WidgetHandler{wizard: wz, identity: id, logger: logger}
}

// Health reports liveness.
// GET /health
func (h *WidgetHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListServices returns the bookable catalog as a stable-ordered list.
// GET /api/widget/services
func (h *WidgetHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	opts := catalog.ListOptions{}
	if v := r.URL.Query().Get("staffId"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			jsonError(w, "staffId must be an integer", http.StatusBadRequest)
			return
		}
		opts.StaffIDs = []int{id}
	}

	services, err := h.wizard.Services(r.Context(), opts)
	if err != nil {
		h.upstreamError(w, "list services", err)
		return
	}

	list := make([]*catalog.Service, 0, len(services))
	for _, svc := range services {
		list = append(list, svc)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"services": list})
}

// GetState returns the session's wizard state.
// GET /api/widget/state
func (h *WidgetHandler) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.wizard.State(r.Context(), middleware.SessionID(r.Context()))
	if err != nil {
		h.logger.Error("failed to load wizard state", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// commandEnvelope is the wire form of a wizard command. The type field
// selects one of a closed set; unknown types are rejected.
type commandEnvelope struct {
	Type      string                   `json:"type"`
	Service   *wizard.ServiceSelection `json:"service,omitempty"`
	StaffID   *int                     `json:"staffId,omitempty"`
	StaffName string                   `json:"staffName,omitempty"`
	Date      string                   `json:"date,omitempty"`
	Time      string                   `json:"time,omitempty"`
	LocalID   string                   `json:"localId,omitempty"`
}

func (env *commandEnvelope) command() (wizard.Command, error) {
	switch env.Type {
	case "selectService":
		if env.Service == nil {
			return nil, fmt.Errorf("selectService requires a service")
		}
		return wizard.SelectService{Service: *env.Service}, nil
	case "selectStaff":
		return wizard.SelectStaff{StaffID: env.StaffID, Name: env.StaffName}, nil
	case "selectDate":
		return wizard.SelectDate{Date: env.Date}, nil
	case "selectTime":
		return wizard.SelectTime{Time: env.Time}, nil
	case "addToCart":
		return wizard.AddToCart{}, nil
	case "removeCartItem":
		return wizard.RemoveCartItem{LocalID: env.LocalID}, nil
	case "bookAnother":
		return wizard.BookAnother{}, nil
	case "reset":
		return wizard.Reset{}, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", env.Type)
	}
}

// Dispatch applies one state transition and returns the updated state.
// POST /api/widget/commands
func (h *WidgetHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var env commandEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	cmd, err := env.command()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	st, err := h.wizard.Dispatch(r.Context(), middleware.SessionID(r.Context()), cmd)
	if err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Dates returns bookable dates for the selected service.
// GET /api/widget/dates?start=2006-01-02&end=2006-01-02
func (h *WidgetHandler) Dates(w http.ResponseWriter, r *http.Request) {
	start, err := parseDateParam(r, "start", time.Now().UTC())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseDateParam(r, "end", start.AddDate(0, 0, 30))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	dates, err := h.wizard.Dates(r.Context(), middleware.SessionID(r.Context()), start, end)
	if err != nil {
		h.upstreamError(w, "fetch dates", err)
		return
	}
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format("2006-01-02"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": out})
}

// Times picks a date and returns its open slots.
// GET /api/widget/times?date=2006-01-02
func (h *WidgetHandler) Times(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		jsonError(w, "date is required", http.StatusBadRequest)
		return
	}

	times, err := h.wizard.Times(r.Context(), middleware.SessionID(r.Context()), date)
	if err != nil {
		if errors.Is(err, wizard.ErrStaleFetch) {
			// The visitor already moved on; nothing to render.
			writeJSON(w, http.StatusOK, map[string]any{"times": []string{}, "stale": true})
			return
		}
		h.upstreamError(w, "fetch times", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"times": times})
}

// Promo validates a promo code and applies its discount.
// POST /api/widget/promo
func (h *WidgetHandler) Promo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	st, err := h.wizard.ApplyPromo(r.Context(), middleware.SessionID(r.Context()), req.Code)
	if err != nil {
		if errors.Is(err, wizard.ErrInvalidPromo) {
			jsonError(w, "invalid promo code", http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("failed to apply promo", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type authResponse struct {
	Token string         `json:"token"`
	User  *identity.User `json:"user"`
	State *wizard.State  `json:"state"`
}

// Login authenticates a returning visitor and advances the wizard.
// POST /api/widget/auth/login
func (h *WidgetHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	user, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			jsonError(w, "invalid email or password", http.StatusUnauthorized)
			return
		}
		h.logger.Error("login failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.completeAuth(w, r, user)
}

// Register creates an account and advances the wizard.
// POST /api/widget/auth/register
func (h *WidgetHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Phone     string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	user, err := h.identity.Register(r.Context(), identity.Registration{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			jsonError(w, "an account already exists for this email", http.StatusConflict)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.completeAuth(w, r, user)
}

func (h *WidgetHandler) completeAuth(w http.ResponseWriter, r *http.Request, user *identity.User) {
	token, err := h.identity.IssueSession(user)
	if err != nil {
		h.logger.Error("failed to issue session token", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	st, err := h.wizard.Dispatch(r.Context(), middleware.SessionID(r.Context()), wizard.MarkAuthenticated{User: user})
	if err != nil {
		h.logger.Error("failed to mark session authenticated", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user, State: st})
}

// Me resolves the bearer token to its user.
// GET /api/widget/auth/me
func (h *WidgetHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.CurrentUser(r.Context(), bearerToken(r))
	if err != nil {
		h.logger.Error("failed to resolve current user", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		jsonError(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type checkoutResponse struct {
	Booked []mindbody.AppointmentConfirmation `json:"booked"`
	Failed []checkoutFailure                  `json:"failed"`
	State  *wizard.State                      `json:"state"`
}

type checkoutFailure struct {
	ServiceName   string `json:"serviceName"`
	StartDateTime string `json:"startDateTime"`
	Error         string `json:"error"`
}

// Checkout books the whole cart. Partial failure is reported per
// appointment with a 200, not treated as a request failure.
// POST /api/widget/checkout
func (h *WidgetHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payment *mindbody.PaymentInfo `json:"payment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	result, st, err := h.wizard.Checkout(r.Context(), middleware.SessionID(r.Context()), req.Payment)
	if err != nil {
		switch {
		case errors.Is(err, wizard.ErrNotAuthenticated):
			jsonError(w, "authentication required", http.StatusUnauthorized)
		case errors.Is(err, wizard.ErrEmptyCart):
			jsonError(w, "cart is empty", http.StatusBadRequest)
		case errors.Is(err, wizard.ErrSlotUnavailable):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			h.upstreamError(w, "checkout", err)
		}
		return
	}

	resp := checkoutResponse{Booked: result.Successful, Failed: []checkoutFailure{}, State: st}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, checkoutFailure{
			ServiceName:   f.Appointment.ServiceName,
			StartDateTime: f.Appointment.StartDateTime.Format(time.RFC3339),
			Error:         f.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// upstreamError maps gateway error kinds onto response codes: local
// validation stays a 400, everything upstream-shaped becomes a 502.
func (h *WidgetHandler) upstreamError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("upstream call failed", "op", op, "error", err)
	switch mindbody.ErrorKindOf(err) {
	case mindbody.ErrKindValidation:
		jsonError(w, err.Error(), http.StatusBadRequest)
	case mindbody.ErrKindNetwork, mindbody.ErrKindUpstream, mindbody.ErrKindAuth, mindbody.ErrKindEmptyResponse:
		jsonError(w, "scheduling service is unavailable, please retry", http.StatusBadGateway)
	default:
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func parseDateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseInLocation("2006-01-02", v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD", name)
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
