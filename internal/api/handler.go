package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// VerificationService is the set of operations the API exposes.
// *verification.Service satisfies it.
type VerificationService interface {
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error)

	RegisterBeneficiary(ctx context.Context, req domain.BeneficiaryRequest) (*domain.Beneficiary, error)
	GetBeneficiary(ctx context.Context, cardNumber string) (*domain.Beneficiary, error)
	ListBeneficiaries(ctx context.Context, status domain.BeneficiaryStatus, limit int) ([]*domain.Beneficiary, error)
	SetBeneficiaryStatus(ctx context.Context, cardNumber string, status domain.BeneficiaryStatus) (*domain.Beneficiary, error)
	ReenrollBeneficiary(ctx context.Context, cardNumber, encodedImage string) (*domain.Beneficiary, error)

	ListTransactions(ctx context.Context, shopID string, status domain.TransactionStatus, limit int) ([]*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	ListAlerts(ctx context.Context, q domain.AlertQuery) ([]*domain.Alert, error)
	ReviewAlert(ctx context.Context, alertID string, status domain.AlertStatus, reviewerID string) error

	RegisterShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)
	ListShops(ctx context.Context) ([]*domain.Shop, error)

	CreateCycle(ctx context.Context, name string, startsAt, endsAt time.Time) (*domain.DistributionCycle, error)
	ActivateCycle(ctx context.Context, id string) error
	CloseCycle(ctx context.Context, id string) error
	ListCycles(ctx context.Context) ([]*domain.DistributionCycle, error)

	DashboardStats(ctx context.Context) (*domain.DashboardStats, error)
	Ping(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     VerificationService
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler. cache and bus may be nil.
func NewHandler(svc VerificationService, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// StatusRequest is the request body for PUT /api/beneficiaries/{card}/status.
type StatusRequest struct {
	Status domain.BeneficiaryStatus `json:"status"`
}

// FaceRequest is the request body for PUT /api/beneficiaries/{card}/face.
type FaceRequest struct {
	FaceImage string `json:"face_image_base64"`
}

// CycleRequest is the request body for POST /api/cycles.
type CycleRequest struct {
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// Root identifies the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "RationGuard API",
		"version": h.version,
		"status":  "active",
	})
}

// Health returns the health status of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if err := h.svc.Ping(r.Context()); err != nil {
		status = "degraded"
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
// The store is the only hard dependency.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Verify handles POST /api/verify.
// An unknown card or failed face match is a 200 with success=false.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	result, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RegisterBeneficiary handles POST /api/beneficiaries.
func (h *Handler) RegisterBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req domain.BeneficiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	ben, err := h.svc.RegisterBeneficiary(r.Context(), req)
	if errors.Is(err, domain.ErrDuplicateCard) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Card number already registered",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "Beneficiary registered successfully",
		"beneficiary": ben,
	})
}

// ListBeneficiaries handles GET /api/beneficiaries.
func (h *Handler) ListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	status := domain.BeneficiaryStatus(r.URL.Query().Get("status"))
	out, err := h.svc.ListBeneficiaries(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// GetBeneficiary handles GET /api/beneficiaries/{card}.
func (h *Handler) GetBeneficiary(w http.ResponseWriter, r *http.Request) {
	ben, err := h.svc.GetBeneficiary(r.Context(), chi.URLParam(r, "card"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Beneficiary not found",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ben)
}

// SetBeneficiaryStatus handles PUT /api/beneficiaries/{card}/status.
func (h *Handler) SetBeneficiaryStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	ben, err := h.svc.SetBeneficiaryStatus(r.Context(), chi.URLParam(r, "card"), req.Status)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Beneficiary not found",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ben)
}

// ReenrollBeneficiary handles PUT /api/beneficiaries/{card}/face.
func (h *Handler) ReenrollBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req FaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	ben, err := h.svc.ReenrollBeneficiary(r.Context(), chi.URLParam(r, "card"), req.FaceImage)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Beneficiary not found",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ben)
}

// ListTransactions handles GET /api/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	out, err := h.svc.ListTransactions(r.Context(), q.Get("shop_id"), domain.TransactionStatus(q.Get("status")), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// GetTransaction handles GET /api/transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Transaction not found",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListAlerts handles GET /api/alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	out, err := h.svc.ListAlerts(r.Context(), domain.AlertQuery{
		Status:   domain.AlertStatus(q.Get("status")),
		Severity: domain.Severity(q.Get("severity")),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// ReviewAlert handles PUT /api/alerts/{id}/review?status=&reviewed_by=.
func (h *Handler) ReviewAlert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.svc.ReviewAlert(r.Context(), chi.URLParam(r, "id"), domain.AlertStatus(q.Get("status")), q.Get("reviewed_by"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Alert not found",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Alert reviewed successfully",
	})
}

// RegisterShop handles POST /api/shops.
func (h *Handler) RegisterShop(w http.ResponseWriter, r *http.Request) {
	var req domain.Shop
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	shop, err := h.svc.RegisterShop(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, shop)
}

// ListShops handles GET /api/shops.
func (h *Handler) ListShops(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListShops(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateCycle handles POST /api/cycles.
func (h *Handler) CreateCycle(w http.ResponseWriter, r *http.Request) {
	var req CycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	c, err := h.svc.CreateCycle(r.Context(), req.Name, req.StartsAt, req.EndsAt)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// ListCycles handles GET /api/cycles.
func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListCycles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ActivateCycle handles POST /api/cycles/{id}/activate.
func (h *Handler) ActivateCycle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.ActivateCycle(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(domain.CycleActive),
	})
}

// CloseCycle handles POST /api/cycles/{id}/close.
func (h *Handler) CloseCycle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.CloseCycle(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(domain.CycleClosed),
	})
}

// DashboardStats handles GET /api/dashboard/stats.
func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.DashboardStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseLimit reads the optional limit query parameter. Zero means the service default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "limit must be a non-negative integer",
		})
		return 0, false
	}
	return limit, true
}

// statusFor maps the domain error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error body. Internal errors are logged and not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		} else {
			msg = "service temporarily unavailable"
		}
	}
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
