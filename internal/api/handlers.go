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

	"github.com/maltedev/size-stock-monitor/internal/catalog"
	"github.com/maltedev/size-stock-monitor/internal/models"
	"github.com/maltedev/size-stock-monitor/internal/monitor"
	"github.com/maltedev/size-stock-monitor/internal/tracker"
)

// Tracker is the command surface served over HTTP.
type Tracker interface {
	AddProduct(ctx context.Context, scope, store, url string, sizes ...string) (models.Product, int, error)
	ListProducts(scope string) []models.Product
	RemoveProduct(scope string, index int) (models.Product, error)
	ProductChecks(ctx context.Context, scope string, index, limit int) ([]models.CheckRecord, error)
	StartMonitoring() bool
	Status() monitor.Status
	Stores() []tracker.StoreInfo
}

type Handlers struct {
	tracker Tracker
	logger  *slog.Logger
}

func NewHandlers(t Tracker, logger *slog.Logger) *Handlers {
	return &Handlers{
		tracker: t,
		logger:  logger.With("component", "api"),
	}
}

// AddProductRequest represents a new tracking request
type AddProductRequest struct {
	Store string   `json:"store"`
	URL   string   `json:"url"`
	Sizes []string `json:"sizes"`
}

// ProductResponse is a tracked product together with its 1-based list position
type ProductResponse struct {
	Index         int        `json:"index"`
	ID            string     `json:"id"`
	Store         string     `json:"store"`
	URL           string     `json:"url"`
	Sizes         []string   `json:"sizes"`
	Name          string     `json:"name"`
	Price         string     `json:"price,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	AddedAt       time.Time  `json:"added_at"`
}

func toResponse(index int, p models.Product) ProductResponse {
	return ProductResponse{
		Index:         index,
		ID:            p.ID,
		Store:         p.Store.DisplayName(),
		URL:           p.URL,
		Sizes:         p.Sizes,
		Name:          p.DisplayName(),
		Price:         p.Price,
		LastCheckedAt: p.LastCheckedAt,
		AddedAt:       p.AddedAt,
	}
}

// AddProduct handles POST /channels/{channel}/products
func (h *Handlers) AddProduct(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	var req AddProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, index, err := h.tracker.AddProduct(r.Context(), channel, req.Store, req.URL, req.Sizes...)
	if err != nil {
		h.respondCommandError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, toResponse(index, product))
}

// ListProducts handles GET /channels/{channel}/products
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products := h.tracker.ListProducts(chi.URLParam(r, "channel"))

	resp := make([]ProductResponse, len(products))
	for i, p := range products {
		resp[i] = toResponse(i+1, p)
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// RemoveProduct handles DELETE /channels/{channel}/products/{index}
func (h *Handlers) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "index must be a number")
		return
	}

	removed, err := h.tracker.RemoveProduct(chi.URLParam(r, "channel"), index)
	if err != nil {
		h.respondCommandError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, toResponse(index, removed))
}

// CheckResponse is one recorded stock check
type CheckResponse struct {
	AvailableSizes []string  `json:"available_sizes"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// ProductChecks handles GET /channels/{channel}/products/{index}/checks
func (h *Handlers) ProductChecks(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "index must be a number")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 200 {
			h.respondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
	}

	records, err := h.tracker.ProductChecks(r.Context(), chi.URLParam(r, "channel"), index, limit)
	if err != nil {
		h.respondCommandError(w, err)
		return
	}

	resp := make([]CheckResponse, len(records))
	for i, rec := range records {
		sizes := []string(rec.AvailableSizes)
		if sizes == nil {
			sizes = []string{}
		}
		resp[i] = CheckResponse{AvailableSizes: sizes, Error: rec.Error, CheckedAt: rec.CheckedAt}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// ListStores handles GET /stores
func (h *Handlers) ListStores(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.tracker.Stores())
}

// GetStatus handles GET /monitor
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.tracker.Status())
}

// StartMonitor handles POST /monitor/start
func (h *Handlers) StartMonitor(w http.ResponseWriter, r *http.Request) {
	started := h.tracker.StartMonitoring()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"started": started,
		"status":  h.tracker.Status(),
	})
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.tracker.Status()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"monitor":  status.State,
		"products": status.Products,
	})
}

// respondCommandError maps user-facing command errors to status codes.
// They are reported back to the caller, not logged as failures.
func (h *Handlers) respondCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrInvalidInput):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrIndexOutOfRange):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrDuplicateProduct):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tracker.ErrHistoryDisabled):
		h.respondError(w, http.StatusNotImplemented, err.Error())
	default:
		h.logger.Error("command failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
