package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/storefront-gateway/internal/cart"
	"github.com/mmeshcher/storefront-gateway/internal/service"
	"github.com/mmeshcher/storefront-gateway/internal/validation"
)

const (
	checkoutHistoryLimit = 20

	idempotencyKeyHeader = "Idempotency-Key"
)

// GetCart возвращает строки корзины, группы продавцов и итоги.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	view, err := h.service.Cart(r.Context(), currentSession(r), refresh)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetTotals возвращает итоги по выбранным строкам.
func (h *Handler) GetTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.Totals(r.Context(), currentSession(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

// UpdateQuantity меняет количество строки.
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineIDParam(w, r)
	if !ok {
		return
	}

	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	view, err := h.service.SetQuantity(r.Context(), currentSession(r), lineID, *req.Quantity)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type selectionRequest struct {
	Selected *bool `json:"selected"`
}

func decodeSelection(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Selected == nil {
		respondError(w, http.StatusBadRequest, "selected is required")
		return false, false
	}
	return *req.Selected, true
}

// UpdateSelection включает или исключает строку из итогов.
func (h *Handler) UpdateSelection(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineIDParam(w, r)
	if !ok {
		return
	}

	selected, ok := decodeSelection(w, r)
	if !ok {
		return
	}

	view, err := h.service.SetSelection(r.Context(), currentSession(r), lineID, selected)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// SelectAll задаёт выбор для всех строк.
func (h *Handler) SelectAll(w http.ResponseWriter, r *http.Request) {
	selected, ok := decodeSelection(w, r)
	if !ok {
		return
	}

	view, err := h.service.SetSelectAll(r.Context(), currentSession(r), selected)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// DeleteLine удаляет строку корзины.
func (h *Handler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.service.RemoveLine(r.Context(), currentSession(r), lineID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type checkoutRequest struct {
	AddressID string `json:"address_id"`
	Shipping  int64  `json:"shipping"`
	Discount  int64  `json:"discount"`
}

// Checkout оформляет заказ из выбранных строк.
// Повтор с тем же заголовком Idempotency-Key не создаёт второй заказ.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key != "" && !validation.IsValidIdempotencyKey(key) {
		respondError(w, http.StatusBadRequest, "invalid idempotency key")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	req.AddressID = strings.TrimSpace(req.AddressID)
	if req.AddressID == "" {
		respondError(w, http.StatusBadRequest, "address_id is required")
		return
	}
	if req.Shipping < 0 || req.Discount < 0 {
		respondError(w, http.StatusBadRequest, "shipping and discount must not be negative")
		return
	}

	order, err := h.service.Checkout(r.Context(), currentSession(r), service.CheckoutRequest{
		AddressID: req.AddressID,
		Adjustments: cart.Adjustments{
			Shipping: req.Shipping,
			Discount: req.Discount,
		},
		IdempotencyKey: key,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

type checkoutResponse struct {
	OrderID   string `json:"order_id"`
	Total     int64  `json:"total"`
	CreatedAt string `json:"created_at"`
}

// CheckoutHistory возвращает последние оформления текущей сессии.
func (h *Handler) CheckoutHistory(w http.ResponseWriter, r *http.Request) {
	checkouts, err := h.service.Checkouts(r.Context(), currentSession(r), checkoutHistoryLimit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if len(checkouts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]checkoutResponse, 0, len(checkouts))
	for _, c := range checkouts {
		resp = append(resp, checkoutResponse{
			OrderID:   c.OrderID,
			Total:     c.Total,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func lineIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "lineID")
	if !validation.IsValidLineID(id) {
		respondError(w, http.StatusBadRequest, "invalid line id")
		return "", false
	}
	return id, true
}
