package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mmeshcher/storefront-gateway/internal/backend"
	"github.com/mmeshcher/storefront-gateway/internal/model"
	"github.com/mmeshcher/storefront-gateway/internal/validation"
)

type loginResponse struct {
	Role     string `json:"role"`
	RoleName string `json:"role_name"`
	Home     string `json:"home"`
}

// Login выполняет вход через API маркетплейса и устанавливает cookie сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	sess, err := h.service.Login(r.Context(), req)
	if err != nil {
		var remote *backend.RemoteError
		if errors.Is(err, backend.ErrUnauthorized) ||
			(errors.As(err, &remote) && remote.StatusCode >= 400 && remote.StatusCode < 500) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.handleError(w, r, err)
		return
	}

	h.classifier.Issue(w, sess.Role, sess.RoleName, sess.Token)
	respondJSON(w, http.StatusOK, loginResponse{
		Role:     sess.Role.String(),
		RoleName: sess.RoleName,
		Home:     sess.Role.Home(),
	})
}

// Logout завершает сессию и очищает cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), currentSession(r))
	h.classifier.Clear(w)
	respondJSON(w, http.StatusOK, nil)
}

// Register регистрирует нового покупателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	switch {
	case req.Name == "":
		respondError(w, http.StatusBadRequest, "name is required")
		return
	case !validation.IsValidEmail(req.Email):
		respondError(w, http.StatusBadRequest, "invalid email")
		return
	case !validation.IsValidPhoneNumber(req.Phone):
		respondError(w, http.StatusBadRequest, "invalid phone number")
		return
	case !validation.IsValidPassword(req.Password):
		respondError(w, http.StatusBadRequest, "password must be at least 8 characters with letters and digits")
		return
	}

	if err := h.service.Register(r.Context(), req); err != nil {
		h.handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, nil)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword запрашивает письмо для сброса пароля.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if !validation.IsValidEmail(strings.TrimSpace(req.Email)) {
		respondError(w, http.StatusBadRequest, "invalid email")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		// Ответ не раскрывает, зарегистрирован ли адрес.
		var remote *backend.RemoteError
		if errors.As(err, &remote) && remote.StatusCode == http.StatusNotFound {
			respondJSON(w, http.StatusAccepted, nil)
			return
		}
		h.handleError(w, r, err)
		return
	}

	h.logger.Debug("password reset requested")
	respondJSON(w, http.StatusAccepted, nil)
}

// Profile возвращает профиль текущего пользователя.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Profile(r.Context(), currentSession(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// Addresses возвращает адреса доставки текущего пользователя.
func (h *Handler) Addresses(w http.ResponseWriter, r *http.Request) {
	addresses, err := h.service.Addresses(r.Context(), currentSession(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if addresses == nil {
		addresses = []model.Address{}
	}
	respondJSON(w, http.StatusOK, addresses)
}

// Orders возвращает заказы текущего пользователя, при заданном ?status= только с этим статусом.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	var status model.OrderStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st, ok := model.ParseOrderStatus(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown order status")
			return
		}
		status = st
	}

	orders, err := h.service.Orders(r.Context(), currentSession(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	respondJSON(w, http.StatusOK, out)
}
