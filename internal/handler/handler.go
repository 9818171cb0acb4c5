// Package handler содержит HTTP-обработчики витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-gateway/internal/backend"
	"github.com/mmeshcher/storefront-gateway/internal/cart"
	"github.com/mmeshcher/storefront-gateway/internal/gate"
	"github.com/mmeshcher/storefront-gateway/internal/model"
	"github.com/mmeshcher/storefront-gateway/internal/repository"
	"github.com/mmeshcher/storefront-gateway/internal/service"
	"github.com/mmeshcher/storefront-gateway/internal/session"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, creds model.Credentials) (session.Session, error)
	Logout(ctx context.Context, sess session.Session)
	Register(ctx context.Context, reg model.Registration) error
	ForgotPassword(ctx context.Context, email string) error
	Profile(ctx context.Context, sess session.Session) (*model.Profile, error)
	Addresses(ctx context.Context, sess session.Session) ([]model.Address, error)
	Orders(ctx context.Context, sess session.Session) ([]model.Order, error)

	Cart(ctx context.Context, sess session.Session, refresh bool) (*service.CartView, error)
	Totals(ctx context.Context, sess session.Session) (cart.Totals, error)
	SetQuantity(ctx context.Context, sess session.Session, lineID string, quantity int) (*service.CartView, error)
	SetSelection(ctx context.Context, sess session.Session, lineID string, selected bool) (*service.CartView, error)
	SetSelectAll(ctx context.Context, sess session.Session, selected bool) (*service.CartView, error)
	RemoveLine(ctx context.Context, sess session.Session, lineID string) (*service.CartView, error)
	Checkout(ctx context.Context, sess session.Session, req service.CheckoutRequest) (*model.Order, error)
	Checkouts(ctx context.Context, sess session.Session, limit int) ([]repository.Checkout, error)
}

// Handler реализует HTTP-обработчики витрины.
type Handler struct {
	service    Service
	logger     *zap.Logger
	classifier *session.Classifier
	gate       *gate.Gate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, classifier *session.Classifier, g *gate.Gate) *Handler {
	return &Handler{
		service:    s,
		logger:     logger,
		classifier: classifier,
		gate:       g,
	}
}

func currentSession(r *http.Request) session.Session {
	s, ok := session.FromContext(r.Context())
	if !ok {
		return session.Anonymous()
	}
	return s
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.Envelope[any]{
		Status: model.StatusSuccess,
		Data:   data,
	})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.Envelope[any]{
		Status:  model.StatusError,
		Message: message,
	})
}

// handleError переводит ошибку сервиса в ответ. Ошибки проверки и API показываются клиенту как есть.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *cart.ValidationError
	var remote *backend.RemoteError

	switch {
	case errors.As(err, &vErr):
		respondError(w, http.StatusUnprocessableEntity, vErr.Error())
	case errors.Is(err, cart.ErrNoItemsSelected):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, cart.ErrLineNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrLineBusy):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoCredentials), errors.Is(err, backend.ErrUnauthorized):
		h.classifier.Clear(w)
		respondError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	case errors.As(err, &remote):
		h.logger.Warn("backend call failed", zap.Error(err), zap.String("path", r.URL.Path))
		status := http.StatusBadGateway
		if remote.StatusCode >= 400 && remote.StatusCode < 500 {
			status = remote.StatusCode
		}
		msg := remote.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		respondError(w, status, msg)
	default:
		h.logger.Error("request failed", zap.Error(err), zap.String("path", r.URL.Path))
		respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

type pageResponse struct {
	Path     string `json:"path"`
	Role     string `json:"role,omitempty"`
	RoleName string `json:"role_name,omitempty"`
	Home     string `json:"home,omitempty"`
}

// Page отвечает на навигацию к странице, уже пропущенной Gate.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)

	resp := pageResponse{Path: r.URL.Path}
	if s.Authenticated() {
		resp.Role = s.Role.String()
		resp.RoleName = s.RoleName
		resp.Home = s.Role.Home()
	}

	respondJSON(w, http.StatusOK, resp)
}

type decisionResponse struct {
	Action   string `json:"action"`
	Location string `json:"location,omitempty"`
}

// Authorize возвращает решение Gate для пути из параметра path без выполнения перенаправления.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	d := h.gate.Decide(path, h.classifier.FromRequest(r))
	respondJSON(w, http.StatusOK, decisionResponse{
		Action:   d.Action.String(),
		Location: d.Location,
	})
}
