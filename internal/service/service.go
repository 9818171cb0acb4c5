// Package service реализует логику корзины и оформления заказа поверх REST API маркетплейса.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-gateway/internal/cart"
	"github.com/mmeshcher/storefront-gateway/internal/model"
	"github.com/mmeshcher/storefront-gateway/internal/repository"
	"github.com/mmeshcher/storefront-gateway/internal/session"
)

var (
	// ErrLineBusy возвращается, пока предыдущее изменение строки ожидает ответа API.
	ErrLineBusy = errors.New("cart line has a pending update")
	// ErrNoCredentials возвращается для сессии без токена API.
	ErrNoCredentials = errors.New("session has no backend credentials")
	// ErrInvalidRole возвращается, если API вернул неизвестную роль.
	ErrInvalidRole = errors.New("backend returned unknown role")
)

// Backend описывает вызовы REST API маркетплейса, используемые сервисом.
type Backend interface {
	Login(ctx context.Context, creds model.Credentials) (*model.LoginResult, error)
	Register(ctx context.Context, reg model.Registration) error
	ForgotPassword(ctx context.Context, email string) error
	Logout(ctx context.Context, token string) error
	Profile(ctx context.Context, token string) (*model.Profile, error)
	ListCart(ctx context.Context, token string) ([]cart.Line, error)
	UpdateQuantity(ctx context.Context, token, lineID string, quantity int) error
	UpdateSelection(ctx context.Context, token, lineID string, selected bool) error
	SelectAll(ctx context.Context, token string, selected bool) error
	DeleteLine(ctx context.Context, token, lineID string) error
	ListAddresses(ctx context.Context, token string) ([]model.Address, error)
	CreateOrder(ctx context.Context, token string, req model.OrderRequest) (*model.Order, error)
	ListOrders(ctx context.Context, token string) ([]model.Order, error)
}

// Store хранилище снимков корзины.
type Store interface {
	Load(ctx context.Context, ownerKey string) (cart.Snapshot, error)
	Save(ctx context.Context, ownerKey string, s cart.Snapshot) error
	Delete(ctx context.Context, ownerKey string) error
}

// Repository хранилище журнала оформлений и очистки устаревших снимков.
type Repository interface {
	Close() error
	DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error)
	RecordCheckout(ctx context.Context, c repository.Checkout) error
	ListCheckouts(ctx context.Context, ownerKey string, limit int) ([]repository.Checkout, error)
}

// Service содержит логику корзины и учётной записи.
type Service struct {
	backend Backend
	store   Store
	repo    Repository
	logger  *zap.Logger
	locks   *locker
}

// NewService создаёт сервис. store может быть кэширующей обёрткой над repo.
func NewService(backend Backend, store Store, repo Repository, logger *zap.Logger) *Service {
	return &Service{
		backend: backend,
		store:   store,
		repo:    repo,
		logger:  logger,
		locks:   newLocker(),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// StartSnapshotCleanup периодически удаляет снимки корзин, не менявшиеся дольше maxAge.
func (s *Service) StartSnapshotCleanup(ctx context.Context, interval, maxAge time.Duration) {
	if s.repo == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.repo.DeleteStale(ctx, maxAge)
			if err != nil {
				s.logger.Warn("stale cart cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("stale carts removed", zap.Int64("count", n))
			}
		}
	}
}

func ownerKey(sess session.Session) (string, error) {
	if sess.Token == "" {
		return "", ErrNoCredentials
	}
	sum := sha256.Sum256([]byte(sess.Token))
	return hex.EncodeToString(sum[:]), nil
}
