package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-gateway/internal/model"
	"github.com/mmeshcher/storefront-gateway/internal/session"
)

// Login выполняет вход через API и возвращает сессию для выпуска cookie.
func (s *Service) Login(ctx context.Context, creds model.Credentials) (session.Session, error) {
	res, err := s.backend.Login(ctx, creds)
	if err != nil {
		return session.Anonymous(), err
	}

	role := session.Role(res.Role)
	if !role.Valid() {
		return session.Anonymous(), fmt.Errorf("%w: %d", ErrInvalidRole, res.Role)
	}

	return session.Session{
		Role:     role,
		RoleName: res.RoleName,
		Token:    res.Token,
	}, nil
}

// Logout завершает сессию в API и удаляет снимок корзины.
// Ошибки API не мешают выходу: cookie очищаются в любом случае.
func (s *Service) Logout(ctx context.Context, sess session.Session) {
	owner, err := ownerKey(sess)
	if err != nil {
		return
	}

	if err := s.backend.Logout(ctx, sess.Token); err != nil {
		s.logger.Warn("backend logout failed", zap.Error(err))
	}

	if err := s.store.Delete(ctx, owner); err != nil {
		s.logger.Warn("delete cart snapshot failed", zap.Error(err))
	}
}

// Register регистрирует покупателя.
func (s *Service) Register(ctx context.Context, reg model.Registration) error {
	return s.backend.Register(ctx, reg)
}

// ForgotPassword запрашивает сброс пароля.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	return s.backend.ForgotPassword(ctx, email)
}

// Profile возвращает профиль пользователя сессии.
func (s *Service) Profile(ctx context.Context, sess session.Session) (*model.Profile, error) {
	if sess.Token == "" {
		return nil, ErrNoCredentials
	}
	return s.backend.Profile(ctx, sess.Token)
}

// Addresses возвращает адреса доставки пользователя сессии.
func (s *Service) Addresses(ctx context.Context, sess session.Session) ([]model.Address, error) {
	if sess.Token == "" {
		return nil, ErrNoCredentials
	}
	return s.backend.ListAddresses(ctx, sess.Token)
}

// Orders возвращает заказы пользователя сессии.
func (s *Service) Orders(ctx context.Context, sess session.Session) ([]model.Order, error) {
	if sess.Token == "" {
		return nil, ErrNoCredentials
	}
	return s.backend.ListOrders(ctx, sess.Token)
}
