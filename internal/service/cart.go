package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-gateway/internal/cart"
	"github.com/mmeshcher/storefront-gateway/internal/model"
	"github.com/mmeshcher/storefront-gateway/internal/repository"
	"github.com/mmeshcher/storefront-gateway/internal/session"
)

// CartView состояние корзины для ответа клиенту.
type CartView struct {
	Lines  []cart.Line  `json:"lines"`
	Groups []cart.Group `json:"groups"`
	Totals cart.Totals  `json:"totals"`
}

func newView(c *cart.Cart) *CartView {
	return &CartView{
		Lines:  c.Lines(),
		Groups: c.Groups(),
		Totals: c.ComputeTotals(),
	}
}

// CheckoutRequest параметры оформления заказа.
type CheckoutRequest struct {
	AddressID   string
	Adjustments cart.Adjustments
	// IdempotencyKey ключ клиента. Пустой ключ выводится из состояния корзины.
	IdempotencyKey string
}

// Cart возвращает корзину сессии. При refresh снимок перечитывается из API.
func (s *Service) Cart(ctx context.Context, sess session.Session, refresh bool) (*CartView, error) {
	owner, err := ownerKey(sess)
	if err != nil {
		return nil, err
	}

	ol := s.locks.acquire(owner)
	defer s.locks.release(owner, ol)

	ol.Lock()
	defer ol.Unlock()

	var c *cart.Cart
	if refresh {
		c, err = s.fetch(ctx, sess, owner)
	} else {
		c, err = s.load(ctx, sess, owner)
	}
	if err != nil {
		return nil, err
	}
	return newView(c), nil
}

// Totals возвращает итоги по выбранным строкам.
func (s *Service) Totals(ctx context.Context, sess session.Session) (cart.Totals, error) {
	view, err := s.Cart(ctx, sess, false)
	if err != nil {
		return cart.Totals{}, err
	}
	return view.Totals, nil
}

// SetQuantity меняет количество строки и сохраняет его в API.
func (s *Service) SetQuantity(ctx context.Context, sess session.Session, lineID string, quantity int) (*CartView, error) {
	return s.mutateLine(ctx, sess, lineID,
		func(c *cart.Cart) error { return c.SetQuantity(lineID, quantity) },
		func(ctx context.Context) error { return s.backend.UpdateQuantity(ctx, sess.Token, lineID, quantity) },
		restoreLine,
	)
}

// SetSelection включает или исключает строку из итогов.
func (s *Service) SetSelection(ctx context.Context, sess session.Session, lineID string, selected bool) (*CartView, error) {
	return s.mutateLine(ctx, sess, lineID,
		func(c *cart.Cart) error { return c.SetSelection(lineID, selected) },
		func(ctx context.Context) error { return s.backend.UpdateSelection(ctx, sess.Token, lineID, selected) },
		restoreLine,
	)
}

// RemoveLine удаляет строку.
func (s *Service) RemoveLine(ctx context.Context, sess session.Session, lineID string) (*CartView, error) {
	return s.mutateLine(ctx, sess, lineID,
		func(c *cart.Cart) error { return c.RemoveLine(lineID) },
		func(ctx context.Context) error { return s.backend.DeleteLine(ctx, sess.Token, lineID) },
		func(c *cart.Cart, prev cart.Line, pos int) bool { return c.ReinsertLine(prev, pos) },
	)
}

// undoFunc откатывает одну строку. Возвращает false для устаревшего отката.
type undoFunc func(c *cart.Cart, prev cart.Line, pos int) bool

func restoreLine(c *cart.Cart, prev cart.Line, _ int) bool {
	return c.RestoreLine(prev)
}

// SetSelectAll задаёт выбор всех строк.
func (s *Service) SetSelectAll(ctx context.Context, sess session.Session, selected bool) (*CartView, error) {
	owner, err := ownerKey(sess)
	if err != nil {
		return nil, err
	}

	ol := s.locks.acquire(owner)
	defer s.locks.release(owner, ol)

	if !s.locks.begin(ol, allLines) {
		return nil, ErrLineBusy
	}
	defer s.locks.end(ol, allLines)

	ol.Lock()
	c, err := s.load(ctx, sess, owner)
	if err != nil {
		ol.Unlock()
		return nil, err
	}

	prev := c.Lines()
	gen := c.Generation()
	c.SetSelectAll(selected)
	if err := s.store.Save(ctx, owner, c.Snapshot()); err != nil {
		ol.Unlock()
		return nil, fmt.Errorf("save cart: %w", err)
	}
	view := newView(c)
	ol.Unlock()

	if err := s.backend.SelectAll(ctx, sess.Token, selected); err != nil {
		s.rollback(ctx, sess, owner, ol, gen, prev)
		return nil, err
	}
	return view, nil
}

// Checkout создаёт заказ из выбранных строк и удаляет их из корзины.
func (s *Service) Checkout(ctx context.Context, sess session.Session, req CheckoutRequest) (*model.Order, error) {
	owner, err := ownerKey(sess)
	if err != nil {
		return nil, err
	}

	ol := s.locks.acquire(owner)
	defer s.locks.release(owner, ol)

	if !s.locks.begin(ol, allLines) {
		return nil, ErrLineBusy
	}
	defer s.locks.end(ol, allLines)

	ol.Lock()
	c, err := s.load(ctx, sess, owner)
	if err != nil {
		ol.Unlock()
		return nil, err
	}

	selected, err := c.Checkout()
	if err != nil {
		ol.Unlock()
		return nil, err
	}

	c.SetAdjustments(req.Adjustments)
	totals := c.ComputeTotals()
	gen := c.Generation()
	ol.Unlock()

	key := req.IdempotencyKey
	if key == "" {
		key = checkoutKey(owner, gen, req, selected)
	}

	orderReq := model.OrderRequest{
		IdempotencyKey: key,
		AddressID:      req.AddressID,
		Items:          make([]model.OrderItem, 0, len(selected)),
		Shipping:       totals.Shipping,
		Discount:       totals.Discount,
		Total:          totals.Total,
	}
	for _, l := range selected {
		orderReq.Items = append(orderReq.Items, model.OrderItem{
			CartLineID: l.ID,
			ProductID:  l.ProductID,
			Quantity:   l.Quantity,
			Price:      l.Price,
		})
	}

	order, err := s.backend.CreateOrder(ctx, sess.Token, orderReq)
	if err != nil {
		return nil, err
	}

	ol.Lock()
	if c, err := s.load(ctx, sess, owner); err == nil {
		c.RemoveSelected()
		c.SetAdjustments(cart.Adjustments{})
		if err := s.store.Save(ctx, owner, c.Snapshot()); err != nil {
			s.logger.Warn("save cart after checkout failed", zap.Error(err))
		}
	}
	ol.Unlock()

	err = s.repo.RecordCheckout(ctx, repository.Checkout{
		IdempotencyKey: orderReq.IdempotencyKey,
		OwnerKey:       owner,
		OrderID:        order.ID,
		Total:          totals.Total,
	})
	switch {
	case errors.Is(err, repository.ErrDuplicateCheckout):
		s.logger.Info("checkout retried with the same key", zap.String("order", order.ID))
	case err != nil:
		s.logger.Warn("record checkout failed", zap.Error(err), zap.String("order", order.ID))
	}

	return order, nil
}

// Checkouts возвращает последние оформления сессии.
func (s *Service) Checkouts(ctx context.Context, sess session.Session, limit int) ([]repository.Checkout, error) {
	owner, err := ownerKey(sess)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCheckouts(ctx, owner, limit)
}

// mutateLine применяет изменение локально, сохраняет снимок и затем вызывает API.
// При ошибке API строка откатывается к прежнему состоянию.
func (s *Service) mutateLine(
	ctx context.Context,
	sess session.Session,
	lineID string,
	apply func(*cart.Cart) error,
	persist func(context.Context) error,
	undo undoFunc,
) (*CartView, error) {
	owner, err := ownerKey(sess)
	if err != nil {
		return nil, err
	}

	ol := s.locks.acquire(owner)
	defer s.locks.release(owner, ol)

	if !s.locks.begin(ol, lineID) {
		return nil, ErrLineBusy
	}
	defer s.locks.end(ol, lineID)

	ol.Lock()
	c, err := s.load(ctx, sess, owner)
	if err != nil {
		ol.Unlock()
		return nil, err
	}

	prev, ok := c.Line(lineID)
	if !ok {
		ol.Unlock()
		return nil, cart.ErrLineNotFound
	}
	pos := c.Position(lineID)
	gen := c.Generation()

	if err := apply(c); err != nil {
		ol.Unlock()
		return nil, err
	}

	if err := s.store.Save(ctx, owner, c.Snapshot()); err != nil {
		ol.Unlock()
		return nil, fmt.Errorf("save cart: %w", err)
	}
	view := newView(c)
	ol.Unlock()

	if err := persist(ctx); err != nil {
		s.rollbackLine(ctx, sess, owner, ol, gen, prev, pos, undo)
		return nil, err
	}
	return view, nil
}

// rollback возвращает строки к состоянию до выбора всех.
// Корзина, перечитанная из API после изменения, не откатывается.
func (s *Service) rollback(ctx context.Context, sess session.Session, owner string, ol *ownerLock, gen string, prev []cart.Line) {
	// Откат выполняется и после отмены контекста запроса.
	ctx = context.WithoutCancel(ctx)

	ol.Lock()
	defer ol.Unlock()

	c, ok := s.rollbackTarget(ctx, sess, owner, gen)
	if !ok {
		return
	}

	for _, line := range prev {
		if !c.RestoreLine(line) {
			s.logger.Info("stale cart rollback skipped", zap.String("line", line.ID))
		}
	}

	s.saveRollback(ctx, owner, c)
}

func (s *Service) rollbackLine(
	ctx context.Context,
	sess session.Session,
	owner string,
	ol *ownerLock,
	gen string,
	prev cart.Line,
	pos int,
	undo undoFunc,
) {
	ctx = context.WithoutCancel(ctx)

	ol.Lock()
	defer ol.Unlock()

	c, ok := s.rollbackTarget(ctx, sess, owner, gen)
	if !ok {
		return
	}

	if !undo(c, prev, pos) {
		s.logger.Info("stale cart rollback skipped", zap.String("line", prev.ID))
		return
	}

	s.saveRollback(ctx, owner, c)
}

// rollbackTarget загружает корзину для отката, если она не была перечитана из API.
func (s *Service) rollbackTarget(ctx context.Context, sess session.Session, owner, gen string) (*cart.Cart, bool) {
	c, err := s.load(ctx, sess, owner)
	if err != nil {
		s.logger.Warn("cart rollback load failed", zap.Error(err))
		return nil, false
	}
	if c.Generation() != gen {
		s.logger.Info("cart reloaded, rollback skipped")
		return nil, false
	}
	return c, true
}

func (s *Service) saveRollback(ctx context.Context, owner string, c *cart.Cart) {
	if err := s.store.Save(ctx, owner, c.Snapshot()); err != nil {
		s.logger.Error("cart rollback save failed", zap.Error(err))
	}
}

// load читает снимок из хранилища; при его отсутствии корзина загружается из API.
func (s *Service) load(ctx context.Context, sess session.Session, owner string) (*cart.Cart, error) {
	snap, err := s.store.Load(ctx, owner)
	if err == nil {
		return cart.FromSnapshot(snap), nil
	}
	if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return s.fetch(ctx, sess, owner)
}

func (s *Service) fetch(ctx context.Context, sess session.Session, owner string) (*cart.Cart, error) {
	lines, err := s.backend.ListCart(ctx, sess.Token)
	if err != nil {
		return nil, err
	}

	c := cart.New(lines)
	c.SetGeneration(uuid.NewString())
	if err := s.store.Save(ctx, owner, c.Snapshot()); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return c, nil
}

// checkoutKey выводит ключ идемпотентности из загрузки корзины, адреса, поправок и версий выбранных строк.
// Повтор запроса с неизменённой корзиной получает тот же ключ.
func checkoutKey(owner, gen string, req CheckoutRequest, selected []cart.Line) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%d|%d", owner, gen, req.AddressID, req.Adjustments.Shipping, req.Adjustments.Discount)
	for _, l := range selected {
		fmt.Fprintf(&b, "|%s:%d:%d", l.ID, l.Quantity, l.Version)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(b.String())).String()
}
