package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/storefront-gateway/internal/backend"
	"github.com/mmeshcher/storefront-gateway/internal/cart"
	"github.com/mmeshcher/storefront-gateway/internal/model"
	"github.com/mmeshcher/storefront-gateway/internal/repository"
	"github.com/mmeshcher/storefront-gateway/internal/session"
)

type stubBackend struct {
	mu sync.Mutex

	lines   []cart.Line
	listErr error

	loginRes *model.LoginResult
	loginErr error

	mutateErr error
	// block, если задан, задерживает UpdateQuantity до закрытия канала.
	block   chan struct{}
	entered chan struct{}

	orderErr error
	// orderLost создаёт заказ, но первый ответ теряется.
	orderLost error
	orders    []model.OrderRequest

	calls map[string]int
}

func (s *stubBackend) called(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[name]++
}

func (s *stubBackend) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubBackend) Login(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	s.called("Login")
	return s.loginRes, s.loginErr
}

func (s *stubBackend) Register(ctx context.Context, reg model.Registration) error {
	s.called("Register")
	return nil
}

func (s *stubBackend) ForgotPassword(ctx context.Context, email string) error {
	s.called("ForgotPassword")
	return nil
}

func (s *stubBackend) Logout(ctx context.Context, token string) error {
	s.called("Logout")
	return nil
}

func (s *stubBackend) Profile(ctx context.Context, token string) (*model.Profile, error) {
	s.called("Profile")
	return &model.Profile{Name: "Budi"}, nil
}

func (s *stubBackend) ListCart(ctx context.Context, token string) ([]cart.Line, error) {
	s.called("ListCart")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cart.Line, len(s.lines))
	copy(out, s.lines)
	return out, s.listErr
}

func (s *stubBackend) setLines(lines []cart.Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = lines
}

func (s *stubBackend) UpdateQuantity(ctx context.Context, token, lineID string, quantity int) error {
	s.called("UpdateQuantity")
	if s.block != nil {
		close(s.entered)
		<-s.block
	}
	return s.mutateErr
}

func (s *stubBackend) UpdateSelection(ctx context.Context, token, lineID string, selected bool) error {
	s.called("UpdateSelection")
	return s.mutateErr
}

func (s *stubBackend) SelectAll(ctx context.Context, token string, selected bool) error {
	s.called("SelectAll")
	return s.mutateErr
}

func (s *stubBackend) DeleteLine(ctx context.Context, token, lineID string) error {
	s.called("DeleteLine")
	return s.mutateErr
}

func (s *stubBackend) ListAddresses(ctx context.Context, token string) ([]model.Address, error) {
	s.called("ListAddresses")
	return []model.Address{{ID: "addr-1"}}, nil
}

func (s *stubBackend) CreateOrder(ctx context.Context, token string, req model.OrderRequest) (*model.Order, error) {
	s.called("CreateOrder")
	s.mu.Lock()
	s.orders = append(s.orders, req)
	lost := s.orderLost
	s.orderLost = nil
	s.mu.Unlock()
	if lost != nil {
		return nil, lost
	}
	if s.orderErr != nil {
		return nil, s.orderErr
	}
	return &model.Order{ID: "ord-1", Status: model.OrderStatusPending, Total: req.Total}, nil
}

func (s *stubBackend) ListOrders(ctx context.Context, token string) ([]model.Order, error) {
	s.called("ListOrders")
	return nil, nil
}

var buyer = session.Session{Role: session.RoleUser, RoleName: "User", Token: "tok-1"}

func newTestService(t *testing.T, b *stubBackend) (*Service, *repository.MemoryRepository) {
	t.Helper()

	if b.lines == nil {
		b.lines = []cart.Line{
			{ID: "a", ProductID: "p1", StoreName: "Toko Satu", Price: 20000, Quantity: 1, Stock: 5, Selected: true},
			{ID: "b", ProductID: "p2", StoreName: "Toko Dua", Price: 20000, Quantity: 2, Stock: 3, Selected: true},
		}
	}

	repo := repository.NewMemoryRepository()
	return NewService(b, repo, repo, zap.NewNop()), repo
}

func TestCart_LoadsOnceFromBackend(t *testing.T) {
	b := &stubBackend{}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	view, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), view.Totals.Subtotal)
	assert.Len(t, view.Groups, 2)

	_, err = svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	assert.Equal(t, 1, b.count("ListCart"))

	_, err = svc.Cart(ctx, buyer, true)
	require.NoError(t, err)
	assert.Equal(t, 2, b.count("ListCart"))
}

func TestCart_NoCredentials(t *testing.T) {
	svc, _ := newTestService(t, &stubBackend{})

	_, err := svc.Cart(context.Background(), session.Session{Role: session.RoleUser}, false)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCart_BackendFailure(t *testing.T) {
	remote := &backend.RemoteError{StatusCode: 500, Message: "down"}
	svc, _ := newTestService(t, &stubBackend{listErr: remote})

	_, err := svc.Cart(context.Background(), buyer, false)

	var got *backend.RemoteError
	assert.ErrorAs(t, err, &got)
}

func TestSetQuantity_AboveStockRejectedLocally(t *testing.T) {
	b := &stubBackend{}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.SetQuantity(ctx, buyer, "b", 4)

	var vErr *cart.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 0, b.count("UpdateQuantity"))

	view, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Lines[1].Quantity)
}

func TestSetQuantity_Success(t *testing.T) {
	b := &stubBackend{}
	svc, _ := newTestService(t, b)

	view, err := svc.SetQuantity(context.Background(), buyer, "a", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, b.count("UpdateQuantity"))
	assert.Equal(t, int64(100000), view.Totals.Subtotal)
}

func TestSetQuantity_UnknownLine(t *testing.T) {
	svc, _ := newTestService(t, &stubBackend{})

	_, err := svc.SetQuantity(context.Background(), buyer, "zzz", 1)
	assert.ErrorIs(t, err, cart.ErrLineNotFound)
}

func TestSetQuantity_RollbackOnRemoteFailure(t *testing.T) {
	b := &stubBackend{mutateErr: &backend.RemoteError{StatusCode: 400, Message: "gagal"}}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.SetQuantity(ctx, buyer, "a", 4)

	var remote *backend.RemoteError
	require.ErrorAs(t, err, &remote)

	view, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Lines[0].Quantity)
	assert.Equal(t, int64(60000), view.Totals.Subtotal)
}

func TestRemoveLine_RollbackRestoresPosition(t *testing.T) {
	b := &stubBackend{mutateErr: errors.New("network")}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.RemoveLine(ctx, buyer, "a")
	require.Error(t, err)

	view, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	require.Len(t, view.Lines, 2)
	assert.Equal(t, "a", view.Lines[0].ID)
}

func TestRemoveLine_Success(t *testing.T) {
	svc, _ := newTestService(t, &stubBackend{})

	view, err := svc.RemoveLine(context.Background(), buyer, "a")
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, int64(40000), view.Totals.Total)
}

func TestSetSelectAll(t *testing.T) {
	svc, _ := newTestService(t, &stubBackend{})

	view, err := svc.SetSelectAll(context.Background(), buyer, false)
	require.NoError(t, err)
	assert.Equal(t, cart.Totals{}, view.Totals)
}

func TestSetSelectAll_Rollback(t *testing.T) {
	b := &stubBackend{mutateErr: errors.New("network")}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.SetSelectAll(ctx, buyer, false)
	require.Error(t, err)

	totals, err := svc.Totals(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), totals.Subtotal)
}

func TestSetSelection(t *testing.T) {
	b := &stubBackend{}
	svc, _ := newTestService(t, b)

	view, err := svc.SetSelection(context.Background(), buyer, "b", false)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), view.Totals.Subtotal)
	assert.Equal(t, 1, b.count("UpdateSelection"))
}

func TestPendingLineIsBusy(t *testing.T) {
	b := &stubBackend{block: make(chan struct{}), entered: make(chan struct{})}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.SetQuantity(ctx, buyer, "a", 2)
		done <- err
	}()

	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("update was not started")
	}

	_, err = svc.SetQuantity(ctx, buyer, "a", 3)
	assert.ErrorIs(t, err, ErrLineBusy)

	_, err = svc.SetSelectAll(ctx, buyer, false)
	assert.ErrorIs(t, err, ErrLineBusy)

	_, err = svc.Checkout(ctx, buyer, CheckoutRequest{AddressID: "addr-1"})
	assert.ErrorIs(t, err, ErrLineBusy)

	// Другая строка не заблокирована.
	_, err = svc.SetSelection(ctx, buyer, "b", false)
	assert.NoError(t, err)

	close(b.block)
	require.NoError(t, <-done)

	view, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Lines[0].Quantity)
	assert.False(t, view.Lines[1].Selected)
}

func TestCheckout_NoItemsSelected(t *testing.T) {
	b := &stubBackend{}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.SetSelectAll(ctx, buyer, false)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, buyer, CheckoutRequest{AddressID: "addr-1"})
	assert.ErrorIs(t, err, cart.ErrNoItemsSelected)
	assert.Equal(t, 0, b.count("CreateOrder"))
}

func TestCheckout_Success(t *testing.T) {
	b := &stubBackend{}
	svc, repo := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.SetSelection(ctx, buyer, "b", false)
	require.NoError(t, err)

	order, err := svc.Checkout(ctx, buyer, CheckoutRequest{
		AddressID:   "addr-1",
		Adjustments: cart.Adjustments{Shipping: 9000, Discount: 2000},
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)

	require.Len(t, b.orders, 1)
	req := b.orders[0]
	assert.NotEmpty(t, req.IdempotencyKey)
	assert.Equal(t, "addr-1", req.AddressID)
	require.Len(t, req.Items, 1)
	assert.Equal(t, "a", req.Items[0].CartLineID)
	assert.Equal(t, int64(27000), req.Total)

	view, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "b", view.Lines[0].ID)

	owner, err := ownerKey(buyer)
	require.NoError(t, err)
	checkouts, err := repo.ListCheckouts(ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, checkouts, 1)
	assert.Equal(t, "ord-1", checkouts[0].OrderID)
}

func TestCheckout_OrderFailureKeepsCart(t *testing.T) {
	b := &stubBackend{orderErr: &backend.RemoteError{StatusCode: 422, Message: "stok habis"}}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, buyer, CheckoutRequest{AddressID: "addr-1"})
	require.Error(t, err)

	view, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 2)
}

func TestLogin(t *testing.T) {
	b := &stubBackend{loginRes: &model.LoginResult{Token: "tok", Role: 1, RoleName: "Admin"}}
	svc, _ := newTestService(t, b)

	sess, err := svc.Login(context.Background(), model.Credentials{Email: "a@b.id", Password: "x"})
	require.NoError(t, err)
	assert.Equal(t, session.RoleAdmin, sess.Role)
	assert.Equal(t, "tok", sess.Token)
}

func TestLogin_UnknownRole(t *testing.T) {
	b := &stubBackend{loginRes: &model.LoginResult{Token: "tok", Role: 7}}
	svc, _ := newTestService(t, b)

	sess, err := svc.Login(context.Background(), model.Credentials{})
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.False(t, sess.Authenticated())
}

func TestLogout_DropsSnapshot(t *testing.T) {
	b := &stubBackend{}
	svc, repo := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)

	svc.Logout(ctx, buyer)
	assert.Equal(t, 1, b.count("Logout"))

	owner, _ := ownerKey(buyer)
	_, err = repo.Load(ctx, owner)
	assert.ErrorIs(t, err, repository.ErrCartNotFound)
}

func TestStartSnapshotCleanup_StopsOnCancel(t *testing.T) {
	svc, _ := newTestService(t, &stubBackend{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.StartSnapshotCleanup(ctx, 10*time.Millisecond, time.Hour)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}

func TestLocker_ReleasesOwners(t *testing.T) {
	l := newLocker()

	ol := l.acquire("o")
	require.True(t, l.begin(ol, "a"))
	assert.False(t, l.begin(ol, "a"))
	assert.False(t, l.begin(ol, allLines))
	assert.True(t, l.begin(ol, "b"))

	l.end(ol, "a")
	l.end(ol, "b")
	assert.True(t, l.begin(ol, allLines))
	assert.False(t, l.begin(ol, "a"))
	l.end(ol, allLines)
	l.release("o", ol)

	assert.Empty(t, l.owners)
}

func TestRollbackSkippedAfterRefresh(t *testing.T) {
	b := &stubBackend{block: make(chan struct{}), entered: make(chan struct{})}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.SetQuantity(ctx, buyer, "a", 2)
		done <- err
	}()

	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("update was not started")
	}

	// Строка "a" удалена в API, пока изменение ожидает ответа.
	b.setLines([]cart.Line{
		{ID: "b", ProductID: "p2", StoreName: "Toko Dua", Price: 20000, Quantity: 2, Stock: 3, Selected: true},
	})
	view, err := svc.Cart(ctx, buyer, true)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)

	b.mutateErr = &backend.RemoteError{StatusCode: 404, Message: "not found"}
	close(b.block)
	require.Error(t, <-done)

	view, err = svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "b", view.Lines[0].ID)
	assert.Equal(t, int64(40000), view.Totals.Subtotal)
}

func TestRollbackTarget_StaleGeneration(t *testing.T) {
	b := &stubBackend{}
	svc, repo := newTestService(t, b)
	ctx := context.Background()

	c, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	require.Len(t, c.Lines, 2)

	owner, _ := ownerKey(buyer)
	snap, err := repo.Load(ctx, owner)
	require.NoError(t, err)
	gen := snap.Generation
	require.NotEmpty(t, gen)

	// Перезагрузка выдаёт новую метку, откат со старой меткой не применяется.
	_, err = svc.Cart(ctx, buyer, true)
	require.NoError(t, err)
	snap, err = repo.Load(ctx, owner)
	require.NoError(t, err)
	assert.NotEqual(t, gen, snap.Generation)

	_, ok := svc.rollbackTarget(ctx, buyer, owner, gen)
	assert.False(t, ok)
}

func TestCheckout_RetryReusesKey(t *testing.T) {
	b := &stubBackend{orderLost: &backend.RemoteError{Err: context.DeadlineExceeded}}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	req := CheckoutRequest{AddressID: "addr-1", Adjustments: cart.Adjustments{Shipping: 9000}}

	_, err := svc.Checkout(ctx, buyer, req)
	require.Error(t, err)

	order, err := svc.Checkout(ctx, buyer, req)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)

	require.Len(t, b.orders, 2)
	assert.Equal(t, b.orders[0].IdempotencyKey, b.orders[1].IdempotencyKey)
}

func TestCheckout_KeyFollowsCartState(t *testing.T) {
	b := &stubBackend{orderErr: errors.New("down")}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, buyer, CheckoutRequest{AddressID: "addr-1"})
	require.Error(t, err)
	_, err = svc.SetQuantity(ctx, buyer, "a", 2)
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, buyer, CheckoutRequest{AddressID: "addr-1"})
	require.Error(t, err)

	require.Len(t, b.orders, 2)
	assert.NotEqual(t, b.orders[0].IdempotencyKey, b.orders[1].IdempotencyKey)
}

func TestCheckout_ClientKey(t *testing.T) {
	b := &stubBackend{}
	svc, repo := newTestService(t, b)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, buyer, CheckoutRequest{AddressID: "addr-1", IdempotencyKey: "client-key-1"})
	require.NoError(t, err)

	require.Len(t, b.orders, 1)
	assert.Equal(t, "client-key-1", b.orders[0].IdempotencyKey)

	owner, _ := ownerKey(buyer)
	checkouts, err := repo.ListCheckouts(ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, checkouts, 1)
	assert.Equal(t, "client-key-1", checkouts[0].IdempotencyKey)
}

type failingCheckoutLog struct {
	*repository.MemoryRepository
}

func (failingCheckoutLog) RecordCheckout(context.Context, repository.Checkout) error {
	return errors.New("connection reset")
}

func TestCheckout_RecordFailureIsNotSurfaced(t *testing.T) {
	b := &stubBackend{}
	b.lines = []cart.Line{
		{ID: "a", ProductID: "p1", StoreName: "Toko Satu", Price: 20000, Quantity: 1, Stock: 5, Selected: true},
	}

	core, logs := observer.New(zap.WarnLevel)
	mem := repository.NewMemoryRepository()
	svc := NewService(b, mem, failingCheckoutLog{mem}, zap.New(core))
	ctx := context.Background()

	order, err := svc.Checkout(ctx, buyer, CheckoutRequest{AddressID: "addr-1"})
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "ord-1", order.ID)

	assert.Equal(t, 1, logs.FilterMessage("record checkout failed").Len())

	view, err := svc.Cart(ctx, buyer, false)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
}
