// Package backend предоставляет клиент REST API маркетплейса.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-gateway/internal/cart"
	"github.com/mmeshcher/storefront-gateway/internal/model"
)

// ErrUnauthorized возвращается, когда API отклоняет учётные данные сессии.
var ErrUnauthorized = errors.New("backend: unauthorized")

// RemoteError неуспешный вызов API: сетевая ошибка или конверт со статусом отличным от success.
type RemoteError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend call failed: %v", e.Err)
	}
	return fmt.Sprintf("backend call failed (status %d): %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

const maxReadRetries = 3

// Client инкапсулирует HTTP-взаимодействие с REST API маркетплейса.
// GET-запросы повторяются, изменяющие запросы выполняются один раз.
type Client struct {
	baseURL string
	timeout time.Duration
	reads   *retryablehttp.Client
	writes  *http.Client
}

// NewClient создаёт клиент API по указанному адресу.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	reads := retryablehttp.NewClient()
	reads.RetryMax = maxReadRetries - 1
	reads.RetryWaitMin = 100 * time.Millisecond
	reads.RetryWaitMax = time.Second
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler
	reads.Logger = leveledLogger{logger.Sugar()}

	return &Client{
		baseURL: base,
		timeout: timeout,
		reads:   reads,
		writes:  reads.HTTPClient,
	}
}

type cartItemDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	StoreName   string `json:"store_name"`
	ProductName string `json:"product_name"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
	Stock       int    `json:"stock"`
	IsSelected  bool   `json:"is_selected"`
}

// Login выполняет вход и возвращает токен и роль.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	var res model.LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", creds, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Register регистрирует покупателя.
func (c *Client) Register(ctx context.Context, reg model.Registration) error {
	return c.do(ctx, http.MethodPost, "/api/auth/register", "", reg, nil)
}

// ForgotPassword запрашивает письмо для сброса пароля.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, "/api/auth/forgot-password", "", body, nil)
}

// Logout завершает сессию на стороне API.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// Profile возвращает профиль владельца токена.
func (c *Client) Profile(ctx context.Context, token string) (*model.Profile, error) {
	var res model.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profile", token, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListCart возвращает строки корзины вместе со снимком остатков.
func (c *Client) ListCart(ctx context.Context, token string) ([]cart.Line, error) {
	var items []cartItemDTO
	if err := c.do(ctx, http.MethodGet, "/api/cart", token, nil, &items); err != nil {
		return nil, err
	}

	lines := make([]cart.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, cart.Line{
			ID:        it.ID,
			ProductID: it.ProductID,
			StoreName: it.StoreName,
			Name:      it.ProductName,
			Price:     it.Price,
			Quantity:  it.Quantity,
			Stock:     it.Stock,
			Selected:  it.IsSelected,
		})
	}
	return lines, nil
}

// UpdateQuantity сохраняет количество строки.
func (c *Client) UpdateQuantity(ctx context.Context, token, lineID string, quantity int) error {
	body := map[string]int{"quantity": quantity}
	return c.do(ctx, http.MethodPatch, "/api/cart/"+url.PathEscape(lineID), token, body, nil)
}

// UpdateSelection сохраняет выбор строки.
func (c *Client) UpdateSelection(ctx context.Context, token, lineID string, selected bool) error {
	body := map[string]bool{"is_selected": selected}
	return c.do(ctx, http.MethodPatch, "/api/cart/"+url.PathEscape(lineID)+"/select", token, body, nil)
}

// SelectAll сохраняет выбор всех строк.
func (c *Client) SelectAll(ctx context.Context, token string, selected bool) error {
	body := map[string]bool{"is_selected": selected}
	return c.do(ctx, http.MethodPatch, "/api/cart/select-all", token, body, nil)
}

// DeleteLine удаляет строку корзины.
func (c *Client) DeleteLine(ctx context.Context, token, lineID string) error {
	return c.do(ctx, http.MethodDelete, "/api/cart/"+url.PathEscape(lineID), token, nil, nil)
}

// ListAddresses возвращает адреса доставки.
func (c *Client) ListAddresses(ctx context.Context, token string) ([]model.Address, error) {
	var res []model.Address
	if err := c.do(ctx, http.MethodGet, "/api/addresses", token, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// CreateOrder создаёт заказ из выбранных строк.
func (c *Client) CreateOrder(ctx context.Context, token string, req model.OrderRequest) (*model.Order, error) {
	var res model.Order
	if err := c.do(ctx, http.MethodPost, "/api/orders", token, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListOrders возвращает заказы покупателя.
func (c *Client) ListOrders(ctx context.Context, token string) ([]model.Order, error) {
	var res []model.Order
	if err := c.do(ctx, http.MethodGet, "/api/orders", token, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	resp, err := c.send(ctx, method, c.baseURL+path, token, payload)
	if err != nil {
		return &RemoteError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var env model.Envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return &RemoteError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if env.Status != model.StatusSuccess {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &RemoteError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return &RemoteError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, target, token string, payload []byte) (*http.Response, error) {
	if method == http.MethodGet {
		req, err := retryablehttp.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		setHeaders(req.Header, token, false)
		return c.reads.Do(req)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	setHeaders(req.Header, token, payload != nil)
	return c.writes.Do(req)
}

func setHeaders(h http.Header, token string, hasBody bool) {
	h.Set("Accept", "application/json")
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
	if token != "" {
		h.Add("Cookie", (&http.Cookie{Name: "token", Value: token}).String())
	}
}

// leveledLogger направляет журнал повторов retryablehttp в zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
