// Package model содержит сущности витрины, которыми обмениваются клиент API, сервис и обработчики.
package model

import "time"

// Envelope обёртка каждого ответа REST API маркетплейса.
type Envelope[T any] struct {
	Status  string `json:"status"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// Значения поля Envelope.Status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Credentials данные для входа.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration данные регистрации покупателя.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// LoginResult ответ API на успешный вход.
type LoginResult struct {
	Token    string `json:"token"`
	Role     int    `json:"role"`
	RoleName string `json:"role_name"`
}

// Profile профиль текущего пользователя.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	RoleName string `json:"role_name"`
}

// Address адрес доставки покупателя.
type Address struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Primary    bool   `json:"primary"`
}

// OrderStatus статус заказа на стороне продавца.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus разбирает статус из параметра запроса.
func ParseOrderStatus(v string) (OrderStatus, bool) {
	switch st := OrderStatus(v); st {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled:
		return st, true
	}
	return "", false
}

// OrderItem позиция заказа.
type OrderItem struct {
	CartLineID string `json:"cart_line_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Price      int64  `json:"price"`
}

// OrderRequest запрос на создание заказа.
type OrderRequest struct {
	IdempotencyKey string      `json:"idempotency_key"`
	AddressID      string      `json:"address_id"`
	Items          []OrderItem `json:"items"`
	Shipping       int64       `json:"shipping"`
	Discount       int64       `json:"discount"`
	Total          int64       `json:"total"`
}

// Order созданный заказ.
type Order struct {
	ID        string      `json:"id"`
	Status    OrderStatus `json:"status"`
	Total     int64       `json:"total"`
	Items     []OrderItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
}
