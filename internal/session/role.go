// Package session классифицирует посетителя витрины по cookie роли.
package session

import (
	"strconv"
	"strings"
)

// Role описывает роль посетителя. Меньшее значение означает больше привилегий.
type Role int

const (
	RoleSuperAdmin Role = iota
	RoleAdmin
	RoleUser
	// RoleUnauthenticated больше любой настоящей роли.
	RoleUnauthenticated
)

// ParseRole разбирает значение cookie роли. Неизвестные значения дают RoleUnauthenticated.
func ParseRole(value string) (Role, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return RoleUnauthenticated, false
	}

	r := Role(n)
	if !r.Valid() {
		return RoleUnauthenticated, false
	}
	return r, true
}

// Valid сообщает, является ли роль одной из ролей аутентифицированного посетителя.
func (r Role) Valid() bool {
	return r >= RoleSuperAdmin && r < RoleUnauthenticated
}

// Satisfies проверяет, что роль имеет доступ к области с минимальной ролью minRole.
func (r Role) Satisfies(minRole Role) bool {
	return r.Valid() && r <= minRole
}

// Home возвращает домашний путь роли.
func (r Role) Home() string {
	switch r {
	case RoleSuperAdmin:
		return "/superadmin"
	case RoleAdmin:
		return "/admin"
	case RoleUser:
		return "/user"
	default:
		return ""
	}
}

// String возвращает значение роли в формате cookie.
func (r Role) String() string {
	if !r.Valid() {
		return "unauthenticated"
	}
	return strconv.Itoa(int(r))
}
