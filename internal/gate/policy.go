// Package gate принимает решение о допуске навигации по таблице префиксов и роли сессии.
package gate

import (
	"sort"
	"strings"

	"github.com/mmeshcher/storefront-gateway/internal/session"
)

// Access описывает требование политики к сессии.
type Access struct {
	Public  bool
	MinRole session.Role
}

// Public открывает префикс для всех; аутентифицированных посетителей отправляет домой.
func Public() Access {
	return Access{Public: true}
}

// MinRole требует роль не ниже указанной.
func MinRole(r session.Role) Access {
	return Access{MinRole: r}
}

// Policy связывает префикс пути с требованием доступа.
type Policy struct {
	Prefix string
	Access Access
}

// Table неизменяемая таблица политик, упорядоченная от самого длинного префикса.
type Table struct {
	policies []Policy
}

// NewTable строит таблицу из набора политик.
func NewTable(policies ...Policy) *Table {
	sorted := make([]Policy, len(policies))
	copy(sorted, policies)

	for i := range sorted {
		sorted[i].Prefix = normalize(sorted[i].Prefix)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	return &Table{policies: sorted}
}

// DefaultTable возвращает политики витрины маркетплейса.
func DefaultTable() *Table {
	return NewTable(
		Policy{Prefix: "/login", Access: Public()},
		Policy{Prefix: "/register", Access: Public()},
		Policy{Prefix: "/forgot-password", Access: Public()},
		Policy{Prefix: "/api/auth/login", Access: Public()},
		Policy{Prefix: "/api/auth/register", Access: Public()},
		Policy{Prefix: "/api/auth/forgot-password", Access: Public()},

		Policy{Prefix: "/superadmin", Access: MinRole(session.RoleSuperAdmin)},
		Policy{Prefix: "/admin", Access: MinRole(session.RoleAdmin)},
		Policy{Prefix: "/user", Access: MinRole(session.RoleUser)},
		Policy{Prefix: "/api/superadmin", Access: MinRole(session.RoleSuperAdmin)},
		Policy{Prefix: "/api/admin", Access: MinRole(session.RoleAdmin)},
		Policy{Prefix: "/api/user", Access: MinRole(session.RoleUser)},
	)
}

// Match возвращает политику с самым длинным подходящим префиксом.
func (t *Table) Match(path string) (Policy, bool) {
	path = normalize(path)
	for _, p := range t.policies {
		if hasSegmentPrefix(path, p.Prefix) {
			return p, true
		}
	}
	return Policy{}, false
}

// hasSegmentPrefix сравнивает по границам сегментов: /user совпадает с /user/alamat, но не с /username.
func hasSegmentPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}
