package gate

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-gateway/internal/session"
)

// Action описывает итог проверки навигации.
type Action int

const (
	Allow Action = iota
	RedirectLogin
	RedirectHome
	RedirectForbidden
)

// Пути перенаправлений.
const (
	LoginPath     = "/login"
	ForbiddenPath = "/"
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect-login"
	case RedirectHome:
		return "redirect-home"
	case RedirectForbidden:
		return "redirect-forbidden"
	default:
		return "unknown"
	}
}

// Decision содержит действие и адрес перенаправления.
type Decision struct {
	Action   Action
	Location string
}

// Gate принимает решения по неизменяемой таблице политик.
type Gate struct {
	table *Table
}

// New создаёт Gate с указанной таблицей; nil означает DefaultTable.
func New(table *Table) *Gate {
	if table == nil {
		table = DefaultTable()
	}
	return &Gate{table: table}
}

// Decide вычисляет решение для пути и сессии. Функция не хранит состояния между вызовами.
func (g *Gate) Decide(path string, s session.Session) Decision {
	policy, matched := g.table.Match(path)

	if matched && policy.Access.Public {
		if s.Authenticated() {
			return Decision{Action: RedirectHome, Location: s.Role.Home()}
		}
		return Decision{Action: Allow}
	}

	if !matched {
		return Decision{Action: Allow}
	}

	if !s.Authenticated() {
		return Decision{Action: RedirectLogin, Location: LoginPath}
	}

	if !s.Role.Satisfies(policy.Access.MinRole) {
		return Decision{Action: RedirectForbidden, Location: ForbiddenPath}
	}

	return Decision{Action: Allow}
}

// Middleware применяет решение к каждому запросу и кладёт сессию в контекст.
// Запросы к /api/ получают код статуса вместо перенаправления.
func Middleware(g *Gate, c *session.Classifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := c.FromRequest(r)
			d := g.Decide(r.URL.Path, s)

			if d.Action != Allow {
				logger.Debug("navigation redirected",
					zap.String("path", r.URL.Path),
					zap.String("role", s.Role.String()),
					zap.String("action", d.Action.String()),
				)
			}

			if isAPI(r.URL.Path) {
				switch d.Action {
				case RedirectLogin:
					http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
					return
				case RedirectForbidden:
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
				// Аутентифицированный вызов публичного API не перенаправляется.
				next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
				return
			}

			if d.Action != Allow {
				http.Redirect(w, r, d.Location, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
		})
	}
}

func isAPI(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}
