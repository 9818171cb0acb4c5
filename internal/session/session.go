package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const sessionKey contextKey = "session"

// Имена cookie, которые пишет поток входа и выхода.
const (
	RoleCookieName     = "role"
	RoleNameCookieName = "role_name"
	TokenCookieName    = "token"

	cookieTTL = 7 * 24 * time.Hour
)

// Session содержит сведения о посетителе, вычисленные из cookie текущего запроса.
type Session struct {
	Role     Role
	RoleName string
	// Token пересылается в REST API маркетплейса и служит ключом корзины.
	Token string
}

// Anonymous возвращает сессию неаутентифицированного посетителя.
func Anonymous() Session {
	return Session{Role: RoleUnauthenticated}
}

// Authenticated сообщает, есть ли у сессии действительная роль.
func (s Session) Authenticated() bool {
	return s.Role.Valid()
}

// Classifier читает и выпускает cookie сессии. При непустом секрете значение роли подписывается HMAC.
type Classifier struct {
	secretKey []byte
}

// NewClassifier создаёт классификатор с указанным секретом подписи.
func NewClassifier(secret string) *Classifier {
	return &Classifier{secretKey: []byte(secret)}
}

// Classify вычисляет сессию по значениям cookie. Отсутствующие или испорченные значения дают анонимную сессию.
func (c *Classifier) Classify(roleValue, roleName, token string) Session {
	if roleValue == "" {
		return Anonymous()
	}

	raw, ok := c.verify(roleValue)
	if !ok {
		return Anonymous()
	}

	role, ok := ParseRole(raw)
	if !ok {
		return Anonymous()
	}

	return Session{
		Role:     role,
		RoleName: roleName,
		Token:    token,
	}
}

// FromRequest классифицирует посетителя по cookie запроса.
func (c *Classifier) FromRequest(r *http.Request) Session {
	return c.Classify(
		cookieValue(r, RoleCookieName),
		cookieValue(r, RoleNameCookieName),
		cookieValue(r, TokenCookieName),
	)
}

// Issue устанавливает cookie сессии после успешного входа.
func (c *Classifier) Issue(w http.ResponseWriter, role Role, roleName, token string) {
	expires := time.Now().Add(cookieTTL)

	http.SetCookie(w, newCookie(RoleCookieName, c.sign(role.String()), expires))
	http.SetCookie(w, newCookie(RoleNameCookieName, roleName, expires))
	http.SetCookie(w, newCookie(TokenCookieName, token, expires))
}

// Clear удаляет cookie сессии при выходе.
func (c *Classifier) Clear(w http.ResponseWriter) {
	for _, name := range []string{RoleCookieName, RoleNameCookieName, TokenCookieName} {
		cookie := newCookie(name, "", time.Unix(0, 0))
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

func newCookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c *Classifier) sign(value string) string {
	if len(c.secretKey) == 0 {
		return value
	}
	return value + "." + c.signature(value)
}

func (c *Classifier) verify(cookieValue string) (string, bool) {
	if len(c.secretKey) == 0 {
		return cookieValue, true
	}

	value, signature, found := strings.Cut(cookieValue, ".")
	if !found {
		return "", false
	}

	if !hmac.Equal([]byte(signature), []byte(c.signature(value))) {
		return "", false
	}

	return value, true
}

func (c *Classifier) signature(value string) string {
	mac := hmac.New(sha256.New, c.secretKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// WithSession сохраняет сессию в контексте запроса.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext извлекает сессию из контекста запроса.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
