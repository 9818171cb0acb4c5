package gate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-gateway/internal/session"
)

var allSessions = []session.Session{
	session.Anonymous(),
	{Role: session.RoleSuperAdmin},
	{Role: session.RoleAdmin},
	{Role: session.RoleUser},
}

func TestDecide(t *testing.T) {
	g := New(nil)

	tests := []struct {
		name string
		path string
		sess session.Session
		want Decision
	}{
		{
			name: "no role cookie on user area",
			path: "/user/alamat",
			sess: session.Anonymous(),
			want: Decision{Action: RedirectLogin, Location: "/login"},
		},
		{
			name: "admin on superadmin area",
			path: "/superadmin",
			sess: session.Session{Role: session.RoleAdmin},
			want: Decision{Action: RedirectForbidden, Location: "/"},
		},
		{
			name: "superadmin on admin area",
			path: "/admin/produk",
			sess: session.Session{Role: session.RoleSuperAdmin},
			want: Decision{Action: Allow},
		},
		{
			name: "admin on user area",
			path: "/user/keranjang",
			sess: session.Session{Role: session.RoleAdmin},
			want: Decision{Action: Allow},
		},
		{
			name: "user on admin area",
			path: "/admin",
			sess: session.Session{Role: session.RoleUser},
			want: Decision{Action: RedirectForbidden, Location: "/"},
		},
		{
			name: "anonymous on login",
			path: "/login",
			sess: session.Anonymous(),
			want: Decision{Action: Allow},
		},
		{
			name: "user on register",
			path: "/register",
			sess: session.Session{Role: session.RoleUser},
			want: Decision{Action: RedirectHome, Location: "/user"},
		},
		{
			name: "unmatched path for anonymous",
			path: "/produk/42",
			sess: session.Anonymous(),
			want: Decision{Action: Allow},
		},
		{
			name: "segment boundary",
			path: "/username",
			sess: session.Anonymous(),
			want: Decision{Action: Allow},
		},
		{
			name: "trailing slash",
			path: "/superadmin/",
			sess: session.Session{Role: session.RoleUser},
			want: Decision{Action: RedirectForbidden, Location: "/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Decide(tt.path, tt.sess))
		})
	}
}

func TestDecide_SuperadminOnlyForSuperAdmin(t *testing.T) {
	g := New(nil)

	for _, path := range []string{"/superadmin", "/superadmin/toko", "/superadmin/users/7"} {
		for _, s := range allSessions {
			d := g.Decide(path, s)
			if s.Role == session.RoleSuperAdmin {
				assert.Equal(t, Allow, d.Action, "path %s", path)
				continue
			}
			assert.NotEqual(t, Allow, d.Action, "path %s role %s", path, s.Role)
		}
	}
}

func TestDecide_PublicRoutesRedirectAuthenticated(t *testing.T) {
	g := New(nil)

	for _, path := range []string{"/login", "/register", "/forgot-password", "/forgot-password/reset"} {
		for _, s := range allSessions {
			d := g.Decide(path, s)
			if !s.Authenticated() {
				assert.Equal(t, Allow, d.Action)
				continue
			}
			assert.Equal(t, Decision{Action: RedirectHome, Location: s.Role.Home()}, d)
		}
	}
}

func TestTable_MostSpecificFirst(t *testing.T) {
	table := NewTable(
		Policy{Prefix: "/user", Access: MinRole(session.RoleUser)},
		Policy{Prefix: "/user/public", Access: Public()},
	)

	p, ok := table.Match("/user/public/faq")
	require.True(t, ok)
	assert.Equal(t, "/user/public", p.Prefix)

	p, ok = table.Match("/user/orders")
	require.True(t, ok)
	assert.Equal(t, "/user", p.Prefix)

	_, ok = table.Match("/")
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	g := New(nil)
	c := session.NewClassifier("")
	logger := zap.NewNop()

	var got session.Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = session.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(g, c, logger)(next)

	tests := []struct {
		name     string
		path     string
		role     string
		status   int
		location string
	}{
		{name: "page without cookie", path: "/user/alamat", status: http.StatusFound, location: "/login"},
		{name: "page forbidden", path: "/superadmin", role: "1", status: http.StatusFound, location: "/"},
		{name: "login with session", path: "/login", role: "2", status: http.StatusFound, location: "/user"},
		{name: "page allowed", path: "/admin", role: "0", status: http.StatusOK},
		{name: "api without cookie", path: "/api/user/cart", status: http.StatusUnauthorized},
		{name: "api forbidden", path: "/api/admin/stores", role: "2", status: http.StatusForbidden},
		{name: "api login with session", path: "/api/auth/login", role: "2", status: http.StatusOK},
		{name: "malformed cookie", path: "/user", role: "x", status: http.StatusFound, location: "/login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.role != "" {
				r.AddCookie(&http.Cookie{Name: session.RoleCookieName, Value: tt.role})
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			res := w.Result()
			defer res.Body.Close()

			assert.Equal(t, tt.status, res.StatusCode)
			if tt.location != "" {
				assert.Equal(t, tt.location, res.Header.Get("Location"))
			}
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.AddCookie(&http.Cookie{Name: session.RoleCookieName, Value: "1"})
	r.AddCookie(&http.Cookie{Name: session.RoleNameCookieName, Value: "Admin"})
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, session.RoleAdmin, got.Role)
	assert.Equal(t, "Admin", got.RoleName)
}
