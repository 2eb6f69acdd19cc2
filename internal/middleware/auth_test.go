package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetAccountIDFromContext(r.Context())
		if !ok {
			t.Fatalf("account id not in context")
		}
		if id != 42 {
			t.Fatalf("account id from context = %d, want 42", id)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, 42)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_OptionalPassesWithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		if _, ok := GetAccountIDFromContext(r.Context()); ok {
			t.Fatalf("account id must not be in context without cookie")
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	m.Optional(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestWithClientInfo_ForwardedForWins(t *testing.T) {
	var got ClientInfo
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetClientInfoFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	r.Header.Set("X-Real-IP", "9.9.9.9")
	r.Header.Set("X-Device-Fingerprint", "fp-1")

	WithClientInfo(next).ServeHTTP(httptest.NewRecorder(), r)

	if got.IP != "1.2.3.4" {
		t.Fatalf("ip = %q, want first forwarded address", got.IP)
	}
	if got.Fingerprint != "fp-1" {
		t.Fatalf("fingerprint = %q, want fp-1", got.Fingerprint)
	}
}

func TestWithVisitorKey_StableWithinSession(t *testing.T) {
	var keys []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := GetVisitorKeyFromContext(r.Context())
		if !ok {
			t.Fatalf("visitor key not in context")
		}
		keys = append(keys, key)
	})

	handler := WithVisitorKey(next)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no session cookie set")
	}

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(cookies[0])
	handler.ServeHTTP(httptest.NewRecorder(), r2)

	if len(keys) != 2 || keys[0] != keys[1] {
		t.Fatalf("visitor key must be stable within session, got %v", keys)
	}
}

func TestAdminAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := AdminAuth("secret-token")(next)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/admin", nil)
	handler.ServeHTTP(w, r)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token must be rejected")
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/admin", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(w, r)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token must be rejected")
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/admin", nil)
	r.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(w, r)
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("valid token must pass")
	}
}
