package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SubjectFromContext(r.Context()) == "" && r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func serve(t *testing.T, mw *Middleware, method, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(resp, req)
	return resp.Code
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy(nil, nil), nil)
	if code := serve(t, mw, http.MethodGet, "/api/v1/equipment", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestAuthMiddleware_ExemptHealth(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy([]string{"/healthz"}, nil), nil)
	if code := serve(t, mw, http.MethodGet, "/healthz", ""); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAuthMiddleware_ViewerReadsAlarms(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil), nil)
	token := mustToken(t, secret, "viewer")
	if code := serve(t, mw, http.MethodGet, "/api/v1/equipment/ahu-1/alarms", token); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAuthMiddleware_ViewerForbiddenThresholdWrite(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil), nil)
	token := mustToken(t, secret, "viewer")
	if code := serve(t, mw, http.MethodPut, "/api/v1/equipment/ahu-1/rules/fc1/thresholds", token); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestAuthMiddleware_OperatorThresholdsNotRegistration(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil), nil)
	token := mustToken(t, secret, "Operator")
	if code := serve(t, mw, http.MethodPut, "/api/v1/equipment/ahu-1/rules/fc1/thresholds", token); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := serve(t, mw, http.MethodPost, "/api/v1/equipment", token); code != http.StatusForbidden {
		t.Fatalf("expected 403 for registration, got %d", code)
	}
	if code := serve(t, mw, http.MethodDelete, "/api/v1/equipment/ahu-1", token); code != http.StatusForbidden {
		t.Fatalf("expected 403 for unregister, got %d", code)
	}
}

func TestAuthMiddleware_StreamQueryToken(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil), nil)
	token := mustToken(t, secret, "viewer")

	resp := httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/stream?access_token="+token, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for stream with query token, got %d", resp.Code)
	}
	resp = httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/alarms?access_token="+token, nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for query token outside the stream, got %d", resp.Code)
	}
	if resp.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
}

func TestAuthMiddleware_DeniedIsLogged(t *testing.T) {
	secret := []byte("test-secret")
	logger, hook := test.NewNullLogger()
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil), logger)
	if code := serve(t, mw, http.MethodPost, "/api/v1/equipment", mustToken(t, secret, "viewer")); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Data["required"] != RoleAdmin || entry.Data["subject"] != "user-1" {
		t.Fatalf("expected denial log entry, got %+v", entry)
	}
}

func TestRoleAtLeast(t *testing.T) {
	if !RoleAtLeast(RoleAdmin, RoleOperator) || RoleAtLeast(RoleViewer, RoleOperator) {
		t.Fatalf("unexpected role ordering")
	}
	if RoleAtLeast(Role("guest"), RoleViewer) {
		t.Fatalf("expected unknown role to grant nothing")
	}
	if role, ok := NormalizeRole(" Admin "); !ok || role != RoleAdmin {
		t.Fatalf("expected admin, got %q %v", role, ok)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil), nil)
	claims := Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if code := serve(t, mw, http.MethodGet, "/api/v1/equipment", token); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestNewMiddlewareWithoutSecretIsPassThrough(t *testing.T) {
	mw := NewMiddleware(nil, NewDefaultPolicy(nil, nil), nil)
	if mw != nil {
		t.Fatalf("expected nil middleware without secret")
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/equipment", nil)
	resp := httptest.NewRecorder()
	called := false
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	})).ServeHTTP(resp, req)
	if !called {
		t.Fatalf("expected handler to run without auth")
	}
}

func TestIssueJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueJWT(secret, "svc-bms", RoleOperator, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "svc-bms" || claims.Role != "operator" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ParseJWT(token, []byte("other")); err == nil {
		t.Fatalf("expected signature error")
	}
}

func mustToken(t *testing.T, secret []byte, role string) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
