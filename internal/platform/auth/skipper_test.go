package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextForPath(path string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath(path)
	return c
}

func TestAuthSkipper(t *testing.T) {
	if !AuthSkipper(contextForPath("/health")) {
		t.Error("expected /health to be public")
	}
	if AuthSkipper(contextForPath("/api/v1/records")) {
		t.Error("expected /api/v1/records to be protected")
	}
	if !IsPublicPath("/health/db") {
		t.Error("expected /health/db to be public")
	}
}

func TestJWTMiddleware_SkipsPublicPaths(t *testing.T) {
	c := contextForPath("/health")
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("expected public path to skip auth, got %v", err)
	}
}

func TestJWTMiddleware_DoesNotSkipProtectedPaths(t *testing.T) {
	c := contextForPath("/api/v1/catalog/items")
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	expectStatus(t, mw(okHandler)(c), http.StatusUnauthorized)
}

func TestDevAuthMiddleware_SkipsPublicPaths(t *testing.T) {
	c := contextForPath("/health")
	var gotUser string
	handler := func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		return nil
	}
	if err := DevAuthMiddleware(AuthSkipper, nil)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "" {
		t.Errorf("skipped path must not receive an identity, got %q", gotUser)
	}
}
