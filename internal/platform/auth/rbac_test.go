package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(userID string, roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(context.Background(), userID, roles))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestHasRole(t *testing.T) {
	if !HasRole([]string{"member"}, "member") {
		t.Error("expected exact role match")
	}
	if !HasRole([]string{RoleAdmin}, "member") {
		t.Error("admin implies every role")
	}
	if HasRole([]string{"member"}, RoleAdmin) {
		t.Error("member must not satisfy admin")
	}
	if HasRole(nil, "member") {
		t.Error("no roles grants nothing")
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	c := contextWithRoles("u1", "curator")
	if err := RequireRole("curator")(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := contextWithRoles("u1", "member")
	err := RequireRole(RoleAdmin)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := contextWithRoles("u1", RoleAdmin)
	if err := RequireRole("curator")(okHandler)(c); err != nil {
		t.Fatalf("admin should pass any role check: %v", err)
	}
}

func TestRequireUser(t *testing.T) {
	if err := RequireUser()(okHandler)(contextWithRoles("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := RequireUser()(okHandler)(contextWithRoles(""))
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestUserIDFromContext(t *testing.T) {
	if UserIDFromContext(context.Background()) != "" {
		t.Error("expected empty user id")
	}
	ctx := WithIdentity(context.Background(), "u9", nil)
	if UserIDFromContext(ctx) != "u9" {
		t.Error("expected u9")
	}
}
