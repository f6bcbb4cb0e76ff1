package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"videokyc-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serveAs(RoleSuperAdmin, RoleUser); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_UserCannotDecide(t *testing.T) {
	if code := serveAs(RoleUser, RoleAdmin); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleDenied(t *testing.T) {
	if code := serveAs("owner", "owner"); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_RoleRequired(t *testing.T) {
	if code := serveAs("", RoleAdmin); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestIsResponder(t *testing.T) {
	if !IsResponder(RoleAdmin) || !IsResponder(RoleSuperAdmin) || IsResponder(RoleUser) {
		t.Fatalf("unexpected responder roles")
	}
}

func TestAllows(t *testing.T) {
	cases := []struct {
		role    string
		allowed []string
		want    bool
	}{
		{RoleAdmin, []string{RoleAdmin}, true},
		{RoleUser, []string{RoleAdmin}, false},
		{RoleSuperAdmin, nil, true},
		{"owner", []string{"owner"}, false},
		{"", []string{RoleUser}, false},
	}
	for _, tc := range cases {
		if got := Allows(tc.role, tc.allowed...); got != tc.want {
			t.Fatalf("Allows(%q, %v) = %v, want %v", tc.role, tc.allowed, got, tc.want)
		}
	}
}
