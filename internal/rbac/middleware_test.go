package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"survey-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func withIdentity(id auth.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

func serve(t *testing.T, id auth.Identity, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withIdentity(id), RequireCompany(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(t, auth.Identity{UserID: "u", CompanyID: "c", Role: RoleSuperAdmin}, RoleCompanyAdmin); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_InterviewerDeniedOnAdminRoutes(t *testing.T) {
	if code := serve(t, auth.Identity{UserID: "u", CompanyID: "c", Role: RoleInterviewer}, RoleCompanyAdmin, RoleProjectManager); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireCompany(t *testing.T) {
	if code := serve(t, auth.Identity{UserID: "u", Role: RoleInterviewer}, RoleInterviewer); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestCanReview(t *testing.T) {
	if CanReview(RoleInterviewer) {
		t.Fatalf("interviewers must not see review metadata")
	}
	if !CanReview(RoleQualityAgent) {
		t.Fatalf("quality agents review responses")
	}
}
