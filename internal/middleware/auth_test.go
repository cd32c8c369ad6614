package middleware

import (
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/util"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func roleRouter(role model.UserRole, required model.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", &util.Claims{UserID: 1, Role: role})
	})
	r.Use(RoleMiddleware(required))
	r.GET("/exams", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

// 作答路由只对学生开放，教师进不来，管理员照例放行
func TestRoleMiddlewareGatesStudentRoutes(t *testing.T) {
	cases := []struct {
		role model.UserRole
		want int
	}{
		{model.Student, http.StatusOK},
		{model.Teacher, http.StatusForbidden},
		{model.Admin, http.StatusOK},
	}

	for _, tc := range cases {
		r := roleRouter(tc.role, model.Student)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exams", nil))
		if w.Code != tc.want {
			t.Fatalf("role %s: got %d, want %d", tc.role, w.Code, tc.want)
		}
	}
}

func TestRoleMiddlewareRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RoleMiddleware(model.Student))
	r.GET("/exams", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exams", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing claims: got %d, want 401", w.Code)
	}
}
