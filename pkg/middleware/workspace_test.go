package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	apimiddleware "github.com/jordanlanch/entityhub/pkg/api/middleware"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func newWorkspaceEcho(tokenWorkspace string) *echo.Echo {
	e := echo.New()
	g := e.Group("/workspaces/:workspace_id", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tokenWorkspace != "" {
				c.Set(apimiddleware.ContextWorkspaceID, tokenWorkspace)
			}
			return next(c)
		}
	}, RequireWorkspaceAccess())
	g.GET("/entities", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestRequireWorkspaceAccess(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		path   string
		status int
	}{
		{"Success - matching workspace", "ws-1", "/workspaces/ws-1/entities", http.StatusOK},
		{"Error - other workspace", "ws-1", "/workspaces/ws-2/entities", http.StatusForbidden},
		{"Error - unauthenticated", "", "/workspaces/ws-1/entities", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newWorkspaceEcho(tt.token)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
