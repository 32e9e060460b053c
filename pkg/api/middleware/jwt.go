// Package middleware authenticates API requests.
package middleware

import (
	"strings"

	apierrors "github.com/jordanlanch/entityhub/pkg/api/errors"
	"github.com/jordanlanch/entityhub/pkg/auth"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTMiddleware
const (
	ContextUserID      = "user_id"
	ContextWorkspaceID = "workspace_id"
)

// JWTMiddleware creates a JWT authentication middleware
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return apierrors.UnauthorizedError(c, "missing_token", "Authorization header is required")
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return apierrors.UnauthorizedError(c, "invalid_token_format", "Authorization header must be 'Bearer {token}'")
			}

			claims, err := auth.ValidateJWT(parts[1], secret)
			if err != nil {
				return apierrors.UnauthorizedError(c, "invalid_token", err.Error())
			}

			c.Set(ContextUserID, claims.UserID)
			c.Set(ContextWorkspaceID, claims.WorkspaceID)

			return next(c)
		}
	}
}

// ScopeFromContext returns the isolation scope of an authenticated request.
// The workspace always comes from the token; the :workspace_id route
// parameter is checked against it by middleware.RequireWorkspaceAccess.
func ScopeFromContext(c echo.Context) tenancy.Scope {
	userID, _ := c.Get(ContextUserID).(string)
	workspaceID, _ := c.Get(ContextWorkspaceID).(string)
	return tenancy.User(workspaceID, userID)
}
