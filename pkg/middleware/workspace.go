package middleware

import (
	apierrors "github.com/jordanlanch/entityhub/pkg/api/errors"
	apimiddleware "github.com/jordanlanch/entityhub/pkg/api/middleware"
	"github.com/labstack/echo/v4"
)

// RequireWorkspaceAccess rejects requests whose :workspace_id route parameter
// differs from the workspace carried by the caller's token. It must run after
// the JWT middleware.
func RequireWorkspaceAccess() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			workspaceID, _ := c.Get(apimiddleware.ContextWorkspaceID).(string)
			if workspaceID == "" {
				return apierrors.UnauthorizedError(c, "unauthorized", "User not authenticated")
			}
			if param := c.Param("workspace_id"); param != "" && param != workspaceID {
				return apierrors.ForbiddenError(c)
			}
			return next(c)
		}
	}
}
