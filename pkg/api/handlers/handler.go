// Package handlers exposes the workspace API over echo.
package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/entityhub/pkg/api/errors"
	apimiddleware "github.com/jordanlanch/entityhub/pkg/api/middleware"
	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/tenancy"
	"github.com/labstack/echo/v4"
)

const (
	requestTimeout = 5 * time.Second
	defaultLimit   = 50
	maxLimit       = 200
)

// base carries what every handler needs
type base struct {
	validate *validator.Validate
	log      logger.Logger
}

func newBase(log logger.Logger) base {
	return base{validate: validator.New(), log: log}
}

// begin derives the request context and the caller's scope
func (b base) begin(c echo.Context) (context.Context, context.CancelFunc, tenancy.Scope) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	return ctx, cancel, apimiddleware.ScopeFromContext(c)
}

// bind decodes and validates the request body into req. On failure it has
// already written the 400 response and returns ok=false.
func (b base) bind(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, apierrors.ValidationError(c, "Invalid request body")
	}
	if err := b.validate.Struct(req); err != nil {
		return false, apierrors.ValidationError(c, validationMessage(err))
	}
	return true, nil
}

func (b base) fail(c echo.Context, err error) error {
	return apierrors.Respond(c, b.log, err)
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return "invalid value for " + strings.ToLower(fe.Field()) + " (" + fe.Tag() + ")"
}

// page reads limit and offset query parameters
func page(c echo.Context) (int, int) {
	limit := queryInt(c, "limit", defaultLimit)
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func queryBool(c echo.Context, name string) bool {
	b, _ := strconv.ParseBool(c.QueryParam(name))
	return b
}

// queryList splits a comma separated query parameter
func queryList(c echo.Context, name string) []string {
	var out []string
	for _, part := range strings.Split(c.QueryParam(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// queryTime parses an RFC 3339 query parameter
func queryTime(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var errEntityTypeRequired = domain.NewValidationError("entity_type is required")
