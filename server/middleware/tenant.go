package middleware

import (
	"context"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	apperrors "github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/server/internal/observability"
)

// TenantClaims are the JWT claims identifying the caller's organization.
type TenantClaims struct {
	OrganizationID string `json:"org_id"`
	jwt.RegisteredClaims
}

type organizationKey struct{}

// WithOrganizationID returns a copy of ctx carrying the tenant id.
func WithOrganizationID(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, organizationKey{}, organizationID)
}

// OrganizationIDFromContext returns the tenant id set by TenantMiddleware.
func OrganizationIDFromContext(ctx context.Context) (string, bool) {
	organizationID, ok := ctx.Value(organizationKey{}).(string)
	return organizationID, ok && organizationID != ""
}

// ParseTenantToken verifies an HS256 token and returns its organization id.
func ParseTenantToken(tokenString string, secret []byte) (string, error) {
	claims := &TenantClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.Wrap(err, "invalid token")
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.OrganizationID == "" {
		return "", errors.New("token has no org_id claim")
	}
	return claims.OrganizationID, nil
}

// TenantMiddleware authenticates the bearer token and stores the organization id
// and a request logging context on the request.
func TenantMiddleware(secret string) echo.MiddlewareFunc {
	key := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenString, found := strings.CutPrefix(header, "Bearer ")
			if !found || tokenString == "" {
				return RespondError(c, apperrors.Unauthorized("missing bearer token"))
			}
			organizationID, err := ParseTenantToken(tokenString, key)
			if err != nil {
				return RespondError(c, apperrors.Unauthorized(err.Error()))
			}

			ctx := WithOrganizationID(c.Request().Context(), organizationID)
			reqCtx := observability.NewRequestContextWithID(nil,
				c.Request().Header.Get(echo.HeaderXRequestID), c.Path(), organizationID)
			ctx = observability.WithRequestContext(ctx, reqCtx)
			c.SetRequest(c.Request().WithContext(ctx))

			err = next(c)
			reqCtx.Info("request completed",
				slog.Int("status", c.Response().Status),
				slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
			return err
		}
	}
}
