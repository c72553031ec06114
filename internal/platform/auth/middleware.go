package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/rxledger/rxledger/internal/platform/db"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Claims are the bearer token claims issued to pharmacy staff. PharmacyID is
// the tenant whose schema the request runs against.
type Claims struct {
	jwt.RegisteredClaims
	PharmacyID string   `json:"pharmacy_id"`
	Roles      []string `json:"roles"`
}

// Validate runs after signature and time checks. A token must name a
// pharmacy and carry at least one ledger role.
func (c *Claims) Validate() error {
	if c.PharmacyID == "" {
		return errors.New("token has no pharmacy_id")
	}
	if !db.ValidTenantID(c.PharmacyID) {
		return fmt.Errorf("pharmacy_id %q is not a valid tenant", c.PharmacyID)
	}
	for _, r := range c.Roles {
		if KnownRole(r) {
			return nil
		}
	}
	return errors.New("token carries no ledger role")
}

// JWTConfig selects how bearer tokens are verified. PublicKey verifies RS256
// tokens from the pharmacy's identity provider; Secret verifies HS256 tokens
// minted by back-office tooling. At least one must be set.
type JWTConfig struct {
	Issuer    string
	Audience  string
	PublicKey *rsa.PublicKey
	Secret    []byte
	Skipper   func(c echo.Context) bool
}

// LoadPublicKey reads a PEM encoded RSA public key or certificate.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	return key, nil
}

func (cfg JWTConfig) methods() []string {
	var out []string
	if cfg.PublicKey != nil {
		out = append(out, jwt.SigningMethodRS256.Alg())
	}
	if len(cfg.Secret) > 0 {
		out = append(out, jwt.SigningMethodHS256.Alg())
	}
	return out
}

func (cfg JWTConfig) keyFunc(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodRSA:
		if cfg.PublicKey != nil {
			return cfg.PublicKey, nil
		}
	case *jwt.SigningMethodHMAC:
		if len(cfg.Secret) > 0 {
			return cfg.Secret, nil
		}
	}
	return nil, fmt.Errorf("no key configured for %s", t.Method.Alg())
}

// JWTMiddleware authenticates bearer tokens and exposes the caller's
// pharmacy to the tenant middleware under "jwt_tenant_id".
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods(cfg.methods()), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, raw, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(raw) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, cfg.keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set("jwt_tenant_id", claims.PharmacyID)

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as an admin.
// The pharmacy comes from X-Tenant-ID or DEFAULT_TENANT. Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				ctx := context.WithValue(c.Request().Context(), UserIDKey, "dev-user")
				ctx = context.WithValue(ctx, UserRolesKey, []string{RoleAdmin})
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
