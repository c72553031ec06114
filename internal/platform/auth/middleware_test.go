package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var backOfficeSecret = []byte("back-office-secret")

func staffClaims(pharmacy string, roles ...string) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tech-042",
			Issuer:    "https://idp.pharmacy.example",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		PharmacyID: pharmacy,
		Roles:      roles,
	}
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims *Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// authenticate runs the middleware for one request and reports what the
// downstream handler saw.
type seen struct {
	called bool
	user   string
	roles  []string
	tenant string
}

func authenticate(cfg JWTConfig, header string) (seen, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	var s seen
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		s.called = true
		s.user = UserIDFromContext(c.Request().Context())
		s.roles = RolesFromContext(c.Request().Context())
		s.tenant, _ = c.Get("jwt_tenant_id").(string)
		return nil
	})(c)
	return s, err
}

func wantStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != code {
		t.Fatalf("err = %v, want HTTP %d", err, code)
	}
}

func TestJWTMiddleware_BackOfficeToken(t *testing.T) {
	tok := sign(t, jwt.SigningMethodHS256, backOfficeSecret, staffClaims("store_0117", RoleCashier))
	s, err := authenticate(JWTConfig{Secret: backOfficeSecret}, "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.called || s.user != "tech-042" || s.tenant != "store_0117" {
		t.Errorf("downstream saw %+v", s)
	}
	if len(s.roles) != 1 || s.roles[0] != RoleCashier {
		t.Errorf("roles = %v", s.roles)
	}
}

func TestJWTMiddleware_IdentityProviderToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "idp.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	pub, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}

	cfg := JWTConfig{PublicKey: pub, Issuer: "https://idp.pharmacy.example"}
	tok := sign(t, jwt.SigningMethodRS256, key, staffClaims("store_0117", RoleBilling, RoleAuditor))
	s, err := authenticate(cfg, "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.tenant != "store_0117" || len(s.roles) != 2 {
		t.Errorf("downstream saw %+v", s)
	}

	// A back-office token is not accepted when only the provider key is set.
	hs := sign(t, jwt.SigningMethodHS256, backOfficeSecret, staffClaims("store_0117", RoleBilling))
	_, err = authenticate(cfg, "Bearer "+hs)
	wantStatus(t, err, http.StatusUnauthorized)

	other := staffClaims("store_0117", RoleBilling)
	other.Issuer = "https://elsewhere.example"
	_, err = authenticate(cfg, "Bearer "+sign(t, jwt.SigningMethodRS256, key, other))
	wantStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RejectsClaims(t *testing.T) {
	cfg := JWTConfig{Secret: backOfficeSecret}
	expired := staffClaims("store_0117", RoleBilling)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := staffClaims("store_0117", RoleBilling)
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name   string
		claims *Claims
	}{
		{"no pharmacy", staffClaims("", RoleBilling)},
		{"pharmacy outside tenant alphabet", staffClaims("store-0117; drop", RoleBilling)},
		{"no ledger role", staffClaims("store_0117", "pharmacist")},
		{"expired", expired},
		{"no expiry", noExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := authenticate(cfg, "Bearer "+sign(t, jwt.SigningMethodHS256, backOfficeSecret, tt.claims))
			wantStatus(t, err, http.StatusUnauthorized)
			if s.called {
				t.Error("handler must not run")
			}
		})
	}
}

func TestJWTMiddleware_Header(t *testing.T) {
	cfg := JWTConfig{Secret: backOfficeSecret}
	tok := sign(t, jwt.SigningMethodHS256, backOfficeSecret, staffClaims("store_0117", RoleBilling))
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"basic", "Basic Y2FzaGllcjpwdw=="},
		{"bearer without token", "Bearer "},
		{"wrong secret", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), staffClaims("store_0117", RoleBilling))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authenticate(cfg, tt.header)
			wantStatus(t, err, http.StatusUnauthorized)
		})
	}

	if _, err := authenticate(cfg, "bearer "+tok); err != nil {
		t.Errorf("scheme is case-insensitive: %v", err)
	}
}

func TestJWTMiddleware_SkipsHealth(t *testing.T) {
	e := echo.New()
	var called bool
	e.Use(JWTMiddleware(JWTConfig{Secret: backOfficeSecret, Skipper: AuthSkipper}))
	e.GET("/health", func(c echo.Context) error { called = true; return c.NoContent(http.StatusOK) })
	e.GET("/api/v1/invoices", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !called {
		t.Errorf("health = %d, called %v", rec.Code, called)
	}
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invoices without token = %d, want 401", rec.Code)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := DevAuthMiddleware()(func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) != "dev-user" {
			t.Errorf("user = %q", UserIDFromContext(ctx))
		}
		if r := RolesFromContext(ctx); len(r) != 1 || r[0] != RoleAdmin {
			t.Errorf("roles = %v", r)
		}
		if c.Get("jwt_tenant_id") != nil {
			t.Error("dev principal must leave the pharmacy to the tenant middleware")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if UserIDFromContext(context.Background()) != "" || RolesFromContext(context.Background()) != nil {
		t.Error("empty context must yield no principal")
	}
}
