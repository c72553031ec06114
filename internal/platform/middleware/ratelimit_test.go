package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/rxledger/rxledger/internal/platform/auth"
)

// counterRequest is a request from a staff member at a pharmacy, as seen
// after the auth and tenant middleware ran.
func counterRequest(e *echo.Echo, tenant, user string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	if user != "" {
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, user))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if tenant != "" {
		c.Set("tenant_id", tenant)
	}
	return c, rec
}

func TestRateLimit_ThrottlesAfterBurst(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 3})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusCreated) })

	for i := 0; i < 3; i++ {
		c, rec := counterRequest(e, "store_0117", "cashier-1")
		if err := h(c); err != nil {
			t.Fatalf("payment %d: %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(2-i) {
			t.Errorf("payment %d remaining = %q, want %d", i+1, got, 2-i)
		}
	}

	c, rec := counterRequest(e, "store_0117", "cashier-1")
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("fourth payment err = %v, want 429", err)
	}
	// One token every two seconds.
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "0.5" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
}

func TestRateLimit_BucketsPerStaffAndPharmacy(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.01, BurstSize: 1})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	call := func(tenant, user string) error {
		c, _ := counterRequest(e, tenant, user)
		return h(c)
	}
	if err := call("store_0117", "cashier-1"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := call("store_0117", "cashier-1"); err == nil {
		t.Error("same cashier should be throttled")
	}
	if err := call("store_0117", "cashier-2"); err != nil {
		t.Errorf("another cashier at the same counter has its own bucket: %v", err)
	}
	if err := call("store_0200", "cashier-1"); err != nil {
		t.Errorf("same user id at another pharmacy has its own bucket: %v", err)
	}
	if err := call("store_0117", ""); err != nil {
		t.Errorf("anonymous caller falls back to its address: %v", err)
	}
	if err := call("store_0117", ""); err == nil {
		t.Error("anonymous caller from the same address should be throttled")
	}
}

func TestClientKey(t *testing.T) {
	e := echo.New()
	c, _ := counterRequest(e, "", "billing-7")
	c.Set("jwt_tenant_id", "store_0117")
	if got := clientKey(c); got != "store_0117/billing-7" {
		t.Errorf("key from token pharmacy = %q", got)
	}
	c, _ = counterRequest(e, "store_0200", "")
	if got := clientKey(c); got != "store_0200/ip:10.1.2.3" {
		t.Errorf("anonymous key = %q", got)
	}
}
