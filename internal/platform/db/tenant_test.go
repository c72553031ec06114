package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID_FromHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "pharmacy_12")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	tid := extractTenantID(c, "default")
	if tid != "pharmacy_12" {
		t.Errorf("expected pharmacy_12, got %s", tid)
	}
}

func TestExtractTenantID_FromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=store_9", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if tid := extractTenantID(c, "default"); tid != "store_9" {
		t.Errorf("expected store_9, got %s", tid)
	}
}

func TestExtractTenantID_Default(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if tid := extractTenantID(c, "default"); tid != "default" {
		t.Errorf("expected default, got %s", tid)
	}
}

func TestExtractTenantID_Priority(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=query", nil)
	req.Header.Set("X-Tenant-ID", "header")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_tenant_id", "jwt")

	// JWT claim wins over header and query
	if tid := extractTenantID(c, "default"); tid != "jwt" {
		t.Errorf("expected jwt, got %s", tid)
	}
}

func TestValidTenantID(t *testing.T) {
	for _, v := range []string{"abc", "pharmacy_1", "A1B2"} {
		if !ValidTenantID(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	for _, v := range []string{"", "a-b", "a;drop", "x y", "t.1"} {
		if ValidTenantID(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("main"); got != "tenant_main" {
		t.Errorf("expected tenant_main, got %s", got)
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx")
	}
	if TenantFromContext(ctx) != "" {
		t.Error("expected empty tenant")
	}
}

func TestWithTx_NoConn(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error without connection")
	}
}

func TestPassthrough(t *testing.T) {
	called := false
	err := Passthrough.InTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run, err=%v called=%v", err, called)
	}
}
