package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=1000", MaxLimit, 0},
		{"?limit=-3&offset=-1", DefaultLimit, 0},
		{"?limit=abc", DefaultLimit, 0},
	}
	e := echo.New()
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
		c := e.NewContext(req, httptest.NewRecorder())
		p := FromContext(c)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%q: got %+v, want limit=%d offset=%d", tt.query, p, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if r := NewResponse(nil, 30, 20, 0); !r.HasMore {
		t.Error("expected HasMore with 30 total and first page of 20")
	}
	if r := NewResponse(nil, 30, 20, 20); r.HasMore {
		t.Error("expected no more after second page")
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	if got := Page(items, Params{Limit: 2, Offset: 1}); len(got) != 2 || got[0] != 2 {
		t.Errorf("unexpected page %v", got)
	}
	if got := Page(items, Params{Limit: 10, Offset: 4}); len(got) != 1 || got[0] != 5 {
		t.Errorf("unexpected tail page %v", got)
	}
	if got := Page(items, Params{Limit: 10, Offset: 9}); len(got) != 0 {
		t.Errorf("expected empty page, got %v", got)
	}
}
