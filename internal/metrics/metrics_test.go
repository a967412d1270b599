package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.SaleCompleted()
	m.SaleFailed("insufficient_stock")
	m.LoginAttempt("locked")
	m.MovementRecorded("sale")
	m.MovementRecorded("sale")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"retailpos_sales_completed_total 1",
		`retailpos_stock_movements_total{kind="sale"} 2`,
		`retailpos_login_attempts_total{outcome="locked"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SaleCompleted()
	m.SaleFailed("x")
	m.ReturnProcessed()
	m.LoginAttempt("ok")
	m.MovementRecorded("sale")
	m.Request("GET", "200")
	m.ConflictRetried()
}
