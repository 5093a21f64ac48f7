package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"guardianpath/internal/model"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Update(model.IdentityMetrics{IdentityID: "a", UpdatedAt: base})
	s.Update(model.IdentityMetrics{IdentityID: "b", UpdatedAt: base.Add(time.Minute)})
	s.Update(model.IdentityMetrics{IdentityID: "c", UpdatedAt: base.Add(2 * time.Minute)})
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	if _, ok := s.Get("a"); ok {
		t.Fatalf("expected oldest entry evicted")
	}
}

func TestStoreReplaceAndOrder(t *testing.T) {
	s := NewStore(10)
	s.Update(model.IdentityMetrics{IdentityID: "stale"})
	s.Replace([]model.IdentityMetrics{
		{IdentityID: "2", MaxRiskScore: 40},
		{IdentityID: "1", MaxRiskScore: 97},
		{IdentityID: "3", MaxRiskScore: 40},
		{IdentityID: ""},
	})
	all := s.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].IdentityID != "1" || all[1].IdentityID != "2" || all[2].IdentityID != "3" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if _, ok := s.Get("stale"); ok {
		t.Fatalf("replace should drop previous entries")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestHandlerExposesGauges(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for _, name := range []string{"guardianpath_alerts_unread", "guardianpath_history_events"} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}
}
