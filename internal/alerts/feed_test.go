package alerts

import (
	"errors"
	"math"
	"testing"
	"time"

	"guardianpath/internal/config"
	"guardianpath/internal/model"
	"guardianpath/internal/registry"
)

func newFeedForTest(t *testing.T, values ...float64) *Feed {
	t.Helper()
	f, err := NewFeed(config.DefaultFeed(), registry.Default(), &seqRand{values: values})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	f.now = func() time.Time { return time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC) }
	return f
}

func TestNextDelay(t *testing.T) {
	f := newFeedForTest(t, 0, 0.5, 0.999)
	want := []time.Duration{15 * time.Second, 30 * time.Second}
	for _, w := range want {
		if got := f.NextDelay(); got != w {
			t.Fatalf("delay %v want %v", got, w)
		}
	}
	if got := f.NextDelay(); got >= 45*time.Second || got < 44*time.Second {
		t.Fatalf("delay %v outside [44s, 45s)", got)
	}
}

func TestGenerateExactValues(t *testing.T) {
	// type, score, staff, from, to
	f := newFeedForTest(t, 0.1, 0.5, 0.0, 0.0, 0.0)
	a, ok := f.Generate()
	if !ok {
		t.Fatalf("expected alert")
	}
	if a.Type != model.AlertFraud || a.RiskScore != 92.5 {
		t.Fatalf("unexpected type/score: %s %v", a.Type, a.RiskScore)
	}
	if a.StaffName != "Dr. Rahul Sharma" || a.FromLocation != "ICU" || a.ToLocation != "Pharmacy" {
		t.Fatalf("unexpected draw: %+v", a)
	}
	if a.Source != SourceFeed || a.Title != Title(model.AlertFraud) {
		t.Fatalf("unexpected metadata: %+v", a)
	}
}

func TestGenerateTypeWeights(t *testing.T) {
	cases := []struct {
		r     float64
		typ   model.AlertType
		score float64
	}{
		{0.19, model.AlertFraud, 85},
		{0.2, model.AlertSuspicious, 50},
		{0.59, model.AlertSuspicious, 50},
		{0.61, model.AlertInfo, 10},
		{0.99, model.AlertInfo, 10},
	}
	for _, tc := range cases {
		f := newFeedForTest(t, tc.r, 0, 0.5, 0.9, 0.9)
		a, ok := f.Generate()
		if !ok || a.Type != tc.typ || a.RiskScore != tc.score {
			t.Fatalf("r=%v: got %s/%v want %s/%v", tc.r, a.Type, a.RiskScore, tc.typ, tc.score)
		}
		if a.FromLocation == a.ToLocation {
			t.Fatalf("locations must differ: %+v", a)
		}
	}
}

func TestGenerateScoreRangesHalfOpen(t *testing.T) {
	f := newFeedForTest(t, 0.3, math.Nextafter(1, 0), 0, 0, 0)
	a, _ := f.Generate()
	if a.Type != model.AlertSuspicious || a.RiskScore >= 85 || a.RiskScore < 84.99 {
		t.Fatalf("unexpected score %v", a.RiskScore)
	}
}

func TestGenerateNeedsTwoLocations(t *testing.T) {
	reg, err := registry.New([]model.Location{{ID: "only"}}, []model.Identity{{ID: "1"}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	f, err := NewFeed(config.DefaultFeed(), reg, &seqRand{values: []float64{0.5}})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if _, ok := f.Generate(); ok {
		t.Fatalf("expected no alert with a single location")
	}
}

func TestTriggerTest(t *testing.T) {
	p := NewProcessor(10, nil)
	if _, err := p.TriggerTest(model.AlertFraud); !errors.Is(err, ErrNoFeed) {
		t.Fatalf("expected ErrNoFeed, got %v", err)
	}
	p.AttachFeed(newFeedForTest(t, 0.5))
	scores := map[model.AlertType]float64{model.AlertFraud: 95, model.AlertSuspicious: 70, model.AlertInfo: 20}
	for typ, score := range scores {
		a, err := p.TriggerTest(typ)
		if err != nil {
			t.Fatalf("trigger: %v", err)
		}
		if a.Type != typ || a.RiskScore != score || a.Source != SourceTest {
			t.Fatalf("unexpected test alert: %+v", a)
		}
		if a.FromLocation != "ICU" || a.ToLocation != "Pharmacy" || a.Message != "Test alert for Dr. Rahul Sharma" {
			t.Fatalf("unexpected test alert text: %+v", a)
		}
	}
	if p.Len() != 3 || p.UnreadCount() != 3 {
		t.Fatalf("expected 3 unread test alerts")
	}
}

func TestRejectsInvalidFeedConfig(t *testing.T) {
	cfg := config.DefaultFeed()
	cfg.MinInterval = 0
	if _, err := NewFeed(cfg, registry.Default(), nil); !errors.Is(err, config.ErrConfigOutOfRange) {
		t.Fatalf("expected ErrConfigOutOfRange, got %v", err)
	}
}

func TestClassification(t *testing.T) {
	if ClassifyAnalysis(model.StatusImpossible) != model.AlertFraud ||
		ClassifyAnalysis(model.StatusSuspicious) != model.AlertSuspicious ||
		ClassifyAnalysis(model.StatusSafe) != model.AlertInfo {
		t.Fatalf("unexpected analysis classification")
	}
	a := FromAnalysis(model.TravelAnalysis{ID: "ANALYSIS-1-2", StaffName: "S", FromLocation: "ICU", ToLocation: "Lab", Status: model.StatusImpossible, RiskScore: 97})
	if a.ID != "ALERT-ANALYSIS-1-2" || a.Type != model.AlertFraud || a.RiskScore != 97 || a.Source != SourceTravel {
		t.Fatalf("unexpected travel alert: %+v", a)
	}
	b := FromBehavior(model.BehaviorPattern{StaffName: "S", BehaviorScore: 65, Anomalies: []model.BehaviorAnomaly{{Type: model.AnomalyLocationHopping, Severity: model.SeverityCritical}}}, "ICU")
	if b.Type != model.AlertSuspicious || b.RiskScore != 35 || b.Source != SourceBehavior {
		t.Fatalf("unexpected behavior alert: %+v", b)
	}
}
