package monitor

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"guardianpath/internal/alerts"
	"guardianpath/internal/behavior"
	"guardianpath/internal/config"
	"guardianpath/internal/metrics"
	"guardianpath/internal/model"
	"guardianpath/internal/registry"
	"guardianpath/internal/simulate"
	"guardianpath/internal/travel"
)

type memStore struct {
	mu       sync.Mutex
	alerts   []model.Alert
	analyses int
	patterns int
}

func (s *memStore) Init(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

func (s *memStore) SaveAlert(_ context.Context, a model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *memStore) SaveAnalyses(_ context.Context, a []model.TravelAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses += len(a)
	return nil
}

func (s *memStore) SaveBehavior(_ context.Context, p []model.BehaviorPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns += len(p)
	return nil
}

func (s *memStore) RecentAlerts(context.Context, int) ([]model.Alert, error) {
	return nil, nil
}

type fixture struct {
	m       *Monitor
	alerts  *alerts.Processor
	metrics *metrics.Store
	store   *memStore
	cfg     *config.Config
}

func newFixture(t *testing.T, mutate func(*config.Config)) fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	reg := registry.Default()
	analyzer, err := travel.NewAnalyzer(reg, cfg.Detection, nil)
	if err != nil {
		t.Fatalf("analyzer: %v", err)
	}
	settings, err := behavior.NewSettings(cfg.Behavior, cfg.Detection)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	engine := behavior.NewEngine(reg, analyzer, settings, nil)
	processor := alerts.NewProcessor(cfg.Alerts.Capacity, nil)
	ms := metrics.NewStore(0)
	store := &memStore{}
	m := New(cfg, reg, analyzer, engine, processor, ms, store, nil)
	return fixture{m: m, alerts: processor, metrics: ms, store: store, cfg: cfg}
}

var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func event(id, identity, location string, at time.Time) model.AccessEvent {
	return model.AccessEvent{ID: id, IdentityID: identity, LocationID: location, Timestamp: at, DeviceID: "DEV-" + id, Source: "test"}
}

func TestRecomputeEmitsTravelAlertOnce(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Alerts.AlertOnBehavior = false })
	f.m.IngestBatch([]model.AccessEvent{
		event("e1", "1", "icu", base),
		event("e2", "1", "pharmacy", base.Add(30*time.Second)),
	})
	snap, applied := f.m.Recompute(context.Background())
	if !applied {
		t.Fatalf("expected recompute applied")
	}
	if snap.Stats.TotalEvents != 2 || snap.Stats.Analyses != 1 || snap.Stats.Impossible != 1 {
		t.Fatalf("unexpected stats: %+v", snap.Stats)
	}
	if f.alerts.Len() != 1 {
		t.Fatalf("expected 1 alert, got %d", f.alerts.Len())
	}
	got := f.alerts.List(0)[0]
	if got.Type != model.AlertFraud || got.Source != alerts.SourceTravel || got.FromLocation != "ICU" || got.ToLocation != "Pharmacy" {
		t.Fatalf("unexpected alert: %+v", got)
	}
	if _, applied := f.m.Recompute(context.Background()); !applied {
		t.Fatalf("expected second recompute applied")
	}
	if f.alerts.Len() != 1 {
		t.Fatalf("alert repeated across recomputes: %d", f.alerts.Len())
	}
	if len(f.store.alerts) != 1 || f.store.analyses != 2 {
		t.Fatalf("unexpected persistence: %d alerts, %d analyses", len(f.store.alerts), f.store.analyses)
	}
	im, ok := f.metrics.Get("1")
	if !ok || im.Events != 2 || im.Impossible != 1 || im.MaxRiskScore < 80 {
		t.Fatalf("unexpected identity metrics: %+v", im)
	}
}

func TestTravelAlertNotRepeatedWhileInHistory(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Alerts.AlertOnBehavior = false })
	now := base.Add(time.Minute)
	f.m.now = func() time.Time { return now }
	f.m.IngestBatch([]model.AccessEvent{
		event("e1", "1", "icu", base),
		event("e2", "1", "pharmacy", base.Add(30*time.Second)),
	})
	f.m.Recompute(context.Background())
	now = now.Add(24 * time.Hour)
	f.m.Recompute(context.Background())
	if f.alerts.Len() != 1 || f.alerts.UnreadCount() != 1 {
		t.Fatalf("expected a single alert, got len=%d unread=%d", f.alerts.Len(), f.alerts.UnreadCount())
	}
	if !f.alerts.MarkAsRead("ALERT-ANALYSIS-e1-e2") || f.alerts.UnreadCount() != 0 {
		t.Fatalf("expected unread 0 after marking, got %d", f.alerts.UnreadCount())
	}
	if f.m.travelSent.Len() != 1 {
		t.Fatalf("expected one emitted key, got %d", f.m.travelSent.Len())
	}
}

func TestEmittedKeysPrunedWithHistory(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Alerts.AlertOnBehavior = false
		c.Monitor.HistoryLimit = 2
	})
	f.m.IngestBatch([]model.AccessEvent{
		event("e1", "1", "icu", base),
		event("e2", "1", "pharmacy", base.Add(30*time.Second)),
	})
	f.m.Recompute(context.Background())
	f.m.IngestBatch([]model.AccessEvent{
		event("e3", "2", "reception", base.Add(time.Hour)),
		event("e4", "2", "lab", base.Add(2*time.Hour)),
	})
	f.m.Recompute(context.Background())
	if f.m.travelSent.Len() != 0 {
		t.Fatalf("expected emitted keys pruned with trimmed history, got %d", f.m.travelSent.Len())
	}
}

func TestAlertGates(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Alerts.EnableAlerts = false })
	f.m.IngestBatch([]model.AccessEvent{
		event("e1", "1", "icu", base),
		event("e2", "1", "pharmacy", base.Add(30*time.Second)),
	})
	f.m.Recompute(context.Background())
	if f.alerts.Len() != 0 {
		t.Fatalf("alerts emitted while disabled")
	}

	f = newFixture(t, func(c *config.Config) {
		c.Alerts.AlertOnImpossible = false
		c.Alerts.AlertOnBehavior = false
	})
	f.m.IngestBatch([]model.AccessEvent{
		event("e1", "1", "icu", base),
		event("e2", "1", "pharmacy", base.Add(30*time.Second)),
		event("e3", "2", "icu", base),
		event("e4", "2", "pharmacy", base.Add(time.Minute)),
	})
	f.m.Recompute(context.Background())
	list := f.alerts.List(0)
	if len(list) != 1 || list[0].Type != model.AlertSuspicious {
		t.Fatalf("expected only the suspicious alert, got %+v", list)
	}
}

func TestBehaviorAlertOnCriticalAnomaly(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Alerts.AlertOnImpossible = false
		c.Alerts.AlertOnSuspicious = false
	})
	f.m.IngestBatch([]model.AccessEvent{
		event("e1", "1", "icu", base),
		event("e2", "1", "pharmacy", base.Add(time.Minute)),
		event("e3", "1", "lab", base.Add(2*time.Minute)),
	})
	snap, _ := f.m.Recompute(context.Background())
	p, ok := f.m.Pattern("1")
	if !ok || !alerts.HasCritical(p) {
		t.Fatalf("expected critical anomaly for identity 1: %+v", p)
	}
	if snap.Summary.CriticalCount == 0 {
		t.Fatalf("expected critical count in summary")
	}
	list := f.alerts.List(0)
	if len(list) != 1 {
		t.Fatalf("expected one behavior alert, got %d", len(list))
	}
	if list[0].Source != alerts.SourceBehavior || list[0].FromLocation != "Pathology Lab" {
		t.Fatalf("unexpected behavior alert: %+v", list[0])
	}
	f.m.Recompute(context.Background())
	if f.alerts.Len() != 1 {
		t.Fatalf("behavior alert repeated for the same activity")
	}
}

func TestIngestDropsDuplicatesAndInvalid(t *testing.T) {
	f := newFixture(t, nil)
	if !f.m.Ingest(event("e1", "1", "icu", base)) {
		t.Fatalf("expected first event accepted")
	}
	dup := event("other-id", "1", "icu", base)
	dup.DeviceID = "DEV-e1"
	if f.m.Ingest(dup) {
		t.Fatalf("expected replayed event dropped")
	}
	if f.m.Ingest(model.AccessEvent{IdentityID: "1", Timestamp: base}) {
		t.Fatalf("expected event without location dropped")
	}
	noID := event("", "2", "icu", base)
	if !f.m.Ingest(noID) {
		t.Fatalf("expected event without id accepted")
	}
	hist := f.m.History(0)
	if len(hist) != 2 || hist[0].ID == "" || hist[1].ID != "e1" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestHistoryLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Monitor.HistoryLimit = 3 })
	for i := 0; i < 5; i++ {
		f.m.Ingest(event(string(rune('a'+i)), "1", "icu", base.Add(time.Duration(i)*time.Minute)))
	}
	hist := f.m.History(0)
	if len(hist) != 3 || hist[0].ID != "e" || hist[2].ID != "c" {
		t.Fatalf("unexpected bounded history: %+v", hist)
	}
	if got := f.m.History(1); len(got) != 1 || got[0].ID != "e" {
		t.Fatalf("unexpected limited history: %+v", got)
	}
}

func TestStaleResultDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	f.m.Ingest(event("e1", "1", "icu", base))
	older := f.m.compute(f.m.generation.Add(1))
	newer := f.m.compute(f.m.generation.Add(1))
	if !f.m.apply(newer) {
		t.Fatalf("expected newest result applied")
	}
	if f.m.apply(older) {
		t.Fatalf("expected superseded result discarded")
	}
	if f.m.Snapshot().Generation != newer.Generation {
		t.Fatalf("snapshot regressed to generation %d", f.m.Snapshot().Generation)
	}
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t, nil)
	bad := config.DefaultConfig()
	bad.Detection.ImpossibleTravelRatio = 0.9
	if err := f.m.UpdateConfig(bad); !errors.Is(err, config.ErrConfigOutOfRange) {
		t.Fatalf("expected ErrConfigOutOfRange, got %v", err)
	}
	if f.m.analyzer.Config().ImpossibleTravelRatio != 0.3 {
		t.Fatalf("analyzer changed by rejected config")
	}
	next := config.DefaultConfig()
	next.Detection.ImpossibleTravelRatio = 0.4
	next.Alerts.Capacity = 5
	if err := f.m.UpdateConfig(next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.m.analyzer.Config().ImpossibleTravelRatio != 0.4 || f.alerts.Capacity() != 5 {
		t.Fatalf("config not propagated")
	}
	if f.m.config() != next {
		t.Fatalf("monitor config not swapped")
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t, nil)
	f.m.IngestBatch([]model.AccessEvent{
		event("e1", "1", "icu", base),
		event("e2", "1", "pharmacy", base.Add(30*time.Second)),
	})
	f.m.Recompute(context.Background())
	f.m.Reset()
	if f.m.HistoryLen() != 0 || len(f.m.Snapshot().Analyses) != 0 || f.metrics.Len() != 0 {
		t.Fatalf("expected empty state after reset")
	}
	// suppression state is cleared too
	if !f.m.Ingest(event("e1", "1", "icu", base)) {
		t.Fatalf("expected event accepted after reset")
	}
}

func TestStartConsumesChannel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan model.AccessEvent, 4)
	f.m.Start(ctx, in)
	in <- event("e1", "1", "icu", base)
	in <- event("e2", "1", "pharmacy", base.Add(30*time.Second))
	deadline := time.Now().Add(2 * time.Second)
	for f.m.HistoryLen() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	f.m.Wait()
	if f.m.HistoryLen() != 2 {
		t.Fatalf("expected 2 events consumed, got %d", f.m.HistoryLen())
	}
}

func TestRefreshWithSimulation(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Monitor.Simulate.Enabled = true
		c.Monitor.Simulate.EventsPerBatch = 1
		c.Alerts.EnableAlerts = false
	})
	f.m.SetGenerator(simulate.New(registry.Default(), rand.New(rand.NewPCG(3, 4)), time.UTC))
	snap := f.m.Refresh(context.Background())
	if snap.Stats.TotalEvents != 5 || f.m.HistoryLen() != 5 {
		t.Fatalf("expected 5 events, got %d", snap.Stats.TotalEvents)
	}
	if snap.Stats.Impossible+snap.Stats.Suspicious < 2 {
		t.Fatalf("expected scripted journeys flagged: %+v", snap.Stats)
	}
	// replace-history keeps the history at one batch
	snap = f.m.Refresh(context.Background())
	if snap.Stats.TotalEvents != 5 {
		t.Fatalf("expected history replaced, got %d", snap.Stats.TotalEvents)
	}
	st := f.m.Status()
	if st.History != 5 || st.Generation != snap.Generation {
		t.Fatalf("unexpected status: %+v", st)
	}
}
