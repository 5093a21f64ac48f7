package monitor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"guardianpath/internal/alerts"
	"guardianpath/internal/behavior"
	"guardianpath/internal/config"
	"guardianpath/internal/metrics"
	"guardianpath/internal/model"
	"guardianpath/internal/registry"
	"guardianpath/internal/simulate"
	"guardianpath/internal/storage"
	"guardianpath/internal/travel"
)

type Stats struct {
	TotalEvents     int `json:"total_events"`
	Identities      int `json:"identities"`
	Analyses        int `json:"analyses"`
	Safe            int `json:"safe"`
	Suspicious      int `json:"suspicious"`
	Impossible      int `json:"impossible"`
	Anomalies       int `json:"anomalies"`
	HighRiskUsers   int `json:"high_risk_users"`
	MediumRiskUsers int `json:"medium_risk_users"`
}

// Snapshot is the result of one full-history recompute.
type Snapshot struct {
	Generation uint64                  `json:"generation"`
	ComputedAt time.Time               `json:"computed_at"`
	Analyses   []model.TravelAnalysis  `json:"analyses"`
	Patterns   []model.BehaviorPattern `json:"patterns"`
	Summary    model.BehaviorSummary   `json:"summary"`
	Stats      Stats                   `json:"stats"`

	eventCounts  map[string]int
	lastLocation map[string]string
}

type Status struct {
	StartedAt    time.Time        `json:"started_at"`
	History      int              `json:"history"`
	Generation   uint64           `json:"generation"`
	LastComputed time.Time        `json:"last_computed"`
	Alerts       int              `json:"alerts"`
	Unread       int              `json:"unread"`
	Connection   alerts.ConnState `json:"connection"`
}

// Monitor owns the access history and recomputes travel and behavior
// analysis over all of it, feeding alerts into the stream processor.
type Monitor struct {
	logger    *slog.Logger
	reg       *registry.Registry
	analyzer  *travel.Analyzer
	behavior  *behavior.Engine
	alerts    *alerts.Processor
	metrics   *metrics.Store
	store     storage.Store
	generator *simulate.Generator
	cfg       atomic.Value

	mu      sync.Mutex
	history []model.AccessEvent

	resMu    sync.RWMutex
	snapshot Snapshot

	generation   atomic.Uint64
	started      time.Time
	events       *DedupeCache
	emitMu       sync.Mutex
	travelSent   *EmittedSet
	behaviorSent *EmittedSet
	cooldown     *Cooldown
	now          func() time.Time
	wg           sync.WaitGroup
}

func New(cfg *config.Config, reg *registry.Registry, analyzer *travel.Analyzer, engine *behavior.Engine, processor *alerts.Processor, metricsStore *metrics.Store, store storage.Store, logger *slog.Logger) *Monitor {
	m := &Monitor{
		logger:       logger,
		reg:          reg,
		analyzer:     analyzer,
		behavior:     engine,
		alerts:       processor,
		metrics:      metricsStore,
		store:        store,
		started:      time.Now().UTC(),
		events:       NewDedupeCache(),
		travelSent:   NewEmittedSet(),
		behaviorSent: NewEmittedSet(),
		cooldown:     NewCooldown(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	m.cfg.Store(cfg)
	if store != nil && processor != nil {
		processor.Subscribe(m.persistAlert)
	}
	return m
}

// SetGenerator enables simulated batches on refresh when monitor.simulate is on.
func (m *Monitor) SetGenerator(g *simulate.Generator) {
	m.generator = g
}

func (m *Monitor) config() *config.Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// UpdateConfig validates cfg and pushes it to every component. A rejected
// config leaves all components on the prior one.
func (m *Monitor) UpdateConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := m.analyzer.UpdateConfig(cfg.Detection); err != nil {
		return err
	}
	if err := m.behavior.UpdateConfig(cfg.Behavior, cfg.Detection); err != nil {
		return err
	}
	if m.alerts != nil {
		if err := m.alerts.SetCapacity(cfg.Alerts.Capacity); err != nil {
			return err
		}
		m.alerts.SetThresholds(cfg.Detection.HighRiskScoreThreshold, cfg.Detection.MediumRiskScoreThreshold)
		if f := m.alerts.Feed(); f != nil {
			if err := f.UpdateConfig(cfg.Alerts.Feed); err != nil {
				return err
			}
		}
	}
	m.cfg.Store(cfg)
	return nil
}

// Start consumes in and refreshes on monitor.refresh_interval until ctx is
// done. Wait blocks until both loops have returned.
func (m *Monitor) Start(ctx context.Context, in <-chan model.AccessEvent) {
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case ev, ok := <-in:
				if !ok {
					return
				}
				m.Ingest(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) refreshLoop(ctx context.Context) {
	m.Refresh(ctx)
	timer := time.NewTimer(m.config().Monitor.RefreshInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.Refresh(ctx)
			timer.Reset(m.config().Monitor.RefreshInterval)
		}
	}
}

// Ingest appends ev to the history. It reports false when ev is incomplete
// or a duplicate of an event seen within monitor.dedupe_window.
func (m *Monitor) Ingest(ev model.AccessEvent) bool {
	cfg := m.config()
	if ev.IdentityID == "" || ev.LocationID == "" || ev.Timestamp.IsZero() {
		metrics.EventsDropped.WithLabelValues("invalid").Inc()
		return false
	}
	if m.events.Seen(hashEvent(ev), m.now(), cfg.Monitor.DedupeWindow) {
		metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		return false
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	source := ev.Source
	if source == "" {
		source = "unknown"
	}

	m.mu.Lock()
	m.history = append(m.history, ev)
	if limit := cfg.Monitor.HistoryLimit; limit > 0 && len(m.history) > limit {
		m.history = append([]model.AccessEvent(nil), m.history[len(m.history)-limit:]...)
	}
	n := len(m.history)
	m.mu.Unlock()

	metrics.EventsIngested.WithLabelValues(source).Inc()
	metrics.HistorySize.Set(float64(n))
	return true
}

func (m *Monitor) IngestBatch(events []model.AccessEvent) int {
	accepted := 0
	for _, ev := range events {
		if m.Ingest(ev) {
			accepted++
		}
	}
	return accepted
}

func (m *Monitor) HistoryLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// History returns up to limit of the most recently ingested events, newest
// first. limit <= 0 returns all of them.
func (m *Monitor) History(limit int) []model.AccessEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.AccessEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.history[i])
	}
	return out
}

func (m *Monitor) clearHistory() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
	m.events.Reset()
	metrics.HistorySize.Set(0)
}

// Refresh pulls a simulated batch when simulation is enabled, then
// recomputes.
func (m *Monitor) Refresh(ctx context.Context) Snapshot {
	cfg := m.config()
	sim := cfg.Monitor.Simulate
	if m.generator != nil && sim.Enabled {
		batch := m.generator.Batch(sim.EventsPerBatch, sim.ScriptScenarios)
		if sim.ReplaceHistory {
			m.clearHistory()
		}
		accepted := m.IngestBatch(batch)
		if m.logger != nil {
			m.logger.Debug("simulated batch ingested", "events", len(batch), "accepted", accepted)
		}
	}
	snap, _ := m.Recompute(ctx)
	return snap
}

// Recompute analyzes the whole history. Runs may overlap; a run whose
// generation has been superseded by the time it finishes is discarded and
// the current snapshot is returned with false.
func (m *Monitor) Recompute(ctx context.Context) (Snapshot, bool) {
	start := time.Now()
	snap := m.compute(m.generation.Add(1))
	if !m.apply(snap) {
		metrics.RecomputesDiscarded.Inc()
		if m.logger != nil {
			m.logger.Debug("recompute discarded", "generation", snap.Generation)
		}
		return m.Snapshot(), false
	}
	cfg := m.config()
	m.recordMetrics(snap)
	m.emitAlerts(cfg, snap)
	m.persist(ctx, snap)
	metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
	if m.logger != nil {
		m.logger.Debug("recompute applied",
			"generation", snap.Generation,
			"events", snap.Stats.TotalEvents,
			"analyses", snap.Stats.Analyses,
			"impossible", snap.Stats.Impossible,
			"suspicious", snap.Stats.Suspicious,
		)
	}
	return snap, true
}

func (m *Monitor) compute(gen uint64) Snapshot {
	m.mu.Lock()
	events := append([]model.AccessEvent(nil), m.history...)
	m.mu.Unlock()

	analyses := m.analyzer.Analyze(events)
	patterns := m.behavior.Analyze(events)
	summary := behavior.Summarize(patterns)

	counts := make(map[string]int)
	latest := make(map[string]model.AccessEvent)
	for _, ev := range events {
		counts[ev.IdentityID]++
		if cur, ok := latest[ev.IdentityID]; !ok || !ev.Timestamp.Before(cur.Timestamp) {
			latest[ev.IdentityID] = ev
		}
	}
	last := make(map[string]string, len(latest))
	for id, ev := range latest {
		last[id] = ev.LocationID
		if m.reg != nil {
			last[id] = m.reg.LocationName(ev.LocationID)
		}
	}

	stats := Stats{
		TotalEvents:     len(events),
		Identities:      len(patterns),
		Analyses:        len(analyses),
		Anomalies:       summary.TotalAnomalies,
		HighRiskUsers:   summary.HighRiskUsers,
		MediumRiskUsers: summary.MediumRiskUsers,
	}
	for _, a := range analyses {
		switch a.Status {
		case model.StatusSafe:
			stats.Safe++
		case model.StatusSuspicious:
			stats.Suspicious++
		case model.StatusImpossible:
			stats.Impossible++
		}
	}
	return Snapshot{
		Generation: gen,
		ComputedAt: m.now(),
		Analyses:   analyses,
		Patterns:   patterns,
		Summary:    summary,
		Stats:      stats,

		eventCounts:  counts,
		lastLocation: last,
	}
}

func (m *Monitor) apply(snap Snapshot) bool {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	if m.generation.Load() != snap.Generation {
		return false
	}
	m.snapshot = snap
	return true
}

func (m *Monitor) Snapshot() Snapshot {
	m.resMu.RLock()
	defer m.resMu.RUnlock()
	return m.snapshot
}

// Pattern returns the latest behavior pattern for one identity.
func (m *Monitor) Pattern(identityID string) (model.BehaviorPattern, bool) {
	snap := m.Snapshot()
	for _, p := range snap.Patterns {
		if p.StaffID == identityID {
			return p, true
		}
	}
	return model.BehaviorPattern{}, false
}

func (m *Monitor) Status() Status {
	snap := m.Snapshot()
	st := Status{
		StartedAt:    m.started,
		History:      m.HistoryLen(),
		Generation:   snap.Generation,
		LastComputed: snap.ComputedAt,
	}
	if m.alerts != nil {
		st.Alerts = m.alerts.Len()
		st.Unread = m.alerts.UnreadCount()
		st.Connection = m.alerts.State()
	}
	return st
}

// Reset drops the history, the latest snapshot and all suppression state.
// Buffered alerts are left to the alert endpoints.
func (m *Monitor) Reset() {
	m.clearHistory()
	gen := m.generation.Add(1)
	m.resMu.Lock()
	m.snapshot = Snapshot{Generation: gen, ComputedAt: m.now()}
	m.resMu.Unlock()
	m.emitMu.Lock()
	m.travelSent.Reset()
	m.behaviorSent.Reset()
	m.emitMu.Unlock()
	m.cooldown.Reset()
	if m.metrics != nil {
		m.metrics.Clear()
	}
	metrics.BehaviorAnomalies.Reset()
}

func behaviorKey(p model.BehaviorPattern) string {
	return p.StaffID + "|" + p.LastActivity.UTC().Format(time.RFC3339Nano)
}

// emitAlerts raises each travel pair and each critical latest activity at
// most once while it remains in the history. Only the newest generation
// emits, so an older run cannot prune keys a newer one just recorded.
func (m *Monitor) emitAlerts(cfg *config.Config, snap Snapshot) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if m.generation.Load() != snap.Generation {
		return
	}
	liveTravel := make(map[string]struct{}, len(snap.Analyses))
	for _, a := range snap.Analyses {
		liveTravel[a.ID] = struct{}{}
	}
	m.travelSent.Retain(liveTravel)
	liveBehavior := make(map[string]struct{}, len(snap.Patterns))
	for _, p := range snap.Patterns {
		liveBehavior[behaviorKey(p)] = struct{}{}
	}
	m.behaviorSent.Retain(liveBehavior)

	if m.alerts == nil || !cfg.Alerts.EnableAlerts {
		return
	}
	now := m.now()

	var travelHits []model.TravelAnalysis
	for _, a := range snap.Analyses {
		switch {
		case a.Status == model.StatusImpossible && cfg.Alerts.AlertOnImpossible,
			a.Status == model.StatusSuspicious && cfg.Alerts.AlertOnSuspicious:
			travelHits = append(travelHits, a)
		}
	}
	sort.SliceStable(travelHits, func(i, j int) bool {
		return travelHits[i].ToTime.Before(travelHits[j].ToTime)
	})
	for _, a := range travelHits {
		if !m.travelSent.Mark(a.ID) {
			continue
		}
		alert := m.alerts.Ingest(alerts.FromAnalysis(a))
		if m.logger != nil {
			m.logger.Warn("travel alert",
				"staff_id", a.StaffID,
				"from", a.FromLocation,
				"to", a.ToLocation,
				"status", a.Status,
				"risk_score", alert.RiskScore,
			)
		}
	}

	if !cfg.Alerts.AlertOnBehavior {
		return
	}
	for _, p := range snap.Patterns {
		if !alerts.HasCritical(p) {
			continue
		}
		key := behaviorKey(p)
		if !m.behaviorSent.Mark(key) {
			continue
		}
		if !m.cooldown.AllowKey(p.StaffID, now, cfg.Alerts.BehaviorCooldown) {
			continue
		}
		alert := m.alerts.Ingest(alerts.FromBehavior(p, snap.lastLocation[p.StaffID]))
		if m.logger != nil {
			m.logger.Warn("behavior alert",
				"staff_id", p.StaffID,
				"behavior_score", p.BehaviorScore,
				"risk_level", p.RiskLevel,
				"risk_score", alert.RiskScore,
			)
		}
	}
}

func (m *Monitor) recordMetrics(snap Snapshot) {
	metrics.BehaviorAnomalies.Reset()
	for _, p := range snap.Patterns {
		for _, a := range p.Anomalies {
			metrics.BehaviorAnomalies.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
		}
	}
	if m.metrics == nil {
		return
	}
	byID := make(map[string]*model.IdentityMetrics, len(snap.Patterns))
	list := make([]model.IdentityMetrics, 0, len(snap.Patterns))
	for _, p := range snap.Patterns {
		list = append(list, model.IdentityMetrics{
			IdentityID:    p.StaffID,
			StaffName:     p.StaffName,
			Events:        snap.eventCounts[p.StaffID],
			BehaviorScore: p.BehaviorScore,
			RiskLevel:     p.RiskLevel,
			Anomalies:     len(p.Anomalies),
			LastActivity:  p.LastActivity,
			UpdatedAt:     snap.ComputedAt,
		})
	}
	for i := range list {
		byID[list[i].IdentityID] = &list[i]
	}
	for _, a := range snap.Analyses {
		im, ok := byID[a.StaffID]
		if !ok {
			continue
		}
		im.Analyses++
		switch a.Status {
		case model.StatusImpossible:
			im.Impossible++
		case model.StatusSuspicious:
			im.Suspicious++
		}
		if a.RiskScore > im.MaxRiskScore {
			im.MaxRiskScore = a.RiskScore
		}
	}
	m.metrics.Replace(list)
}

func (m *Monitor) persist(ctx context.Context, snap Snapshot) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveAnalyses(ctx, snap.Analyses); err != nil && m.logger != nil {
		m.logger.Warn("save analyses failed", "error", err)
	}
	if err := m.store.SaveBehavior(ctx, snap.Patterns); err != nil && m.logger != nil {
		m.logger.Warn("save behavior failed", "error", err)
	}
}

func (m *Monitor) persistAlert(alert model.Alert) {
	if err := m.store.SaveAlert(context.Background(), alert); err != nil && m.logger != nil {
		m.logger.Warn("save alert failed", "alert_id", alert.ID, "error", err)
	}
}
