package behavior

import (
	"log/slog"
	"sync/atomic"
	"time"

	"guardianpath/internal/config"
	"guardianpath/internal/model"
	"guardianpath/internal/travel"
)

type Directory interface {
	Identities() []model.Identity
	StaffName(identityID string) string
}

type Engine struct {
	dir      Directory
	pairs    PairAnalyzer
	logger   *slog.Logger
	settings atomic.Pointer[Settings]
	now      func() time.Time
}

func NewEngine(dir Directory, pairs PairAnalyzer, settings Settings, logger *slog.Logger) *Engine {
	e := &Engine{
		dir:    dir,
		pairs:  pairs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	e.settings.Store(&settings)
	return e
}

func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

// UpdateConfig swaps in new settings; rejected values keep the prior ones.
func (e *Engine) UpdateConfig(b config.BehaviorConfig, d config.DetectionConfig) error {
	s, err := NewSettings(b, d)
	if err != nil {
		return err
	}
	e.settings.Store(&s)
	return nil
}

// Analyze rebuilds a pattern for every known identity plus any identity seen
// only in events, registry order first.
func (e *Engine) Analyze(events []model.AccessEvent) []model.BehaviorPattern {
	s := e.Settings()
	now := e.now()

	byIdentity := make(map[string][]model.AccessEvent)
	var order []string
	if e.dir != nil {
		for _, ident := range e.dir.Identities() {
			if _, ok := byIdentity[ident.ID]; ok {
				continue
			}
			byIdentity[ident.ID] = nil
			order = append(order, ident.ID)
		}
	}
	for _, group := range travel.GroupByIdentity(events) {
		id := group[0].IdentityID
		if _, ok := byIdentity[id]; !ok {
			order = append(order, id)
		}
		byIdentity[id] = group
	}

	out := make([]model.BehaviorPattern, 0, len(order))
	for _, id := range order {
		out = append(out, e.analyzeIdentity(id, byIdentity[id], s, now))
	}
	if e.logger != nil {
		e.logger.Debug("behavior analyzed", "identities", len(out), "events", len(events))
	}
	return out
}

// AnalyzeIdentity builds one pattern from an identity's events in any order.
func (e *Engine) AnalyzeIdentity(identityID string, events []model.AccessEvent) model.BehaviorPattern {
	var own []model.AccessEvent
	for _, ev := range events {
		if ev.IdentityID == identityID {
			own = append(own, ev)
		}
	}
	groups := travel.GroupByIdentity(own)
	if len(groups) == 1 {
		own = groups[0]
	}
	return e.analyzeIdentity(identityID, own, e.Settings(), e.now())
}

func (e *Engine) analyzeIdentity(id string, events []model.AccessEvent, s Settings, now time.Time) model.BehaviorPattern {
	profile := BuildProfile(events, s)
	anomalies := DetectAnomalies(events, profile, s, e.pairs, now)
	score := Score(profile, anomalies, s)
	p := model.BehaviorPattern{
		StaffID:       id,
		StaffName:     id,
		Patterns:      profile,
		Anomalies:     anomalies,
		RiskLevel:     RiskLevelFor(score, s.HighRisk, s.MediumRisk),
		BehaviorScore: score,
	}
	if e.dir != nil {
		p.StaffName = e.dir.StaffName(id)
	}
	if len(events) > 0 {
		p.LastActivity = events[len(events)-1].Timestamp
	}
	return p
}

func Summarize(patterns []model.BehaviorPattern) model.BehaviorSummary {
	sum := model.BehaviorSummary{
		AnomalyTypes: make(map[model.AnomalyType]int),
		RiskLevels: map[model.RiskLevel]int{
			model.RiskLow:    0,
			model.RiskMedium: 0,
			model.RiskHigh:   0,
		},
	}
	var total float64
	for _, p := range patterns {
		total += p.BehaviorScore
		sum.RiskLevels[p.RiskLevel]++
		for _, a := range p.Anomalies {
			sum.TotalAnomalies++
			sum.AnomalyTypes[a.Type]++
			switch a.Severity {
			case model.SeverityCritical:
				sum.CriticalCount++
			case model.SeverityWarning:
				sum.WarningCount++
			default:
				sum.InfoCount++
			}
		}
	}
	if len(patterns) > 0 {
		sum.AverageScore = total / float64(len(patterns))
	}
	sum.HighRiskUsers = sum.RiskLevels[model.RiskHigh]
	sum.MediumRiskUsers = sum.RiskLevels[model.RiskMedium]
	return sum
}
