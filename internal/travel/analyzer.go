package travel

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"guardianpath/internal/config"
	"guardianpath/internal/metrics"
	"guardianpath/internal/model"
)

// ErrSameLocation marks a pair whose events share a location; such pairs
// carry no travel and are skipped.
var ErrSameLocation = errors.New("same location")

type Catalog interface {
	Location(id string) (model.Location, bool)
	StaffName(identityID string) string
}

type Analyzer struct {
	catalog Catalog
	logger  *slog.Logger
	cfg     atomic.Pointer[config.DetectionConfig]
}

func NewAnalyzer(catalog Catalog, cfg config.DetectionConfig, logger *slog.Logger) (*Analyzer, error) {
	if catalog == nil {
		return nil, errors.New("travel analyzer requires a catalog")
	}
	if err := config.ValidateDetection(cfg); err != nil {
		return nil, err
	}
	a := &Analyzer{catalog: catalog, logger: logger}
	a.cfg.Store(&cfg)
	return a, nil
}

func (a *Analyzer) Config() config.DetectionConfig {
	return *a.cfg.Load()
}

// UpdateConfig swaps the thresholds. Rejected values leave the prior ones.
func (a *Analyzer) UpdateConfig(cfg config.DetectionConfig) error {
	if err := config.ValidateDetection(cfg); err != nil {
		return err
	}
	a.cfg.Store(&cfg)
	return nil
}

// AnalyzePair grades the transition from one event to the next event of the
// same identity.
func (a *Analyzer) AnalyzePair(from, to model.AccessEvent) (model.TravelAnalysis, error) {
	cfg := a.cfg.Load()
	return a.analyzePair(from, to, cfg)
}

func (a *Analyzer) analyzePair(from, to model.AccessEvent, cfg *config.DetectionConfig) (model.TravelAnalysis, error) {
	if from.LocationID == to.LocationID {
		return model.TravelAnalysis{}, ErrSameLocation
	}
	gap := to.Timestamp.Sub(from.Timestamp)
	if gap <= 0 || gap > cfg.MaxPairGap {
		return model.TravelAnalysis{}, fmt.Errorf("%w: %s between %s and %s", model.ErrInvalidInterval, gap, from.ID, to.ID)
	}
	fromLoc, ok := a.catalog.Location(from.LocationID)
	if !ok {
		return model.TravelAnalysis{}, fmt.Errorf("%w: location %q", model.ErrReferenceDataMissing, from.LocationID)
	}
	toLoc, ok := a.catalog.Location(to.LocationID)
	if !ok {
		return model.TravelAnalysis{}, fmt.Errorf("%w: location %q", model.ErrReferenceDataMissing, to.LocationID)
	}

	gapMinutes := gap.Minutes()
	distance := Distance(fromLoc.Coordinates, toLoc.Coordinates)
	required := PhysicsFromConfig(*cfg).RequiredTime(fromLoc, toLoc)
	speed := SpeedKmh(distance, gapMinutes)
	verdict := Classify(gapMinutes, required, speed, ThresholdsFromConfig(*cfg))

	return model.TravelAnalysis{
		ID:                  "ANALYSIS-" + from.ID + "-" + to.ID,
		StaffID:             to.IdentityID,
		StaffName:           a.catalog.StaffName(to.IdentityID),
		FromLocation:        fromLoc.Name,
		ToLocation:          toLoc.Name,
		FromTime:            from.Timestamp,
		ToTime:              to.Timestamp,
		TimeGapMinutes:      gapMinutes,
		DistanceMeters:      distance,
		RequiredTimeMinutes: required,
		SpeedKmh:            speed,
		Status:              verdict.Status,
		RiskScore:           verdict.RiskScore,
		Reason:              verdict.Reason,
	}, nil
}

// Analyze pairs consecutive events per identity and returns every analysis,
// highest risk first. Input order does not need to be chronological.
func (a *Analyzer) Analyze(events []model.AccessEvent) []model.TravelAnalysis {
	cfg := a.cfg.Load()
	out := make([]model.TravelAnalysis, 0)
	for _, group := range GroupByIdentity(events) {
		for i := 1; i < len(group); i++ {
			analysis, err := a.analyzePair(group[i-1], group[i], cfg)
			if err != nil {
				a.recordSkip(err)
				continue
			}
			metrics.TravelAnalyses.WithLabelValues(string(analysis.Status)).Inc()
			out = append(out, analysis)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RiskScore > out[j].RiskScore
	})
	return out
}

func (a *Analyzer) recordSkip(err error) {
	reason := "other"
	switch {
	case errors.Is(err, ErrSameLocation):
		reason = "same_location"
	case errors.Is(err, model.ErrInvalidInterval):
		reason = "invalid_interval"
	case errors.Is(err, model.ErrReferenceDataMissing):
		reason = "reference_data_missing"
	}
	metrics.TravelPairsSkipped.WithLabelValues(reason).Inc()
	if a.logger != nil && reason == "reference_data_missing" {
		a.logger.Debug("travel pair skipped", "reason", reason, "error", err)
	}
}

// GroupByIdentity splits events per identity in first-appearance order, each
// group stable-sorted by timestamp.
func GroupByIdentity(events []model.AccessEvent) [][]model.AccessEvent {
	index := make(map[string]int)
	var groups [][]model.AccessEvent
	for _, ev := range events {
		i, ok := index[ev.IdentityID]
		if !ok {
			i = len(groups)
			index[ev.IdentityID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], ev)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			return g[i].Timestamp.Before(g[j].Timestamp)
		})
	}
	return groups
}
