package behavior

import (
	"fmt"
	"time"

	"guardianpath/internal/model"
)

const concurrentWindow = time.Minute

var descriptions = map[model.AnomalyType]string{
	model.AnomalyUnusualTime:        "Login at unusual hours for this user",
	model.AnomalyAfterHours:         "Login outside normal working hours",
	model.AnomalyNewLocation:        "First login from this location",
	model.AnomalyNewDevice:          "Login from unrecognized device",
	model.AnomalyRapidLogins:        "Multiple rapid login attempts",
	model.AnomalyLocationHopping:    "Frequent location changes",
	model.AnomalyConcurrentSessions: "Multiple simultaneous sessions detected",
	model.AnomalyVelocity:           "Unusual travel speed between logins",
}

// PairAnalyzer grades the transition between two events of one identity.
type PairAnalyzer interface {
	AnalyzePair(from, to model.AccessEvent) (model.TravelAnalysis, error)
}

// DetectAnomalies checks the most recent event against the profile. events
// must be sorted ascending; the last element is the most recent. pairs is
// only consulted when extended anomalies are enabled and may be nil.
func DetectAnomalies(events []model.AccessEvent, profile model.Profile, s Settings, pairs PairAnalyzer, now time.Time) []model.BehaviorAnomaly {
	anomalies := make([]model.BehaviorAnomaly, 0)
	if len(events) == 0 {
		return anomalies
	}
	b := s.Behavior
	recent := events[len(events)-1]
	hour := s.hour(recent.Timestamp)

	add := func(t model.AnomalyType, sev model.Severity, details map[string]any) {
		anomalies = append(anomalies, model.BehaviorAnomaly{
			ID:          fmt.Sprintf("ANOM-%s-%s-%d", recent.IdentityID, recent.ID, len(anomalies)+1),
			Type:        t,
			Description: descriptions[t],
			Severity:    sev,
			DetectedAt:  now,
			Details:     details,
		})
	}

	if hour < profile.UsualLoginHours.Start || hour > profile.UsualLoginHours.End {
		sev := model.SeverityInfo
		if s.afterHours(hour) {
			sev = model.SeverityWarning
		}
		add(model.AnomalyUnusualTime, sev, map[string]any{
			"login_hour":  hour,
			"usual_range": profile.UsualLoginHours,
		})
	}

	if s.afterHours(hour) {
		add(model.AnomalyAfterHours, model.SeverityWarning, map[string]any{"login_hour": hour})
	}

	if !contains(profile.PreferredLocations, recent.LocationID) {
		add(model.AnomalyNewLocation, model.SeverityInfo, map[string]any{
			"new_location":    recent.LocationID,
			"usual_locations": profile.PreferredLocations,
		})
	}

	if b.ExtendedAnomalies && recent.DeviceID != "" && !contains(profile.PreferredDevices, recent.DeviceID) {
		add(model.AnomalyNewDevice, model.SeverityInfo, map[string]any{
			"new_device":    recent.DeviceID,
			"usual_devices": profile.PreferredDevices,
		})
	}

	window := trailing(events, recent.Timestamp, b.RecentWindow)
	if len(window) > b.RapidLoginThreshold {
		add(model.AnomalyRapidLogins, model.SeverityWarning, map[string]any{
			"login_count": len(window),
			"time_window": b.RecentWindow.String(),
		})
	}

	locations := make(map[string]struct{})
	for _, ev := range window {
		locations[ev.LocationID] = struct{}{}
	}
	if len(locations) >= b.HoppingLocations {
		add(model.AnomalyLocationHopping, model.SeverityCritical, map[string]any{
			"location_count": len(locations),
			"time_window":    b.RecentWindow.String(),
		})
	}

	if !b.ExtendedAnomalies {
		return anomalies
	}

	devices := make(map[string]struct{})
	for _, ev := range trailing(events, recent.Timestamp, concurrentWindow) {
		if ev.DeviceID != "" {
			devices[ev.DeviceID] = struct{}{}
		}
	}
	if len(devices) > 1 {
		add(model.AnomalyConcurrentSessions, model.SeverityWarning, map[string]any{
			"device_count": len(devices),
			"time_window":  concurrentWindow.String(),
		})
	}

	if pairs != nil && len(events) > 1 {
		analysis, err := pairs.AnalyzePair(events[len(events)-2], recent)
		if err == nil && analysis.Status != model.StatusSafe {
			sev := model.SeverityWarning
			if analysis.Status == model.StatusImpossible {
				sev = model.SeverityCritical
			}
			add(model.AnomalyVelocity, sev, map[string]any{
				"analysis_id": analysis.ID,
				"speed_kmh":   analysis.SpeedKmh,
				"risk_score":  analysis.RiskScore,
			})
		}
	}
	return anomalies
}

// trailing returns the events strictly less than window older than ref.
func trailing(events []model.AccessEvent, ref time.Time, window time.Duration) []model.AccessEvent {
	out := make([]model.AccessEvent, 0)
	for _, ev := range events {
		age := ref.Sub(ev.Timestamp)
		if age >= 0 && age < window {
			out = append(out, ev)
		}
	}
	return out
}

func Score(profile model.Profile, anomalies []model.BehaviorAnomaly, s Settings) float64 {
	b := s.Behavior
	score := 100.0
	for _, a := range anomalies {
		switch a.Severity {
		case model.SeverityCritical:
			score -= b.CriticalPenalty
		case model.SeverityWarning:
			score -= b.WarningPenalty
		default:
			score -= b.InfoPenalty
		}
	}
	if profile.LoginFrequency == model.FrequencyRegular {
		score += b.RegularBonus
	}
	if len(profile.PreferredLocations) > 0 {
		score += b.PreferredLocationBonus
	}
	return model.ClampScore(score)
}

func RiskLevelFor(score, high, medium float64) model.RiskLevel {
	switch {
	case score >= high:
		return model.RiskLow
	case score >= medium:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}
