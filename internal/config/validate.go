package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfigOutOfRange is returned when a submitted value falls outside its
// accepted domain. The previously active configuration stays in effect.
var ErrConfigOutOfRange = errors.New("config value out of range")

// Accepted domains for the runtime-adjustable thresholds.
const (
	MinImpossibleRatio = 0.10
	MaxImpossibleRatio = 0.50
	MinSuspiciousRatio = 0.40
	MaxSuspiciousRatio = 0.90
	MinHumanSpeedKmh   = 15
	MaxHumanSpeedKmh   = 40
	MinHighRiskScore   = 60
	MaxHighRiskScore   = 95
	MinMediumRiskScore = 30
	MaxMediumRiskScore = 70
	MaxAlertCapacity   = 1000
)

func outOfRange(field string, v, lo, hi float64) error {
	return fmt.Errorf("%w: %s=%v not in [%v, %v]", ErrConfigOutOfRange, field, v, lo, hi)
}

func checkRange(field string, v, lo, hi float64) error {
	if v != v || v < lo || v > hi {
		return outOfRange(field, v, lo, hi)
	}
	return nil
}

func ValidateDetection(d DetectionConfig) error {
	if err := checkRange("detection.impossible_travel_ratio", d.ImpossibleTravelRatio, MinImpossibleRatio, MaxImpossibleRatio); err != nil {
		return err
	}
	if err := checkRange("detection.suspicious_travel_ratio", d.SuspiciousTravelRatio, MinSuspiciousRatio, MaxSuspiciousRatio); err != nil {
		return err
	}
	if d.SuspiciousTravelRatio <= d.ImpossibleTravelRatio {
		return fmt.Errorf("%w: detection.suspicious_travel_ratio (%v) must exceed impossible_travel_ratio (%v)",
			ErrConfigOutOfRange, d.SuspiciousTravelRatio, d.ImpossibleTravelRatio)
	}
	if err := checkRange("detection.max_human_speed_kmh", d.MaxHumanSpeedKmh, MinHumanSpeedKmh, MaxHumanSpeedKmh); err != nil {
		return err
	}
	if err := checkRange("detection.high_risk_score_threshold", d.HighRiskScoreThreshold, MinHighRiskScore, MaxHighRiskScore); err != nil {
		return err
	}
	if err := checkRange("detection.medium_risk_score_threshold", d.MediumRiskScoreThreshold, MinMediumRiskScore, MaxMediumRiskScore); err != nil {
		return err
	}
	if d.MediumRiskScoreThreshold >= d.HighRiskScoreThreshold {
		return fmt.Errorf("%w: detection.medium_risk_score_threshold (%v) must be below high_risk_score_threshold (%v)",
			ErrConfigOutOfRange, d.MediumRiskScoreThreshold, d.HighRiskScoreThreshold)
	}
	if d.WalkingSpeedMPerMin <= 0 {
		return fmt.Errorf("%w: detection.walking_speed_m_per_min must be > 0", ErrConfigOutOfRange)
	}
	if d.FloorTransitMinutes < 0 || d.BuildingChangeMinutes < 0 {
		return fmt.Errorf("%w: detection transit penalties must be >= 0", ErrConfigOutOfRange)
	}
	if d.MaxPairGap <= 0 || d.MaxPairGap > 24*time.Hour {
		return fmt.Errorf("%w: detection.max_pair_gap=%s not in (0, 24h]", ErrConfigOutOfRange, d.MaxPairGap)
	}
	return nil
}

func ValidateBehavior(b BehaviorConfig) error {
	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return fmt.Errorf("behavior.timezone: %w", err)
	}
	for field, h := range map[string]int{
		"behavior.default_start_hour": b.DefaultStartHour,
		"behavior.default_end_hour":   b.DefaultEndHour,
		"behavior.workday_start_hour": b.WorkdayStartHour,
		"behavior.workday_end_hour":   b.WorkdayEndHour,
	} {
		if err := checkRange(field, float64(h), 0, 23); err != nil {
			return err
		}
	}
	if b.WorkdayStartHour > b.WorkdayEndHour {
		return fmt.Errorf("%w: behavior.workday_start_hour after workday_end_hour", ErrConfigOutOfRange)
	}
	if b.HourSpread < 0 || b.RegularMinEvents < 0 || b.HeavyMinEvents < b.RegularMinEvents {
		return fmt.Errorf("%w: behavior profile counts", ErrConfigOutOfRange)
	}
	if b.PreferredLimit < 1 {
		return fmt.Errorf("%w: behavior.preferred_limit=%d must be >= 1", ErrConfigOutOfRange, b.PreferredLimit)
	}
	if b.RecentWindow <= 0 {
		return fmt.Errorf("%w: behavior.recent_window=%s must be > 0", ErrConfigOutOfRange, b.RecentWindow)
	}
	if b.RapidLoginThreshold < 1 || b.HoppingLocations < 2 {
		return fmt.Errorf("%w: behavior.rapid_login_threshold >= 1 and hopping_locations >= 2 required", ErrConfigOutOfRange)
	}
	for field, v := range map[string]float64{
		"behavior.critical_penalty":         b.CriticalPenalty,
		"behavior.warning_penalty":          b.WarningPenalty,
		"behavior.info_penalty":             b.InfoPenalty,
		"behavior.regular_bonus":            b.RegularBonus,
		"behavior.preferred_location_bonus": b.PreferredLocationBonus,
	} {
		if err := checkRange(field, v, 0, 100); err != nil {
			return err
		}
	}
	return nil
}

func ValidateAlerts(a AlertsConfig) error {
	if err := checkRange("alerts.capacity", float64(a.Capacity), 1, MaxAlertCapacity); err != nil {
		return err
	}
	return ValidateFeed(a.Feed)
}

func ValidateFeed(f FeedConfig) error {
	if f.MinInterval <= 0 || f.MaxInterval < f.MinInterval {
		return fmt.Errorf("%w: alerts.feed intervals need 0 < min_interval <= max_interval", ErrConfigOutOfRange)
	}
	w := f.Weights
	if w.Fraud < 0 || w.Suspicious < 0 || w.Info < 0 || w.Fraud+w.Suspicious+w.Info <= 0 {
		return fmt.Errorf("%w: alerts.feed.weights must be non-negative with a positive sum", ErrConfigOutOfRange)
	}
	for field, r := range map[string]ScoreRange{
		"alerts.feed.fraud":      f.Fraud,
		"alerts.feed.suspicious": f.Suspicious,
		"alerts.feed.info":       f.Info,
	} {
		if r.Min < 0 || r.Max > 100 || r.Min > r.Max {
			return fmt.Errorf("%w: %s range [%v, %v)", ErrConfigOutOfRange, field, r.Min, r.Max)
		}
	}
	return nil
}
