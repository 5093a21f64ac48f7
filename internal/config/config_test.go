package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestValidateDetectionRanges(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*DetectionConfig)
	}{
		{"impossible low", func(d *DetectionConfig) { d.ImpossibleTravelRatio = 0.05 }},
		{"impossible high", func(d *DetectionConfig) { d.ImpossibleTravelRatio = 0.6 }},
		{"suspicious high", func(d *DetectionConfig) { d.SuspiciousTravelRatio = 0.95 }},
		{"suspicious not above impossible", func(d *DetectionConfig) {
			d.ImpossibleTravelRatio = 0.45
			d.SuspiciousTravelRatio = 0.45
		}},
		{"speed low", func(d *DetectionConfig) { d.MaxHumanSpeedKmh = 10 }},
		{"speed high", func(d *DetectionConfig) { d.MaxHumanSpeedKmh = 41 }},
		{"high risk", func(d *DetectionConfig) { d.HighRiskScoreThreshold = 99 }},
		{"medium risk", func(d *DetectionConfig) { d.MediumRiskScoreThreshold = 20 }},
		{"medium above high", func(d *DetectionConfig) {
			d.HighRiskScoreThreshold = 65
			d.MediumRiskScoreThreshold = 70
		}},
		{"walking speed", func(d *DetectionConfig) { d.WalkingSpeedMPerMin = 0 }},
		{"pair gap", func(d *DetectionConfig) { d.MaxPairGap = 0 }},
	}
	for _, tc := range cases {
		d := DefaultDetection()
		tc.mod(&d)
		err := ValidateDetection(d)
		if !errors.Is(err, ErrConfigOutOfRange) {
			t.Fatalf("%s: expected ErrConfigOutOfRange, got %v", tc.name, err)
		}
	}
}

func TestValidateDetectionBoundsInclusive(t *testing.T) {
	d := DefaultDetection()
	d.ImpossibleTravelRatio = 0.10
	d.SuspiciousTravelRatio = 0.90
	d.MaxHumanSpeedKmh = 40
	d.HighRiskScoreThreshold = 95
	d.MediumRiskScoreThreshold = 30
	if err := ValidateDetection(d); err != nil {
		t.Fatalf("boundary values rejected: %v", err)
	}
}

func TestValidateBehaviorCounts(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*BehaviorConfig)
	}{
		{"preferred limit negative", func(b *BehaviorConfig) { b.PreferredLimit = -1 }},
		{"preferred limit zero", func(b *BehaviorConfig) { b.PreferredLimit = 0 }},
		{"recent window zero", func(b *BehaviorConfig) { b.RecentWindow = 0 }},
		{"recent window negative", func(b *BehaviorConfig) { b.RecentWindow = -time.Minute }},
	}
	for _, tc := range cases {
		b := DefaultBehavior()
		tc.mod(&b)
		if err := ValidateBehavior(b); !errors.Is(err, ErrConfigOutOfRange) {
			t.Fatalf("%s: expected ErrConfigOutOfRange, got %v", tc.name, err)
		}
	}
	b := DefaultBehavior()
	b.PreferredLimit = 1
	if err := ValidateBehavior(b); err != nil {
		t.Fatalf("preferred limit 1 rejected: %v", err)
	}
}

func TestValidateAlertsCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alerts.Capacity = 1001
	if err := Validate(cfg); !errors.Is(err, ErrConfigOutOfRange) {
		t.Fatalf("expected capacity rejection, got %v", err)
	}
	cfg.Alerts.Capacity = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("capacity 1 rejected: %v", err)
	}
}

func TestValidateRefreshInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Monitor.RefreshInterval = 2 * time.Second
	if err := Validate(cfg); !errors.Is(err, ErrConfigOutOfRange) {
		t.Fatalf("expected refresh interval rejection, got %v", err)
	}
}

func TestParseYAMLOverlaysDefaults(t *testing.T) {
	content := []byte(`
log_level: debug
detection:
  impossible_travel_ratio: 0.2
  suspicious_travel_ratio: 0.6
  max_human_speed_kmh: 20
  high_risk_score_threshold: 85
  medium_risk_score_threshold: 40
alerts:
  capacity: 10
`)
	cfg, err := Parse(content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Alerts.Capacity != 10 {
		t.Fatalf("unexpected top-level values: %+v", cfg)
	}
	if cfg.Detection.ImpossibleTravelRatio != 0.2 || cfg.Detection.MaxHumanSpeedKmh != 20 {
		t.Fatalf("unexpected detection: %+v", cfg.Detection)
	}
	if cfg.Detection.WalkingSpeedMPerMin != 83.3 {
		t.Fatalf("expected walking speed default, got %v", cfg.Detection.WalkingSpeedMPerMin)
	}
	if cfg.Behavior.DefaultStartHour != 8 || cfg.Behavior.DefaultEndHour != 18 {
		t.Fatalf("expected behavior defaults, got %+v", cfg.Behavior)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"log_level":"warn","alerts":{"capacity":25}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Alerts.Capacity != 25 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseRejectsOutOfRange(t *testing.T) {
	_, err := Parse([]byte("detection:\n  max_human_speed_kmh: 90\n"))
	if !errors.Is(err, ErrConfigOutOfRange) {
		t.Fatalf("expected ErrConfigOutOfRange, got %v", err)
	}
}

func TestManagerUpdateDetectionKeepsPriorOnReject(t *testing.T) {
	m := NewStaticManager(nil)
	bad := DefaultDetection()
	bad.SuspiciousTravelRatio = 0.2
	if _, err := m.UpdateDetection(bad); !errors.Is(err, ErrConfigOutOfRange) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if m.Get().Detection.SuspiciousTravelRatio != 0.7 {
		t.Fatalf("prior config not retained: %+v", m.Get().Detection)
	}

	good := DefaultDetection()
	good.MaxHumanSpeedKmh = 30
	updated, err := m.UpdateDetection(good)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Detection.MaxHumanSpeedKmh != 30 || m.Get().Detection.MaxHumanSpeedKmh != 30 {
		t.Fatalf("update not applied")
	}
}

func TestOpenManagerWritesDefaultsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardianpath.yaml")
	m, err := OpenManager(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	d := m.Get().Detection
	d.HighRiskScoreThreshold = 90
	if _, err := m.UpdateDetection(d); err != nil {
		t.Fatalf("update: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Detection.HighRiskScoreThreshold != 90 {
		t.Fatalf("threshold not persisted: %v", reloaded.Detection.HighRiskScoreThreshold)
	}
}
