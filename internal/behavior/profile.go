package behavior

import (
	"math"
	"sort"
	"time"

	"guardianpath/internal/config"
	"guardianpath/internal/model"
)

// Settings is the resolved behavior configuration plus the risk thresholds
// shared with the travel analyzer.
type Settings struct {
	Behavior   config.BehaviorConfig
	HighRisk   float64
	MediumRisk float64
	location   *time.Location
}

func NewSettings(b config.BehaviorConfig, d config.DetectionConfig) (Settings, error) {
	if err := config.ValidateBehavior(b); err != nil {
		return Settings{}, err
	}
	if err := config.ValidateDetection(d); err != nil {
		return Settings{}, err
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Behavior:   b,
		HighRisk:   d.HighRiskScoreThreshold,
		MediumRisk: d.MediumRiskScoreThreshold,
		location:   loc,
	}, nil
}

func DefaultSettings() Settings {
	s, err := NewSettings(config.DefaultBehavior(), config.DefaultDetection())
	if err != nil {
		panic(err)
	}
	return s
}

func (s Settings) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

func (s Settings) hour(t time.Time) int {
	return t.In(s.Location()).Hour()
}

func (s Settings) afterHours(hour int) bool {
	return hour < s.Behavior.WorkdayStartHour || hour > s.Behavior.WorkdayEndHour
}

func DefaultProfile(b config.BehaviorConfig) model.Profile {
	return model.Profile{
		UsualLoginHours:    model.HourRange{Start: b.DefaultStartHour, End: b.DefaultEndHour},
		PreferredLocations: []string{},
		PreferredDevices:   []string{},
		LoginFrequency:     model.FrequencySporadic,
	}
}

// BuildProfile derives the usual pattern of one identity from its full
// history. events must be sorted ascending by timestamp.
func BuildProfile(events []model.AccessEvent, s Settings) model.Profile {
	b := s.Behavior
	if len(events) == 0 {
		return DefaultProfile(b)
	}

	var hourSum int
	days := make(map[string]struct{})
	locations := newRanking()
	devices := newRanking()
	for _, ev := range events {
		local := ev.Timestamp.In(s.Location())
		hourSum += local.Hour()
		days[local.Format(time.DateOnly)] = struct{}{}
		locations.add(ev.LocationID)
		if ev.DeviceID != "" {
			devices.add(ev.DeviceID)
		}
	}
	avgHour := float64(hourSum) / float64(len(events))

	p := model.Profile{
		UsualLoginHours: model.HourRange{
			Start: max(b.WorkdayStartHour, int(math.Floor(avgHour-float64(b.HourSpread)))),
			End:   min(b.WorkdayEndHour, int(math.Floor(avgHour+float64(b.HourSpread)))),
		},
		AverageLoginsPerDay: float64(len(events)) / float64(len(days)),
		PreferredLocations:  locations.top(b.PreferredLimit),
		PreferredDevices:    devices.top(b.PreferredLimit),
		LoginFrequency:      model.FrequencySporadic,
	}
	switch {
	case len(events) > b.HeavyMinEvents:
		p.LoginFrequency = model.FrequencyHeavy
	case len(events) > b.RegularMinEvents:
		p.LoginFrequency = model.FrequencyRegular
	}
	return p
}

// ranking counts keys and keeps their first-appearance order for ties.
type ranking struct {
	order  []string
	counts map[string]int
}

func newRanking() *ranking {
	return &ranking{counts: make(map[string]int)}
}

func (r *ranking) add(key string) {
	if _, ok := r.counts[key]; !ok {
		r.order = append(r.order, key)
	}
	r.counts[key]++
}

func (r *ranking) top(n int) []string {
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	sort.SliceStable(keys, func(i, j int) bool {
		return r.counts[keys[i]] > r.counts[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
