package alerts

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"guardianpath/internal/config"
	"guardianpath/internal/model"
)

// Rand is the randomness source of the synthetic feed. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type Catalog interface {
	Locations() []model.Location
	Identities() []model.Identity
}

// Feed emits synthetic alerts at irregular intervals.
type Feed struct {
	catalog Catalog
	cfg     atomic.Pointer[config.FeedConfig]
	mu      sync.Mutex
	rnd     Rand
	seq     atomic.Uint64
	now     func() time.Time
}

// NewFeed returns a feed drawing from rnd; a nil rnd uses a time-seeded PCG.
func NewFeed(cfg config.FeedConfig, catalog Catalog, rnd Rand) (*Feed, error) {
	if err := config.ValidateFeed(cfg); err != nil {
		return nil, err
	}
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	f := &Feed{
		catalog: catalog,
		rnd:     rnd,
		now:     func() time.Time { return time.Now().UTC() },
	}
	f.cfg.Store(&cfg)
	return f, nil
}

func (f *Feed) Config() config.FeedConfig {
	return *f.cfg.Load()
}

func (f *Feed) UpdateConfig(cfg config.FeedConfig) error {
	if err := config.ValidateFeed(cfg); err != nil {
		return err
	}
	f.cfg.Store(&cfg)
	return nil
}

func (f *Feed) float() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.Float64()
}

func (f *Feed) pick(n int) int {
	i := int(f.float() * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// NextDelay draws the wait before the next emission from [min, max).
func (f *Feed) NextDelay() time.Duration {
	cfg := f.cfg.Load()
	span := cfg.MaxInterval - cfg.MinInterval
	return cfg.MinInterval + time.Duration(f.float()*float64(span))
}

// Generate draws one synthetic alert: type, score, staff member, and two
// distinct locations, in that order. It reports false when the catalog has
// no staff or fewer than two locations.
func (f *Feed) Generate() (model.Alert, bool) {
	cfg := f.cfg.Load()
	if f.catalog == nil {
		return model.Alert{}, false
	}
	staff := f.catalog.Identities()
	locations := f.catalog.Locations()
	if len(staff) == 0 || len(locations) < 2 {
		return model.Alert{}, false
	}

	t := pickType(f.float(), cfg.Weights)
	r := cfg.Info
	switch t {
	case model.AlertFraud:
		r = cfg.Fraud
	case model.AlertSuspicious:
		r = cfg.Suspicious
	}
	score := r.Min + f.float()*(r.Max-r.Min)

	who := staff[f.pick(len(staff))]
	fromIdx := f.pick(len(locations))
	toIdx := f.pick(len(locations) - 1)
	if toIdx >= fromIdx {
		toIdx++
	}
	from, to := locations[fromIdx], locations[toIdx]

	now := f.now()
	return model.Alert{
		ID:           fmt.Sprintf("WS-%d-%d", now.UnixMilli(), f.seq.Add(1)),
		Type:         t,
		Title:        Title(t),
		Message:      Message(t, who.Name, from.Name, to.Name),
		StaffName:    who.Name,
		FromLocation: from.Name,
		ToLocation:   to.Name,
		RiskScore:    score,
		Timestamp:    now,
		Source:       SourceFeed,
	}, true
}

func pickType(r float64, w config.FeedWeights) model.AlertType {
	total := w.Fraud + w.Suspicious + w.Info
	switch {
	case r < w.Fraud/total:
		return model.AlertFraud
	case r < (w.Fraud+w.Suspicious)/total:
		return model.AlertSuspicious
	default:
		return model.AlertInfo
	}
}

// TestAlert builds the fixed alert used to exercise the notification path.
func (f *Feed) TestAlert(t model.AlertType) model.Alert {
	if !ValidType(t) {
		t = model.AlertFraud
	}
	staff, from, to := "Unknown", "Unknown", "Unknown"
	if f.catalog != nil {
		if ids := f.catalog.Identities(); len(ids) > 0 {
			staff = ids[0].Name
		}
		if locs := f.catalog.Locations(); len(locs) > 1 {
			from, to = locs[0].Name, locs[1].Name
		}
	}
	score := 20.0
	switch t {
	case model.AlertFraud:
		score = 95
	case model.AlertSuspicious:
		score = 70
	}
	now := f.now()
	return model.Alert{
		ID:           fmt.Sprintf("WS-TEST-%d-%d", now.UnixMilli(), f.seq.Add(1)),
		Type:         t,
		Title:        Title(t),
		Message:      "Test alert for " + staff,
		StaffName:    staff,
		FromLocation: from,
		ToLocation:   to,
		RiskScore:    score,
		Timestamp:    now,
		Source:       SourceTest,
	}
}

// Run emits until ctx is done. A disabled feed keeps its schedule but skips
// emission, so enabling it through a config reload takes effect on the next
// tick.
func (f *Feed) Run(ctx context.Context, emit func(model.Alert)) {
	timer := time.NewTimer(f.NextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if f.cfg.Load().Enabled {
				if alert, ok := f.Generate(); ok {
					select {
					case <-ctx.Done():
						return
					default:
					}
					emit(alert)
				}
			}
			timer.Reset(f.NextDelay())
		}
	}
}
