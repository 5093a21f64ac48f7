package simulate

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"guardianpath/internal/model"
)

type Rand interface {
	Float64() float64
}

type Catalog interface {
	Locations() []model.Location
	Identities() []model.Identity
}

const deviceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Generator produces synthetic badge-access batches: random activity across
// a 12-hour working day plus scripted impossible and suspicious journeys
// ending just before now.
type Generator struct {
	catalog  Catalog
	location *time.Location
	mu       sync.Mutex
	rnd      Rand
	batch    int
	now      func() time.Time
}

func New(catalog Catalog, rnd Rand, loc *time.Location) *Generator {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>3|1))
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{
		catalog:  catalog,
		location: loc,
		rnd:      rnd,
		now:      func() time.Time { return time.Now() },
	}
}

func (g *Generator) pick(n int) int {
	i := int(g.rnd.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// Batch returns count random events and, when scripted is set, the scripted
// scenarios. Events are returned newest first, as a log source would.
func (g *Generator) Batch(count int, scripted bool) []model.AccessEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batch++
	staff := g.catalog.Identities()
	locations := g.catalog.Locations()
	if len(staff) == 0 || len(locations) == 0 {
		return nil
	}

	now := g.now().In(g.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 6, 0, 0, 0, g.location)

	events := make([]model.AccessEvent, 0, count+4)
	for i := 0; i < count; i++ {
		who := staff[g.pick(len(staff))]
		where := locations[g.pick(len(locations))]
		offset := time.Duration(g.pick(720)) * time.Minute
		events = append(events, model.AccessEvent{
			ID:            fmt.Sprintf("LOG-%d-%04d", g.batch, i+1),
			IdentityID:    who.ID,
			LocationID:    where.ID,
			Timestamp:     dayStart.Add(offset).UTC(),
			DeviceID:      g.deviceID(),
			SourceAddress: fmt.Sprintf("192.168.%d.%d", g.pick(255), g.pick(255)),
			Source:        "simulate",
		})
	}
	if scripted {
		events = append(events, g.scenarios(now, staff, locations)...)
	}
	sortNewestFirst(events)
	return events
}

func (g *Generator) deviceID() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = deviceAlphabet[g.pick(len(deviceAlphabet))]
	}
	return "DEV-" + string(b)
}

// scenarios scripts one near-instant hop between adjacent departments and
// one hurried cross-building walk.
func (g *Generator) scenarios(now time.Time, staff []model.Identity, locations []model.Location) []model.AccessEvent {
	var out []model.AccessEvent
	mk := func(id string, who model.Identity, where model.Location, ago time.Duration, device, addr string) model.AccessEvent {
		return model.AccessEvent{
			ID:            fmt.Sprintf("LOG-%d-%s", g.batch, id),
			IdentityID:    who.ID,
			LocationID:    where.ID,
			Timestamp:     now.Add(-ago).UTC(),
			DeviceID:      device,
			SourceAddress: addr,
			Source:        "simulate",
		}
	}
	if len(locations) >= 2 {
		who := staff[0]
		out = append(out,
			mk("SUSP-001", who, locations[0], 5*time.Minute, "DEV-ICU001", "192.168.1.50"),
			mk("SUSP-002", who, locations[1], 4*time.Minute, "DEV-PHARM01", "192.168.2.100"),
		)
	}
	if len(staff) >= 3 && len(locations) >= 4 {
		who := staff[2]
		out = append(out,
			mk("SUSP-003", who, locations[3], 10*time.Minute, "DEV-EMR001", "192.168.3.25"),
			mk("SUSP-004", who, locations[len(locations)-1], 8*time.Minute, "DEV-CARD01", "192.168.5.80"),
		)
	}
	return out
}

func sortNewestFirst(events []model.AccessEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
