package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"guardianpath/internal/model"
)

// Registry is the immutable reference catalog of locations and identities.
// It is safe for concurrent reads.
type Registry struct {
	locations  []model.Location
	identities []model.Identity
	locByID    map[string]model.Location
	idByID     map[string]model.Identity
	idByBadge  map[string]model.Identity
}

type catalogFile struct {
	Locations  []model.Location `json:"locations" yaml:"locations"`
	Identities []model.Identity `json:"identities" yaml:"identities"`
}

func New(locations []model.Location, identities []model.Identity) (*Registry, error) {
	r := &Registry{
		locations:  make([]model.Location, 0, len(locations)),
		identities: make([]model.Identity, 0, len(identities)),
		locByID:    make(map[string]model.Location, len(locations)),
		idByID:     make(map[string]model.Identity, len(identities)),
		idByBadge:  make(map[string]model.Identity, len(identities)),
	}
	for _, loc := range locations {
		loc.ID = strings.TrimSpace(loc.ID)
		if loc.ID == "" {
			return nil, errors.New("location id is required")
		}
		if _, ok := r.locByID[loc.ID]; ok {
			return nil, fmt.Errorf("duplicate location id %q", loc.ID)
		}
		if loc.Name == "" {
			loc.Name = loc.ID
		}
		r.locByID[loc.ID] = loc
		r.locations = append(r.locations, loc)
	}
	for _, id := range identities {
		id.ID = strings.TrimSpace(id.ID)
		if id.ID == "" {
			return nil, errors.New("identity id is required")
		}
		if _, ok := r.idByID[id.ID]; ok {
			return nil, fmt.Errorf("duplicate identity id %q", id.ID)
		}
		if id.Name == "" {
			id.Name = id.ID
		}
		r.idByID[id.ID] = id
		r.identities = append(r.identities, id)
		if badge := normalizeBadge(id.BadgeID); badge != "" {
			if other, ok := r.idByBadge[badge]; ok {
				return nil, fmt.Errorf("badge %q assigned to both %q and %q", id.BadgeID, other.ID, id.ID)
			}
			r.idByBadge[badge] = id
		}
	}
	return r, nil
}

// Load reads a YAML or JSON catalog file.
func Load(path string) (*Registry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

func Parse(content []byte) (*Registry, error) {
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return nil, errors.New("registry file is empty")
	}
	var file catalogFile
	var err error
	if strings.HasPrefix(trimmed, "{") {
		err = json.Unmarshal([]byte(trimmed), &file)
	} else {
		err = yaml.Unmarshal([]byte(trimmed), &file)
	}
	if err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if len(file.Locations) == 0 {
		return nil, errors.New("registry has no locations")
	}
	return New(file.Locations, file.Identities)
}

// Open loads path, or returns the built-in facility catalog when path is empty.
func Open(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func (r *Registry) Location(id string) (model.Location, bool) {
	loc, ok := r.locByID[id]
	return loc, ok
}

func (r *Registry) Identity(id string) (model.Identity, bool) {
	ident, ok := r.idByID[id]
	return ident, ok
}

func (r *Registry) IdentityByBadge(badge string) (model.Identity, bool) {
	ident, ok := r.idByBadge[normalizeBadge(badge)]
	return ident, ok
}

// LocationByName matches names case-insensitively.
func (r *Registry) LocationByName(name string) (model.Location, bool) {
	name = strings.TrimSpace(name)
	for _, loc := range r.locations {
		if strings.EqualFold(loc.Name, name) {
			return loc, true
		}
	}
	return model.Location{}, false
}

func (r *Registry) Locations() []model.Location {
	out := make([]model.Location, len(r.locations))
	copy(out, r.locations)
	return out
}

func (r *Registry) Identities() []model.Identity {
	out := make([]model.Identity, len(r.identities))
	copy(out, r.identities)
	return out
}

// StaffName returns the display name for an identity, or the id itself.
func (r *Registry) StaffName(identityID string) string {
	if ident, ok := r.idByID[identityID]; ok {
		return ident.Name
	}
	return identityID
}

// LocationName returns the display name for a location, or the id itself.
func (r *Registry) LocationName(locationID string) string {
	if loc, ok := r.locByID[locationID]; ok {
		return loc.Name
	}
	return locationID
}

func normalizeBadge(badge string) string {
	return strings.ToUpper(strings.TrimSpace(badge))
}
