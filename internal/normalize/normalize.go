package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"guardianpath/internal/config"
	"guardianpath/internal/model"
)

var (
	ErrMissingIdentity = errors.New("event has no identity or badge")
	ErrUnknownBadge    = errors.New("badge not registered")
	ErrMissingLocation = errors.New("event has no location")
)

// EventFields are the raw values pulled out of one log record.
type EventFields struct {
	ID        string
	Timestamp string
	Identity  string
	Badge     string
	Location  string
	Device    string
	Address   string
	Extras    map[string]string
	Raw       string
}

// Resolver maps badges and location names onto registry ids.
type Resolver interface {
	Identity(id string) (model.Identity, bool)
	IdentityByBadge(badge string) (model.Identity, bool)
	Location(id string) (model.Location, bool)
	LocationByName(name string) (model.Location, bool)
}

// Normalize turns fields into an access event. Identities and locations that
// the resolver does not know are kept as given so they still reach analysis;
// only an unregistered badge with no identity is rejected.
func Normalize(fields EventFields, resolver Resolver, cfg config.ParserConfig, source string) (model.AccessEvent, error) {
	identity, err := resolveIdentity(fields, resolver)
	if err != nil {
		return model.AccessEvent{}, err
	}
	location := resolveLocation(strings.TrimSpace(fields.Location), resolver)
	if location == "" {
		location = cfg.DefaultLocationID
	}
	if location == "" {
		return model.AccessEvent{}, ErrMissingLocation
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}
	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.AccessEvent{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	id := strings.TrimSpace(fields.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return model.AccessEvent{
		ID:            id,
		IdentityID:    identity,
		LocationID:    location,
		Timestamp:     ts,
		DeviceID:      strings.TrimSpace(fields.Device),
		SourceAddress: strings.TrimSpace(fields.Address),
		Source:        source,
	}, nil
}

func resolveIdentity(fields EventFields, resolver Resolver) (string, error) {
	id := strings.TrimSpace(fields.Identity)
	badge := strings.TrimSpace(fields.Badge)
	if resolver != nil {
		if id != "" {
			if _, ok := resolver.Identity(id); ok {
				return id, nil
			}
			// some readers report the badge in the user column
			if ident, ok := resolver.IdentityByBadge(id); ok {
				return ident.ID, nil
			}
		}
		if badge != "" {
			if ident, ok := resolver.IdentityByBadge(badge); ok {
				return ident.ID, nil
			}
			if id == "" {
				return "", fmt.Errorf("%w: %s", ErrUnknownBadge, badge)
			}
		}
	}
	if id == "" {
		return "", ErrMissingIdentity
	}
	return id, nil
}

func resolveLocation(value string, resolver Resolver) string {
	if value == "" || resolver == nil {
		return value
	}
	if _, ok := resolver.Location(value); ok {
		return value
	}
	if l, ok := resolver.LocationByName(value); ok {
		return l.ID
	}
	return value
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == "Jan 02 15:04:05" || layout == "Jan 2 15:04:05" {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				now := time.Now().In(loc)
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
