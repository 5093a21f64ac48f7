package normalize

import (
	"errors"
	"testing"
	"time"

	"guardianpath/internal/config"
	"guardianpath/internal/registry"
)

func TestNormalizeResolvesBadgeAndLocationName(t *testing.T) {
	reg := registry.Default()
	ev, err := Normalize(EventFields{
		Timestamp: "2026-04-01 09:30:00",
		Badge:     "med-003",
		Location:  "emergency ward",
		Device:    " DEV-1 ",
	}, reg, config.ParserConfig{Timezone: "Asia/Kolkata"}, "file_tail")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.IdentityID != "3" || ev.LocationID != "emergency" || ev.DeviceID != "DEV-1" || ev.Source != "file_tail" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	want := time.Date(2026, 4, 1, 4, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp %v want %v", ev.Timestamp, want)
	}
	if ev.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestNormalizeKeepsUnknownIdentityAndLocation(t *testing.T) {
	ev, err := Normalize(EventFields{ID: "x1", Identity: "contractor-9", Location: "loading-dock", Timestamp: "1775030400"},
		registry.Default(), config.ParserConfig{}, "rest")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.ID != "x1" || ev.IdentityID != "contractor-9" || ev.LocationID != "loading-dock" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Timestamp.Unix() != 1775030400 {
		t.Fatalf("unexpected unix timestamp: %v", ev.Timestamp)
	}
}

func TestNormalizeBadgeInIdentityColumn(t *testing.T) {
	ev, err := Normalize(EventFields{Identity: "NRS-001", Location: "icu"}, registry.Default(), config.ParserConfig{}, "kafka")
	if err != nil || ev.IdentityID != "6" {
		t.Fatalf("expected badge resolved to 6, got %+v %v", ev, err)
	}
}

func TestNormalizeErrors(t *testing.T) {
	reg := registry.Default()
	if _, err := Normalize(EventFields{Location: "icu"}, reg, config.ParserConfig{}, "rest"); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
	if _, err := Normalize(EventFields{Badge: "NOPE-1", Location: "icu"}, reg, config.ParserConfig{}, "rest"); !errors.Is(err, ErrUnknownBadge) {
		t.Fatalf("expected ErrUnknownBadge, got %v", err)
	}
	if _, err := Normalize(EventFields{Identity: "1"}, reg, config.ParserConfig{}, "rest"); !errors.Is(err, ErrMissingLocation) {
		t.Fatalf("expected ErrMissingLocation, got %v", err)
	}
	ev, err := Normalize(EventFields{Identity: "1"}, reg, config.ParserConfig{DefaultLocationID: "reception"}, "rest")
	if err != nil || ev.LocationID != "reception" {
		t.Fatalf("expected default location, got %+v %v", ev, err)
	}
	if _, err := Normalize(EventFields{Identity: "1", Location: "icu", Timestamp: "yesterday"}, reg, config.ParserConfig{}, "rest"); err == nil {
		t.Fatalf("expected timestamp error")
	}
}
