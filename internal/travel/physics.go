package travel

import (
	"fmt"
	"math"

	"guardianpath/internal/config"
	"guardianpath/internal/model"
)

const earthRadiusMeters = 6371000.0

// Distance is the great-circle distance between two points in meters.
func Distance(a, b model.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

type Physics struct {
	WalkingSpeedMPerMin   float64
	FloorTransitMinutes   float64
	BuildingChangeMinutes float64
}

func PhysicsFromConfig(d config.DetectionConfig) Physics {
	return Physics{
		WalkingSpeedMPerMin:   d.WalkingSpeedMPerMin,
		FloorTransitMinutes:   d.FloorTransitMinutes,
		BuildingChangeMinutes: d.BuildingChangeMinutes,
	}
}

// RequiredTime is the minimum plausible walking time between two locations
// in minutes: horizontal distance, stairs per floor, and a flat building
// change penalty.
func (p Physics) RequiredTime(a, b model.Location) float64 {
	walking := 0.0
	if p.WalkingSpeedMPerMin > 0 {
		walking = Distance(a.Coordinates, b.Coordinates) / p.WalkingSpeedMPerMin
	}
	floors := math.Abs(float64(a.Floor - b.Floor))
	required := walking + floors*p.FloorTransitMinutes
	if a.Building != b.Building {
		required += p.BuildingChangeMinutes
	}
	return required
}

// RequiredTime uses the default physical constants.
func RequiredTime(a, b model.Location) float64 {
	return PhysicsFromConfig(config.DefaultDetection()).RequiredTime(a, b)
}

type Thresholds struct {
	ImpossibleRatio  float64
	SuspiciousRatio  float64
	MaxHumanSpeedKmh float64
}

func ThresholdsFromConfig(d config.DetectionConfig) Thresholds {
	return Thresholds{
		ImpossibleRatio:  d.ImpossibleTravelRatio,
		SuspiciousRatio:  d.SuspiciousTravelRatio,
		MaxHumanSpeedKmh: d.MaxHumanSpeedKmh,
	}
}

type Verdict struct {
	Status    model.TravelStatus
	RiskScore float64
	Reason    string
}

// Classify grades one transition. The result depends only on its arguments.
func Classify(gapMinutes, requiredMinutes, speedKmh float64, th Thresholds) Verdict {
	var v Verdict
	switch {
	case gapMinutes < requiredMinutes*th.ImpossibleRatio:
		shortfall := 1.0
		if requiredMinutes > 0 {
			shortfall = (requiredMinutes - gapMinutes) / requiredMinutes
		}
		v.Status = model.StatusImpossible
		v.RiskScore = 95 + math.Min(5, shortfall*5)
		v.Reason = fmt.Sprintf("Physically impossible travel. Required: %.1f min, Actual: %.1f min", requiredMinutes, gapMinutes)
	case gapMinutes < requiredMinutes*th.SuspiciousRatio:
		band := requiredMinutes * (th.SuspiciousRatio - th.ImpossibleRatio)
		position := 1.0
		if band > 0 {
			position = (requiredMinutes*th.SuspiciousRatio - gapMinutes) / band
		}
		v.Status = model.StatusSuspicious
		v.RiskScore = 60 + position*35
		v.Reason = fmt.Sprintf("Unusually fast travel detected. Speed: %.1f km/h (%.1f of %.1f min required)", speedKmh, gapMinutes, requiredMinutes)
	case speedKmh > th.MaxHumanSpeedKmh:
		v.Status = model.StatusSuspicious
		v.RiskScore = 50 + (speedKmh-th.MaxHumanSpeedKmh)*2
		v.Reason = fmt.Sprintf("Speed exceeds human capability: %.1f km/h (limit %.1f km/h)", speedKmh, th.MaxHumanSpeedKmh)
	default:
		v.Status = model.StatusSafe
		v.RiskScore = math.Max(0, 30-(gapMinutes-requiredMinutes)*2)
		v.Reason = fmt.Sprintf("Normal access pattern. Required: %.1f min, Actual: %.1f min", requiredMinutes, gapMinutes)
	}
	if math.IsNaN(v.RiskScore) {
		v.RiskScore = 100
	}
	v.RiskScore = model.ClampScore(v.RiskScore)
	return v
}

// SpeedKmh is the average speed needed to cover meters in minutes; zero
// for a non-positive interval.
func SpeedKmh(meters, minutes float64) float64 {
	if minutes <= 0 {
		return 0
	}
	return (meters / 1000) / (minutes / 60)
}
