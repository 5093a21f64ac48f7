package alerts

import (
	"fmt"

	"guardianpath/internal/model"
)

const (
	SourceTravel   = "travel"
	SourceBehavior = "behavior"
	SourceFeed     = "feed"
	SourceTest     = "test"
	SourceExternal = "external"
)

func ClassifyAnalysis(status model.TravelStatus) model.AlertType {
	switch status {
	case model.StatusImpossible:
		return model.AlertFraud
	case model.StatusSuspicious:
		return model.AlertSuspicious
	default:
		return model.AlertInfo
	}
}

// ClassifyScore types an alert that arrived without one.
func ClassifyScore(score, high, medium float64) model.AlertType {
	switch {
	case score >= high:
		return model.AlertFraud
	case score >= medium:
		return model.AlertSuspicious
	default:
		return model.AlertInfo
	}
}

func ValidType(t model.AlertType) bool {
	switch t {
	case model.AlertFraud, model.AlertSuspicious, model.AlertInfo:
		return true
	}
	return false
}

func Title(t model.AlertType) string {
	switch t {
	case model.AlertFraud:
		return "FRAUD ALERT: Impossible Journey Detected"
	case model.AlertSuspicious:
		return "Suspicious Activity Detected"
	default:
		return "Login Activity Recorded"
	}
}

func Message(t model.AlertType, staff, from, to string) string {
	switch t {
	case model.AlertFraud:
		return fmt.Sprintf("%s logged in at %s and %s within impossible time frame. Immediate investigation required.", staff, from, to)
	case model.AlertSuspicious:
		return fmt.Sprintf("%s showed unusual travel pattern between %s and %s. Review recommended.", staff, from, to)
	default:
		return fmt.Sprintf("%s logged in at %s from %s.", staff, to, from)
	}
}

func FromAnalysis(a model.TravelAnalysis) model.Alert {
	t := ClassifyAnalysis(a.Status)
	return model.Alert{
		ID:           "ALERT-" + a.ID,
		Type:         t,
		Title:        Title(t),
		Message:      Message(t, a.StaffName, a.FromLocation, a.ToLocation) + " " + a.Reason,
		StaffName:    a.StaffName,
		FromLocation: a.FromLocation,
		ToLocation:   a.ToLocation,
		RiskScore:    a.RiskScore,
		Timestamp:    a.ToTime,
		Source:       SourceTravel,
	}
}

// FromBehavior reports an identity whose latest activity raised a critical
// anomaly. The risk score is the inverse of the behavior score.
func FromBehavior(p model.BehaviorPattern, lastLocation string) model.Alert {
	var types []string
	for _, a := range p.Anomalies {
		if a.Severity == model.SeverityCritical {
			types = append(types, string(a.Type))
		}
	}
	return model.Alert{
		Type:         model.AlertSuspicious,
		Title:        "Behavior Anomaly Detected",
		Message:      fmt.Sprintf("%s triggered critical behavior anomalies %v (behavior score %.0f).", p.StaffName, types, p.BehaviorScore),
		StaffName:    p.StaffName,
		FromLocation: lastLocation,
		ToLocation:   lastLocation,
		RiskScore:    model.ClampScore(100 - p.BehaviorScore),
		Timestamp:    p.LastActivity,
		Source:       SourceBehavior,
	}
}

func HasCritical(p model.BehaviorPattern) bool {
	for _, a := range p.Anomalies {
		if a.Severity == model.SeverityCritical {
			return true
		}
	}
	return false
}
