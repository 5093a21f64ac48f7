package model

import "time"

type Coordinates struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

type Location struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Coordinates Coordinates `json:"coordinates" yaml:"coordinates"`
	Floor       int         `json:"floor" yaml:"floor"`
	Building    string      `json:"building" yaml:"building"`
}

type Identity struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Role       string `json:"role" yaml:"role"`
	Department string `json:"department" yaml:"department"`
	BadgeID    string `json:"badge_id" yaml:"badge_id"`
}

type AccessEvent struct {
	ID            string    `json:"id"`
	IdentityID    string    `json:"identity_id"`
	LocationID    string    `json:"location_id"`
	Timestamp     time.Time `json:"timestamp"`
	DeviceID      string    `json:"device_id,omitempty"`
	SourceAddress string    `json:"source_address,omitempty"`
	Source        string    `json:"source,omitempty"`
}

type TravelStatus string

const (
	StatusSafe       TravelStatus = "safe"
	StatusSuspicious TravelStatus = "suspicious"
	StatusImpossible TravelStatus = "impossible"
)

type TravelAnalysis struct {
	ID                  string       `json:"id"`
	StaffID             string       `json:"staff_id"`
	StaffName           string       `json:"staff_name"`
	FromLocation        string       `json:"from_location"`
	ToLocation          string       `json:"to_location"`
	FromTime            time.Time    `json:"from_time"`
	ToTime              time.Time    `json:"to_time"`
	TimeGapMinutes      float64      `json:"time_gap_minutes"`
	DistanceMeters      float64      `json:"distance_meters"`
	RequiredTimeMinutes float64      `json:"required_time_minutes"`
	SpeedKmh            float64      `json:"speed_kmh"`
	Status              TravelStatus `json:"status"`
	RiskScore           float64      `json:"risk_score"`
	Reason              string       `json:"reason"`
}

type LoginFrequency string

const (
	FrequencySporadic LoginFrequency = "sporadic"
	FrequencyRegular  LoginFrequency = "regular"
	FrequencyHeavy    LoginFrequency = "heavy"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AnomalyType string

const (
	AnomalyUnusualTime        AnomalyType = "UNUSUAL_TIME"
	AnomalyAfterHours         AnomalyType = "AFTER_HOURS"
	AnomalyNewLocation        AnomalyType = "NEW_LOCATION"
	AnomalyNewDevice          AnomalyType = "NEW_DEVICE"
	AnomalyRapidLogins        AnomalyType = "RAPID_LOGINS"
	AnomalyLocationHopping    AnomalyType = "LOCATION_HOPPING"
	AnomalyConcurrentSessions AnomalyType = "CONCURRENT_SESSIONS"
	AnomalyVelocity           AnomalyType = "VELOCITY_ANOMALY"
)

type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Profile struct {
	UsualLoginHours     HourRange      `json:"usual_login_hours"`
	AverageLoginsPerDay float64        `json:"average_logins_per_day"`
	PreferredLocations  []string       `json:"preferred_locations"`
	PreferredDevices    []string       `json:"preferred_devices"`
	LoginFrequency      LoginFrequency `json:"login_frequency"`
}

type BehaviorAnomaly struct {
	ID          string         `json:"id"`
	Type        AnomalyType    `json:"type"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	DetectedAt  time.Time      `json:"detected_at"`
	Details     map[string]any `json:"details,omitempty"`
}

type BehaviorPattern struct {
	StaffID       string            `json:"staff_id"`
	StaffName     string            `json:"staff_name"`
	Patterns      Profile           `json:"patterns"`
	Anomalies     []BehaviorAnomaly `json:"anomalies"`
	RiskLevel     RiskLevel         `json:"risk_level"`
	BehaviorScore float64           `json:"behavior_score"`
	LastActivity  time.Time         `json:"last_activity"`
}

type BehaviorSummary struct {
	TotalAnomalies  int                 `json:"total_anomalies"`
	CriticalCount   int                 `json:"critical_count"`
	WarningCount    int                 `json:"warning_count"`
	InfoCount       int                 `json:"info_count"`
	AverageScore    float64             `json:"average_score"`
	AnomalyTypes    map[AnomalyType]int `json:"anomaly_types"`
	RiskLevels      map[RiskLevel]int   `json:"risk_levels"`
	HighRiskUsers   int                 `json:"high_risk_users"`
	MediumRiskUsers int                 `json:"medium_risk_users"`
}

type AlertType string

const (
	AlertFraud      AlertType = "fraud"
	AlertSuspicious AlertType = "suspicious"
	AlertInfo       AlertType = "info"
)

type Alert struct {
	ID           string    `json:"id"`
	Type         AlertType `json:"type"`
	Title        string    `json:"title,omitempty"`
	Message      string    `json:"message,omitempty"`
	StaffName    string    `json:"staff_name"`
	FromLocation string    `json:"from_location"`
	ToLocation   string    `json:"to_location"`
	RiskScore    float64   `json:"risk_score"`
	Timestamp    time.Time `json:"timestamp"`
	Read         bool      `json:"read"`
	Source       string    `json:"source,omitempty"`
}

// IdentityMetrics is the per-identity roll-up of one recompute.
type IdentityMetrics struct {
	IdentityID    string    `json:"identity_id"`
	StaffName     string    `json:"staff_name"`
	Events        int       `json:"events"`
	Analyses      int       `json:"analyses"`
	Impossible    int       `json:"impossible"`
	Suspicious    int       `json:"suspicious"`
	MaxRiskScore  float64   `json:"max_risk_score"`
	BehaviorScore float64   `json:"behavior_score"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Anomalies     int       `json:"anomalies"`
	LastActivity  time.Time `json:"last_activity"`
	UpdatedAt     time.Time `json:"updated_at"`
}
