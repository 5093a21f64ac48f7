package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Registry  RegistryConfig  `json:"registry" yaml:"registry"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Behavior  BehaviorConfig  `json:"behavior" yaml:"behavior"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Monitor   MonitorConfig   `json:"monitor" yaml:"monitor"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type RegistryConfig struct {
	// Path to a YAML or JSON catalog; empty uses the built-in facility catalog.
	Path string `json:"path" yaml:"path"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
	Redis         RedisConfig    `json:"redis" yaml:"redis"`
	Syslog        SyslogConfig   `json:"syslog" yaml:"syslog"`
	TCP           TCPConfig      `json:"tcp" yaml:"tcp"`
	Parser        ParserConfig   `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type RedisConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	Key          string        `json:"key" yaml:"key"`
	BlockTimeout time.Duration `json:"block_timeout" yaml:"block_timeout"`
}

// SyslogConfig listens for door-controller syslog on UDP, TCP or both.
type SyslogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	UDPAddr string `json:"udp_addr" yaml:"udp_addr"`
	TCPAddr string `json:"tcp_addr" yaml:"tcp_addr"`
}

// TCPConfig accepts newline-delimited records on a raw TCP socket.
type TCPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type ParserConfig struct {
	Timezone          string `json:"timezone" yaml:"timezone"`
	DefaultLocationID string `json:"default_location_id" yaml:"default_location_id"`
}

// DetectionConfig is the runtime-adjustable threshold surface plus the
// physical constants used to estimate required travel time.
type DetectionConfig struct {
	ImpossibleTravelRatio    float64       `json:"impossible_travel_ratio" yaml:"impossible_travel_ratio"`
	SuspiciousTravelRatio    float64       `json:"suspicious_travel_ratio" yaml:"suspicious_travel_ratio"`
	MaxHumanSpeedKmh         float64       `json:"max_human_speed_kmh" yaml:"max_human_speed_kmh"`
	HighRiskScoreThreshold   float64       `json:"high_risk_score_threshold" yaml:"high_risk_score_threshold"`
	MediumRiskScoreThreshold float64       `json:"medium_risk_score_threshold" yaml:"medium_risk_score_threshold"`
	WalkingSpeedMPerMin      float64       `json:"walking_speed_m_per_min" yaml:"walking_speed_m_per_min"`
	FloorTransitMinutes      float64       `json:"floor_transit_minutes" yaml:"floor_transit_minutes"`
	BuildingChangeMinutes    float64       `json:"building_change_minutes" yaml:"building_change_minutes"`
	MaxPairGap               time.Duration `json:"max_pair_gap" yaml:"max_pair_gap"`
}

type BehaviorConfig struct {
	Timezone               string        `json:"timezone" yaml:"timezone"`
	DefaultStartHour       int           `json:"default_start_hour" yaml:"default_start_hour"`
	DefaultEndHour         int           `json:"default_end_hour" yaml:"default_end_hour"`
	HourSpread             int           `json:"hour_spread" yaml:"hour_spread"`
	WorkdayStartHour       int           `json:"workday_start_hour" yaml:"workday_start_hour"`
	WorkdayEndHour         int           `json:"workday_end_hour" yaml:"workday_end_hour"`
	PreferredLimit         int           `json:"preferred_limit" yaml:"preferred_limit"`
	RegularMinEvents       int           `json:"regular_min_events" yaml:"regular_min_events"`
	HeavyMinEvents         int           `json:"heavy_min_events" yaml:"heavy_min_events"`
	RecentWindow           time.Duration `json:"recent_window" yaml:"recent_window"`
	RapidLoginThreshold    int           `json:"rapid_login_threshold" yaml:"rapid_login_threshold"`
	HoppingLocations       int           `json:"hopping_locations" yaml:"hopping_locations"`
	CriticalPenalty        float64       `json:"critical_penalty" yaml:"critical_penalty"`
	WarningPenalty         float64       `json:"warning_penalty" yaml:"warning_penalty"`
	InfoPenalty            float64       `json:"info_penalty" yaml:"info_penalty"`
	RegularBonus           float64       `json:"regular_bonus" yaml:"regular_bonus"`
	PreferredLocationBonus float64       `json:"preferred_location_bonus" yaml:"preferred_location_bonus"`
	ExtendedAnomalies      bool          `json:"extended_anomalies" yaml:"extended_anomalies"`
}

type AlertsConfig struct {
	Capacity          int           `json:"capacity" yaml:"capacity"`
	EnableAlerts      bool          `json:"enable_alerts" yaml:"enable_alerts"`
	AlertOnImpossible bool          `json:"alert_on_impossible" yaml:"alert_on_impossible"`
	AlertOnSuspicious bool          `json:"alert_on_suspicious" yaml:"alert_on_suspicious"`
	AlertOnBehavior   bool          `json:"alert_on_behavior" yaml:"alert_on_behavior"`
	BehaviorCooldown  time.Duration `json:"behavior_cooldown" yaml:"behavior_cooldown"`
	Feed              FeedConfig    `json:"feed" yaml:"feed"`
}

// FeedConfig drives the synthetic alert source.
type FeedConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval"`
	Weights     FeedWeights   `json:"weights" yaml:"weights"`
	Fraud       ScoreRange    `json:"fraud" yaml:"fraud"`
	Suspicious  ScoreRange    `json:"suspicious" yaml:"suspicious"`
	Info        ScoreRange    `json:"info" yaml:"info"`
}

type FeedWeights struct {
	Fraud      float64 `json:"fraud" yaml:"fraud"`
	Suspicious float64 `json:"suspicious" yaml:"suspicious"`
	Info       float64 `json:"info" yaml:"info"`
}

// ScoreRange is a half-open interval [Min, Max).
type ScoreRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

type MonitorConfig struct {
	RefreshInterval time.Duration  `json:"refresh_interval" yaml:"refresh_interval"`
	HistoryLimit    int            `json:"history_limit" yaml:"history_limit"`
	DedupeWindow    time.Duration  `json:"dedupe_window" yaml:"dedupe_window"`
	Simulate        SimulateConfig `json:"simulate" yaml:"simulate"`
}

type SimulateConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	EventsPerBatch  int  `json:"events_per_batch" yaml:"events_per_batch"`
	ReplaceHistory  bool `json:"replace_history" yaml:"replace_history"`
	ScriptScenarios bool `json:"script_scenarios" yaml:"script_scenarios"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		ImpossibleTravelRatio:    0.3,
		SuspiciousTravelRatio:    0.7,
		MaxHumanSpeedKmh:         25,
		HighRiskScoreThreshold:   80,
		MediumRiskScoreThreshold: 50,
		WalkingSpeedMPerMin:      83.3,
		FloorTransitMinutes:      0.5,
		BuildingChangeMinutes:    2,
		MaxPairGap:               60 * time.Minute,
	}
}

func DefaultBehavior() BehaviorConfig {
	return BehaviorConfig{
		Timezone:               "UTC",
		DefaultStartHour:       8,
		DefaultEndHour:         18,
		HourSpread:             4,
		WorkdayStartHour:       6,
		WorkdayEndHour:         22,
		PreferredLimit:         3,
		RegularMinEvents:       5,
		HeavyMinEvents:         20,
		RecentWindow:           5 * time.Minute,
		RapidLoginThreshold:    3,
		HoppingLocations:       3,
		CriticalPenalty:        25,
		WarningPenalty:         10,
		InfoPenalty:            5,
		RegularBonus:           5,
		PreferredLocationBonus: 5,
	}
}

func DefaultFeed() FeedConfig {
	return FeedConfig{
		Enabled:     false,
		MinInterval: 15 * time.Second,
		MaxInterval: 45 * time.Second,
		Weights:     FeedWeights{Fraud: 0.2, Suspicious: 0.4, Info: 0.4},
		Fraud:       ScoreRange{Min: 85, Max: 100},
		Suspicious:  ScoreRange{Min: 50, Max: 85},
		Info:        ScoreRange{Min: 10, Max: 40},
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Redis:         RedisConfig{Enabled: false, Addr: "127.0.0.1:6379", Key: "access_events", BlockTimeout: 5 * time.Second},
			Syslog:        SyslogConfig{Enabled: false, UDPAddr: ":5514", TCPAddr: ":5514"},
			TCP:           TCPConfig{Enabled: false, Addr: ":9000"},
			Parser:        ParserConfig{Timezone: "UTC"},
		},
		Detection: DefaultDetection(),
		Behavior:  DefaultBehavior(),
		Alerts: AlertsConfig{
			Capacity:          50,
			EnableAlerts:      true,
			AlertOnImpossible: true,
			AlertOnSuspicious: true,
			AlertOnBehavior:   true,
			BehaviorCooldown:  10 * time.Minute,
			Feed:              DefaultFeed(),
		},
		Monitor: MonitorConfig{
			RefreshInterval: 30 * time.Second,
			HistoryLimit:    50000,
			DedupeWindow:    10 * time.Minute,
			Simulate:        SimulateConfig{Enabled: false, EventsPerBatch: 60, ReplaceHistory: true, ScriptScenarios: true},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:guardianpath.db?_pragma=busy_timeout(5000)"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes YAML or JSON on top of the defaults, then validates.
func Parse(content []byte) (*Config, error) {
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	cfg := DefaultConfig()
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Redis.BlockTimeout <= 0 {
		cfg.Ingest.Redis.BlockTimeout = 5 * time.Second
	}
	if cfg.Detection.WalkingSpeedMPerMin <= 0 {
		cfg.Detection.WalkingSpeedMPerMin = 83.3
	}
	if cfg.Detection.MaxPairGap <= 0 {
		cfg.Detection.MaxPairGap = 60 * time.Minute
	}
	if cfg.Behavior.Timezone == "" {
		cfg.Behavior.Timezone = "UTC"
	}
	if cfg.Behavior.RecentWindow <= 0 {
		cfg.Behavior.RecentWindow = 5 * time.Minute
	}
	if cfg.Behavior.PreferredLimit <= 0 {
		cfg.Behavior.PreferredLimit = 3
	}
	if cfg.Alerts.Capacity <= 0 {
		cfg.Alerts.Capacity = 50
	}
	if cfg.Monitor.RefreshInterval <= 0 {
		cfg.Monitor.RefreshInterval = 30 * time.Second
	}
	if cfg.Monitor.HistoryLimit <= 0 {
		cfg.Monitor.HistoryLimit = 50000
	}
	if cfg.Monitor.DedupeWindow <= 0 {
		cfg.Monitor.DedupeWindow = 10 * time.Minute
	}
	if cfg.Monitor.Simulate.EventsPerBatch <= 0 {
		cfg.Monitor.Simulate.EventsPerBatch = 60
	}
}

func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.Redis.Enabled && (cfg.Ingest.Redis.Addr == "" || cfg.Ingest.Redis.Key == "") {
		return errors.New("ingest.redis requires addr and key")
	}
	if cfg.Ingest.Syslog.Enabled && cfg.Ingest.Syslog.UDPAddr == "" && cfg.Ingest.Syslog.TCPAddr == "" {
		return errors.New("ingest.syslog.udp_addr or tcp_addr required when ingest.syslog.enabled is true")
	}
	if cfg.Ingest.TCP.Enabled && cfg.Ingest.TCP.Addr == "" {
		return errors.New("ingest.tcp.addr required when ingest.tcp.enabled is true")
	}
	if err := ValidateDetection(cfg.Detection); err != nil {
		return err
	}
	if err := ValidateBehavior(cfg.Behavior); err != nil {
		return err
	}
	if err := ValidateAlerts(cfg.Alerts); err != nil {
		return err
	}
	if cfg.Monitor.RefreshInterval < 5*time.Second || cfg.Monitor.RefreshInterval > time.Hour {
		return outOfRange("monitor.refresh_interval", cfg.Monitor.RefreshInterval.Seconds(), 5, 3600)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// OpenManager loads path, writing the defaults there first when the file
// does not exist yet.
func OpenManager(path string) (*Manager, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}
	return NewManager(path)
}

// NewStaticManager wraps an in-memory config; Update keeps it in memory only.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

// Update validates cfg, persists it and swaps it in. A rejected config
// leaves the current one untouched.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

// UpdateDetection replaces only the detection thresholds.
func (m *Manager) UpdateDetection(next DetectionConfig) (*Config, error) {
	if err := ValidateDetection(next); err != nil {
		return nil, err
	}
	updated := *m.Get()
	updated.Detection = next
	if err := m.Update(&updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
