package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts DATETIME NOT NULL,
			alert_type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			staff_name TEXT NOT NULL,
			from_location TEXT NOT NULL,
			to_location TEXT NOT NULL,
			risk_score REAL NOT NULL,
			source TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS travel_analyses (
			id TEXT PRIMARY KEY,
			staff_id TEXT NOT NULL,
			staff_name TEXT NOT NULL,
			from_location TEXT NOT NULL,
			to_location TEXT NOT NULL,
			from_time DATETIME NOT NULL,
			to_time DATETIME NOT NULL,
			gap_minutes REAL NOT NULL,
			distance_meters REAL NOT NULL,
			required_minutes REAL NOT NULL,
			speed_kmh REAL NOT NULL,
			status TEXT NOT NULL,
			risk_score REAL NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_travel_staff ON travel_analyses(staff_id)`,
		`CREATE TABLE IF NOT EXISTS behavior_patterns (
			staff_id TEXT PRIMARY KEY,
			staff_name TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			behavior_score REAL NOT NULL,
			risk_level TEXT NOT NULL,
			anomaly_count INTEGER NOT NULL,
			profile_json TEXT NOT NULL,
			anomalies_json TEXT NOT NULL
		)`,
	},
	insertAlert: `INSERT INTO alerts (id, ts, alert_type, title, message, staff_name, from_location, to_location, risk_score, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
	upsertAnalysis: `INSERT INTO travel_analyses (id, staff_id, staff_name, from_location, to_location, from_time, to_time,
			gap_minutes, distance_meters, required_minutes, speed_kmh, status, risk_score, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			staff_name = excluded.staff_name,
			status = excluded.status,
			risk_score = excluded.risk_score,
			reason = excluded.reason`,
	upsertPattern: `INSERT INTO behavior_patterns (staff_id, staff_name, updated_at, behavior_score, risk_level, anomaly_count, profile_json, anomalies_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(staff_id) DO UPDATE SET
			staff_name = excluded.staff_name,
			updated_at = excluded.updated_at,
			behavior_score = excluded.behavior_score,
			risk_level = excluded.risk_level,
			anomaly_count = excluded.anomaly_count,
			profile_json = excluded.profile_json,
			anomalies_json = excluded.anomalies_json`,
	recentAlerts: `SELECT id, ts, alert_type, title, message, staff_name, from_location, to_location, risk_score, source
		FROM alerts ORDER BY ts DESC LIMIT ?`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:guardianpath.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, d: sqliteDialect}}, nil
}
