package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

var postgresDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			alert_type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			staff_name TEXT NOT NULL,
			from_location TEXT NOT NULL,
			to_location TEXT NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS travel_analyses (
			id TEXT PRIMARY KEY,
			staff_id TEXT NOT NULL,
			staff_name TEXT NOT NULL,
			from_location TEXT NOT NULL,
			to_location TEXT NOT NULL,
			from_time TIMESTAMPTZ NOT NULL,
			to_time TIMESTAMPTZ NOT NULL,
			gap_minutes DOUBLE PRECISION NOT NULL,
			distance_meters DOUBLE PRECISION NOT NULL,
			required_minutes DOUBLE PRECISION NOT NULL,
			speed_kmh DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_travel_staff ON travel_analyses(staff_id)`,
		`CREATE TABLE IF NOT EXISTS behavior_patterns (
			staff_id TEXT PRIMARY KEY,
			staff_name TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			behavior_score DOUBLE PRECISION NOT NULL,
			risk_level TEXT NOT NULL,
			anomaly_count INTEGER NOT NULL,
			profile_json JSONB NOT NULL,
			anomalies_json JSONB NOT NULL
		)`,
	},
	insertAlert: `INSERT INTO alerts (id, ts, alert_type, title, message, staff_name, from_location, to_location, risk_score, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
	upsertAnalysis: `INSERT INTO travel_analyses (id, staff_id, staff_name, from_location, to_location, from_time, to_time,
			gap_minutes, distance_meters, required_minutes, speed_kmh, status, risk_score, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			staff_name = EXCLUDED.staff_name,
			status = EXCLUDED.status,
			risk_score = EXCLUDED.risk_score,
			reason = EXCLUDED.reason`,
	upsertPattern: `INSERT INTO behavior_patterns (staff_id, staff_name, updated_at, behavior_score, risk_level, anomaly_count, profile_json, anomalies_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (staff_id) DO UPDATE SET
			staff_name = EXCLUDED.staff_name,
			updated_at = EXCLUDED.updated_at,
			behavior_score = EXCLUDED.behavior_score,
			risk_level = EXCLUDED.risk_level,
			anomaly_count = EXCLUDED.anomaly_count,
			profile_json = EXCLUDED.profile_json,
			anomalies_json = EXCLUDED.anomalies_json`,
	recentAlerts: `SELECT id, ts, alert_type, title, message, staff_name, from_location, to_location, risk_score, source
		FROM alerts ORDER BY ts DESC LIMIT $1`,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/guardianpath?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, d: postgresDialect}}, nil
}
