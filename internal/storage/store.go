package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"guardianpath/internal/config"
	"guardianpath/internal/model"
)

// Store persists alerts, travel analyses and behavior patterns. Analyses are
// upserted by id and patterns by staff id, so repeated recomputes over the
// same history do not grow the tables.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.Alert) error
	SaveAnalyses(ctx context.Context, analyses []model.TravelAnalysis) error
	SaveBehavior(ctx context.Context, patterns []model.BehaviorPattern) error
	RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error)
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, ErrUnsupportedDriver
	}
}

// dialect holds the statements that differ between drivers.
type dialect struct {
	schema         []string
	insertAlert    string
	upsertAnalysis string
	upsertPattern  string
	recentAlerts   string
}

type baseStore struct {
	db *sql.DB
	d  dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.d.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.d.insertAlert,
		alert.ID,
		alert.Timestamp.UTC(),
		string(alert.Type),
		alert.Title,
		alert.Message,
		alert.StaffName,
		alert.FromLocation,
		alert.ToLocation,
		alert.RiskScore,
		alert.Source,
	)
	return err
}

func (b *baseStore) SaveAnalyses(ctx context.Context, analyses []model.TravelAnalysis) error {
	if b.db == nil || len(analyses) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.d.upsertAnalysis)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, a := range analyses {
		if _, err := stmt.ExecContext(ctx,
			a.ID,
			a.StaffID,
			a.StaffName,
			a.FromLocation,
			a.ToLocation,
			a.FromTime.UTC(),
			a.ToTime.UTC(),
			a.TimeGapMinutes,
			a.DistanceMeters,
			a.RequiredTimeMinutes,
			a.SpeedKmh,
			string(a.Status),
			a.RiskScore,
			a.Reason,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) SaveBehavior(ctx context.Context, patterns []model.BehaviorPattern) error {
	if b.db == nil || len(patterns) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.d.upsertPattern)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	ts := nowUTC()
	for _, p := range patterns {
		if _, err := stmt.ExecContext(ctx,
			p.StaffID,
			p.StaffName,
			ts,
			p.BehaviorScore,
			string(p.RiskLevel),
			len(p.Anomalies),
			encodeJSON(p.Patterns),
			encodeJSON(p.Anomalies),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecentAlerts returns up to limit alerts, newest first.
func (b *baseStore) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := b.db.QueryContext(ctx, b.d.recentAlerts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var typ string
		if err := rows.Scan(&a.ID, &a.Timestamp, &typ, &a.Title, &a.Message, &a.StaffName,
			&a.FromLocation, &a.ToLocation, &a.RiskScore, &a.Source); err != nil {
			return nil, err
		}
		a.Type = model.AlertType(typ)
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
