// Package storage persists sensor readings and alerts in a local SQLite
// database. It is the default history source for reports and the sink the
// serve loop writes every installed reading to.
//
// Tables are bounded: RotateReadings and RotateAlerts drop the oldest rows
// beyond the configured limits so the database cannot grow without bound.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/firewatch/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	id                   TEXT PRIMARY KEY,
	source               TEXT NOT NULL DEFAULT '',
	timestamp            INTEGER NOT NULL,
	temperature          REAL,
	humidity             REAL,
	co2_level            REAL,
	co_level             REAL,
	h2_level             REAL,
	fire_risk_prediction TEXT
);
CREATE INDEX IF NOT EXISTS idx_sensor_readings_timestamp ON sensor_readings (timestamp);

CREATE TABLE IF NOT EXISTS alerts (
	id         TEXT PRIMARY KEY,
	severity   TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	level      TEXT,
	reading_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at);
`

const readingColumns = `id, source, timestamp, temperature, humidity, co2_level, co_level, h2_level, fire_risk_prediction`

const alertColumns = `id, severity, alert_type, message, created_at, level, reading_id`

// Storage is a SQLite-backed reading and alert store. It is safe for
// concurrent use.
type Storage struct {
	db *sql.DB

	// Configuration
	maxReadings int
	maxAlerts   int
	dbPath      string
}

// New opens (creating if needed) the database at dbPath. Use MemoryPath for
// tests.
func New(maxReadings, maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "firewatch", "firewatch.db")
	}

	dsn := dbPath
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{
		db:          db,
		maxReadings: maxReadings,
		maxAlerts:   maxAlerts,
		dbPath:      dbPath,
	}, nil
}

// Path returns the database location.
func (s *Storage) Path() string {
	return s.dbPath
}

// Close releases the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// AddReading stores a reading, replacing any row with the same ID. Readings
// without an ID are assigned one.
func (s *Storage) AddReading(ctx context.Context, r *models.Reading) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid reading: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	var prediction sql.NullString
	if r.FireRiskPrediction != nil {
		prediction = sql.NullString{String: r.FireRiskPrediction.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sensor_readings (`+readingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.Timestamp.UnixNano(),
		nullable(r.Temperature), nullable(r.Humidity), nullable(r.CO2Level),
		nullable(r.COLevel), nullable(r.H2Level), prediction,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// ReadingsBetween returns readings with from <= timestamp <= to, oldest first.
func (s *Storage) ReadingsBetween(ctx context.Context, from, to time.Time) ([]models.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM sensor_readings WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`,
		from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return collectReadings(rows)
}

// RecentReadings returns up to limit readings, newest first.
func (s *Storage) RecentReadings(ctx context.Context, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		return []models.Reading{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM sensor_readings ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	return collectReadings(rows)
}

// LatestReading returns the newest reading or ErrNotFound.
func (s *Storage) LatestReading(ctx context.Context) (models.Reading, error) {
	readings, err := s.RecentReadings(ctx, 1)
	if err != nil {
		return models.Reading{}, err
	}
	if len(readings) == 0 {
		return models.Reading{}, ErrNotFound
	}
	return readings[0], nil
}

// CountReadings returns the number of stored readings.
func (s *Storage) CountReadings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sensor_readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}

// AddAlert stores an alert.
func (s *Storage) AddAlert(ctx context.Context, a *models.Alert) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}

	var level sql.NullString
	if a.Level != nil {
		level = sql.NullString{String: a.Level.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Severity, a.AlertType, a.Message, a.CreatedAt.UnixNano(), level, a.ReadingID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// AlertsBetween returns alerts with from <= created_at <= to, oldest first.
func (s *Storage) AlertsBetween(ctx context.Context, from, to time.Time) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE created_at >= ? AND created_at <= ? ORDER BY created_at ASC`,
		from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		var (
			a       models.Alert
			created int64
			level   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Severity, &a.AlertType, &a.Message, &created, &level, &a.ReadingID); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.CreatedAt = time.Unix(0, created).UTC()
		if level.Valid {
			if l, err := models.ParseRiskLevel(level.String); err == nil {
				a.Level = &l
			}
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	return alerts, nil
}

// RotateReadings deletes the oldest readings beyond maxReadings.
func (s *Storage) RotateReadings(ctx context.Context) (int64, error) {
	return s.rotate(ctx, "sensor_readings", "timestamp", s.maxReadings)
}

// RotateAlerts deletes the oldest alerts beyond maxAlerts.
func (s *Storage) RotateAlerts(ctx context.Context) (int64, error) {
	return s.rotate(ctx, "alerts", "created_at", s.maxAlerts)
}

func (s *Storage) rotate(ctx context.Context, table, column string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id NOT IN (SELECT id FROM `+table+` ORDER BY `+column+` DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to rotate %s: %w", strings.ReplaceAll(table, "_", " "), err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func collectReadings(rows *sql.Rows) ([]models.Reading, error) {
	defer rows.Close()

	readings := make([]models.Reading, 0)
	for rows.Next() {
		var r models.Reading
		var ts int64
		var temp, hum, co2, co, h2 sql.NullFloat64
		var prediction sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &ts, &temp, &hum, &co2, &co, &h2, &prediction); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Temperature = measurement(temp)
		r.Humidity = measurement(hum)
		r.CO2Level = measurement(co2)
		r.COLevel = measurement(co)
		r.H2Level = measurement(h2)
		if prediction.Valid {
			if l, err := models.ParseRiskLevel(prediction.String); err == nil {
				r.FireRiskPrediction = &l
			}
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read readings: %w", err)
	}
	return readings, nil
}

func nullable(m models.Measurement) sql.NullFloat64 {
	return sql.NullFloat64{Float64: m.Value, Valid: m.Valid}
}

func measurement(n sql.NullFloat64) models.Measurement {
	if !n.Valid {
		return models.Missing()
	}
	return models.Value(n.Float64)
}
