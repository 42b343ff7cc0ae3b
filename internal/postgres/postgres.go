// Package postgres reads and writes the sensor_readings and alerts tables
// directly, for deployments that reach the Supabase database without the
// REST layer.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/rewired-gh/firewatch/internal/models"
)

// SourceName tags readings loaded from Postgres.
const SourceName = "postgres"

// Config holds connection settings.
type Config struct {
	DSN      string
	MaxConns int
	MaxIdle  int
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Schema creates the tables when absent.
const Schema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	id                   TEXT PRIMARY KEY,
	timestamp            TIMESTAMPTZ NOT NULL,
	temperature          DOUBLE PRECISION,
	humidity             DOUBLE PRECISION,
	co2_level            DOUBLE PRECISION,
	co_level             DOUBLE PRECISION,
	h2_level             DOUBLE PRECISION,
	fire_risk_prediction TEXT
);
CREATE TABLE IF NOT EXISTS alerts (
	id         TEXT PRIMARY KEY,
	severity   TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Repository queries the sensor tables.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository wraps an open database.
func NewRepository(db *sql.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

// EnsureSchema applies Schema.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const readingColumns = `id::text, timestamp, temperature, humidity, co2_level, co_level, h2_level, fire_risk_prediction`

// ReadingsBetween returns readings with from <= timestamp <= to, oldest first.
func (r *Repository) ReadingsBetween(ctx context.Context, from, to time.Time) ([]models.Reading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM sensor_readings
		 WHERE timestamp >= $1 AND timestamp <= $2
		 ORDER BY timestamp ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return r.scanReadings(rows)
}

// Recent returns up to limit readings, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		return []models.Reading{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM sensor_readings ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	return r.scanReadings(rows)
}

// Next returns the newest reading, making the repository a feed producer.
func (r *Repository) Next(ctx context.Context) (models.Reading, error) {
	readings, err := r.Recent(ctx, 1)
	if err != nil {
		return models.Reading{}, err
	}
	if len(readings) == 0 {
		return models.Reading{}, errors.New("no sensor readings available")
	}
	return readings[0], nil
}

// InsertReading stores a reading. Duplicate IDs are ignored.
func (r *Repository) InsertReading(ctx context.Context, reading models.Reading) error {
	var prediction sql.NullString
	if reading.FireRiskPrediction != nil {
		prediction = sql.NullString{String: reading.FireRiskPrediction.String(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (id, timestamp, temperature, humidity, co2_level, co_level, h2_level, fire_risk_prediction)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		reading.ID, reading.Timestamp,
		nullable(reading.Temperature), nullable(reading.Humidity), nullable(reading.CO2Level),
		nullable(reading.COLevel), nullable(reading.H2Level), prediction,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", describe(err))
	}
	return nil
}

// AlertsBetween returns alerts with from <= created_at <= to, oldest first.
func (r *Repository) AlertsBetween(ctx context.Context, from, to time.Time) ([]models.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id::text, severity, alert_type, message, created_at FROM alerts
		 WHERE created_at >= $1 AND created_at <= $2
		 ORDER BY created_at ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.Severity, &a.AlertType, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	return alerts, nil
}

// InsertAlert stores an alert.
func (r *Repository) InsertAlert(ctx context.Context, a models.Alert) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (id, severity, alert_type, message, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Severity, a.AlertType, a.Message, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", describe(err))
	}
	return nil
}

func (r *Repository) scanReadings(rows *sql.Rows) ([]models.Reading, error) {
	defer rows.Close()

	readings := make([]models.Reading, 0)
	for rows.Next() {
		var reading models.Reading
		var temp, hum, co2, co, h2 sql.NullFloat64
		var prediction sql.NullString

		if err := rows.Scan(&reading.ID, &reading.Timestamp, &temp, &hum, &co2, &co, &h2, &prediction); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		reading.Source = SourceName
		reading.Timestamp = reading.Timestamp.UTC()
		reading.Temperature = measurement(temp)
		reading.Humidity = measurement(hum)
		reading.CO2Level = measurement(co2)
		reading.COLevel = measurement(co)
		reading.H2Level = measurement(h2)
		if prediction.Valid {
			l, err := models.ParseRiskLevel(prediction.String)
			if err != nil {
				r.logger.Warn("Ignoring unknown stored prediction",
					zap.String("id", reading.ID), zap.String("prediction", prediction.String))
			} else {
				reading.FireRiskPrediction = &l
			}
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read readings: %w", err)
	}
	return readings, nil
}

// describe adds the SQLSTATE to driver errors.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (%s): %w", pqErr.Code.Name(), pqErr.Code, err)
	}
	return err
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
