// Package supabase reads sensor history and alerts from the hosted Supabase
// tables through the PostgREST API.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/rewired-gh/firewatch/internal/models"
)

// SourceName tags readings fetched from Supabase.
const SourceName = "supabase"

// Table names.
const (
	ReadingsTable = "sensor_readings"
	AlertsTable   = "alerts"
)

// ErrNoReadings is returned by Next when the table is empty.
var ErrNoReadings = errors.New("no sensor readings available")

// ClientConfig tunes retries.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client provides access to the Supabase REST API
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// ReadingRow is a sensor_readings row as returned by PostgREST.
type ReadingRow struct {
	ID                 rowID    `json:"id"`
	Timestamp          string   `json:"timestamp"`
	Temperature        *float64 `json:"temperature"`
	Humidity           *float64 `json:"humidity"`
	CO2Level           *float64 `json:"co2_level"`
	COLevel            *float64 `json:"co_level"`
	H2Level            *float64 `json:"h2_level"`
	FireRiskPrediction *string  `json:"fire_risk_prediction"`
}

// AlertRow is an alerts row as returned by PostgREST.
type AlertRow struct {
	ID        rowID  `json:"id"`
	Severity  string `json:"severity"`
	AlertType string `json:"alert_type"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// rowID accepts both integer and uuid primary keys.
type rowID string

func (id *rowID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = rowID(s)
		return nil
	}
	if string(data) == "null" {
		*id = ""
		return nil
	}
	*id = rowID(data)
	return nil
}

// NewClient creates a new Supabase client
func NewClient(baseURL, apiKey string, timeout time.Duration, cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/rest/v1").
		SetTimeout(timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelayBase).
		SetRetryMaxWaitTime(cfg.RetryDelayBase*time.Duration(cfg.MaxRetries+1)).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("apikey", apiKey).
		SetAuthToken(apiKey).
		SetHeader("Accept", "application/json")

	return &Client{http: client, logger: logger}
}

// ReadingsBetween fetches readings in [from, to], oldest first.
func (c *Client) ReadingsBetween(ctx context.Context, from, to time.Time) ([]models.Reading, error) {
	params := url.Values{
		"select":    {"*"},
		"timestamp": {"gte." + formatTime(from), "lte." + formatTime(to)},
		"order":     {"timestamp.asc"},
	}
	var rows []ReadingRow
	if err := c.get(ctx, ReadingsTable, params, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch readings: %w", err)
	}
	return convertReadings(rows, c.logger), nil
}

// Recent fetches up to limit readings, newest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		return []models.Reading{}, nil
	}
	params := url.Values{
		"select": {"*"},
		"order":  {"timestamp.desc"},
		"limit":  {strconv.Itoa(limit)},
	}
	var rows []ReadingRow
	if err := c.get(ctx, ReadingsTable, params, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch recent readings: %w", err)
	}
	return convertReadings(rows, c.logger), nil
}

// Next returns the newest reading. It lets the feed poll Supabase as a
// live source.
func (c *Client) Next(ctx context.Context) (models.Reading, error) {
	readings, err := c.Recent(ctx, 1)
	if err != nil {
		return models.Reading{}, err
	}
	if len(readings) == 0 {
		return models.Reading{}, ErrNoReadings
	}
	return readings[0], nil
}

// AlertsBetween fetches alerts created in [from, to], oldest first.
func (c *Client) AlertsBetween(ctx context.Context, from, to time.Time) ([]models.Alert, error) {
	params := url.Values{
		"select":     {"*"},
		"created_at": {"gte." + formatTime(from), "lte." + formatTime(to)},
		"order":      {"created_at.asc"},
	}
	var rows []AlertRow
	if err := c.get(ctx, AlertsTable, params, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}

	alerts := make([]models.Alert, 0, len(rows))
	for _, row := range rows {
		created, err := parseTime(row.CreatedAt)
		if err != nil {
			c.logger.Warn("Skipping alert with bad created_at",
				zap.String("id", string(row.ID)), zap.Error(err))
			continue
		}
		alerts = append(alerts, models.Alert{
			ID:        string(row.ID),
			Severity:  row.Severity,
			AlertType: row.AlertType,
			Message:   row.Message,
			CreatedAt: created,
		})
	}
	return alerts, nil
}

func (c *Client) get(ctx context.Context, table string, params url.Values, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		ForceContentType("application/json").
		SetResult(out).
		Get("/" + table)
	if err != nil {
		return fmt.Errorf("max retries exceeded: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("Supabase API returned error",
			zap.String("table", table),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 200)),
		)
		return fmt.Errorf("supabase error: status %d", resp.StatusCode())
	}
	c.logger.Debug("Supabase query complete",
		zap.String("table", table),
		zap.Duration("took", resp.Time()),
	)
	return nil
}

func convertReadings(rows []ReadingRow, logger *zap.Logger) []models.Reading {
	readings := make([]models.Reading, 0, len(rows))
	for _, row := range rows {
		r, err := row.Reading()
		if err != nil {
			logger.Warn("Skipping malformed reading row",
				zap.String("id", string(row.ID)), zap.Error(err))
			continue
		}
		readings = append(readings, r)
	}
	return readings
}

// Reading converts a row. Null sensor columns become missing measurements.
func (row ReadingRow) Reading() (models.Reading, error) {
	ts, err := parseTime(row.Timestamp)
	if err != nil {
		return models.Reading{}, err
	}
	r := models.Reading{
		ID:          string(row.ID),
		Source:      SourceName,
		Timestamp:   ts,
		Temperature: models.FromPtr(row.Temperature),
		Humidity:    models.FromPtr(row.Humidity),
		CO2Level:    models.FromPtr(row.CO2Level),
		COLevel:     models.FromPtr(row.COLevel),
		H2Level:     models.FromPtr(row.H2Level),
	}
	if row.FireRiskPrediction != nil {
		if l, err := models.ParseRiskLevel(*row.FireRiskPrediction); err == nil {
			r.FireRiskPrediction = &l
		}
	}
	return r, nil
}

// PostgREST returns timestamptz with an offset and timestamp without one.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
