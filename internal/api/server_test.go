package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/firewatch/internal/feed"
	"github.com/rewired-gh/firewatch/internal/metrics"
	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/report"
	"github.com/rewired-gh/firewatch/internal/risk"
)

type fakeSource struct {
	readings []models.Reading
	alerts   []models.Alert
	err      error
}

func (s *fakeSource) ReadingsBetween(context.Context, time.Time, time.Time) ([]models.Reading, error) {
	return s.readings, s.err
}

func (s *fakeSource) AlertsBetween(context.Context, time.Time, time.Time) ([]models.Alert, error) {
	return s.alerts, nil
}

type fixture struct {
	feed    *feed.Feed
	server  *Server
	metrics *metrics.Metrics
	handler http.Handler
}

func newFixture(t *testing.T, src report.Source) *fixture {
	t.Helper()
	c := risk.New(risk.LiveThresholds(), risk.Options{MissingAsWarning: true})
	f := feed.New(nil, c, feed.Options{})
	m := metrics.New()

	var reports *report.Service
	if src != nil {
		reports = report.NewService(src, c, nil)
	}
	s := NewServer(f, c, reports, m, nil)
	return &fixture{feed: f, server: s, metrics: m, handler: s.Handler(nil)}
}

func (fx *fixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func hotReading(at time.Time) models.Reading {
	return models.Reading{
		ID:          "r-1",
		Source:      "mqtt:node-1",
		Timestamp:   at,
		Temperature: models.Value(45),
		Humidity:    models.Value(50),
		CO2Level:    models.Value(500),
		COLevel:     models.Value(5),
		H2Level:     models.Value(1),
	}
}

func TestHealth(t *testing.T) {
	fx := newFixture(t, nil)
	rec := fx.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestLatest(t *testing.T) {
	fx := newFixture(t, nil)

	rec := fx.do(t, http.MethodGet, "/api/v1/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	fx.feed.Push(hotReading(time.Now()))
	rec = fx.do(t, http.MethodGet, "/api/v1/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st feed.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, models.RiskDanger, st.Level())
	assert.Equal(t, "r-1", st.Reading.ID)
}

func TestSeriesAndHistory(t *testing.T) {
	fx := newFixture(t, nil)

	rec := fx.do(t, http.MethodGet, "/api/v1/series", nil)
	assert.Equal(t, "[]\n", rec.Body.String())

	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	fx.feed.Push(hotReading(at))
	fx.feed.Push(hotReading(at.Add(time.Minute)))

	rec = fx.do(t, http.MethodGet, "/api/v1/series", nil)
	var points []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 2)
	assert.Equal(t, "09:31", points[1]["time"])

	rec = fx.do(t, http.MethodGet, "/api/v1/history", nil)
	var history []models.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 2)
}

func TestClassify(t *testing.T) {
	fx := newFixture(t, nil)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantLevel string
	}{
		{"danger", `{"temperature":41,"humidity":50,"co2_level":500,"co_level":5,"h2_level":1}`, http.StatusOK, "danger"},
		{"warning", `{"temperature":32,"humidity":50,"co2_level":500,"co_level":5,"h2_level":1}`, http.StatusOK, "warning"},
		{"safe", `{"temperature":22,"humidity":50,"co2_level":500,"co_level":5,"h2_level":1}`, http.StatusOK, "safe"},
		{"missing floors at warning", `{"temperature":22,"humidity":50,"co2_level":null,"co_level":5,"h2_level":1}`, http.StatusOK, "warning"},
		{"malformed", `{"temperature":`, http.StatusBadRequest, ""},
		{"negative gas", `{"temperature":22,"humidity":50,"co2_level":-1,"co_level":5,"h2_level":1}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fx.do(t, http.MethodPost, "/api/v1/classify", []byte(tt.body))
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantLevel == "" {
				assert.Contains(t, rec.Body.String(), `"error"`)
				return
			}
			var a map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
			assert.Equal(t, tt.wantLevel, a["level"])
		})
	}
}

func TestClassify_WrongMethod(t *testing.T) {
	fx := newFixture(t, nil)
	rec := fx.do(t, http.MethodGet, "/api/v1/classify", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReports(t *testing.T) {
	at := time.Now().Add(-time.Hour)
	src := &fakeSource{
		readings: []models.Reading{hotReading(at)},
		alerts:   []models.Alert{{ID: "a-1", Severity: models.SeverityCritical, AlertType: "temperature_escalation", CreatedAt: at}},
	}
	fx := newFixture(t, src)

	rec := fx.do(t, http.MethodGet, "/api/v1/reports?period=daily", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "daily", rep["period"])
	stats := rep["statistics"].(map[string]any)
	assert.EqualValues(t, 1, stats["totalReadings"])
	assert.EqualValues(t, 1, stats["riskDetections"])
	assert.Len(t, rep["recentAlerts"], 1)
}

func TestReports_BadParams(t *testing.T) {
	fx := newFixture(t, &fakeSource{})

	for _, target := range []string{
		"/api/v1/reports?period=yearly",
		"/api/v1/reports?from=14-10-2026",
		"/api/v1/reports?to=tomorrow",
		"/api/v1/reports/export?format=pdf",
	} {
		rec := fx.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestReports_NotConfigured(t *testing.T) {
	fx := newFixture(t, nil)
	rec := fx.do(t, http.MethodGet, "/api/v1/reports", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReports_FetchFailureStillAnswers(t *testing.T) {
	fx := newFixture(t, &fakeSource{err: errors.New("connection refused")})
	rec := fx.do(t, http.MethodGet, "/api/v1/reports?from=2026-10-01&to=2026-10-07", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep report.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, 0, rep.Statistics.TotalReadings)
	assert.Len(t, rep.Errors, 1)
	assert.Equal(t, "October 1, 2026 - October 7, 2026", rep.Range.Label())
}

func TestExport(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{hotReading(time.Now())}}
	fx := newFixture(t, src)

	rec := fx.do(t, http.MethodGet, "/api/v1/reports/export?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.ContentTypeJSON, rec.Header().Get("Content-Type"))
	disposition := rec.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(disposition, `attachment; filename="fire-detection-report-`), disposition)
	assert.True(t, strings.HasSuffix(disposition, `.json"`), disposition)

	var exp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exp))
	assert.EqualValues(t, 1, exp["readingsCount"])

	rec = fx.do(t, http.MethodGet, "/api/v1/reports/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.ContentTypeXLSX, rec.Header().Get("Content-Type"))
	// XLSX is a zip container.
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newFixture(t, nil)
	fx.do(t, http.MethodGet, "/health", nil)

	rec := fx.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `firewatch_http_requests_total{route="/health",status="200"} 1`)
}

func TestStream(t *testing.T) {
	fx := newFixture(t, nil)
	srv := httptest.NewServer(fx.handler)
	defer srv.Close()

	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	fx.feed.Push(hotReading(at))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first feed.State
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "r-1", first.Reading.ID)

	next := hotReading(at.Add(time.Second))
	next.ID = "r-2"
	next.Temperature = models.Value(22)
	fx.feed.Push(next)

	var second feed.State
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "r-2", second.Reading.ID)
	assert.Equal(t, models.RiskSafe, second.Level())
}
