package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/firewatch/internal/feed"
	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/risk"
)

func state(r models.Reading) feed.State {
	c := risk.New(risk.LiveThresholds(), risk.Options{MissingAsWarning: true})
	return feed.State{Reading: r, Assessment: c.Assess(r), LastUpdate: r.Timestamp}
}

func TestObserveState(t *testing.T) {
	m := New()
	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	m.ObserveState(state(models.Reading{
		Source:      "mqtt:node-1",
		Timestamp:   at,
		Temperature: models.Value(22),
		Humidity:    models.Value(45),
		CO2Level:    models.Value(400),
		COLevel:     models.Missing(),
		H2Level:     models.Value(1),
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.readingsTotal.WithLabelValues("warning")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.readingsTotal.WithLabelValues("safe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.riskLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.missingTotal.WithLabelValues("co_level")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.lastReadingUnix))
}

func TestRiskLevelIgnoresDeviceSource(t *testing.T) {
	m := New()
	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	for i, temp := range []float64{22, 45} {
		m.ObserveState(state(models.Reading{
			Source:      fmt.Sprintf("mqtt:node-%d", i),
			Timestamp:   at,
			Temperature: models.Value(temp),
			Humidity:    models.Value(45),
			CO2Level:    models.Value(400),
			COLevel:     models.Value(5),
			H2Level:     models.Value(1),
		}))
	}

	assert.Equal(t, 1, testutil.CollectAndCount(m.riskLevel))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.riskLevel))
}

func TestCounters(t *testing.T) {
	m := New()
	m.AlertRaised(&models.Alert{Severity: models.SeverityCritical})
	m.AlertRaised(nil)
	m.SinkError("kafka")
	m.SinkError("kafka")
	m.SetSourceFailures(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsTotal.WithLabelValues("critical")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sinkErrors.WithLabelValues("kafka")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sourceFailures))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveState(feed.State{})
	m.AlertRaised(&models.Alert{})
	m.SinkError("redis")
	m.SetSourceFailures(1)

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	wrapped := m.WrapHandler("/x", h)
	require.NotNil(t, wrapped)
}

func TestWrapHandlerAndExposition(t *testing.T) {
	m := New()
	h := m.WrapHandler("/api/v1/latest", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/v1/latest", "404")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `firewatch_http_requests_total{route="/api/v1/latest",status="404"} 1`), text)
	assert.Contains(t, text, `firewatch_readings_total{level="danger"} 0`)
	assert.Contains(t, text, "go_goroutines")
}
