// Package monitor turns classified feed states into alerts.
//
// An alert is raised when a source reaches warning or danger and either
//
//	level > last alerted level   (escalation bypasses the cooldown)
//	now - last alert >= cooldown (a sustained condition re-alerts)
//
// A safe reading clears the source's record, so the next excursion alerts
// immediately. Records are kept per reading source, which lets several
// boards share one watcher.
package monitor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/firewatch/internal/feed"
	"github.com/rewired-gh/firewatch/internal/logger"
	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/risk"
)

// Alert types.
const (
	AlertTemperatureEscalation = "temperature_escalation"
	AlertCOEscalation          = "co_escalation"
	AlertMultiSensor           = "multi_sensor"
	AlertThresholdExceeded     = "threshold_exceeded"
	AlertTemperatureWarning    = "temperature_warning"
	AlertSensorDropout         = "sensor_dropout"
)

// DefaultCooldown is used when New is given a non-positive cooldown.
const DefaultCooldown = 10 * time.Minute

// notifiedRecord tracks the last alert for a source for cooldown deduplication.
type notifiedRecord struct {
	Level  models.RiskLevel
	SentAt time.Time
}

// Watcher decides when a state deserves an alert
type Watcher struct {
	thresholds risk.Thresholds
	cooldown   time.Duration
	now        func() time.Time

	mu       sync.Mutex
	notified map[string]notifiedRecord // key = reading source
}

// New creates a Watcher. thresholds are quoted in alert messages.
func New(thresholds risk.Thresholds, cooldown time.Duration) *Watcher {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Watcher{
		thresholds: thresholds,
		cooldown:   cooldown,
		now:        time.Now,
		notified:   make(map[string]notifiedRecord),
	}
}

// Observe inspects one state and returns the alert to raise, if any.
func (w *Watcher) Observe(st feed.State) (*models.Alert, bool) {
	level := st.Assessment.Level
	key := st.Reading.Source

	w.mu.Lock()
	defer w.mu.Unlock()

	if level < models.RiskWarning {
		if _, ok := w.notified[key]; ok {
			logger.Info("Source %q back to safe, clearing alert record", key)
			delete(w.notified, key)
		}
		return nil, false
	}

	now := w.now()
	if rec, ok := w.notified[key]; ok {
		escalated := level > rec.Level
		if !escalated && now.Sub(rec.SentAt) < w.cooldown {
			logger.Debug("Suppressing %s alert for %q (cooldown until %s)",
				level, key, rec.SentAt.Add(w.cooldown).Format(time.RFC3339))
			return nil, false
		}
	}

	alert := w.build(st, now)
	w.notified[key] = notifiedRecord{Level: level, SentAt: now}
	return alert, true
}

// Reset forgets every record.
func (w *Watcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notified = make(map[string]notifiedRecord)
}

func (w *Watcher) build(st feed.State, now time.Time) *models.Alert {
	level := st.Assessment.Level
	return &models.Alert{
		ID:        uuid.New().String(),
		Severity:  models.SeverityFor(level),
		AlertType: AlertType(st.Assessment),
		Message:   w.message(st),
		CreatedAt: now,
		Level:     &level,
		ReadingID: st.Reading.ID,
	}
}

// AlertType names the dominant cause of an assessment.
func AlertType(a risk.Assessment) string {
	has := func(name string) bool {
		for _, e := range a.Escalators {
			if e == name {
				return true
			}
		}
		return false
	}
	switch {
	case has(risk.EscalatorTemperatureDanger):
		return AlertTemperatureEscalation
	case has(risk.EscalatorCODanger):
		return AlertCOEscalation
	case a.OverCount >= 2:
		return AlertMultiSensor
	case a.OverCount == 1:
		return AlertThresholdExceeded
	case has(risk.EscalatorTemperatureWarning):
		return AlertTemperatureWarning
	default:
		return AlertSensorDropout
	}
}

func (w *Watcher) message(st feed.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s fire risk", strings.ToUpper(st.Assessment.Level.String()))
	if st.Reading.Source != "" {
		fmt.Fprintf(&b, " from %s", st.Reading.Source)
	}

	if len(st.Assessment.Exceeded) > 0 {
		parts := make([]string, 0, len(st.Assessment.Exceeded))
		for _, f := range st.Assessment.Exceeded {
			parts = append(parts, fmt.Sprintf("%s %.1f %s (limit %.0f)",
				f.Label(), st.Reading.Get(f).Value, f.Unit(), w.thresholds.Limit(f)))
		}
		fmt.Fprintf(&b, ": %s", strings.Join(parts, ", "))
	} else if t := st.Reading.Temperature; t.Valid && t.Value > risk.TemperatureWarningEscalator {
		fmt.Fprintf(&b, ": Temperature %.1f°C", t.Value)
	}

	if len(st.Assessment.Missing) > 0 {
		names := make([]string, 0, len(st.Assessment.Missing))
		for _, f := range st.Assessment.Missing {
			names = append(names, f.Label())
		}
		fmt.Fprintf(&b, "; no data from %s", strings.Join(names, ", "))
	}
	return b.String()
}
